// Command coreagent runs the platform process: the adapter/bus/memory
// stack behind the "serve" subcommand, plus the permission
// administration commands mounted from internal/permission/cli for
// operating on the same Postgres-backed grants the running process
// reads.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coreagent/platform/internal/app"
	permcli "github.com/coreagent/platform/internal/permission/cli"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "coreagent: init failed: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	root := &cobra.Command{
		Use:   "coreagent",
		Short: "Run the platform process or administer its permission grants",
	}
	root.AddCommand(newServeCmd(a), permcli.NewCommand(a.Perms))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCmd(a *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/websocket adapter surface and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a.Start()
			addr := ":" + a.Cfg.Port
			a.Log.Info("starting server", "addr", addr)
			return a.Run(addr)
		},
	}
}
