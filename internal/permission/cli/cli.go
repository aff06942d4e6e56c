// Package cli implements the permission administration command,
// mounted into the host process's own CLI tree. Grounded on
// agent-memory's cobra.Command RootCmd pattern, adapted from a
// standalone binary's package-level init() registrations into a
// factory a parent command can mount a dependency-injected Manager
// into.
package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coreagent/platform/internal/permission"
)

// NewCommand builds the "permission" command tree: grant, revoke,
// list, check, nodes. mgr is the single Manager instance the running
// process constructed at startup.
func NewCommand(mgr *permission.Manager) *cobra.Command {
	root := &cobra.Command{
		Use:   "permission",
		Short: "Manage per-user permission node grants",
	}

	root.AddCommand(
		newGrantCmd(mgr),
		newRevokeCmd(mgr),
		newListCmd(mgr),
		newCheckCmd(mgr),
		newNodesCmd(mgr),
	)
	return root
}

func userFlags(cmd *cobra.Command) (platform, userID *string) {
	platform = cmd.Flags().StringP("platform", "p", "", "Platform the user is addressing from (required)")
	userID = cmd.Flags().StringP("user", "u", "", "Platform-native user id (required)")
	cmd.MarkFlagRequired("platform")
	cmd.MarkFlagRequired("user")
	return
}

func newGrantCmd(mgr *permission.Manager) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a user an explicit permission node",
	}
	platform, userID := userFlags(cmd)
	node := cmd.Flags().StringP("node", "n", "", "Permission node name (required)")
	cmd.MarkFlagRequired("node")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		user := permission.User{Platform: *platform, UserID: *userID}
		if err := mgr.Grant(cmd.Context(), user, *node); err != nil {
			return fmt.Errorf("grant %s to %s:%s: %w", *node, *platform, *userID, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "granted %s to %s:%s\n", *node, *platform, *userID)
		return nil
	}
	return cmd
}

func newRevokeCmd(mgr *permission.Manager) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a user's explicit permission node",
	}
	platform, userID := userFlags(cmd)
	node := cmd.Flags().StringP("node", "n", "", "Permission node name (required)")
	cmd.MarkFlagRequired("node")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		user := permission.User{Platform: *platform, UserID: *userID}
		if err := mgr.Revoke(cmd.Context(), user, *node); err != nil {
			return fmt.Errorf("revoke %s from %s:%s: %w", *node, *platform, *userID, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "revoked %s from %s:%s\n", *node, *platform, *userID)
		return nil
	}
	return cmd
}

func newListCmd(mgr *permission.Manager) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the permission nodes a user effectively holds",
	}
	platform, userID := userFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		user := permission.User{Platform: *platform, UserID: *userID}
		nodes, err := mgr.UserPermissions(cmd.Context(), user)
		if err != nil {
			return err
		}
		return printJSON(cmd.Context(), cmd, nodes)
	}
	return cmd
}

func newCheckCmd(mgr *permission.Manager) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether a user holds a permission node",
	}
	platform, userID := userFlags(cmd)
	node := cmd.Flags().StringP("node", "n", "", "Permission node name (required)")
	cmd.MarkFlagRequired("node")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		user := permission.User{Platform: *platform, UserID: *userID}
		granted, err := mgr.Check(cmd.Context(), user, *node)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s:%s holds %s: %t\n", *platform, *userID, *node, granted)
		return nil
	}
	return cmd
}

func newNodesCmd(mgr *permission.Manager) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List registered permission nodes",
	}
	plugin := cmd.Flags().StringP("plugin", "P", "", "Restrict to nodes registered by this plugin")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		var nodes []permission.Node
		var err error
		if *plugin != "" {
			nodes, err = mgr.PluginNodes(cmd.Context(), *plugin)
		} else {
			nodes, err = mgr.AllNodes(cmd.Context())
		}
		if err != nil {
			return err
		}
		return printJSON(cmd.Context(), cmd, nodes)
	}
	return cmd
}

func printJSON(_ context.Context, cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
