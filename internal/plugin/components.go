package plugin

import (
	"context"

	"github.com/spf13/pflag"

	"github.com/coreagent/platform/internal/envelope"
)

// ActionHandler is a KindAction component: triggered by the reply
// generator's own decision logic (not directly addressed by the
// user), producing at most one outgoing message.
type ActionHandler interface {
	// PermissionNode returns the permission node gating this action, or
	// "" if it requires none.
	PermissionNode() string
	Execute(ctx context.Context, env envelope.MessageEnvelope) (string, error)
}

// CommandHandler is a KindCommand or KindPlusCommand component: invoked
// by a user typing a command verb. Flags returns a fresh FlagSet each
// call so concurrent invocations never share parse state; the reply
// generator tokenizes the raw command text and hands the remaining
// arguments to Flags().Parse before calling Execute.
type CommandHandler interface {
	Verb() string
	PermissionNode() string
	Flags() *pflag.FlagSet
	Execute(ctx context.Context, env envelope.MessageEnvelope, args []string) (string, error)
}

// ToolHandler is a KindTool component: callable by the language model
// during reply generation (function-calling style), not directly by a
// user command.
type ToolHandler interface {
	Name() string
	Description() string
	PermissionNode() string
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// InterestCalculator is a KindInterestCalculator component: scores how
// strongly the bot should attend to an envelope that was not directly
// addressed to it, feeding ChatStream.Interest.
type InterestCalculator interface {
	Calculate(ctx context.Context, env envelope.MessageEnvelope, stream *envelope.ChatStream) float64
}

// PromptProvider is a KindPrompt component: renders a named prompt
// template against a variable set, grounded in the original's prompt
// registry (Prompt(text, name)) but kept provider-agnostic: template
// bodies are data this platform core never specifies.
type PromptProvider interface {
	Name() string
	Render(ctx context.Context, vars map[string]any) (string, error)
}
