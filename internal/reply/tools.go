package reply

import (
	"context"

	"github.com/coreagent/platform/internal/permission"
	"github.com/coreagent/platform/internal/plugin"
)

// Tool describes one registered ToolHandler the way a function-calling
// capable llm.Engine would need to see it. llm.Engine does not expose a
// function-calling surface today (GenerateOptions only carries a
// response JSONSchema), so AvailableTools exists as the seam a future
// engine integration calls before building its own tool-call payload,
// and InvokeTool is what it would call back into once the model
// selects one.
type Tool struct {
	Name        string
	Description string
}

// AvailableTools lists every registered KindTool component user is
// currently permitted to invoke.
func (g *Generator) AvailableTools(ctx context.Context, user permission.User) []Tool {
	if g.host == nil {
		return nil
	}
	var out []Tool
	for _, c := range g.host.Registry().List(plugin.KindTool) {
		tool, ok := c.(plugin.ToolHandler)
		if !ok {
			continue
		}
		if err := g.perms.Authorize(ctx, user, tool.PermissionNode()); err != nil {
			continue
		}
		out = append(out, Tool{Name: tool.Name(), Description: tool.Description()})
	}
	return out
}

// InvokeTool runs a named KindTool component, re-checking its
// permission node regardless of whether the caller already consulted
// AvailableTools.
func (g *Generator) InvokeTool(ctx context.Context, user permission.User, name string, args map[string]any) (string, error) {
	if g.host == nil {
		return "", nil
	}
	c, ok := g.host.Registry().Get(plugin.KindTool, name)
	if !ok {
		return "", nil
	}
	tool, ok := c.(plugin.ToolHandler)
	if !ok {
		return "", nil
	}
	if err := g.perms.Authorize(ctx, user, tool.PermissionNode()); err != nil {
		return "", err
	}
	return tool.Execute(ctx, args)
}

// RenderPrompt looks up a registered KindPrompt component by name and
// renders it against vars, used by command/action/tool handlers that
// need a plugin-supplied prompt template rather than the generator's
// own reply prompt.
func (g *Generator) RenderPrompt(ctx context.Context, name string, vars map[string]any) (string, error) {
	if g.host == nil {
		return "", nil
	}
	c, ok := g.host.Registry().Get(plugin.KindPrompt, name)
	if !ok {
		return "", nil
	}
	provider, ok := c.(plugin.PromptProvider)
	if !ok {
		return "", nil
	}
	return provider.Render(ctx, vars)
}
