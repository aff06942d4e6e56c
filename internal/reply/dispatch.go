package reply

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/coreagent/platform/internal/coreerr"
	"github.com/coreagent/platform/internal/envelope"
	"github.com/coreagent/platform/internal/permission"
	"github.com/coreagent/platform/internal/plugin"
)

// dispatchCommand tokenizes a SegCommand segment's raw argument string
// and invokes the matching registered CommandHandler (checked first
// under KindCommand, then KindPlusCommand, matching a "+" command
// prefix convention without requiring two separate lookup tables per
// caller), gated by its declared permission node.
func (g *Generator) dispatchCommand(ctx context.Context, e envelope.MessageEnvelope, stream *envelope.ChatStream, user permission.User) error {
	cmd, err := e.MessageSegment.Command()
	if err != nil {
		return err
	}

	handler, ok := g.lookupCommand(cmd.Verb)
	if !ok {
		return nil
	}

	if err := g.perms.Authorize(ctx, user, handler.PermissionNode()); err != nil {
		return g.sendText(ctx, e, permissionDeniedText(err))
	}

	args := tokenizeArgs(cmd.Args)
	if flags := handler.Flags(); flags != nil {
		if err := flags.Parse(args); err != nil {
			return g.sendText(ctx, e, "bad arguments: "+err.Error())
		}
		args = flags.Args()
	}

	out, err := handler.Execute(ctx, e, args)
	if err != nil {
		g.log.Warn("command handler failed", "verb", cmd.Verb, "error", err)
		return g.sendText(ctx, e, "command failed: "+err.Error())
	}
	if strings.TrimSpace(out) == "" {
		return nil
	}
	return g.sendText(ctx, e, out)
}

func (g *Generator) lookupCommand(verb string) (plugin.CommandHandler, bool) {
	if g.host == nil {
		return nil, false
	}
	for _, kind := range []plugin.Kind{plugin.KindCommand, plugin.KindPlusCommand} {
		if c, ok := g.host.Registry().Get(kind, verb); ok {
			if handler, ok := c.(plugin.CommandHandler); ok {
				return handler, true
			}
		}
	}
	return nil, false
}

// tokenizeArgs splits a raw argument string on whitespace, respecting
// double-quoted substrings so a quoted argument can contain spaces,
// matching the shell-like tokenization every CommandHandler expects
// before its pflag.FlagSet parses the result.
func tokenizeArgs(raw string) []string {
	var (
		args    []string
		current strings.Builder
		inQuote bool
	)
	flush := func() {
		if current.Len() > 0 {
			args = append(args, current.String())
			current.Reset()
		}
	}
	for _, r := range raw {
		switch {
		case r == '"':
			inQuote = !inQuote
		case !inQuote && (r == ' ' || r == '\t'):
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return args
}

func permissionDeniedText(err error) string {
	var denied *coreerr.PermissionDenied
	if errors.As(err, &denied) {
		return fmt.Sprintf("you don't have permission to run this command (%s)", denied.Node)
	}
	return "permission check failed"
}

func (g *Generator) sendText(ctx context.Context, in envelope.MessageEnvelope, text string) error {
	data, err := json.Marshal(envelope.TextData{Text: text})
	if err != nil {
		return err
	}
	out := envelope.MessageEnvelope{
		Direction: envelope.Outgoing,
		Platform:  in.Platform,
		MessageInfo: envelope.MessageInfo{
			User:        in.MessageInfo.User,
			Group:       in.MessageInfo.Group,
			SelfID:      in.MessageInfo.SelfID,
			MessageType: in.MessageInfo.MessageType,
		},
		MessageSegment: envelope.Segment{Type: envelope.SegText, Data: data},
	}
	if err := out.Validate(); err != nil {
		return err
	}
	return g.sender.SendOutgoing(ctx, out)
}
