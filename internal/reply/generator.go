// Package reply implements the Reply Generator: the orchestration glue
// between an inbound envelope and an outbound one. It decides whether a
// message that was not directly addressed to the bot deserves a
// response, dispatches command/action/tool components through the
// permission gate, assembles retrieval context, and calls the language
// model to produce the final reply text.
package reply

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coreagent/platform/internal/envelope"
	"github.com/coreagent/platform/internal/event"
	"github.com/coreagent/platform/internal/llm"
	"github.com/coreagent/platform/internal/memory/perceptual"
	"github.com/coreagent/platform/internal/memory/retrieval"
	"github.com/coreagent/platform/internal/memory/shortterm"
	"github.com/coreagent/platform/internal/permission"
	"github.com/coreagent/platform/internal/platform/logger"
	"github.com/coreagent/platform/internal/plugin"
)

// OutgoingSender hands a fully built envelope to whatever adapter sink
// owns its platform. *bus.Runtime satisfies this; tests use a fake.
type OutgoingSender interface {
	SendOutgoing(ctx context.Context, e envelope.MessageEnvelope) error
}

// Config tunes the generator's response and engagement thresholds.
// Defaults are grounded in the original's affinity-flow interest
// calculator: a weighted interest score compared against a reply
// threshold and a lower action threshold, both softened by how "warmed
// up" (Energy) the conversation currently is.
type Config struct {
	ChatModel  string
	JudgeModel string

	// ReplyThreshold is the interest score (after subtracting the
	// stream's current Energy) a non-addressed message must clear to
	// receive a reply.
	ReplyThreshold float64
	// ActionThreshold is the lower bar for running registered
	// ActionHandler components without generating a full reply.
	ActionThreshold float64
	// EnergyBoostOnReply is added to a stream's Energy every time the
	// generator actually sends a reply into it.
	EnergyBoostOnReply float64
	// EnergyDecayPerTurn shrinks Energy toward zero on every envelope
	// that does not trigger a reply, modeling the original's
	// consecutive-no-reply cooldown in reverse.
	EnergyDecayPerTurn float64

	// MaxContextCandidates caps how many retrieval candidates are
	// folded into the generation prompt.
	MaxContextCandidates int
}

func (c Config) withDefaults() Config {
	if c.ReplyThreshold <= 0 {
		c.ReplyThreshold = 0.6
	}
	if c.ActionThreshold <= 0 {
		c.ActionThreshold = 0.4
	}
	if c.EnergyBoostOnReply <= 0 {
		c.EnergyBoostOnReply = 0.2
	}
	if c.EnergyDecayPerTurn <= 0 {
		c.EnergyDecayPerTurn = 0.05
	}
	if c.MaxContextCandidates <= 0 {
		c.MaxContextCandidates = 6
	}
	return c
}

// Generator wires the stream registry, component host, permission
// manager, retrieval engine, and language model together behind a
// single bus.Handler-shaped entry point.
type Generator struct {
	log        *logger.Logger
	streams    *envelope.StreamRegistry
	host       *plugin.Host
	perms      *permission.Manager
	retrieval  *retrieval.Engine
	llmEngine  llm.Engine
	events     *event.Manager
	sender     OutgoingSender
	perceptual *perceptual.Manager
	shortTerm  *shortterm.Manager
	cfg        Config
}

// New constructs a Generator. perceptualMgr and shortTermMgr feed the
// tiered memory engine's write path: every inbound envelope is handed
// to perceptualMgr.AddMessage, and any block it activates is handed to
// shortTermMgr.Ingest, per spec.md §4.5.1/§4.5.2's promotion pipeline.
// Either may be nil, which disables that stage (tests pass nil).
func New(
	log *logger.Logger,
	streams *envelope.StreamRegistry,
	host *plugin.Host,
	perms *permission.Manager,
	retrievalEngine *retrieval.Engine,
	llmEngine llm.Engine,
	events *event.Manager,
	sender OutgoingSender,
	perceptualMgr *perceptual.Manager,
	shortTermMgr *shortterm.Manager,
	cfg Config,
) *Generator {
	return &Generator{
		log:        log.With("component", "ReplyGenerator"),
		streams:    streams,
		host:       host,
		perms:      perms,
		retrieval:  retrievalEngine,
		llmEngine:  llmEngine,
		events:     events,
		sender:     sender,
		perceptual: perceptualMgr,
		shortTerm:  shortTermMgr,
		cfg:        cfg.withDefaults(),
	}
}

// Handle is the bus.Handler entry point: it appends e to its stream,
// dispatches a command segment if present, and otherwise runs the
// interest/energy gate to decide whether to act and/or reply.
func (g *Generator) Handle(ctx context.Context, e envelope.MessageEnvelope) error {
	stream := g.streams.GetOrCreate(e)
	stream.Append(e)
	user := permission.User{Platform: e.Platform, UserID: e.MessageInfo.User.ID}

	g.recordMemory(ctx, e)

	if e.MessageSegment.Type == envelope.SegCommand {
		return g.dispatchCommand(ctx, e, stream, user)
	}

	interest := g.computeInterest(ctx, e, stream)
	stream.Interest = interest
	shouldReply, shouldAct := g.decide(e, stream, interest)

	if shouldAct {
		g.runActions(ctx, e, user)
	}
	if !shouldReply {
		g.decayEnergy(stream)
		return nil
	}

	if err := g.reply(ctx, e, stream, user); err != nil {
		return err
	}
	g.boostEnergy(stream)
	return nil
}

// recordMemory feeds e into the perceptual layer and, for any block
// that layer just activated, extracts it into the short-term layer.
// Failures here are logged and never block the reply path: memory
// recording is a side effect of handling a message, not a
// precondition for replying to it.
func (g *Generator) recordMemory(ctx context.Context, e envelope.MessageEnvelope) {
	if g.perceptual == nil {
		return
	}
	_, activated, err := g.perceptual.AddMessage(ctx, e)
	if err != nil {
		g.log.Warn("perceptual memory add failed", "error", err)
		return
	}
	if g.shortTerm == nil {
		return
	}
	for _, block := range activated {
		if _, err := g.shortTerm.Ingest(ctx, block); err != nil {
			g.log.Warn("short-term memory ingest failed", "block_id", block.ID, "error", err)
		}
	}
}

// computeInterest asks every registered InterestCalculator component
// for its score and takes the highest one. A directly addressed
// message always scores 1.0; with no calculator registered at all, an
// unaddressed message scores 0.0 and never clears ReplyThreshold on
// its own.
func (g *Generator) computeInterest(ctx context.Context, e envelope.MessageEnvelope, stream *envelope.ChatStream) float64 {
	if e.MessageInfo.ToMe {
		return 1.0
	}
	if g.host == nil {
		return 0.0
	}
	best := 0.0
	for _, c := range g.host.Registry().List(plugin.KindInterestCalculator) {
		calc, ok := c.(plugin.InterestCalculator)
		if !ok {
			continue
		}
		if score := calc.Calculate(ctx, e, stream); score > best {
			best = score
		}
	}
	return best
}

// decide applies the energy-softened threshold gate: Energy lowers
// both bars, so a stream the bot has been actively engaged in keeps
// replying more readily for a while after the last response.
func (g *Generator) decide(e envelope.MessageEnvelope, stream *envelope.ChatStream, interest float64) (shouldReply, shouldAct bool) {
	if e.MessageInfo.ToMe {
		return true, true
	}
	replyBar := g.cfg.ReplyThreshold - stream.Energy
	actionBar := g.cfg.ActionThreshold - stream.Energy
	return interest >= replyBar, interest >= actionBar
}

func (g *Generator) boostEnergy(stream *envelope.ChatStream) {
	stream.Energy += g.cfg.EnergyBoostOnReply
	if stream.Energy > 1.0 {
		stream.Energy = 1.0
	}
}

func (g *Generator) decayEnergy(stream *envelope.ChatStream) {
	stream.Energy -= g.cfg.EnergyDecayPerTurn
	if stream.Energy < 0 {
		stream.Energy = 0
	}
}

// runActions invokes every registered ActionHandler whose permission
// node (if any) user currently holds. An action failure is logged and
// never interrupts the reply path; actions are best-effort side effects.
func (g *Generator) runActions(ctx context.Context, e envelope.MessageEnvelope, user permission.User) {
	if g.host == nil {
		return
	}
	for name, c := range g.host.Registry().List(plugin.KindAction) {
		action, ok := c.(plugin.ActionHandler)
		if !ok {
			continue
		}
		if err := g.perms.Authorize(ctx, user, action.PermissionNode()); err != nil {
			continue
		}
		out, err := action.Execute(ctx, e)
		if err != nil {
			g.log.Warn("action handler failed", "action", name, "error", err)
			continue
		}
		if strings.TrimSpace(out) == "" {
			continue
		}
		if err := g.sendText(ctx, e, out); err != nil {
			g.log.Warn("action handler reply failed to send", "action", name, "error", err)
		}
	}
}

// reply assembles retrieval context for e's plain text and generates
// the final response text, sending it back out through sender.
func (g *Generator) reply(ctx context.Context, e envelope.MessageEnvelope, stream *envelope.ChatStream, user permission.User) error {
	text := e.MessageSegment.PlainText()
	if strings.TrimSpace(text) == "" {
		return nil
	}

	prompt, err := g.buildPrompt(ctx, text, stream)
	if err != nil {
		return fmt.Errorf("build prompt: %w", err)
	}

	out, err := g.llmEngine.GenerateText(ctx, g.cfg.ChatModel, prompt, llm.GenerateOptions{})
	if err != nil {
		return fmt.Errorf("generate reply: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return nil
	}

	segData, err := json.Marshal(envelope.TextData{Text: out})
	if err != nil {
		return err
	}
	outEnv := envelope.MessageEnvelope{
		Direction: envelope.Outgoing,
		Platform:  e.Platform,
		MessageID: "",
		MessageInfo: envelope.MessageInfo{
			User:        e.MessageInfo.User,
			Group:       e.MessageInfo.Group,
			SelfID:      e.MessageInfo.SelfID,
			MessageType: e.MessageInfo.MessageType,
		},
		MessageSegment: envelope.Segment{Type: envelope.SegText, Data: segData},
	}
	if err := outEnv.Validate(); err != nil {
		return err
	}
	stream.Append(outEnv)

	if g.events != nil {
		g.events.TriggerEvent(ctx, "reply.sent", map[string]any{"stream_id": e.StreamID(), "user_id": user.UserID}, event.GroupSystem)
	}
	return g.sender.SendOutgoing(ctx, outEnv)
}

// buildPrompt runs the unified retrieval query for text and renders it
// alongside the stream's recent window into a chat-style prompt.
func (g *Generator) buildPrompt(ctx context.Context, text string, stream *envelope.ChatStream) ([]llm.Message, error) {
	var memoryContext string
	if g.retrieval != nil {
		candidates, err := g.retrieval.Query(ctx, text)
		if err != nil {
			return nil, err
		}
		if len(candidates) > g.cfg.MaxContextCandidates {
			candidates = candidates[:g.cfg.MaxContextCandidates]
		}
		var b strings.Builder
		for _, c := range candidates {
			fmt.Fprintf(&b, "- (%s) %s\n", c.Source, c.Text)
		}
		memoryContext = b.String()
	}

	messages := make([]llm.Message, 0, len(stream.Recent(20))+2)
	if memoryContext != "" {
		messages = append(messages, llm.Message{Role: "system", Content: "relevant memory:\n" + memoryContext})
	}
	for _, e := range stream.Recent(20) {
		role := "user"
		if e.Direction == envelope.Outgoing {
			role = "assistant"
		}
		messages = append(messages, llm.Message{Role: role, Content: e.MessageSegment.PlainText()})
	}
	messages = append(messages, llm.Message{Role: "user", Content: text})
	return messages, nil
}
