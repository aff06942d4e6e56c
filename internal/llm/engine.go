// Package llm defines the boundary between the platform core and a
// concrete language model / embedding provider. Nothing in this module
// talks to a real provider directly; every component that needs
// generation or embeddings depends on the Engine interface, and the
// concrete client lives outside the platform core's concern.
package llm

import "context"

// Message is one turn in a chat-style prompt.
type Message struct {
	Role    string
	Content string
}

// JSONSchema constrains GenerateText to emit an object matching Schema,
// used by the memory engine's structured decision calls (MERGE/UPDATE/
// CREATE_NEW/DISCARD, graph operation selection).
type JSONSchema struct {
	Name   string
	Schema map[string]any
	Strict bool
}

// GenerateOptions configures one GenerateText/StreamText call.
type GenerateOptions struct {
	Temperature float64
	JSONSchema  *JSONSchema
}

// Engine is the capability surface the platform core needs from a
// language model provider: embeddings for the memory tiers' similarity
// search, and text generation (optionally streamed, optionally
// schema-constrained) for the reply generator and every LLM-decided
// memory operation.
type Engine interface {
	Embed(ctx context.Context, model string, inputs []string) ([][]float32, error)
	GenerateText(ctx context.Context, model string, messages []Message, opts GenerateOptions) (string, error)
	StreamText(ctx context.Context, model string, messages []Message, opts GenerateOptions, onDelta func(delta string)) (full string, err error)
}
