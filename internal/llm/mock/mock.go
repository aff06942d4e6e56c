// Package mock provides a deterministic llm.Engine for tests and local
// development: no network calls, stable output for a given input.
package mock

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coreagent/platform/internal/llm"
)

// Engine is a deterministic, in-memory llm.Engine.
type Engine struct {
	EmbeddingDims int
}

// New constructs a mock Engine with an 8-dimensional embedding space,
// small enough to keep test fixtures readable.
func New() *Engine {
	return &Engine{EmbeddingDims: 8}
}

// Embed hashes each input into a stable pseudo-embedding so repeated
// calls with the same text return identical vectors and distinct texts
// return distinct vectors.
func (e *Engine) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, s := range inputs {
		h := sha256.Sum256([]byte(model + "\n" + s))
		vec := make([]float32, e.EmbeddingDims)
		for j := 0; j < e.EmbeddingDims; j++ {
			u := binary.LittleEndian.Uint32(h[(j*4)%len(h):])
			vec[j] = float32(u%10_000)/10_000.0 - 0.5
		}
		out[i] = vec
	}
	return out, nil
}

// GenerateText returns a schema-shaped stub when a JSONSchema is
// requested (enough structure for the memory engine's decision/graph-op
// call sites to parse a well-formed response in tests), or an echo of
// the last user message otherwise.
func (e *Engine) GenerateText(ctx context.Context, model string, messages []llm.Message, opts llm.GenerateOptions) (string, error) {
	if opts.JSONSchema != nil {
		return mockStructuredResponse(opts.JSONSchema.Name), nil
	}

	var user string
	for i := len(messages) - 1; i >= 0; i-- {
		if strings.EqualFold(messages[i].Role, "user") {
			user = messages[i].Content
			break
		}
	}
	if strings.TrimSpace(user) == "" {
		return "mock: ok", nil
	}
	return fmt.Sprintf("mock: %s", user), nil
}

// StreamText delivers GenerateText's result in fixed-size chunks.
func (e *Engine) StreamText(ctx context.Context, model string, messages []llm.Message, opts llm.GenerateOptions, onDelta func(delta string)) (string, error) {
	full, err := e.GenerateText(ctx, model, messages, opts)
	if err != nil {
		return "", err
	}
	if onDelta == nil {
		return full, nil
	}
	const chunk = 16
	for i := 0; i < len(full); i += chunk {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		end := i + chunk
		if end > len(full) {
			end = len(full)
		}
		onDelta(full[i:end])
	}
	return full, nil
}

// mockStructuredResponse returns a plausible stub object for the named
// schema. The memory decision/graph-op schemas are the only ones this
// build requests; anything else gets a generic "ok" object.
func mockStructuredResponse(schemaName string) string {
	var obj map[string]any
	switch schemaName {
	case "short_term_decision":
		obj = map[string]any{"action": "create_new", "reason": "mock: no close neighbour"}
	case "triple_extraction":
		obj = map[string]any{"triples": []map[string]any{
			{"subject": "they", "topic": "meet", "object": "next Wednesday", "attributes": map[string]any{"time": "next Wednesday"}, "importance": 0.65},
		}}
	case "graph_operation":
		obj = map[string]any{"operations": []map[string]any{
			{"operation": "create_node", "node_type": "topic", "name": "mock-topic", "importance": 0.5},
			{"operation": "create_node", "node_type": "object", "name": "mock-object", "importance": 0.5},
			{"operation": "create_edge", "edge_type": "core_relation", "source_name": "mock-topic", "target_name": "mock-object", "importance": 0.5},
		}}
	case "sufficiency_judgment":
		obj = map[string]any{"sufficient": false, "reason": "mock: always expand in tests"}
	case "causal_judgment":
		obj = map[string]any{"causal": false, "reason": "mock: no causal link asserted"}
	default:
		obj = map[string]any{"ok": true, "schema": schemaName}
	}
	b, _ := json.Marshal(obj)
	return string(b)
}
