package mock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreagent/platform/internal/llm"
)

func TestEmbedIsDeterministic(t *testing.T) {
	e := New()
	v1, err := e.Embed(context.Background(), "m", []string{"hello"})
	require.NoError(t, err)
	v2, err := e.Embed(context.Background(), "m", []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	v3, err := e.Embed(context.Background(), "m", []string{"different"})
	require.NoError(t, err)
	assert.NotEqual(t, v1[0], v3[0])
}

func TestGenerateTextEchoesLastUserMessage(t *testing.T) {
	e := New()
	out, err := e.GenerateText(context.Background(), "m", []llm.Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "ping"},
	}, llm.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "mock: ping", out)
}

func TestGenerateTextWithSchemaReturnsStructuredStub(t *testing.T) {
	e := New()
	out, err := e.GenerateText(context.Background(), "m", nil, llm.GenerateOptions{
		JSONSchema: &llm.JSONSchema{Name: "short_term_decision"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "create_new")
}

func TestStreamTextDeliversFullContentAcrossChunks(t *testing.T) {
	e := New()
	var got string
	full, err := e.StreamText(context.Background(), "m", []llm.Message{{Role: "user", Content: "stream this please"}}, llm.GenerateOptions{}, func(delta string) {
		got += delta
	})
	require.NoError(t, err)
	assert.Equal(t, full, got)
}
