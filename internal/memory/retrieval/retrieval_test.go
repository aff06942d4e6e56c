package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreagent/platform/internal/llm/mock"
	"github.com/coreagent/platform/internal/memory/perceptual"
	"github.com/coreagent/platform/internal/memory/shortterm"
	"github.com/coreagent/platform/internal/memory/vectorstore"
	"github.com/coreagent/platform/internal/platform/logger"
)

func newTestEngine(t *testing.T, cfg Config) (*Engine, vectorstore.Store, *shortterm.Manager) {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	engine := mock.New()
	store := vectorstore.NewInMemoryStore()
	stm := shortterm.New(log, engine, store, shortterm.Config{})
	return New(engine, store, stm, nil, cfg), store, stm
}

func TestQueryReturnsPerceptualHitsAboveThreshold(t *testing.T) {
	re, store, _ := newTestEngine(t, Config{DisableJudge: true})
	ctx := context.Background()

	embeddings, err := re.llmEngine.Embed(ctx, "", []string{"we meet next Wednesday"})
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, perceptual.Collection, "block_1", embeddings[0], map[string]any{"text": "we meet next Wednesday"}))

	candidates, err := re.Query(ctx, "we meet next Wednesday")
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	assert.Equal(t, "perceptual", candidates[0].Source)
	assert.Equal(t, "we meet next Wednesday", candidates[0].Text)
}

func TestQueryRespectsResultCountCap(t *testing.T) {
	re, store, _ := newTestEngine(t, Config{DisableJudge: true, ResultCount: 2, PerceptualThresh: -1})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		embeddings, err := re.llmEngine.Embed(context.Background(), "", []string{string(rune('a' + i))})
		require.NoError(t, err)
		require.NoError(t, store.Upsert(ctx, perceptual.Collection, string(rune('a'+i)), embeddings[0], map[string]any{"text": string(rune('a' + i))}))
	}

	candidates, err := re.Query(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
}

func TestDepthForQueryDetectsCausalKeyword(t *testing.T) {
	re, _, _ := newTestEngine(t, Config{})
	assert.Equal(t, DefaultBFSDepth, re.depthForQuery("what did we eat"))
	assert.Equal(t, DefaultCausalBFSDepth, re.depthForQuery("why did that happen"))
	assert.Equal(t, DefaultCausalBFSDepth, re.depthForQuery("it failed because of X"))
}

func TestJudgeSufficiencyDisabledAlwaysExpands(t *testing.T) {
	re, _, _ := newTestEngine(t, Config{DisableJudge: true})
	sufficient, err := re.judgeSufficiency(context.Background(), "anything", []Candidate{{ID: "x"}})
	require.NoError(t, err)
	assert.False(t, sufficient)
}

func TestScoreWeightsCombineAllFiveTerms(t *testing.T) {
	// Semantic=1, importance=1, one hop away (graph proximity=1),
	// never accessed (access frequency=0), and no LastAccessed set so
	// time decay defaults to 1: score = 0.4 + 0.2 + 0.2 + 0.1*1 + 0.1*0.
	candidates := []Candidate{{Semantic: 1, Importance: 1, GraphDistance: 1, AccessCount: 0}}
	score(candidates, DefaultWeights)
	assert.InDelta(t, 0.9, candidates[0].Score, 1e-9)
}
