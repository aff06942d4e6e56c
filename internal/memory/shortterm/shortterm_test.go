package shortterm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreagent/platform/internal/llm/mock"
	"github.com/coreagent/platform/internal/memory/perceptual"
	"github.com/coreagent/platform/internal/memory/vectorstore"
	"github.com/coreagent/platform/internal/platform/logger"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return New(log, mock.New(), vectorstore.NewInMemoryStore(), cfg)
}

func TestIngestCreatesMemoryFromExtractedTriple(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	block := &perceptual.Block{ID: "block_1", CombinedText: "we will meet next Wednesday"}
	memories, err := m.Ingest(ctx, block)
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "they", memories[0].Subject)
	assert.GreaterOrEqual(t, memories[0].Importance, DefaultPromotionThreshold)
	assert.Equal(t, 1, m.Stats().MemoryCount)
}

func TestPromotionQueuesMemoryAtThresholdAndProtectsFromEviction(t *testing.T) {
	m := newTestManager(t, Config{Capacity: 1})
	ctx := context.Background()

	block := &perceptual.Block{ID: "block_1", CombinedText: "we will meet next Wednesday"}
	memories, err := m.Ingest(ctx, block)
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.True(t, memories[0].Promoting)
	assert.Equal(t, 1, m.Stats().QueueDepth)

	batch := m.DrainTransferBatch()
	require.Len(t, batch, 1)
	assert.Equal(t, 0, m.Stats().QueueDepth)
}

func TestApplyDecayReducesUnaccessedImportanceOnly(t *testing.T) {
	m := newTestManager(t, Config{DecayFactor: 0.5})
	ctx := context.Background()

	mem, err := m.createNew(ctx, Triple{Subject: "a", Topic: "b", Object: "c", Importance: 0.4}, []float32{1, 0})
	require.NoError(t, err)
	mem.LastAccessed = time.Now().Add(-time.Hour)

	m.ApplyDecay(time.Now())
	assert.InDelta(t, 0.2, mem.Importance, 1e-9)
}

func TestRequeueReturnsBatchToTransferQueue(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	mem, err := m.createNew(ctx, Triple{Subject: "a", Topic: "b", Object: "c", Importance: 0.9}, []float32{1, 0})
	require.NoError(t, err)
	batch := m.DrainTransferBatch()
	require.Len(t, batch, 1)
	assert.Equal(t, 0, m.Stats().QueueDepth)

	m.Requeue(batch)
	assert.Equal(t, 1, m.Stats().QueueDepth)
	assert.Equal(t, mem.ID, batch[0].ID)
}

func TestClearRemovesMemoriesAfterConsolidation(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	mem, err := m.createNew(ctx, Triple{Subject: "a", Topic: "b", Object: "c", Importance: 0.1}, []float32{1, 0})
	require.NoError(t, err)
	m.Clear(ctx, []string{mem.ID})
	assert.Equal(t, 0, m.Stats().MemoryCount)
}
