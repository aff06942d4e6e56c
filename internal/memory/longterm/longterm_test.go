package longterm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreagent/platform/internal/llm/mock"
	"github.com/coreagent/platform/internal/memory/shortterm"
	"github.com/coreagent/platform/internal/memory/vectorstore"
	"github.com/coreagent/platform/internal/platform/logger"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, vectorstore.Store) {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	store := vectorstore.NewInMemoryStore()
	return New(log, nil, mock.New(), store, nil, cfg), store
}

func TestPlanOperationsDecodesEngineOperationsBatch(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	ops, err := m.planOperations(context.Background(), []*shortterm.Memory{
		{ID: "stm_1", Subject: "a", Topic: "b", Object: "c", Importance: 0.7},
	})
	require.NoError(t, err)
	require.NotEmpty(t, ops)
	assert.Equal(t, OpCreateNode, ops[0].Op)
}

func TestResolveNodeDedupMergesAboveUnconditionalThreshold(t *testing.T) {
	m, store := newTestManager(t, Config{})
	ctx := context.Background()

	embeddings, err := m.engine.Embed(ctx, m.cfg.EmbeddingModel, []string{"same-topic"})
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, NodeCollection, "existing_node", embeddings[0], map[string]any{"node_type": string(NodeTopic)}))

	resolved, err := m.resolveNodeDedup(ctx, []Operation{
		{Op: OpCreateNode, NodeType: NodeTopic, Name: "same-topic"},
	})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, OpUpdateNode, resolved[0].Op)
	assert.Equal(t, "existing_node", resolved[0].NodeID)
}

func TestResolveNodeDedupCreatesNewNodeWhenNoNeighborMatches(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	ctx := context.Background()

	resolved, err := m.resolveNodeDedup(ctx, []Operation{
		{Op: OpCreateNode, NodeType: NodeObject, Name: "brand-new-object"},
	})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, OpCreateNode, resolved[0].Op)
	assert.NotEmpty(t, resolved[0].NodeID)
}

func TestResolveNodeDedupResolvesEdgeEndpointsByName(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	ctx := context.Background()

	resolved, err := m.resolveNodeDedup(ctx, []Operation{
		{Op: OpCreateNode, NodeType: NodeTopic, Name: "topic-a"},
		{Op: OpCreateNode, NodeType: NodeObject, Name: "object-b"},
		{Op: OpCreateEdge, EdgeType: EdgeCoreRelation, SourceName: "topic-a", TargetName: "object-b"},
	})
	require.NoError(t, err)
	require.Len(t, resolved, 3)
	assert.NotEmpty(t, resolved[2].SourceID)
	assert.NotEmpty(t, resolved[2].TargetID)
	assert.Equal(t, resolved[0].NodeID, resolved[2].SourceID)
	assert.Equal(t, resolved[1].NodeID, resolved[2].TargetID)
}

func TestHandleFailureDropsMemoryAfterExceedingRetryCap(t *testing.T) {
	m, _ := newTestManager(t, Config{RetryCap: 2})
	batch := []*shortterm.Memory{{ID: "stm_1"}}

	result := m.handleFailure(batch)
	assert.Empty(t, result.DroppedMemoryIDs)
	result = m.handleFailure(batch)
	assert.Empty(t, result.DroppedMemoryIDs)
	result = m.handleFailure(batch)
	require.Len(t, result.DroppedMemoryIDs, 1)
	assert.Equal(t, "stm_1", result.DroppedMemoryIDs[0])
}

func TestConsolidateBatchWithoutGraphClientFailsAndRetries(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	batch := []*shortterm.Memory{{ID: "stm_1", Subject: "a", Topic: "b", Object: "c", Importance: 0.7}}

	_, err := m.ConsolidateBatch(context.Background(), batch)
	require.Error(t, err)

	m.mu.Lock()
	retries := m.retries["stm_1"]
	m.mu.Unlock()
	assert.Equal(t, 1, retries)
}
