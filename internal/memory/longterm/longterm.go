// Package longterm implements the graph-backed long-term memory layer:
// LLM-consolidated batches from the short-term transfer queue, applied
// atomically against a Neo4j graph with node deduplication against an
// embedding index, nightly decay, and periodic relation discovery.
package longterm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/oklog/ulid/v2"

	"github.com/coreagent/platform/internal/llm"
	"github.com/coreagent/platform/internal/memory/shortterm"
	"github.com/coreagent/platform/internal/memory/vectorstore"
	"github.com/coreagent/platform/internal/persistence"
	"github.com/coreagent/platform/internal/persistence/model"
	"github.com/coreagent/platform/internal/platform/logger"
	"github.com/coreagent/platform/internal/platform/neo4jdb"
)

// NodeCollection is the vector store collection TOPIC/OBJECT node
// embeddings are indexed under for deduplication.
const NodeCollection = "longterm_nodes"

// NodeType enumerates the graph's node kinds.
type NodeType string

const (
	NodeSubject   NodeType = "subject"
	NodeTopic     NodeType = "topic"
	NodeObject    NodeType = "object"
	NodeAttribute NodeType = "attribute"
	NodeValue     NodeType = "value"
)

// EdgeType enumerates the graph's edge kinds.
type EdgeType string

const (
	EdgeMemoryType   EdgeType = "memory_type"
	EdgeCoreRelation EdgeType = "core_relation"
	EdgeAttribute    EdgeType = "attribute"
	EdgeCausality    EdgeType = "causality"
	EdgeReference    EdgeType = "reference"
)

// GraphOp enumerates the consolidation operations an LLM call may
// choose, per memory.
type GraphOp string

const (
	OpCreateMemory   GraphOp = "create_memory"
	OpUpdateMemory   GraphOp = "update_memory"
	OpMergeMemories  GraphOp = "merge_memories"
	OpCreateNode     GraphOp = "create_node"
	OpUpdateNode     GraphOp = "update_node"
	OpDeleteNode     GraphOp = "delete_node"
	OpCreateEdge     GraphOp = "create_edge"
	OpUpdateEdge     GraphOp = "update_edge"
	OpDeleteEdge     GraphOp = "delete_edge"
	OpCreateSubgraph GraphOp = "create_subgraph"
	OpQueryGraph     GraphOp = "query_graph"
)

const (
	DefaultDedupCompatibleThreshold = 0.85
	DefaultDedupUnconditional       = 0.95
	DefaultDecayFactor              = 0.95
	DefaultRetryCap                 = 3
	DefaultCausalWindow             = time.Hour
	DefaultReferenceImportance      = 0.4
)

// Operation is one step of a consolidation batch, decoded from the
// engine's graph_operation response.
type Operation struct {
	Op         GraphOp        `json:"operation"`
	NodeID     string         `json:"node_id"`
	NodeType   NodeType       `json:"node_type"`
	Name       string         `json:"name"`
	SourceID   string         `json:"source_id"`
	SourceName string         `json:"source_name"`
	TargetID   string         `json:"target_id"`
	TargetName string         `json:"target_name"`
	EdgeType   EdgeType       `json:"edge_type"`
	Properties map[string]any `json:"properties"`
	Importance float64        `json:"importance"`
	Reason     string         `json:"reason"`
}

type operationBatch struct {
	Operations []Operation `json:"operations"`
}

var graphOperationSchema = &llm.JSONSchema{Name: "graph_operation"}

// Config overrides the long-term layer's tunable constants.
type Config struct {
	DedupCompatibleThreshold float64
	DedupUnconditional       float64
	DecayFactor              float64
	RetryCap                 int
	CausalWindow             time.Duration
	ReferenceImportance      float64
	ConsolidationModel       string
	RelationModel            string
	EmbeddingModel           string
}

func (c Config) withDefaults() Config {
	if c.DedupCompatibleThreshold <= 0 {
		c.DedupCompatibleThreshold = DefaultDedupCompatibleThreshold
	}
	if c.DedupUnconditional <= 0 {
		c.DedupUnconditional = DefaultDedupUnconditional
	}
	if c.DecayFactor <= 0 {
		c.DecayFactor = DefaultDecayFactor
	}
	if c.RetryCap <= 0 {
		c.RetryCap = DefaultRetryCap
	}
	if c.CausalWindow <= 0 {
		c.CausalWindow = DefaultCausalWindow
	}
	if c.ReferenceImportance <= 0 {
		c.ReferenceImportance = DefaultReferenceImportance
	}
	return c
}

// Manager owns consolidation, node dedup, decay, and relation
// discovery against the long-term memory graph.
type Manager struct {
	log       *logger.Logger
	client    *neo4jdb.Client
	engine    llm.Engine
	store     vectorstore.Store
	sqlMirror *persistence.Store
	cfg       Config

	mu      sync.Mutex
	retries map[string]int // keyed by short-term memory ID
}

// New constructs a long-term Manager. sqlMirror may be nil, which
// disables the on-disk journal fallback for a failed graph write
// (development/test callers that have no persistence.Store).
func New(log *logger.Logger, client *neo4jdb.Client, engine llm.Engine, store vectorstore.Store, sqlMirror *persistence.Store, cfg Config) *Manager {
	return &Manager{
		log:       log.With("component", "LongTermMemory"),
		client:    client,
		engine:    engine,
		store:     store,
		sqlMirror: sqlMirror,
		cfg:       cfg.withDefaults(),
		retries:   make(map[string]int),
	}
}

// ConsolidateBatch drains a transfer batch through the LLM for an
// operation plan, applies it atomically, and reports which memories
// succeeded. Memories in a failed batch get an incremented retry
// counter; the caller is expected to Requeue them into the short-term
// transfer queue unless DroppedMemoryIDs says otherwise.
type ConsolidateResult struct {
	AppliedMemoryIDs []string
	DroppedMemoryIDs []string
}

// ConsolidateBatch applies one drained short-term batch to the graph.
func (m *Manager) ConsolidateBatch(ctx context.Context, batch []*shortterm.Memory) (ConsolidateResult, error) {
	if len(batch) == 0 {
		return ConsolidateResult{}, nil
	}

	ops, err := m.planOperations(ctx, batch)
	if err != nil {
		return m.handleFailure(batch), err
	}

	if err := m.applyOperations(ctx, ops); err != nil {
		return m.handleFailure(batch), err
	}

	ids := make([]string, 0, len(batch))
	m.mu.Lock()
	for _, mem := range batch {
		delete(m.retries, mem.ID)
		ids = append(ids, mem.ID)
	}
	m.mu.Unlock()
	return ConsolidateResult{AppliedMemoryIDs: ids}, nil
}

// handleFailure increments the retry counter for every memory in the
// batch and reports which ones have exceeded the retry cap and must be
// dropped rather than requeued.
func (m *Manager) handleFailure(batch []*shortterm.Memory) ConsolidateResult {
	var dropped []string
	m.mu.Lock()
	for _, mem := range batch {
		m.retries[mem.ID]++
		if m.retries[mem.ID] > m.cfg.RetryCap {
			dropped = append(dropped, mem.ID)
			delete(m.retries, mem.ID)
			m.log.Error("dropping memory after exceeding long-term consolidation retry cap", "memory_id", mem.ID, "retries", m.cfg.RetryCap)
		}
	}
	m.mu.Unlock()
	return ConsolidateResult{DroppedMemoryIDs: dropped}
}

func (m *Manager) planOperations(ctx context.Context, batch []*shortterm.Memory) ([]Operation, error) {
	prompt := consolidationPrompt(batch)
	raw, err := m.engine.GenerateText(ctx, m.cfg.ConsolidationModel, []llm.Message{
		{Role: "user", Content: prompt},
	}, llm.GenerateOptions{JSONSchema: graphOperationSchema})
	if err != nil {
		return nil, fmt.Errorf("plan consolidation: %w", err)
	}

	var decoded operationBatch
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("decode consolidation plan: %w", err)
	}
	return decoded.Operations, nil
}

func consolidationPrompt(batch []*shortterm.Memory) string {
	var b strings.Builder
	b.WriteString("consolidate the following short-term memories into the graph:\n")
	for _, mem := range batch {
		fmt.Fprintf(&b, "- %s %s %s (importance=%.2f)\n", mem.Subject, mem.Topic, mem.Object, mem.Importance)
	}
	return b.String()
}

// applyOperations resolves node dedup for every CREATE_NODE operation,
// then applies the whole batch in a single Neo4j write transaction so
// a failure anywhere rolls back everything.
func (m *Manager) applyOperations(ctx context.Context, ops []Operation) error {
	if m.client == nil || m.client.Driver == nil {
		return fmt.Errorf("longterm: no graph database configured")
	}

	resolved, err := m.resolveNodeDedup(ctx, ops)
	if err != nil {
		return err
	}

	session := m.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: m.client.Database,
	})
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, op := range resolved {
			if err := applyOne(ctx, tx, op); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		m.journalFailedBatch(ctx, resolved, err)
	}
	return err
}

// journalFailedBatch mirrors a batch that failed to apply against
// Neo4j into the SQL-backed journal fallback, satisfying spec.md
// §4.5.5's "persistence write failures fall back to an on-disk JSON
// journal" for the graph write path. A nil sqlMirror (no
// persistence.Store configured) disables this without affecting the
// caller's own retry/drop handling in handleFailure.
func (m *Manager) journalFailedBatch(ctx context.Context, ops []Operation, writeErr error) {
	if m.sqlMirror == nil {
		return
	}
	batch := buildLongTermBatch(ops)
	if len(batch.Nodes) == 0 && len(batch.Edges) == 0 && batch.LTM.ID == "" {
		return
	}
	if err := m.sqlMirror.PersistLongTermBatch(ctx, batch); err != nil {
		m.log.Error("failed to journal batch after graph write failure", "error", err, "graph_error", writeErr)
	}
}

// buildLongTermBatch maps a resolved operation plan onto the SQL
// mirror's row shapes: one row per CREATE_NODE/UPDATE_NODE and
// CREATE_EDGE/UPDATE_EDGE operation, plus a single bookkeeping
// LongTermMemory row keyed off the first CREATE_MEMORY/UPDATE_MEMORY/
// MERGE_MEMORIES operation in the plan, if any.
func buildLongTermBatch(ops []Operation) persistence.LongTermBatch {
	batch := persistence.LongTermBatch{ID: "batch_" + ulid.Make().String()}
	for _, op := range ops {
		switch op.Op {
		case OpCreateNode, OpUpdateNode:
			batch.Nodes = append(batch.Nodes, model.MemoryNode{
				ID:         op.NodeID,
				NodeType:   string(op.NodeType),
				Name:       op.Name,
				Importance: op.Importance,
			})
		case OpCreateEdge, OpUpdateEdge:
			batch.Edges = append(batch.Edges, model.MemoryEdge{
				ID:         op.SourceID + ":" + op.TargetID + ":" + string(op.EdgeType),
				SourceID:   op.SourceID,
				TargetID:   op.TargetID,
				EdgeType:   string(op.EdgeType),
				Importance: op.Importance,
			})
		case OpCreateMemory, OpUpdateMemory, OpMergeMemories:
			if batch.LTM.ID != "" {
				continue
			}
			memoryType, _ := op.Properties["memory_type"].(string)
			if memoryType == "" {
				memoryType = "FACT"
			}
			batch.LTM = model.LongTermMemory{
				ID:            "ltm_" + ulid.Make().String(),
				SubjectNodeID: op.NodeID,
				MemoryType:    memoryType,
				Importance:    op.Importance,
			}
		}
	}
	return batch
}

// resolveNodeDedup assigns a stable NodeID to every CREATE_NODE
// operation for a TOPIC or OBJECT node: if an existing node's name
// embedding scores at or above DedupUnconditional, the operation is
// rewritten into an UPDATE_NODE against it; between
// DedupCompatibleThreshold and DedupUnconditional and sharing the same
// node type (this package's stand-in for "context-compatible"), it
// merges the same way; otherwise a fresh ID is minted.
func (m *Manager) resolveNodeDedup(ctx context.Context, ops []Operation) ([]Operation, error) {
	nameToID := make(map[string]string)
	out := make([]Operation, len(ops))
	copy(out, ops)

	for i, op := range out {
		if op.Op != OpCreateNode {
			continue
		}
		if op.NodeType != NodeTopic && op.NodeType != NodeObject {
			out[i].NodeID = "node_" + ulid.Make().String()
			nameToID[op.Name] = out[i].NodeID
			continue
		}

		embeddings, err := m.engine.Embed(ctx, m.cfg.EmbeddingModel, []string{op.Name})
		if err != nil {
			return nil, err
		}
		matches, err := m.store.Query(ctx, NodeCollection, embeddings[0], 1, m.cfg.DedupCompatibleThreshold)
		if err != nil {
			return nil, err
		}

		if len(matches) > 0 {
			best := matches[0]
			compatible := best.Similarity >= m.cfg.DedupUnconditional
			if !compatible && best.Similarity >= m.cfg.DedupCompatibleThreshold {
				if existingType, _ := best.Metadata["node_type"].(string); existingType == string(op.NodeType) {
					compatible = true
				}
			}
			if compatible {
				out[i].Op = OpUpdateNode
				out[i].NodeID = best.ID
				nameToID[op.Name] = best.ID
				continue
			}
		}

		id := "node_" + ulid.Make().String()
		out[i].NodeID = id
		nameToID[op.Name] = id
		if err := m.store.Upsert(ctx, NodeCollection, id, embeddings[0], map[string]any{"node_type": string(op.NodeType), "name": op.Name}); err != nil {
			return nil, err
		}
	}

	// Resolve edge endpoints named by SourceName/TargetName against the
	// IDs just minted or merged in this same batch.
	for i, op := range out {
		if op.Op != OpCreateEdge && op.Op != OpUpdateEdge {
			continue
		}
		if out[i].SourceID == "" {
			if id, ok := nameToID[op.SourceName]; ok {
				out[i].SourceID = id
			}
		}
		if out[i].TargetID == "" {
			if id, ok := nameToID[op.TargetName]; ok {
				out[i].TargetID = id
			}
		}
	}

	return out, nil
}

func applyOne(ctx context.Context, tx neo4j.ManagedTransaction, op Operation) error {
	switch op.Op {
	case OpCreateMemory, OpUpdateMemory, OpMergeMemories:
		// No-op against the graph: nothing is written to Neo4j for
		// these beyond what CREATE_NODE/CREATE_EDGE already express.
		return nil
	case OpCreateNode, OpUpdateNode:
		return runConsume(ctx, tx, `
MERGE (n:MemoryNode {id: $id})
SET n.type = $type,
    n.name = $name,
    n.importance = coalesce($importance, n.importance, 0.5),
    n.updated_at = $now
`, map[string]any{
			"id":         op.NodeID,
			"type":       string(op.NodeType),
			"name":       op.Name,
			"importance": nonZero(op.Importance),
			"now":        time.Now().UTC().Format(time.RFC3339Nano),
		})
	case OpDeleteNode:
		return runConsume(ctx, tx, `
MATCH (n:MemoryNode {id: $id})
DETACH DELETE n
`, map[string]any{"id": op.NodeID})
	case OpCreateEdge, OpUpdateEdge:
		if op.SourceID == "" || op.TargetID == "" {
			return fmt.Errorf("longterm: edge operation missing resolved endpoints")
		}
		return runConsume(ctx, tx, `
MATCH (a:MemoryNode {id: $source_id})
MATCH (b:MemoryNode {id: $target_id})
MERGE (a)-[e:MEMORY_EDGE {type: $edge_type}]->(b)
SET e.importance = coalesce($importance, e.importance, 0.5),
    e.updated_at = $now
`, map[string]any{
			"source_id":  op.SourceID,
			"target_id":  op.TargetID,
			"edge_type":  string(op.EdgeType),
			"importance": nonZero(op.Importance),
			"now":        time.Now().UTC().Format(time.RFC3339Nano),
		})
	case OpDeleteEdge:
		return runConsume(ctx, tx, `
MATCH (a:MemoryNode {id: $source_id})-[e:MEMORY_EDGE {type: $edge_type}]->(b:MemoryNode {id: $target_id})
DELETE e
`, map[string]any{
			"source_id": op.SourceID,
			"target_id": op.TargetID,
			"edge_type": string(op.EdgeType),
		})
	case OpCreateSubgraph:
		// A subgraph is simply a batch of CREATE_NODE/CREATE_EDGE ops the
		// planner already expanded; nothing extra to apply here.
		return nil
	case OpQueryGraph:
		// Read-only; consolidation never needs to apply a query result.
		return nil
	default:
		return fmt.Errorf("longterm: unknown graph operation %q", op.Op)
	}
}

// ApplyDecay multiplies every graph node's importance by DecayFactor,
// the nightly pass this package's doc comment promises. A no-op
// against a nil/unconfigured graph rather than an error, matching how
// ConsolidateBatch's caller already tolerates an absent graph during
// development.
func (m *Manager) ApplyDecay(ctx context.Context) error {
	if m.client == nil || m.client.Driver == nil {
		return nil
	}
	session := m.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: m.client.Database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, runConsume(ctx, tx, `
MATCH (n:MemoryNode)
SET n.importance = n.importance * $factor
`, map[string]any{"factor": m.cfg.DecayFactor})
	})
	if err != nil {
		return fmt.Errorf("longterm: apply decay: %w", err)
	}
	return nil
}

func runConsume(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) error {
	res, err := tx.Run(ctx, query, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

func nonZero(f float64) any {
	if f == 0 {
		return nil
	}
	return f
}
