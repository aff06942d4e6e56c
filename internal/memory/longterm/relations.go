package longterm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/coreagent/platform/internal/llm"
)

var causalJudgmentSchema = &llm.JSONSchema{Name: "causal_judgment"}

// NodeRef identifies a recently-consolidated graph node for relation
// discovery.
type NodeRef struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

type causalJudgmentResponse struct {
	Causal bool   `json:"causal"`
	Reason string `json:"reason"`
}

// RecentNodes returns every MemoryNode touched at or after since,
// for feeding into DiscoverRelations from a periodic caller (the
// nightly maintenance workflow) that has no in-memory batch of its
// own to hand it.
func (m *Manager) RecentNodes(ctx context.Context, since time.Time) ([]NodeRef, error) {
	if m.client == nil || m.client.Driver == nil {
		return nil, nil
	}
	session := m.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: m.client.Database,
	})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (n:MemoryNode)
WHERE datetime(n.updated_at) >= datetime($since)
RETURN n.id AS id, n.name AS name, n.updated_at AS updated_at
`, map[string]any{"since": since.UTC().Format(time.RFC3339Nano)})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("longterm: recent nodes: %w", err)
	}

	records, _ := result.([]*neo4j.Record)
	out := make([]NodeRef, 0, len(records))
	for _, rec := range records {
		id, _ := rec.Get("id")
		name, _ := rec.Get("name")
		updatedAt, _ := rec.Get("updated_at")
		ref := NodeRef{ID: asString(id), Name: asString(name)}
		if s := asString(updatedAt); s != "" {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				ref.CreatedAt = t
			}
		}
		out = append(out, ref)
	}
	return out, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// DiscoverRelations scans a batch of recently-consolidated nodes for
// two kinds of implicit edges: causal links between temporal
// neighbours within CausalWindow, judged by the engine, and REFERENCE
// edges between nodes that already share a neighbour in the graph.
// Discovered edges are tagged metadata.discovered=true and carry lower
// importance than a user-observed edge.
func (m *Manager) DiscoverRelations(ctx context.Context, recent []NodeRef) error {
	if m.client == nil || m.client.Driver == nil || len(recent) < 2 {
		return nil
	}

	for i := 0; i < len(recent); i++ {
		for j := i + 1; j < len(recent); j++ {
			a, b := recent[i], recent[j]
			delta := a.CreatedAt.Sub(b.CreatedAt)
			if delta < 0 {
				delta = -delta
			}
			if delta > m.cfg.CausalWindow {
				continue
			}

			causal, err := m.judgeCausal(ctx, a, b)
			if err != nil {
				return err
			}
			if causal {
				if err := m.createDiscoveredEdge(ctx, a.ID, b.ID, EdgeCausality, m.cfg.ReferenceImportance); err != nil {
					return err
				}
			}
		}
	}

	return m.discoverSharedNodeReferences(ctx, recent)
}

func (m *Manager) judgeCausal(ctx context.Context, a, b NodeRef) (bool, error) {
	raw, err := m.engine.GenerateText(ctx, m.cfg.RelationModel, []llm.Message{
		{Role: "user", Content: fmt.Sprintf("did %q cause or lead to %q, or vice versa?", a.Name, b.Name)},
	}, llm.GenerateOptions{JSONSchema: causalJudgmentSchema})
	if err != nil {
		return false, fmt.Errorf("judge causal relation: %w", err)
	}
	var resp causalJudgmentResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return false, fmt.Errorf("decode causal judgment: %w", err)
	}
	return resp.Causal, nil
}

// discoverSharedNodeReferences adds a REFERENCE edge between any two
// of the recent nodes that already share a common neighbour in the
// graph, and do not already have a direct edge.
func (m *Manager) discoverSharedNodeReferences(ctx context.Context, recent []NodeRef) error {
	session := m.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: m.client.Database,
	})
	defer session.Close(ctx)

	ids := make([]string, len(recent))
	for i, n := range recent {
		ids[i] = n.ID
	}

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
UNWIND $ids AS id
MATCH (a:MemoryNode {id: id})-[:MEMORY_EDGE]-(shared)-[:MEMORY_EDGE]-(b:MemoryNode)
WHERE a.id IN $ids AND b.id IN $ids AND a.id < b.id
  AND NOT (a)-[:MEMORY_EDGE]-(b)
RETURN DISTINCT a.id AS a, b.id AS b
`, map[string]any{"ids": ids})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return err
	}

	records, _ := result.([]*neo4j.Record)
	for _, rec := range records {
		a, _ := rec.Get("a")
		b, _ := rec.Get("b")
		aID, _ := a.(string)
		bID, _ := b.(string)
		if aID == "" || bID == "" {
			continue
		}
		if err := m.createDiscoveredEdge(ctx, aID, bID, EdgeReference, m.cfg.ReferenceImportance); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) createDiscoveredEdge(ctx context.Context, sourceID, targetID string, edgeType EdgeType, importance float64) error {
	session := m.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: m.client.Database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, runConsume(ctx, tx, `
MATCH (a:MemoryNode {id: $source_id})
MATCH (b:MemoryNode {id: $target_id})
MERGE (a)-[e:MEMORY_EDGE {type: $edge_type}]->(b)
SET e.importance = $importance,
    e.discovered = true,
    e.updated_at = $now
`, map[string]any{
			"source_id":  sourceID,
			"target_id":  targetID,
			"edge_type":  string(edgeType),
			"importance": importance,
			"now":        time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	return err
}
