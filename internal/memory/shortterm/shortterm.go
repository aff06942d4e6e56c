// Package shortterm implements the structured short-term memory layer:
// triple extraction from promoted perceptual blocks, an LLM-arbitrated
// merge/update/create/discard decision against existing neighbours,
// importance decay, and a transfer queue feeding the long-term
// consolidator.
package shortterm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/coreagent/platform/internal/llm"
	"github.com/coreagent/platform/internal/memory/perceptual"
	"github.com/coreagent/platform/internal/memory/vectorstore"
	"github.com/coreagent/platform/internal/platform/logger"
)

// Collection is the vector store collection name short-term memories
// are indexed under.
const Collection = "short_term"

// Defaults match spec.md §4.5.2.
const (
	DefaultCapacity           = 100
	DefaultNeighborCount      = 5
	DefaultDecayFactor        = 0.98
	DefaultPromotionThreshold = 0.6
	DefaultBatchSize          = 10
	DefaultTransferInterval   = 600 * time.Second
)

// Action is one of the four LLM-arbitrated short-term decisions.
type Action string

const (
	ActionMerge     Action = "merge"
	ActionUpdate    Action = "update"
	ActionCreateNew Action = "create_new"
	ActionDiscard   Action = "discard"
)

// Triple is one extracted (subject, topic, object) candidate, with an
// optional attribute map and provisional importance.
type Triple struct {
	Subject    string
	Topic      string
	Object     string
	Attributes map[string]any
	Importance float64
}

// Memory is one structured short-term memory record.
type Memory struct {
	ID           string
	Subject      string
	Topic        string
	Object       string
	Attributes   map[string]any
	Importance   float64
	Embedding    []float32
	CreatedAt    time.Time
	LastAccessed time.Time
	Promoting    bool // true while queued for transfer, protects it from eviction
}

func (m *Memory) content() string {
	return fmt.Sprintf("%s %s %s", m.Subject, m.Topic, m.Object)
}

// Config overrides the short-term layer's tunable constants.
type Config struct {
	Capacity           int
	NeighborCount      int
	DecayFactor        float64
	PromotionThreshold float64
	BatchSize          int
	TransferInterval   time.Duration
	DecisionModel      string
	ExtractionModel    string
	EmbeddingModel     string
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.NeighborCount <= 0 {
		c.NeighborCount = DefaultNeighborCount
	}
	if c.DecayFactor <= 0 {
		c.DecayFactor = DefaultDecayFactor
	}
	if c.PromotionThreshold <= 0 {
		c.PromotionThreshold = DefaultPromotionThreshold
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.TransferInterval <= 0 {
		c.TransferInterval = DefaultTransferInterval
	}
	return c
}

// tripleExtractionSchema is requested from the engine when asking it to
// pull candidate triples out of a promoted perceptual block.
var tripleExtractionSchema = &llm.JSONSchema{Name: "triple_extraction"}

// shortTermDecisionSchema is requested from the engine when asking it
// to arbitrate a candidate against its nearest existing neighbours.
var shortTermDecisionSchema = &llm.JSONSchema{Name: "short_term_decision"}

type extractionResponse struct {
	Triples []struct {
		Subject    string         `json:"subject"`
		Topic      string         `json:"topic"`
		Object     string         `json:"object"`
		Attributes map[string]any `json:"attributes"`
		Importance float64        `json:"importance"`
	} `json:"triples"`
}

type decisionResponse struct {
	Action     string         `json:"action"`
	TargetID   string         `json:"target_id"`
	Attributes map[string]any `json:"attributes"`
	Reason     string         `json:"reason"`
}

// Manager owns the short-term memory set, its transfer queue, and the
// decay/promotion background loop.
type Manager struct {
	log    *logger.Logger
	engine llm.Engine
	store  vectorstore.Store
	cfg    Config

	mu       sync.Mutex
	memories map[string]*Memory
	transfer map[string]struct{} // IDs currently queued for transfer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a short-term Manager.
func New(log *logger.Logger, engine llm.Engine, store vectorstore.Store, cfg Config) *Manager {
	return &Manager{
		log:      log.With("component", "ShortTermMemory"),
		engine:   engine,
		store:    store,
		cfg:      cfg.withDefaults(),
		memories: make(map[string]*Memory),
		transfer: make(map[string]struct{}),
	}
}

// Ingest extracts candidate triples from a promoted perceptual block
// and runs each through the merge/update/create_new/discard decision.
// It returns the memories that were created or modified.
func (m *Manager) Ingest(ctx context.Context, block *perceptual.Block) ([]*Memory, error) {
	raw, err := m.engine.GenerateText(ctx, m.cfg.ExtractionModel, []llm.Message{
		{Role: "user", Content: block.CombinedText},
	}, llm.GenerateOptions{JSONSchema: tripleExtractionSchema})
	if err != nil {
		return nil, fmt.Errorf("extract triples: %w", err)
	}

	var resp extractionResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("decode triple extraction: %w", err)
	}

	var results []*Memory
	for _, t := range resp.Triples {
		candidate := Triple{
			Subject:    t.Subject,
			Topic:      t.Topic,
			Object:     t.Object,
			Attributes: t.Attributes,
			Importance: t.Importance,
		}
		mem, err := m.decideAndApply(ctx, candidate)
		if err != nil {
			return results, err
		}
		if mem != nil {
			results = append(results, mem)
		}
	}
	return results, nil
}

func (m *Manager) decideAndApply(ctx context.Context, candidate Triple) (*Memory, error) {
	embeddings, err := m.engine.Embed(ctx, m.cfg.EmbeddingModel, []string{candidateContent(candidate)})
	if err != nil {
		return nil, err
	}
	embedding := embeddings[0]

	matches, err := m.store.Query(ctx, Collection, embedding, m.cfg.NeighborCount, 0)
	if err != nil {
		return nil, err
	}

	neighbors := make([]*Memory, 0, len(matches))
	m.mu.Lock()
	for _, match := range matches {
		if mem, ok := m.memories[match.ID]; ok {
			neighbors = append(neighbors, mem)
		}
	}
	m.mu.Unlock()

	if len(neighbors) == 0 {
		return m.createNew(ctx, candidate, embedding)
	}

	raw, err := m.engine.GenerateText(ctx, m.cfg.DecisionModel, []llm.Message{
		{Role: "user", Content: decisionPrompt(candidate, neighbors)},
	}, llm.GenerateOptions{JSONSchema: shortTermDecisionSchema})
	if err != nil {
		return nil, fmt.Errorf("short-term decision: %w", err)
	}

	var resp decisionResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("decode short-term decision: %w", err)
	}

	switch Action(resp.Action) {
	case ActionMerge:
		return m.merge(ctx, resp.TargetID, neighbors, candidate, embedding)
	case ActionUpdate:
		return m.update(ctx, resp.TargetID, neighbors, candidate, embedding)
	case ActionDiscard:
		return nil, nil
	default: // ActionCreateNew, or an unrecognised action
		return m.createNew(ctx, candidate, embedding)
	}
}

func (m *Manager) createNew(ctx context.Context, t Triple, embedding []float32) (*Memory, error) {
	mem := &Memory{
		ID:           "stm_" + ulid.Make().String(),
		Subject:      t.Subject,
		Topic:        t.Topic,
		Object:       t.Object,
		Attributes:   t.Attributes,
		Importance:   t.Importance,
		Embedding:    embedding,
		CreatedAt:    time.Now(),
		LastAccessed: time.Now(),
	}
	if err := m.store.Upsert(ctx, Collection, mem.ID, embedding, map[string]any{"subject": t.Subject}); err != nil {
		return nil, err
	}

	var evicted []*Memory
	m.mu.Lock()
	m.memories[mem.ID] = mem
	if len(m.memories) > m.cfg.Capacity {
		evicted = m.evictLocked(1)
	}
	m.mu.Unlock()
	for _, e := range evicted {
		_ = m.store.Delete(ctx, Collection, e.ID)
	}

	m.maybeQueueForTransfer(mem)
	return mem, nil
}

func (m *Manager) merge(ctx context.Context, targetID string, neighbors []*Memory, candidate Triple, fallbackEmbedding []float32) (*Memory, error) {
	target := resolveTarget(targetID, neighbors)
	if target == nil {
		return m.createNew(ctx, candidate, fallbackEmbedding)
	}
	m.mu.Lock()
	if target.Attributes == nil {
		target.Attributes = make(map[string]any)
	}
	for k, v := range candidate.Attributes {
		target.Attributes[k] = v
	}
	target.Importance = boundedBump(target.Importance)
	target.LastAccessed = time.Now()
	m.mu.Unlock()
	m.maybeQueueForTransfer(target)
	return target, nil
}

func (m *Manager) update(ctx context.Context, targetID string, neighbors []*Memory, candidate Triple, fallbackEmbedding []float32) (*Memory, error) {
	target := resolveTarget(targetID, neighbors)
	if target == nil {
		return m.createNew(ctx, candidate, fallbackEmbedding)
	}
	m.mu.Lock()
	if target.Attributes == nil {
		target.Attributes = make(map[string]any)
	}
	for k, v := range candidate.Attributes {
		target.Attributes[k] = v // contradicting attributes are replaced wholesale
	}
	target.Object = candidate.Object
	target.Importance = boundedBump(target.Importance)
	target.LastAccessed = time.Now()
	m.mu.Unlock()
	m.maybeQueueForTransfer(target)
	return target, nil
}

// boundedBump increases importance by a bounded delta, capped at 1.0.
func boundedBump(importance float64) float64 {
	const delta = 0.05
	next := importance + delta
	if next > 1 {
		return 1
	}
	return next
}

func resolveTarget(targetID string, neighbors []*Memory) *Memory {
	for _, n := range neighbors {
		if n.ID == targetID {
			return n
		}
	}
	if len(neighbors) > 0 {
		return neighbors[0]
	}
	return nil
}

// maybeQueueForTransfer marks a memory reaching the promotion threshold
// as queued, protecting it from eviction until the long-term
// consolidator drains it.
func (m *Manager) maybeQueueForTransfer(mem *Memory) {
	if mem.Importance < m.cfg.PromotionThreshold {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mem.Promoting = true
	m.transfer[mem.ID] = struct{}{}
}

// evictLocked removes up to n memories ranked lowest by
// importance × decay_s^age, never evicting a memory queued for
// transfer. Caller must hold m.mu.
func (m *Manager) evictLocked(n int) []*Memory {
	candidates := make([]*Memory, 0, len(m.memories))
	for _, mem := range m.memories {
		if mem.Promoting {
			continue
		}
		candidates = append(candidates, mem)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return evictionScore(candidates[i], m.cfg.DecayFactor) < evictionScore(candidates[j], m.cfg.DecayFactor)
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	for _, mem := range candidates {
		delete(m.memories, mem.ID)
	}
	return candidates
}

func evictionScore(mem *Memory, decay float64) float64 {
	age := time.Since(mem.LastAccessed).Hours()
	return mem.Importance * math.Pow(decay, age)
}

// SearchHit pairs a short-term memory with its similarity to the query
// that found it.
type SearchHit struct {
	Memory     *Memory
	Similarity float64
}

// Search returns up to topK short-term memories nearest to queryText,
// refreshing LastAccessed on every hit.
func (m *Manager) Search(ctx context.Context, queryText string, topK int) ([]SearchHit, error) {
	embeddings, err := m.engine.Embed(ctx, m.cfg.EmbeddingModel, []string{queryText})
	if err != nil {
		return nil, err
	}
	matches, err := m.store.Query(ctx, Collection, embeddings[0], topK, 0)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SearchHit, 0, len(matches))
	for _, match := range matches {
		if mem, ok := m.memories[match.ID]; ok {
			mem.LastAccessed = time.Now()
			out = append(out, SearchHit{Memory: mem, Similarity: match.Similarity})
		}
	}
	return out, nil
}

// ApplyDecay multiplies the importance of every memory that has not
// been accessed since the last decay pass.
func (m *Manager) ApplyDecay(since time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range m.memories {
		if mem.LastAccessed.Before(since) {
			mem.Importance *= m.cfg.DecayFactor
		}
	}
}

// DrainTransferBatch removes up to BatchSize queued memories and
// returns them for long-term consolidation. Callers that fail to
// consolidate a batch must call Requeue to return it.
func (m *Manager) DrainTransferBatch() []*Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	var batch []*Memory
	for id := range m.transfer {
		mem, ok := m.memories[id]
		if !ok {
			delete(m.transfer, id)
			continue
		}
		batch = append(batch, mem)
		delete(m.transfer, id)
		if len(batch) >= m.cfg.BatchSize {
			break
		}
	}
	return batch
}

// Requeue returns a drained batch to the transfer queue, used after a
// long-term consolidation failure.
func (m *Manager) Requeue(batch []*Memory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range batch {
		m.transfer[mem.ID] = struct{}{}
	}
}

// Clear removes memories from the short-term set once the long-term
// layer has successfully consolidated them.
func (m *Manager) Clear(ctx context.Context, ids []string) {
	m.mu.Lock()
	for _, id := range ids {
		delete(m.memories, id)
		delete(m.transfer, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.store.Delete(ctx, Collection, id)
	}
}

// Stats reports the current set size and queue depth.
type Stats struct {
	MemoryCount int
	QueueDepth  int
}

// Stats returns a snapshot of the manager's current load.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{MemoryCount: len(m.memories), QueueDepth: len(m.transfer)}
}

// StartDecayLoop runs ApplyDecay on a fixed interval until Shutdown.
func (m *Manager) StartDecayLoop(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		last := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				m.ApplyDecay(last)
				last = now
			}
		}
	}()
}

// Shutdown stops the decay loop, if running.
func (m *Manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func candidateContent(t Triple) string {
	return fmt.Sprintf("%s %s %s", t.Subject, t.Topic, t.Object)
}

func decisionPrompt(candidate Triple, neighbors []*Memory) string {
	s := fmt.Sprintf("candidate: %s\nneighbours:\n", candidateContent(candidate))
	for _, n := range neighbors {
		s += fmt.Sprintf("- %s (id=%s, importance=%.2f)\n", n.content(), n.ID, n.Importance)
	}
	return s
}
