// Package perceptual implements the perceptual memory layer: a global
// FIFO heap of closed message blocks, top-k recall against the vector
// store on every new block, and activation-triggered promotion
// scheduling into the short-term layer.
package perceptual

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/coreagent/platform/internal/envelope"
	"github.com/coreagent/platform/internal/llm"
	"github.com/coreagent/platform/internal/memory/vectorstore"
	"github.com/coreagent/platform/internal/platform/logger"
)

// Collection is the vector store collection name perceptual blocks are
// indexed under.
const Collection = "perceptual"

// Defaults match spec.md §4.5.1.
const (
	DefaultMaxBlocks           = 50
	DefaultBlockSize           = 5
	DefaultActivationThreshold = 3
	DefaultRecallTopK          = 3
	DefaultRecallThreshold     = 0.55
)

// Block is one closed perceptual memory block: a fixed-size run of
// sequential messages from a single stream, embedded as one unit.
type Block struct {
	ID              string
	StreamID        string
	Messages        []envelope.MessageEnvelope
	CombinedText    string
	Embedding       []float32
	ActivationCount int
	CreatedAt       time.Time
}

// Config overrides the perceptual layer's tunable constants; a zero
// value for any field falls back to its spec default.
type Config struct {
	MaxBlocks           int
	BlockSize           int
	ActivationThreshold int
	RecallTopK          int
	RecallThreshold     float64
	EmbeddingModel      string
}

func (c Config) withDefaults() Config {
	if c.MaxBlocks <= 0 {
		c.MaxBlocks = DefaultMaxBlocks
	}
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.ActivationThreshold <= 0 {
		c.ActivationThreshold = DefaultActivationThreshold
	}
	if c.RecallTopK <= 0 {
		c.RecallTopK = DefaultRecallTopK
	}
	if c.RecallThreshold <= 0 {
		c.RecallThreshold = DefaultRecallThreshold
	}
	return c
}

// Manager owns the global block heap and the per-stream pending
// message buffers that feed it.
type Manager struct {
	log    *logger.Logger
	engine llm.Engine
	store  vectorstore.Store
	cfg    Config

	mu       sync.Mutex
	pending  map[string][]envelope.MessageEnvelope
	blocks   []*Block // index 0 is oldest; FIFO eviction trims the front
	byID     map[string]*Block
}

// New constructs a perceptual Manager.
func New(log *logger.Logger, engine llm.Engine, store vectorstore.Store, cfg Config) *Manager {
	return &Manager{
		log:     log.With("component", "PerceptualMemory"),
		engine:  engine,
		store:   store,
		cfg:     cfg.withDefaults(),
		pending: make(map[string][]envelope.MessageEnvelope),
		byID:    make(map[string]*Block),
	}
}

// AddMessage appends e to its stream's pending buffer. Once the buffer
// reaches BlockSize, it closes a block, embeds it, inserts it into the
// vector store, and recalls the nearest existing blocks, incrementing
// their activation counts. It returns the newly closed block (nil if
// the buffer has not yet filled) and the set of blocks whose
// activation count just reached the promotion threshold as a result of
// this recall.
func (m *Manager) AddMessage(ctx context.Context, e envelope.MessageEnvelope) (*Block, []*Block, error) {
	m.mu.Lock()
	streamID := e.StreamID()
	m.pending[streamID] = append(m.pending[streamID], e)
	ready := len(m.pending[streamID]) >= m.cfg.BlockSize
	m.mu.Unlock()

	if !ready {
		return nil, nil, nil
	}
	return m.closeBlock(ctx, streamID)
}

func (m *Manager) closeBlock(ctx context.Context, streamID string) (*Block, []*Block, error) {
	m.mu.Lock()
	msgs := m.pending[streamID][:m.cfg.BlockSize]
	rest := m.pending[streamID][m.cfg.BlockSize:]
	if len(rest) == 0 {
		delete(m.pending, streamID)
	} else {
		m.pending[streamID] = rest
	}
	m.mu.Unlock()

	combined := combineMessages(msgs)
	embeddings, err := m.engine.Embed(ctx, m.cfg.EmbeddingModel, []string{combined})
	if err != nil {
		return nil, nil, err
	}

	block := &Block{
		ID:           "block_" + ulid.Make().String(),
		StreamID:     streamID,
		Messages:     msgs,
		CombinedText: combined,
		Embedding:    embeddings[0],
		CreatedAt:    time.Now(),
	}

	var evicted []*Block
	m.mu.Lock()
	m.blocks = append(m.blocks, block)
	m.byID[block.ID] = block
	if len(m.blocks) > m.cfg.MaxBlocks {
		n := len(m.blocks) - m.cfg.MaxBlocks
		evicted = append(evicted, m.blocks[:n]...)
		m.blocks = m.blocks[n:]
	}
	m.mu.Unlock()
	for _, e := range evicted {
		m.mu.Lock()
		delete(m.byID, e.ID)
		m.mu.Unlock()
		_ = m.store.Delete(ctx, Collection, e.ID)
	}

	if err := m.store.Upsert(ctx, Collection, block.ID, block.Embedding, map[string]any{"stream_id": streamID, "text": block.CombinedText}); err != nil {
		return block, nil, err
	}

	activated, err := m.recallAndActivate(ctx, block)
	if err != nil {
		return block, nil, err
	}
	return block, activated, nil
}

// recallAndActivate queries the vector store for the nearest existing
// blocks to the newly closed block and increments each hit's
// activation count, excluding the new block itself.
func (m *Manager) recallAndActivate(ctx context.Context, newBlock *Block) ([]*Block, error) {
	matches, err := m.store.Query(ctx, Collection, newBlock.Embedding, m.cfg.RecallTopK+1, m.cfg.RecallThreshold)
	if err != nil {
		return nil, err
	}

	var activated []*Block
	count := 0
	for _, match := range matches {
		if match.ID == newBlock.ID {
			continue
		}
		if count >= m.cfg.RecallTopK {
			break
		}
		count++

		m.mu.Lock()
		b, ok := m.byID[match.ID]
		if ok {
			b.ActivationCount++
			crossed := b.ActivationCount == m.cfg.ActivationThreshold
			m.mu.Unlock()
			if crossed {
				activated = append(activated, b)
			}
		} else {
			m.mu.Unlock()
		}
	}
	return activated, nil
}

// RemoveBlock removes a block from the heap and the vector store,
// reporting whether it was present. Promotion does not call it.
func (m *Manager) RemoveBlock(ctx context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return false
	}
	delete(m.byID, id)
	for i, b := range m.blocks {
		if b.ID == id {
			m.blocks = append(m.blocks[:i], m.blocks[i+1:]...)
			break
		}
	}
	_ = m.store.Delete(ctx, Collection, id)
	return true
}

// ActivatedBlocks returns every block whose activation count has
// reached the promotion threshold and is still present in the heap.
func (m *Manager) ActivatedBlocks() []*Block {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Block
	for _, b := range m.blocks {
		if b.ActivationCount >= m.cfg.ActivationThreshold {
			out = append(out, b)
		}
	}
	return out
}

// Stats reports the current heap size and per-stream pending counts.
type Stats struct {
	BlockCount   int
	PendingTotal int
}

// Stats returns a snapshot of the manager's current load.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, p := range m.pending {
		total += len(p)
	}
	return Stats{BlockCount: len(m.blocks), PendingTotal: total}
}

func combineMessages(msgs []envelope.MessageEnvelope) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		sender := m.MessageInfo.User.DisplayName
		if sender == "" {
			sender = m.MessageInfo.User.Name
		}
		if sender == "" {
			sender = m.MessageInfo.User.ID
		}
		lines = append(lines, sender+": "+m.MessageSegment.PlainText())
	}
	return strings.Join(lines, "\n")
}
