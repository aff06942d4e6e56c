// Package retrieval implements the unified query path across all
// three memory tiers: perceptual and short-term hits, a judged
// sufficiency check, graph BFS expansion when insufficient, and a
// weighted score over the combined candidate set.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/coreagent/platform/internal/llm"
	"github.com/coreagent/platform/internal/memory/perceptual"
	"github.com/coreagent/platform/internal/memory/shortterm"
	"github.com/coreagent/platform/internal/memory/vectorstore"
	"github.com/coreagent/platform/internal/platform/neo4jdb"
)

// Weights are the unified scoring formula's coefficients, defaulting
// to spec.md §4.5.4's 0.4/0.2/0.2/0.1/0.1.
type Weights struct {
	Semantic       float64
	Importance     float64
	GraphProximity float64
	TimeDecay      float64
	AccessFreq     float64
}

// DefaultWeights matches spec.md's defaults exactly.
var DefaultWeights = Weights{
	Semantic:       0.4,
	Importance:     0.2,
	GraphProximity: 0.2,
	TimeDecay:      0.1,
	AccessFreq:     0.1,
}

const (
	DefaultPerceptualTopK  = 3
	DefaultShortTermTopK   = 5
	DefaultResultCount     = 10
	DefaultBFSDepth        = 1
	DefaultCausalBFSDepth  = 2
)

var causalKeywords = []string{"because", "so", "why", "cause"}

// Candidate is one scored memory from any tier.
type Candidate struct {
	ID             string
	Source         string // "perceptual", "short_term", or "graph"
	Text           string
	Semantic       float64
	Importance     float64
	GraphDistance  int // 0 if not graph-derived
	LastAccessed   time.Time
	AccessCount    int
	Score          float64
}

// Config overrides the unified retrieval layer's tunables.
type Config struct {
	Weights          Weights
	PerceptualTopK   int
	PerceptualThresh float64
	ShortTermTopK    int
	ResultCount      int
	BFSDepth         int
	CausalBFSDepth   int
	DisableJudge     bool
	JudgeModel       string
	EmbeddingModel   string
}

func (c Config) withDefaults() Config {
	if c.Weights == (Weights{}) {
		c.Weights = DefaultWeights
	}
	if c.PerceptualTopK <= 0 {
		c.PerceptualTopK = DefaultPerceptualTopK
	}
	if c.PerceptualThresh == 0 {
		c.PerceptualThresh = perceptual.DefaultRecallThreshold
	}
	if c.ShortTermTopK <= 0 {
		c.ShortTermTopK = DefaultShortTermTopK
	}
	if c.ResultCount <= 0 {
		c.ResultCount = DefaultResultCount
	}
	if c.BFSDepth <= 0 {
		c.BFSDepth = DefaultBFSDepth
	}
	if c.CausalBFSDepth <= 0 {
		c.CausalBFSDepth = DefaultCausalBFSDepth
	}
	return c
}

var sufficiencyJudgmentSchema = &llm.JSONSchema{Name: "sufficiency_judgment"}

type sufficiencyResponse struct {
	Sufficient bool   `json:"sufficient"`
	Reason     string `json:"reason"`
}

// Engine runs the unified retrieval query path against all three
// memory tiers.
type Engine struct {
	llmEngine llm.Engine
	store     vectorstore.Store
	shortTerm *shortterm.Manager
	graph     *neo4jdb.Client
	cfg       Config
}

// New constructs a retrieval Engine. store is queried directly for the
// perceptual tier's top-k recall; the short-term tier is queried
// through shortTermMgr so its LastAccessed bookkeeping stays correct.
func New(llmEngine llm.Engine, store vectorstore.Store, shortTermMgr *shortterm.Manager, graph *neo4jdb.Client, cfg Config) *Engine {
	return &Engine{
		llmEngine: llmEngine,
		store:     store,
		shortTerm: shortTermMgr,
		graph:     graph,
		cfg:       cfg.withDefaults(),
	}
}

// Query runs the full unified retrieval path for queryText and returns
// the top-scored candidates across all tiers.
func (e *Engine) Query(ctx context.Context, queryText string) ([]Candidate, error) {
	perceptualHits, err := e.queryPerceptual(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("perceptual hit: %w", err)
	}

	shortTermHits, err := e.queryShortTerm(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("short-term hit: %w", err)
	}

	candidates := append(perceptualHits, shortTermHits...)

	sufficient, err := e.judgeSufficiency(ctx, queryText, candidates)
	if err != nil {
		return nil, err
	}

	if !sufficient {
		expanded, err := e.expandGraph(ctx, queryText, shortTermHits)
		if err != nil {
			return nil, fmt.Errorf("graph expansion: %w", err)
		}
		candidates = append(candidates, expanded...)
	}

	score(candidates, e.cfg.Weights)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if len(candidates) > e.cfg.ResultCount {
		candidates = candidates[:e.cfg.ResultCount]
	}
	e.recordGraphAccess(ctx, candidates)
	return candidates, nil
}

// recordGraphAccess bumps last_accessed/access_count on every returned
// candidate that came from the graph tier, feeding the access_frequency
// term back for the next query. Best-effort: a failure here doesn't
// fail the query that's already been answered.
func (e *Engine) recordGraphAccess(ctx context.Context, candidates []Candidate) {
	if e.graph == nil || e.graph.Driver == nil {
		return
	}
	var ids []string
	for _, c := range candidates {
		if c.Source == "graph" {
			ids = append(ids, c.ID)
		}
	}
	if len(ids) == 0 {
		return
	}

	session := e.graph.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: e.graph.Database,
	})
	defer session.Close(ctx)

	_, _ = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
UNWIND $ids AS id
MATCH (n:MemoryNode {id: id})
SET n.last_accessed = $now,
    n.access_count = coalesce(n.access_count, 0) + 1
`, map[string]any{"ids": ids, "now": time.Now().UTC().Format(time.RFC3339Nano)})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
}

func (e *Engine) queryPerceptual(ctx context.Context, queryText string) ([]Candidate, error) {
	if e.store == nil {
		return nil, nil
	}
	embeddings, err := e.llmEngine.Embed(ctx, e.cfg.EmbeddingModel, []string{queryText})
	if err != nil {
		return nil, err
	}
	matches, err := e.store.Query(ctx, perceptual.Collection, embeddings[0], e.cfg.PerceptualTopK, e.cfg.PerceptualThresh)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(matches))
	for _, match := range matches {
		text, _ := match.Metadata["text"].(string)
		out = append(out, Candidate{
			ID:       match.ID,
			Source:   "perceptual",
			Text:     text,
			Semantic: match.Similarity,
		})
	}
	return out, nil
}

func (e *Engine) queryShortTerm(ctx context.Context, queryText string) ([]Candidate, error) {
	if e.shortTerm == nil {
		return nil, nil
	}
	hits, err := e.shortTerm.Search(ctx, queryText, e.cfg.ShortTermTopK)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(hits))
	for _, hit := range hits {
		mem := hit.Memory
		out = append(out, Candidate{
			ID:           mem.ID,
			Source:       "short_term",
			Text:         fmt.Sprintf("%s %s %s", mem.Subject, mem.Topic, mem.Object),
			Semantic:     hit.Similarity,
			Importance:   mem.Importance,
			LastAccessed: mem.LastAccessed,
		})
	}
	return out, nil
}

func (e *Engine) judgeSufficiency(ctx context.Context, queryText string, candidates []Candidate) (bool, error) {
	if e.cfg.DisableJudge {
		return false, nil
	}
	if len(candidates) == 0 {
		return false, nil
	}

	raw, err := e.llmEngine.GenerateText(ctx, e.cfg.JudgeModel, []llm.Message{
		{Role: "user", Content: judgePrompt(queryText, candidates)},
	}, llm.GenerateOptions{JSONSchema: sufficiencyJudgmentSchema})
	if err != nil {
		return false, fmt.Errorf("sufficiency judgment: %w", err)
	}

	var resp sufficiencyResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return false, fmt.Errorf("decode sufficiency judgment: %w", err)
	}
	return resp.Sufficient, nil
}

func judgePrompt(queryText string, candidates []Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "query: %s\nhits:\n", queryText)
	for _, c := range candidates {
		fmt.Fprintf(&b, "- %s\n", c.Text)
	}
	return b.String()
}

// depthForQuery returns the BFS expansion depth for queryText: 2 if it
// contains a causal keyword, otherwise the configured default.
func (e *Engine) depthForQuery(queryText string) int {
	lower := strings.ToLower(queryText)
	for _, kw := range causalKeywords {
		if strings.Contains(lower, kw) {
			return e.cfg.CausalBFSDepth
		}
	}
	return e.cfg.BFSDepth
}

// expandGraph runs a breadth-first expansion from every short-term hit
// that corresponds to a graph node (matched by id), out to the query's
// causal-aware depth.
func (e *Engine) expandGraph(ctx context.Context, queryText string, seeds []Candidate) ([]Candidate, error) {
	if e.graph == nil || e.graph.Driver == nil || len(seeds) == 0 {
		return nil, nil
	}
	depth := e.depthForQuery(queryText)

	seedIDs := make([]string, len(seeds))
	for i, s := range seeds {
		seedIDs[i] = s.ID
	}

	session := e.graph.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: e.graph.Database,
	})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, fmt.Sprintf(`
UNWIND $seeds AS seed
MATCH (s:MemoryNode {id: seed})
MATCH path = (s)-[:MEMORY_EDGE*1..%d]-(n:MemoryNode)
WHERE NOT n.id IN $seeds
RETURN DISTINCT n.id AS id, n.name AS name, n.importance AS importance,
       n.last_accessed AS last_accessed, n.access_count AS access_count,
       length(path) AS distance
`, depth), map[string]any{"seeds": seedIDs})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}

	records, _ := result.([]*neo4j.Record)
	out := make([]Candidate, 0, len(records))
	for _, rec := range records {
		id, _ := rec.Get("id")
		name, _ := rec.Get("name")
		importance, _ := rec.Get("importance")
		accessCount, _ := rec.Get("access_count")
		distance, _ := rec.Get("distance")

		c := Candidate{
			Source: "graph",
		}
		if s, ok := id.(string); ok {
			c.ID = s
		}
		if s, ok := name.(string); ok {
			c.Text = s
		}
		if f, ok := importance.(float64); ok {
			c.Importance = f
		}
		if n, ok := accessCount.(int64); ok {
			c.AccessCount = int(n)
		}
		if n, ok := distance.(int64); ok {
			c.GraphDistance = int(n)
		}
		out = append(out, c)
	}
	return out, nil
}

// score computes the weighted unified retrieval score for every
// candidate, in place.
func score(candidates []Candidate, w Weights) {
	now := time.Now()
	for i := range candidates {
		c := &candidates[i]
		graphProximity := 0.0
		if c.GraphDistance > 0 {
			graphProximity = 1.0 / float64(c.GraphDistance)
		}
		timeDecay := 1.0
		if !c.LastAccessed.IsZero() {
			age := now.Sub(c.LastAccessed).Hours()
			timeDecay = 1.0 / (1.0 + age/24.0)
		}
		accessFrequency := 1.0 - 1.0/(1.0+float64(c.AccessCount))

		c.Score = w.Semantic*c.Semantic +
			w.Importance*c.Importance +
			w.GraphProximity*graphProximity +
			w.TimeDecay*timeDecay +
			w.AccessFreq*accessFrequency
	}
}
