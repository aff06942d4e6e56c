package model

import (
	"time"

	"gorm.io/datatypes"
)

// MemoryNode mirrors one node of the long-term memory graph
// (internal/memory/longterm.Manager's MemoryNode label in Neo4j) as a
// queryable SQL row. Neo4j remains the traversal store; this table is
// the durable, backup-and-report-friendly copy spec.md §6 names.
type MemoryNode struct {
	ID           string    `gorm:"type:text;primaryKey" json:"id"`
	NodeType     string    `gorm:"type:text;not null;index" json:"node_type"`
	Name         string    `gorm:"type:text;not null" json:"name"`
	Importance   float64   `gorm:"not null;default:0" json:"importance"`
	AccessCount  int       `gorm:"not null;default:0" json:"access_count"`
	LastAccessed time.Time `gorm:"index" json:"last_accessed,omitempty"`
	CreatedAt    time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (MemoryNode) TableName() string { return "memory_nodes" }

// MemoryEdge mirrors one MEMORY_EDGE relationship.
type MemoryEdge struct {
	ID         string    `gorm:"type:text;primaryKey" json:"id"`
	SourceID   string    `gorm:"type:text;not null;index" json:"source_id"`
	TargetID   string    `gorm:"type:text;not null;index" json:"target_id"`
	EdgeType   string    `gorm:"type:text;not null;index" json:"edge_type"`
	Importance float64   `gorm:"not null;default:0" json:"importance"`
	Discovered bool      `gorm:"not null;default:false" json:"discovered"`
	CreatedAt  time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (MemoryEdge) TableName() string { return "memory_edges" }

// LongTermMemory is the scalar bookkeeping row for one consolidated
// memory: spec.md §3's LongTermMemory entity (subject node, memory
// type, member node/edge ids, importance, access count, last-accessed,
// decay factor) kept in SQL alongside the graph structure it indexes.
type LongTermMemory struct {
	ID            string         `gorm:"type:text;primaryKey" json:"id"`
	SubjectNodeID string         `gorm:"type:text;not null;index" json:"subject_node_id"`
	MemoryType    string         `gorm:"type:text;not null;index" json:"memory_type"` // EVENT|FACT|RELATION|OPINION
	MemberNodeIDs datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"member_node_ids"`
	MemberEdgeIDs datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"member_edge_ids"`
	Importance    float64        `gorm:"not null;default:0" json:"importance"`
	AccessCount   int            `gorm:"not null;default:0" json:"access_count"`
	LastAccessed  time.Time      `gorm:"index" json:"last_accessed,omitempty"`
	DecayFactor   float64        `gorm:"not null;default:0.95" json:"decay_factor"`
	CreatedAt     time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (LongTermMemory) TableName() string { return "long_term_memories" }
