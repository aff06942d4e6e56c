package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/coreagent/platform/internal/persistence/model"
	"github.com/coreagent/platform/internal/platform/logger"
)

// MemoryRepo persists the SQL-side mirror of the long-term memory
// graph: node/edge rows alongside the scalar LongTermMemory bookkeeping
// row spec.md §3 names. Neo4j (internal/memory/longterm) remains the
// traversal store; these rows back it for reporting and for rebuilding
// the graph if it is ever lost.
type MemoryRepo interface {
	UpsertNode(ctx context.Context, tx *gorm.DB, node *model.MemoryNode) error
	DeleteNode(ctx context.Context, tx *gorm.DB, id string) error
	UpsertEdge(ctx context.Context, tx *gorm.DB, edge *model.MemoryEdge) error
	DeleteEdge(ctx context.Context, tx *gorm.DB, id string) error
	UpsertLongTermMemory(ctx context.Context, tx *gorm.DB, ltm *model.LongTermMemory) error
	GetLongTermMemory(ctx context.Context, tx *gorm.DB, id string) (*model.LongTermMemory, error)
	ListLongTermMemoriesBySubject(ctx context.Context, tx *gorm.DB, subjectNodeID string) ([]*model.LongTermMemory, error)
}

type memoryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMemoryRepo(db *gorm.DB, baseLog *logger.Logger) MemoryRepo {
	return &memoryRepo{db: db, log: baseLog.With("repo", "MemoryRepo")}
}

func (r *memoryRepo) tx(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *memoryRepo) UpsertNode(ctx context.Context, tx *gorm.DB, node *model.MemoryNode) error {
	return r.tx(tx).WithContext(ctx).
		Clauses(onConflictUpdateAll("id")).
		Create(node).Error
}

func (r *memoryRepo) DeleteNode(ctx context.Context, tx *gorm.DB, id string) error {
	return r.tx(tx).WithContext(ctx).Where("id = ?", id).Delete(&model.MemoryNode{}).Error
}

func (r *memoryRepo) UpsertEdge(ctx context.Context, tx *gorm.DB, edge *model.MemoryEdge) error {
	return r.tx(tx).WithContext(ctx).
		Clauses(onConflictUpdateAll("id")).
		Create(edge).Error
}

func (r *memoryRepo) DeleteEdge(ctx context.Context, tx *gorm.DB, id string) error {
	return r.tx(tx).WithContext(ctx).Where("id = ?", id).Delete(&model.MemoryEdge{}).Error
}

func (r *memoryRepo) UpsertLongTermMemory(ctx context.Context, tx *gorm.DB, ltm *model.LongTermMemory) error {
	return r.tx(tx).WithContext(ctx).
		Clauses(onConflictUpdateAll("id")).
		Create(ltm).Error
}

func (r *memoryRepo) GetLongTermMemory(ctx context.Context, tx *gorm.DB, id string) (*model.LongTermMemory, error) {
	var out model.LongTermMemory
	err := r.tx(tx).WithContext(ctx).Where("id = ?", id).First(&out).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func (r *memoryRepo) ListLongTermMemoriesBySubject(ctx context.Context, tx *gorm.DB, subjectNodeID string) ([]*model.LongTermMemory, error) {
	var out []*model.LongTermMemory
	err := r.tx(tx).WithContext(ctx).
		Where("subject_node_id = ?", subjectNodeID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}
