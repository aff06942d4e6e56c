package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/coreagent/platform/internal/persistence/model"
	"github.com/coreagent/platform/internal/platform/logger"
)

// ChatStreamRepo persists the durable identity and affinity state
// behind envelope.ChatStream. The recent window and context cache stay
// in-memory only; they are not part of this row.
type ChatStreamRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, stream *model.ChatStream) error
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*model.ChatStream, error)
	ListActiveSince(ctx context.Context, tx *gorm.DB, sinceUnixSeconds int64) ([]*model.ChatStream, error)
}

type chatStreamRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatStreamRepo(db *gorm.DB, baseLog *logger.Logger) ChatStreamRepo {
	return &chatStreamRepo{db: db, log: baseLog.With("repo", "ChatStreamRepo")}
}

func (r *chatStreamRepo) tx(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *chatStreamRepo) Upsert(ctx context.Context, tx *gorm.DB, stream *model.ChatStream) error {
	return r.tx(tx).WithContext(ctx).
		Clauses(onConflictUpdateAll("id")).
		Create(stream).Error
}

func (r *chatStreamRepo) GetByID(ctx context.Context, tx *gorm.DB, id string) (*model.ChatStream, error) {
	var out model.ChatStream
	err := r.tx(tx).WithContext(ctx).Where("id = ?", id).First(&out).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func (r *chatStreamRepo) ListActiveSince(ctx context.Context, tx *gorm.DB, sinceUnixSeconds int64) ([]*model.ChatStream, error) {
	var out []*model.ChatStream
	err := r.tx(tx).WithContext(ctx).
		Where("last_active_at >= to_timestamp(?)", sinceUnixSeconds).
		Order("last_active_at DESC").
		Find(&out).Error
	return out, err
}
