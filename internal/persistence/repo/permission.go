package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/coreagent/platform/internal/persistence/model"
	"github.com/coreagent/platform/internal/platform/logger"
)

// PermissionRepo persists the permission registry and user grants,
// grounded on permission_manager.py's PermissionManager: a revoke
// writes an explicit granted=false row rather than deleting one, and
// an absent row falls back to the node's default_grant.
type PermissionRepo interface {
	RegisterNode(ctx context.Context, tx *gorm.DB, node *model.PermissionNode) error
	GetNode(ctx context.Context, tx *gorm.DB, nodeName string) (*model.PermissionNode, error)
	ListNodes(ctx context.Context, tx *gorm.DB) ([]*model.PermissionNode, error)
	ListNodesByPlugin(ctx context.Context, tx *gorm.DB, plugin string) ([]*model.PermissionNode, error)
	DeletePluginNodes(ctx context.Context, tx *gorm.DB, plugin string) error

	Grant(ctx context.Context, tx *gorm.DB, platform, userID, nodeName string) error
	Revoke(ctx context.Context, tx *gorm.DB, platform, userID, nodeName string) error
	EffectiveGrant(ctx context.Context, tx *gorm.DB, platform, userID, nodeName string) (bool, error)
	ListGrants(ctx context.Context, tx *gorm.DB, platform, userID string) ([]*model.UserPermission, error)
	ListGrantedUsers(ctx context.Context, tx *gorm.DB, nodeName string) ([]*model.UserPermission, error)
}

type permissionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPermissionRepo(db *gorm.DB, baseLog *logger.Logger) PermissionRepo {
	return &permissionRepo{db: db, log: baseLog.With("repo", "PermissionRepo")}
}

func (r *permissionRepo) tx(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *permissionRepo) RegisterNode(ctx context.Context, tx *gorm.DB, node *model.PermissionNode) error {
	return r.tx(tx).WithContext(ctx).
		Clauses(onConflictUpdateAll("node_name")).
		Create(node).Error
}

func (r *permissionRepo) GetNode(ctx context.Context, tx *gorm.DB, nodeName string) (*model.PermissionNode, error) {
	var out model.PermissionNode
	err := r.tx(tx).WithContext(ctx).Where("node_name = ?", nodeName).First(&out).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func (r *permissionRepo) ListNodes(ctx context.Context, tx *gorm.DB) ([]*model.PermissionNode, error) {
	var out []*model.PermissionNode
	err := r.tx(tx).WithContext(ctx).Order("node_name").Find(&out).Error
	return out, err
}

func (r *permissionRepo) ListNodesByPlugin(ctx context.Context, tx *gorm.DB, plugin string) ([]*model.PermissionNode, error) {
	var out []*model.PermissionNode
	err := r.tx(tx).WithContext(ctx).
		Where("plugin = ?", plugin).
		Order("node_name").Find(&out).Error
	return out, err
}

func (r *permissionRepo) DeletePluginNodes(ctx context.Context, tx *gorm.DB, plugin string) error {
	return r.tx(tx).WithContext(ctx).Transaction(func(inner *gorm.DB) error {
		var nodeNames []string
		if err := inner.Model(&model.PermissionNode{}).
			Where("plugin = ?", plugin).Pluck("node_name", &nodeNames).Error; err != nil {
			return err
		}
		if len(nodeNames) == 0 {
			return nil
		}
		if err := inner.Where("node_name IN ?", nodeNames).Delete(&model.UserPermission{}).Error; err != nil {
			return err
		}
		return inner.Where("plugin = ?", plugin).Delete(&model.PermissionNode{}).Error
	})
}

func (r *permissionRepo) Grant(ctx context.Context, tx *gorm.DB, platform, userID, nodeName string) error {
	return r.setGranted(ctx, tx, platform, userID, nodeName, true)
}

func (r *permissionRepo) Revoke(ctx context.Context, tx *gorm.DB, platform, userID, nodeName string) error {
	return r.setGranted(ctx, tx, platform, userID, nodeName, false)
}

func (r *permissionRepo) setGranted(ctx context.Context, tx *gorm.DB, platform, userID, nodeName string, granted bool) error {
	row := &model.UserPermission{
		Platform:  platform,
		UserID:    userID,
		NodeName:  nodeName,
		Granted:   granted,
		GrantedAt: time.Now().UTC(),
	}
	return r.tx(tx).WithContext(ctx).
		Clauses(onConflictUpdateAll("platform", "user_id", "node_name")).
		Create(row).Error
}

// EffectiveGrant resolves whether (platform, userID) holds nodeName:
// an explicit row wins; otherwise the node's default_grant applies; a
// node that was never registered is never granted.
func (r *permissionRepo) EffectiveGrant(ctx context.Context, tx *gorm.DB, platform, userID, nodeName string) (bool, error) {
	var explicit model.UserPermission
	err := r.tx(tx).WithContext(ctx).
		Where("platform = ? AND user_id = ? AND node_name = ?", platform, userID, nodeName).
		First(&explicit).Error
	if err == nil {
		return explicit.Granted, nil
	}
	if err != gorm.ErrRecordNotFound {
		return false, err
	}

	node, err := r.GetNode(ctx, tx, nodeName)
	if err != nil {
		return false, err
	}
	if node == nil {
		return false, nil
	}
	return node.DefaultGrant, nil
}

func (r *permissionRepo) ListGrants(ctx context.Context, tx *gorm.DB, platform, userID string) ([]*model.UserPermission, error) {
	var out []*model.UserPermission
	err := r.tx(tx).WithContext(ctx).
		Where("platform = ? AND user_id = ?", platform, userID).
		Order("node_name").Find(&out).Error
	return out, err
}

// ListGrantedUsers returns every explicit granted=true row for
// nodeName, used to answer "who holds this node" without enumerating
// every user relying on the node's default_grant.
func (r *permissionRepo) ListGrantedUsers(ctx context.Context, tx *gorm.DB, nodeName string) ([]*model.UserPermission, error) {
	var out []*model.UserPermission
	err := r.tx(tx).WithContext(ctx).
		Where("node_name = ? AND granted = ?", nodeName, true).
		Order("platform, user_id").Find(&out).Error
	return out, err
}
