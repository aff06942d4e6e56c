package model

import "time"

// PermissionNode is a registrable capability a plugin component can
// require before it runs. node_name is the natural key components and
// the permission CLI address it by.
type PermissionNode struct {
	NodeName     string `gorm:"type:text;primaryKey" json:"node_name"`
	Plugin       string `gorm:"type:text;not null;index" json:"plugin"`
	Description  string `gorm:"type:text;not null;default:''" json:"description"`
	DefaultGrant bool   `gorm:"not null;default:false" json:"default_grant"`
}

func (PermissionNode) TableName() string { return "permission_nodes" }

// UserPermission is one (platform, user, node) decision row. Granted
// distinguishes an explicit grant from an explicit revoke; both write
// a row here rather than the revoke deleting one, matching
// permission_manager.py's grant_permission/revoke_permission (a
// revoke sets granted=false, it does not remove the record). Absence
// of a row means the node's PermissionNode.DefaultGrant applies.
// master_users overrides (config [permission]) never create a row
// here; they are checked ahead of this table entirely.
type UserPermission struct {
	Platform  string    `gorm:"type:text;primaryKey" json:"platform"`
	UserID    string    `gorm:"type:text;primaryKey" json:"user_id"`
	NodeName  string    `gorm:"type:text;primaryKey" json:"node_name"`
	Granted   bool      `gorm:"not null;default:false" json:"granted"`
	GrantedAt time.Time `gorm:"not null;default:now()" json:"granted_at"`
}

func (UserPermission) TableName() string { return "user_permissions" }
