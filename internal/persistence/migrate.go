package persistence

import (
	"gorm.io/gorm"

	"github.com/coreagent/platform/internal/persistence/model"
)

// AutoMigrateAll creates or updates every SQL table spec.md §6 names,
// matching the teacher's single AutoMigrate call listing every domain
// type (internal/data/db/migrate.go).
func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.PermissionNode{},
		&model.UserPermission{},
		&model.ChatStream{},
		&model.MemoryNode{},
		&model.MemoryEdge{},
		&model.LongTermMemory{},
	)
}
