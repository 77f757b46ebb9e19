// Package gorm provides GORM-based session persistence for clidesk.
package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: sessions, messages and code blocks with cascading keys
		{
			ID: "001_core_tables",
			Migrate: func(tx *gorm.DB) error {
				// Parents first so the child tables can reference them.
				return tx.AutoMigrate(&Session{}, &Message{}, &CodeBlock{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("code_blocks", "messages", "sessions")
			},
		},

		// Migration 002: users table
		{
			ID: "002_users",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&User{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("users")
			},
		},

		// Migration 003: listing by project is always ordered by recency
		{
			ID: "003_sessions_project_updated_index",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_project_updated
					ON sessions(project_id, updated_at DESC)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("DROP INDEX IF EXISTS idx_sessions_project_updated").Error
			},
		},
	})

	return m.Migrate()
}
