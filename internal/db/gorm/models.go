// Package gorm provides GORM-based session persistence for clidesk.
package gorm

import (
	"database/sql"
	"time"

	"github.com/thebtf/clidesk/pkg/models"
)

// Session is a chat session row.
type Session struct {
	ID        string                `gorm:"primaryKey;type:varchar(64)"`
	Name      string                `gorm:"type:text;not null"`
	ProjectID sql.NullString        `gorm:"type:varchar(64);index"`
	Context   models.SessionContext `gorm:"type:text"`
	CreatedAt time.Time             `gorm:"not null;autoCreateTime:false"`
	UpdatedAt time.Time             `gorm:"not null;autoUpdateTime:false;index:idx_sessions_updated,sort:desc"`

	Messages []Message `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

func (Session) TableName() string { return "sessions" }

// Message is one chat message row. Seq breaks timestamp ties in append order.
type Message struct {
	ID        string         `gorm:"primaryKey;type:varchar(64)"`
	SessionID string         `gorm:"type:varchar(64);not null;index:idx_messages_session_order,priority:1;uniqueIndex:idx_messages_session_seq,priority:1"`
	Role      string         `gorm:"type:varchar(16);not null;check:role IN ('user', 'assistant', 'system')"`
	Content   string         `gorm:"type:text;not null"`
	Timestamp time.Time      `gorm:"not null;index:idx_messages_session_order,priority:2"`
	Seq       int64          `gorm:"not null;index:idx_messages_session_order,priority:3;uniqueIndex:idx_messages_session_seq,priority:2"`
	Metadata  sql.NullString `gorm:"type:text"` // JSON: command, files, tokenCount

	CodeBlocks []CodeBlock `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
}

func (Message) TableName() string { return "messages" }

// CodeBlock is a fenced code fragment extracted from a message.
type CodeBlock struct {
	ID        string         `gorm:"primaryKey;type:varchar(64)"`
	MessageID string         `gorm:"type:varchar(64);not null;index:idx_code_blocks_message,priority:1"`
	Position  int            `gorm:"not null;index:idx_code_blocks_message,priority:2"`
	Language  string         `gorm:"type:varchar(64);not null;default:'text'"`
	Code      string         `gorm:"type:text;not null"`
	Filename  sql.NullString `gorm:"type:text"`
	LineStart sql.NullInt64
	LineEnd   sql.NullInt64
	CreatedAt time.Time `gorm:"not null"`
}

func (CodeBlock) TableName() string { return "code_blocks" }

// User is reserved for multi-user support. No operation reads or writes it yet.
type User struct {
	ID        string         `gorm:"primaryKey;type:varchar(64)"`
	Username  string         `gorm:"type:varchar(255);uniqueIndex;not null"`
	Email     sql.NullString `gorm:"type:varchar(255);uniqueIndex"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func (User) TableName() string { return "users" }
