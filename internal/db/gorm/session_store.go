// Package gorm provides GORM-based session persistence for clidesk.
package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/gorm"

	"github.com/thebtf/clidesk/pkg/models"
)

// SessionStore provides chat session operations using GORM.
type SessionStore struct {
	db *gorm.DB
}

// NewSessionStore creates a new session store.
func NewSessionStore(store *Store) *SessionStore {
	return &SessionStore{db: store.DB}
}

// storedMetadata is the part of message metadata kept as JSON on the message
// row. Code blocks live in their own table.
type storedMetadata struct {
	Command    string   `json:"command,omitempty"`
	Files      []string `json:"files,omitempty"`
	TokenCount int      `json:"tokenCount,omitempty"`
}

// CreateSession writes the session and all of its messages in one transaction.
func (s *SessionStore) CreateSession(ctx context.Context, sess *models.ChatSession) error {
	row := &Session{
		ID:        sess.ID,
		Name:      sess.Name,
		ProjectID: sqlNullString(sess.ProjectID),
		Context:   sess.Context,
		CreatedAt: sess.CreatedAt.UTC(),
		UpdatedAt: sess.UpdatedAt.UTC(),
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		for i := range sess.Messages {
			if err := insertMessage(tx, sess.ID, int64(i+1), &sess.Messages[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetSession loads a session with its messages and code blocks.
// Returns nil, nil if the session does not exist.
func (s *SessionStore) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	var row Session
	err := s.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("timestamp ASC, seq ASC")
		}).
		Preload("Messages.CodeBlocks", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("id = ?", id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toModelSession(&row)
}

// ListSessions returns sessions ordered by most recent update, without
// message bodies but with message counts.
func (s *SessionStore) ListSessions(ctx context.Context, filter models.SessionFilter) ([]*models.ChatSession, error) {
	query := s.db.WithContext(ctx).Model(&Session{})
	if filter.ProjectID != "" {
		query = query.Where("project_id = ?", filter.ProjectID)
	}
	query = query.Order("updated_at DESC").Order("id ASC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var rows []Session
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []*models.ChatSession{}, nil
	}

	ids := make([]string, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
	}
	counts, err := s.messageCounts(ctx, ids)
	if err != nil {
		return nil, err
	}

	sessions := make([]*models.ChatSession, len(rows))
	for i := range rows {
		sess := sessionHeader(&rows[i])
		sess.MessageCount = counts[rows[i].ID]
		sessions[i] = sess
	}
	return sessions, nil
}

func (s *SessionStore) messageCounts(ctx context.Context, ids []string) (map[string]int, error) {
	var rows []struct {
		SessionID string
		Count     int
	}
	err := s.db.WithContext(ctx).
		Model(&Message{}).
		Select("session_id, COUNT(*) AS count").
		Where("session_id IN ?", ids).
		Group("session_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.SessionID] = r.Count
	}
	return counts, nil
}

// UpdateSession rewrites the provided fields and moves updated_at forward.
// Returns nil, nil if the session does not exist.
func (s *SessionStore) UpdateSession(ctx context.Context, id string, update models.SessionUpdate) (*models.ChatSession, error) {
	found := true
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Session
		err := tx.Select("id", "updated_at").Where("id = ?", id).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		if update.Empty() {
			return nil
		}

		fields := map[string]interface{}{
			"updated_at": nextUpdatedAt(row.UpdatedAt),
		}
		if update.Name != nil {
			fields["name"] = *update.Name
		}
		if update.ProjectID != nil {
			fields["project_id"] = sqlNullString(*update.ProjectID)
		}
		if update.Context != nil {
			fields["context"] = *update.Context
		}
		return tx.Model(&Session{}).Where("id = ?", id).Updates(fields).Error
	})
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	if !found {
		return nil, nil
	}
	return s.GetSession(ctx, id)
}

// DeleteSession removes a session; messages and code blocks cascade.
// Reports whether a session was deleted.
func (s *SessionStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Session{})
	return result.RowsAffected > 0, result.Error
}

// AddMessage appends msg to a session and moves the session's updated_at
// strictly forward, in one transaction. Returns the new updated_at, or
// models.ErrSessionNotFound.
func (s *SessionStore) AddMessage(ctx context.Context, sessionID string, msg *models.ChatMessage) (time.Time, error) {
	var updatedAt time.Time
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Session
		err := tx.Select("id", "updated_at").Where("id = ?", sessionID).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ErrSessionNotFound
		}
		if err != nil {
			return err
		}

		var maxSeq int64
		err = tx.Model(&Message{}).
			Where("session_id = ?", sessionID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error
		if err != nil {
			return err
		}

		if err := insertMessage(tx, sessionID, maxSeq+1, msg); err != nil {
			return err
		}

		updatedAt = nextUpdatedAt(row.UpdatedAt)
		return tx.Model(&Session{}).Where("id = ?", sessionID).Update("updated_at", updatedAt).Error
	})
	if err != nil {
		return time.Time{}, err
	}
	return updatedAt, nil
}

// DeleteMessage removes one message of a session; its code blocks cascade.
// Reports whether a message was deleted.
func (s *SessionStore) DeleteMessage(ctx context.Context, sessionID, messageID string) (bool, error) {
	deleted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Session
		err := tx.Select("id", "updated_at").Where("id = ?", sessionID).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		result := tx.Where("id = ? AND session_id = ?", messageID, sessionID).Delete(&Message{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		deleted = true
		return tx.Model(&Session{}).Where("id = ?", sessionID).Update("updated_at", nextUpdatedAt(row.UpdatedAt)).Error
	})
	return deleted, err
}

// DetachProject clears the project reference of every session owned by
// projectID and returns how many sessions were changed.
func (s *SessionStore) DetachProject(ctx context.Context, projectID string) (int64, error) {
	if projectID == "" {
		return 0, nil
	}
	result := s.db.WithContext(ctx).
		Model(&Session{}).
		Where("project_id = ?", projectID).
		Update("project_id", nil)
	return result.RowsAffected, result.Error
}

// insertMessage writes one message row and its code blocks.
func insertMessage(tx *gorm.DB, sessionID string, seq int64, msg *models.ChatMessage) error {
	row, err := toMessageRow(sessionID, seq, msg)
	if err != nil {
		return err
	}
	if err := tx.Omit("CodeBlocks").Create(row).Error; err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	if len(row.CodeBlocks) == 0 {
		return nil
	}
	if err := tx.Create(&row.CodeBlocks).Error; err != nil {
		return fmt.Errorf("create code blocks: %w", err)
	}
	return nil
}

func toMessageRow(sessionID string, seq int64, msg *models.ChatMessage) (*Message, error) {
	row := &Message{
		ID:        msg.ID,
		SessionID: sessionID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		Timestamp: msg.Timestamp.UTC(),
		Seq:       seq,
	}
	if msg.Metadata == nil {
		return row, nil
	}

	md := storedMetadata{
		Command:    msg.Metadata.Command,
		Files:      msg.Metadata.Files,
		TokenCount: msg.Metadata.TokenCount,
	}
	if md.Command != "" || len(md.Files) > 0 || md.TokenCount > 0 {
		data, err := json.Marshal(md)
		if err != nil {
			return nil, fmt.Errorf("encode message metadata: %w", err)
		}
		row.Metadata = sqlNullString(string(data))
	}

	now := time.Now().UTC()
	for i, b := range msg.Metadata.CodeBlocks {
		row.CodeBlocks = append(row.CodeBlocks, CodeBlock{
			ID:        b.ID,
			MessageID: msg.ID,
			Position:  i,
			Language:  b.Language,
			Code:      b.Code,
			Filename:  sqlNullString(b.Filename),
			LineStart: sqlNullInt64(b.LineStart),
			LineEnd:   sqlNullInt64(b.LineEnd),
			CreatedAt: now,
		})
	}
	return row, nil
}

func sessionHeader(row *Session) *models.ChatSession {
	return &models.ChatSession{
		ID:        row.ID,
		Name:      row.Name,
		ProjectID: row.ProjectID.String,
		Context:   row.Context,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
}

func toModelSession(row *Session) (*models.ChatSession, error) {
	sess := sessionHeader(row)
	sess.Messages = make([]models.ChatMessage, 0, len(row.Messages))
	for i := range row.Messages {
		msg, err := toModelMessage(&row.Messages[i])
		if err != nil {
			return nil, err
		}
		sess.Messages = append(sess.Messages, msg)
	}
	sess.MessageCount = len(sess.Messages)
	return sess, nil
}

// toModelMessage merges the stored metadata JSON with the code block rows.
func toModelMessage(row *Message) (models.ChatMessage, error) {
	msg := models.ChatMessage{
		ID:        row.ID,
		Role:      models.MessageRole(row.Role),
		Content:   row.Content,
		Timestamp: row.Timestamp.UTC(),
	}
	if !row.Metadata.Valid && len(row.CodeBlocks) == 0 {
		return msg, nil
	}

	md := &models.MessageMetadata{}
	if row.Metadata.Valid && row.Metadata.String != "" {
		var stored storedMetadata
		if err := json.Unmarshal([]byte(row.Metadata.String), &stored); err != nil {
			return msg, fmt.Errorf("decode metadata of message %s: %w", row.ID, err)
		}
		md.Command = stored.Command
		md.Files = stored.Files
		md.TokenCount = stored.TokenCount
	}
	for _, b := range row.CodeBlocks {
		md.CodeBlocks = append(md.CodeBlocks, models.CodeBlock{
			ID:        b.ID,
			Language:  b.Language,
			Code:      b.Code,
			Filename:  b.Filename.String,
			LineStart: int(b.LineStart.Int64),
			LineEnd:   int(b.LineEnd.Int64),
		})
	}
	msg.Metadata = md
	return msg, nil
}
