package gorm

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/clidesk/pkg/models"
)

type SessionStoreSuite struct {
	suite.Suite
	store    *Store
	sessions *SessionStore
	ctx      context.Context
}

func TestSessionStoreSuite(t *testing.T) {
	suite.Run(t, new(SessionStoreSuite))
}

func (s *SessionStoreSuite) SetupTest() {
	s.store = testStore(s.T())
	s.sessions = NewSessionStore(s.store)
	s.ctx = context.Background()
}

func newSession(id, projectID string, at time.Time, messages ...models.ChatMessage) *models.ChatSession {
	return &models.ChatSession{
		ID:        id,
		Name:      "Session " + id,
		ProjectID: projectID,
		Context:   models.SessionContext{WorkingDirectory: "/tmp/demo", Files: models.JSONStringArray{"main.go"}},
		Messages:  messages,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func newMessage(role models.MessageRole, content string, at time.Time, blocks ...models.CodeBlock) models.ChatMessage {
	msg := models.ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: at.UTC().Truncate(time.Microsecond),
	}
	if len(blocks) > 0 {
		msg.Metadata = &models.MessageMetadata{CodeBlocks: blocks}
	}
	return msg
}

func block(lang, code string) models.CodeBlock {
	return models.CodeBlock{ID: uuid.NewString(), Language: lang, Code: code}
}

func (s *SessionStoreSuite) count(model interface{}) int64 {
	var n int64
	s.Require().NoError(s.store.DB.Model(model).Count(&n).Error)
	return n
}

func (s *SessionStoreSuite) TestCreateAndGetPreservesOrder() {
	now := time.Now().UTC().Truncate(time.Microsecond)
	msgs := []models.ChatMessage{
		newMessage(models.RoleUser, "first", now),
		newMessage(models.RoleAssistant, "second", now, block("go", "fmt.Println()"), block("sh", "ls")),
		newMessage(models.RoleUser, "third", now),
	}
	msgs[0].Metadata = &models.MessageMetadata{Command: "claude", Files: models.JSONStringArray{"a.go"}, TokenCount: 1}

	s.Require().NoError(s.sessions.CreateSession(s.ctx, newSession("s1", "p1", now, msgs...)))

	got, err := s.sessions.GetSession(s.ctx, "s1")
	s.Require().NoError(err)
	s.Require().NotNil(got)

	s.Equal("Session s1", got.Name)
	s.Equal("p1", got.ProjectID)
	s.Equal("/tmp/demo", got.Context.WorkingDirectory)
	s.Equal(models.JSONStringArray{"main.go"}, got.Context.Files)
	s.True(got.CreatedAt.Equal(now))
	s.Equal(3, got.MessageCount)

	s.Require().Len(got.Messages, 3)
	for i, want := range msgs {
		s.Equal(want.ID, got.Messages[i].ID)
		s.Equal(want.Content, got.Messages[i].Content)
		s.Equal(want.Role, got.Messages[i].Role)
	}

	s.Require().NotNil(got.Messages[0].Metadata)
	s.Equal("claude", got.Messages[0].Metadata.Command)
	s.Equal(models.JSONStringArray{"a.go"}, got.Messages[0].Metadata.Files)
	s.Equal(1, got.Messages[0].Metadata.TokenCount)

	blocks := got.Messages[1].Metadata.CodeBlocks
	s.Require().Len(blocks, 2)
	s.Equal("go", blocks[0].Language)
	s.Equal("fmt.Println()", blocks[0].Code)
	s.Equal("sh", blocks[1].Language)

	s.Nil(got.Messages[2].Metadata)
}

func (s *SessionStoreSuite) TestGetSessionNotFound() {
	got, err := s.sessions.GetSession(s.ctx, "missing")
	s.NoError(err)
	s.Nil(got)
}

func (s *SessionStoreSuite) TestCreateSessionRollsBackOnFailure() {
	now := time.Now().UTC()
	dup := newMessage(models.RoleUser, "a", now)
	sess := newSession("s1", "", now, dup, dup)

	s.Error(s.sessions.CreateSession(s.ctx, sess))

	got, err := s.sessions.GetSession(s.ctx, "s1")
	s.NoError(err)
	s.Nil(got, "partial session must not be visible")
	s.Zero(s.count(&Message{}))
}

func (s *SessionStoreSuite) TestCreateDuplicateIDFails() {
	now := time.Now().UTC()
	s.Require().NoError(s.sessions.CreateSession(s.ctx, newSession("s1", "", now)))
	s.Error(s.sessions.CreateSession(s.ctx, newSession("s1", "", now)))
}

func (s *SessionStoreSuite) TestAddMessageAppendsAndBumpsUpdatedAt() {
	now := time.Now().UTC().Truncate(time.Microsecond)
	s.Require().NoError(s.sessions.CreateSession(s.ctx, newSession("s1", "", now, newMessage(models.RoleUser, "hi", now))))

	prev := now
	for i := 0; i < 5; i++ {
		msg := newMessage(models.RoleAssistant, fmt.Sprintf("reply %d", i), now, block("text", "x"))
		updatedAt, err := s.sessions.AddMessage(s.ctx, "s1", &msg)
		s.Require().NoError(err)
		s.True(updatedAt.After(prev), "updatedAt must strictly increase")
		prev = updatedAt
	}

	got, err := s.sessions.GetSession(s.ctx, "s1")
	s.Require().NoError(err)
	s.Require().Len(got.Messages, 6)
	s.Equal("hi", got.Messages[0].Content)
	for i := 0; i < 5; i++ {
		s.Equal(fmt.Sprintf("reply %d", i), got.Messages[i+1].Content, "same-timestamp messages keep append order")
	}
	s.True(got.UpdatedAt.Equal(prev))
}

func (s *SessionStoreSuite) TestAddMessageUnknownSession() {
	msg := newMessage(models.RoleUser, "hi", time.Now())
	_, err := s.sessions.AddMessage(s.ctx, "missing", &msg)
	s.ErrorIs(err, models.ErrSessionNotFound)
	s.Zero(s.count(&Message{}))
}

func (s *SessionStoreSuite) TestMessagesOrderedByTimestamp() {
	now := time.Now().UTC().Truncate(time.Microsecond)
	s.Require().NoError(s.sessions.CreateSession(s.ctx, newSession("s1", "", now)))

	late := newMessage(models.RoleUser, "late", now.Add(time.Minute))
	early := newMessage(models.RoleUser, "early", now.Add(-time.Minute))
	_, err := s.sessions.AddMessage(s.ctx, "s1", &late)
	s.Require().NoError(err)
	_, err = s.sessions.AddMessage(s.ctx, "s1", &early)
	s.Require().NoError(err)

	got, err := s.sessions.GetSession(s.ctx, "s1")
	s.Require().NoError(err)
	s.Require().Len(got.Messages, 2)
	s.Equal("early", got.Messages[0].Content)
	s.Equal("late", got.Messages[1].Content)
}

func (s *SessionStoreSuite) TestUpdateSessionPartial() {
	now := time.Now().UTC().Truncate(time.Microsecond)
	s.Require().NoError(s.sessions.CreateSession(s.ctx, newSession("s1", "p1", now)))

	name := "Renamed"
	got, err := s.sessions.UpdateSession(s.ctx, "s1", models.SessionUpdate{Name: &name})
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal("Renamed", got.Name)
	s.Equal("p1", got.ProjectID, "fields not provided are untouched")
	s.Equal("/tmp/demo", got.Context.WorkingDirectory)
	s.True(got.UpdatedAt.After(now))

	empty := ""
	ctx := models.SessionContext{WorkingDirectory: "/srv"}
	got, err = s.sessions.UpdateSession(s.ctx, "s1", models.SessionUpdate{ProjectID: &empty, Context: &ctx})
	s.Require().NoError(err)
	s.Empty(got.ProjectID)
	s.Equal("/srv", got.Context.WorkingDirectory)
	s.Equal("Renamed", got.Name)
}

func (s *SessionStoreSuite) TestUpdateSessionNotFound() {
	name := "x"
	got, err := s.sessions.UpdateSession(s.ctx, "missing", models.SessionUpdate{Name: &name})
	s.NoError(err)
	s.Nil(got)
}

func (s *SessionStoreSuite) TestDeleteSessionCascades() {
	now := time.Now().UTC()
	s.Require().NoError(s.sessions.CreateSession(s.ctx, newSession("s1", "", now,
		newMessage(models.RoleAssistant, "a", now, block("go", "x"), block("go", "y")),
		newMessage(models.RoleAssistant, "b", now, block("py", "z")),
	)))
	s.Require().NoError(s.sessions.CreateSession(s.ctx, newSession("s2", "", now,
		newMessage(models.RoleAssistant, "c", now, block("go", "keep")),
	)))
	s.Equal(int64(4), s.count(&CodeBlock{}))

	deleted, err := s.sessions.DeleteSession(s.ctx, "s1")
	s.Require().NoError(err)
	s.True(deleted)

	var orphans int64
	s.Require().NoError(s.store.DB.Model(&Message{}).Where("session_id = ?", "s1").Count(&orphans).Error)
	s.Zero(orphans)
	s.Equal(int64(1), s.count(&Message{}))
	s.Equal(int64(1), s.count(&CodeBlock{}))

	deleted, err = s.sessions.DeleteSession(s.ctx, "s1")
	s.NoError(err)
	s.False(deleted)
}

func (s *SessionStoreSuite) TestDeleteMessageCascades() {
	now := time.Now().UTC().Truncate(time.Microsecond)
	keep := newMessage(models.RoleUser, "keep", now)
	drop := newMessage(models.RoleAssistant, "drop", now, block("go", "x"))
	s.Require().NoError(s.sessions.CreateSession(s.ctx, newSession("s1", "", now, keep, drop)))

	deleted, err := s.sessions.DeleteMessage(s.ctx, "s1", drop.ID)
	s.Require().NoError(err)
	s.True(deleted)
	s.Zero(s.count(&CodeBlock{}))

	got, err := s.sessions.GetSession(s.ctx, "s1")
	s.Require().NoError(err)
	s.Require().Len(got.Messages, 1)
	s.Equal(keep.ID, got.Messages[0].ID)
	s.True(got.UpdatedAt.After(now))

	deleted, err = s.sessions.DeleteMessage(s.ctx, "other", keep.ID)
	s.NoError(err)
	s.False(deleted, "message ids are scoped to their session")
}

func (s *SessionStoreSuite) TestListSessions() {
	base := time.Now().UTC().Add(-time.Hour)
	s.Require().NoError(s.sessions.CreateSession(s.ctx, newSession("old", "p1", base, newMessage(models.RoleUser, "a", base))))
	s.Require().NoError(s.sessions.CreateSession(s.ctx, newSession("mid", "p2", base.Add(time.Minute))))
	s.Require().NoError(s.sessions.CreateSession(s.ctx, newSession("new", "p1", base.Add(2*time.Minute),
		newMessage(models.RoleUser, "a", base), newMessage(models.RoleAssistant, "b", base))))

	all, err := s.sessions.ListSessions(s.ctx, models.SessionFilter{})
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	s.Equal([]string{"new", "mid", "old"}, ids(all))
	s.Equal(2, all[0].MessageCount)
	s.Equal(0, all[1].MessageCount)
	s.Equal(1, all[2].MessageCount)
	s.Nil(all[0].Messages)

	byProject, err := s.sessions.ListSessions(s.ctx, models.SessionFilter{ProjectID: "p1"})
	s.Require().NoError(err)
	s.Equal([]string{"new", "old"}, ids(byProject))

	page, err := s.sessions.ListSessions(s.ctx, models.SessionFilter{Limit: 1, Offset: 1})
	s.Require().NoError(err)
	s.Equal([]string{"mid"}, ids(page))

	tail, err := s.sessions.ListSessions(s.ctx, models.SessionFilter{Offset: 2})
	s.Require().NoError(err)
	s.Equal([]string{"old"}, ids(tail))

	// Appending moves a session to the front.
	msg := newMessage(models.RoleUser, "bump", time.Now())
	_, err = s.sessions.AddMessage(s.ctx, "old", &msg)
	s.Require().NoError(err)
	all, err = s.sessions.ListSessions(s.ctx, models.SessionFilter{})
	s.Require().NoError(err)
	s.Equal("old", all[0].ID)

	none, err := s.sessions.ListSessions(s.ctx, models.SessionFilter{ProjectID: "nobody"})
	s.Require().NoError(err)
	s.NotNil(none)
	s.Empty(none)
}

func (s *SessionStoreSuite) TestDetachProject() {
	now := time.Now().UTC()
	s.Require().NoError(s.sessions.CreateSession(s.ctx, newSession("a", "p1", now)))
	s.Require().NoError(s.sessions.CreateSession(s.ctx, newSession("b", "p1", now)))
	s.Require().NoError(s.sessions.CreateSession(s.ctx, newSession("c", "p2", now)))

	n, err := s.sessions.DetachProject(s.ctx, "p1")
	s.Require().NoError(err)
	s.Equal(int64(2), n)

	a, err := s.sessions.GetSession(s.ctx, "a")
	s.Require().NoError(err)
	s.Require().NotNil(a, "sessions survive project deletion")
	s.Empty(a.ProjectID)

	c, err := s.sessions.GetSession(s.ctx, "c")
	s.Require().NoError(err)
	s.Equal("p2", c.ProjectID)

	n, err = s.sessions.DetachProject(s.ctx, "")
	s.NoError(err)
	s.Zero(n)
}

func ids(sessions []*models.ChatSession) []string {
	out := make([]string, len(sessions))
	for i, sess := range sessions {
		out[i] = sess.ID
	}
	return out
}
