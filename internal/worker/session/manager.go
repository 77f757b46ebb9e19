// Package session provides chat session management for clidesk: a
// read-through cache in front of a session store, plus message preparation
// (ids, timestamps, code extraction, token counts).
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/clidesk/internal/codeblock"
	"github.com/thebtf/clidesk/internal/tokens"
	"github.com/thebtf/clidesk/pkg/models"
)

// ErrSessionNotFound is returned when an operation requires an existing session.
var ErrSessionNotFound = models.ErrSessionNotFound

// ErrInvalidMessage is returned for messages with an unknown role.
var ErrInvalidMessage = errors.New("invalid message")

// Store is the persistence backend behind the manager. GetSession and
// UpdateSession return nil, nil for unknown ids; AddMessage returns
// ErrSessionNotFound.
type Store interface {
	CreateSession(ctx context.Context, sess *models.ChatSession) error
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)
	ListSessions(ctx context.Context, filter models.SessionFilter) ([]*models.ChatSession, error)
	UpdateSession(ctx context.Context, id string, update models.SessionUpdate) (*models.ChatSession, error)
	DeleteSession(ctx context.Context, id string) (bool, error)
	AddMessage(ctx context.Context, sessionID string, msg *models.ChatMessage) (time.Time, error)
	DeleteMessage(ctx context.Context, sessionID, messageID string) (bool, error)
	DetachProject(ctx context.Context, projectID string) (int64, error)
}

// Volatile is implemented by stores whose sessions change outside the
// manager, such as log files appended to by another process. The manager
// does not cache sessions from a store that reports Volatile() == true.
type Volatile interface {
	Volatile() bool
}

// Manager mediates between callers and the Store. Every write goes to the
// store first and only then to the cache. Callers always receive copies.
type Manager struct {
	store    Store
	uncached bool

	mu    sync.RWMutex
	cache map[string]*models.ChatSession
	// versions is bumped whenever an id's cached state is invalidated, so a
	// load that started earlier does not repopulate the cache with stale data.
	versions map[string]uint64

	loads singleflight.Group
}

// NewManager creates a session manager backed by store.
func NewManager(store Store) *Manager {
	v, ok := store.(Volatile)
	return &Manager{
		store:    store,
		uncached: ok && v.Volatile(),
		cache:    make(map[string]*models.ChatSession),
		versions: make(map[string]uint64),
	}
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// GetSession returns the session with id, loading it from the store on a
// cache miss. Returns nil, nil if it does not exist.
func (m *Manager) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	if m.uncached {
		sess, err := m.store.GetSession(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", id, err)
		}
		return sess, nil
	}

	m.mu.RLock()
	cached, ok := m.cache[id]
	if ok {
		out := cached.Clone()
		m.mu.RUnlock()
		return out, nil
	}
	version := m.versions[id]
	m.mu.RUnlock()

	v, err, _ := m.loads.Do(id, func() (interface{}, error) {
		sess, err := m.store.GetSession(ctx, id)
		if err != nil || sess == nil {
			return nil, err
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if existing, ok := m.cache[id]; ok {
			return existing.Clone(), nil
		}
		if m.versions[id] == version {
			m.cache[id] = sess.Clone()
		}
		return sess, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if v == nil {
		return nil, nil
	}
	// Concurrent callers share v, so each gets its own copy.
	return v.(*models.ChatSession).Clone(), nil
}

// CreateSession persists a new session with its initial messages and caches it.
func (m *Manager) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.ChatSession, error) {
	ts := now()
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}

	sess := &models.ChatSession{
		ID:        id,
		Name:      strings.TrimSpace(req.Name),
		ProjectID: req.ProjectID,
		Context:   req.Context,
		Messages:  make([]models.ChatMessage, 0, len(req.Messages)),
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	for _, nm := range req.Messages {
		msg, err := prepareMessage(nm, ts)
		if err != nil {
			return nil, err
		}
		sess.Messages = append(sess.Messages, msg)
	}
	// Stored order is timestamp then insertion position.
	sort.SliceStable(sess.Messages, func(i, j int) bool {
		return sess.Messages[i].Timestamp.Before(sess.Messages[j].Timestamp)
	})
	sess.MessageCount = len(sess.Messages)

	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	m.cacheSession(id, sess)

	log.Debug().Str("sessionId", id).Int("messages", sess.MessageCount).Msg("Session created")
	return sess, nil
}

// AddMessage appends a message to an existing session and returns it as stored.
func (m *Manager) AddMessage(ctx context.Context, sessionID string, nm models.NewMessage) (*models.ChatMessage, error) {
	msg, err := prepareMessage(nm, now())
	if err != nil {
		return nil, err
	}

	updatedAt, err := m.store.AddMessage(ctx, sessionID, &msg)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			m.invalidate(sessionID)
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("add message: %w", err)
	}

	m.mu.Lock()
	if cached, ok := m.cache[sessionID]; ok {
		cached.Messages = insertOrdered(cached.Messages, msg.Clone())
		cached.MessageCount = len(cached.Messages)
		cached.UpdatedAt = updatedAt
	} else {
		m.versions[sessionID]++
	}
	m.mu.Unlock()

	out := msg.Clone()
	return &out, nil
}

// UpdateSession applies a partial update. Returns ErrSessionNotFound for
// unknown ids.
func (m *Manager) UpdateSession(ctx context.Context, id string, update models.SessionUpdate) (*models.ChatSession, error) {
	if update.Name != nil {
		trimmed := strings.TrimSpace(*update.Name)
		update.Name = &trimmed
	}

	sess, err := m.store.UpdateSession(ctx, id, update)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	if sess == nil {
		m.invalidate(id)
		return nil, ErrSessionNotFound
	}

	m.mu.Lock()
	m.versions[id]++
	if !m.uncached {
		m.cache[id] = sess.Clone()
	}
	m.mu.Unlock()
	return sess, nil
}

// RemoveSession deletes a session and reports whether it existed.
func (m *Manager) RemoveSession(ctx context.Context, id string) (bool, error) {
	deleted, err := m.store.DeleteSession(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	m.invalidate(id)
	return deleted, nil
}

// DeleteMessage removes one message and reports whether it existed.
func (m *Manager) DeleteMessage(ctx context.Context, sessionID, messageID string) (bool, error) {
	deleted, err := m.store.DeleteMessage(ctx, sessionID, messageID)
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	if deleted {
		m.invalidate(sessionID)
	}
	return deleted, nil
}

// ListSessions lists sessions from the store without touching the cache.
func (m *Manager) ListSessions(ctx context.Context, filter models.SessionFilter) ([]*models.ChatSession, error) {
	sessions, err := m.store.ListSessions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// DetachProject clears projectID from every session that references it.
func (m *Manager) DetachProject(ctx context.Context, projectID string) (int64, error) {
	n, err := m.store.DetachProject(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("detach project %s: %w", projectID, err)
	}

	m.mu.Lock()
	for _, sess := range m.cache {
		if sess.ProjectID == projectID {
			sess.ProjectID = ""
		}
	}
	m.mu.Unlock()

	if n > 0 {
		log.Info().Str("projectId", projectID).Int64("sessions", n).Msg("Detached sessions from deleted project")
	}
	return n, nil
}

// CacheSize returns the number of cached sessions.
func (m *Manager) CacheSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}

func (m *Manager) cacheSession(id string, sess *models.ChatSession) {
	if m.uncached {
		return
	}
	m.mu.Lock()
	m.cache[id] = sess.Clone()
	m.mu.Unlock()
}

// insertOrdered places msg after every message with a timestamp at or before
// its own. A new message carries the highest sequence number, so this is
// where the store's timestamp-then-sequence ordering puts it.
func insertOrdered(msgs []models.ChatMessage, msg models.ChatMessage) []models.ChatMessage {
	i := sort.Search(len(msgs), func(i int) bool {
		return msgs[i].Timestamp.After(msg.Timestamp)
	})
	msgs = append(msgs, models.ChatMessage{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = msg
	return msgs
}

func (m *Manager) invalidate(id string) {
	m.mu.Lock()
	delete(m.cache, id)
	m.versions[id]++
	m.mu.Unlock()
}

// prepareMessage assigns id and timestamp, derives code blocks from the
// content and records the token count. Caller-supplied code blocks are
// discarded: blocks only ever come from extraction.
func prepareMessage(nm models.NewMessage, ts time.Time) (models.ChatMessage, error) {
	if !nm.Role.Valid() {
		return models.ChatMessage{}, fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, nm.Role)
	}

	msg := models.ChatMessage{
		ID:        strings.TrimSpace(nm.ID),
		Role:      nm.Role,
		Content:   nm.Content,
		Timestamp: ts,
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if nm.Timestamp != nil && !nm.Timestamp.IsZero() {
		msg.Timestamp = nm.Timestamp.UTC().Truncate(time.Microsecond)
	}

	var blocks []models.CodeBlock
	if nm.Role == models.RoleAssistant {
		msg.Content, blocks = codeblock.Split(nm.Content)
	} else {
		blocks = codeblock.Extract(nm.Content)
	}

	md := &models.MessageMetadata{}
	if nm.Metadata != nil {
		md.Command = nm.Metadata.Command
		md.Files = append(models.JSONStringArray(nil), nm.Metadata.Files...)
		if len(md.Files) == 0 {
			md.Files = nil
		}
	}
	md.CodeBlocks = blocks
	md.TokenCount = tokens.Count(nm.Content)

	if md.Command != "" || len(md.Files) > 0 || len(md.CodeBlocks) > 0 || md.TokenCount > 0 {
		msg.Metadata = md
	}
	return msg, nil
}
