// Package claudelog reads chat sessions straight from the CLI tool's own
// JSONL session logs (~/.claude/projects/<dir>/<id>.jsonl). It is read-only.
package claudelog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/clidesk/internal/codeblock"
	"github.com/thebtf/clidesk/pkg/models"
)

// ErrReadOnly is returned by every write operation.
var ErrReadOnly = errors.New("claude log store is read-only")

const (
	logSuffix     = ".jsonl"
	maxLineBytes  = 16 * 1024 * 1024
	maxNameLength = 60
)

// Store lists and loads sessions from a Claude projects directory. The
// project id of a session is the name of the log directory it lives in.
type Store struct {
	root string
}

// New creates a store rooted at root.
func New(root string) *Store {
	return &Store{root: root}
}

// DefaultRoot returns ~/.claude/projects.
func DefaultRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".claude", "projects"), nil
}

// Volatile reports true: the CLI keeps appending to the logs, so sessions
// read from them must not be cached.
func (s *Store) Volatile() bool {
	return true
}

// logLine is one JSONL record. Only the fields needed for a transcript are decoded.
type logLine struct {
	Type      string      `json:"type"`
	UUID      string      `json:"uuid"`
	SessionID string      `json:"sessionId"`
	Timestamp string      `json:"timestamp"`
	Cwd       string      `json:"cwd"`
	Summary   string      `json:"summary"`
	Message   *logMessage `json:"message"`
}

type logMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// text flattens message content, which is either a string or a list of
// typed parts. Non-text parts (tool calls and results) are skipped.
func (m *logMessage) text() string {
	if len(m.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}
	var parts []contentPart
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return ""
	}
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Type == "text" && strings.TrimSpace(p.Text) != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// GetSession loads the session with the given id. Returns nil, nil if no log
// file exists for it.
func (s *Store) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	path, err := s.findLog(id)
	if err != nil || path == "" {
		return nil, err
	}
	return parseLog(ctx, path, true)
}

// ListSessions returns sessions ordered by most recent activity, without
// message bodies.
func (s *Store) ListSessions(ctx context.Context, filter models.SessionFilter) ([]*models.ChatSession, error) {
	dirs, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.ChatSession{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.root, err)
	}

	sessions := []*models.ChatSession{}
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		if filter.ProjectID != "" && dir.Name() != filter.ProjectID {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.root, dir.Name()))
		if err != nil {
			log.Debug().Err(err).Str("dir", dir.Name()).Msg("Skipping unreadable log directory")
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), logSuffix) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			sess, err := parseLog(ctx, filepath.Join(s.root, dir.Name(), f.Name()), false)
			if err != nil {
				log.Debug().Err(err).Str("file", f.Name()).Msg("Skipping unreadable session log")
				continue
			}
			sessions = append(sessions, sess)
		}
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		if !sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(sessions) {
			return []*models.ChatSession{}, nil
		}
		sessions = sessions[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(sessions) {
		sessions = sessions[:filter.Limit]
	}
	return sessions, nil
}

// CreateSession is not supported.
func (s *Store) CreateSession(context.Context, *models.ChatSession) error {
	return ErrReadOnly
}

// UpdateSession is not supported.
func (s *Store) UpdateSession(context.Context, string, models.SessionUpdate) (*models.ChatSession, error) {
	return nil, ErrReadOnly
}

// DeleteSession is not supported.
func (s *Store) DeleteSession(context.Context, string) (bool, error) {
	return false, ErrReadOnly
}

// AddMessage is not supported.
func (s *Store) AddMessage(context.Context, string, *models.ChatMessage) (time.Time, error) {
	return time.Time{}, ErrReadOnly
}

// DeleteMessage is not supported.
func (s *Store) DeleteMessage(context.Context, string, string) (bool, error) {
	return false, ErrReadOnly
}

// DetachProject is a no-op: log sessions never reference a tracked project.
func (s *Store) DetachProject(context.Context, string) (int64, error) {
	return 0, nil
}

// findLog returns the path of <id>.jsonl in any project directory, or "".
func (s *Store) findLog(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", nil
	}
	matches, err := filepath.Glob(filepath.Join(s.root, "*", id+logSuffix))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}
	return matches[0], nil
}

func parseLog(ctx context.Context, path string, withMessages bool) (*models.ChatSession, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	sess := &models.ChatSession{
		ID:        strings.TrimSuffix(filepath.Base(path), logSuffix),
		ProjectID: filepath.Base(filepath.Dir(path)),
		Messages:  []models.ChatMessage{},
		UpdatedAt: info.ModTime().UTC(),
	}

	var (
		summary   string
		firstUser string
		first     time.Time
		last      time.Time
		lineNo    int
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), maxLineBytes)
	for scanner.Scan() {
		lineNo++
		if lineNo%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		var line logLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}

		if line.Type == "summary" && line.Summary != "" {
			summary = line.Summary
			continue
		}
		if (line.Type != "user" && line.Type != "assistant") || line.Message == nil {
			continue
		}
		content := line.Message.text()
		if strings.TrimSpace(content) == "" {
			continue
		}

		ts, _ := time.Parse(time.RFC3339Nano, line.Timestamp)
		ts = ts.UTC()
		if !ts.IsZero() {
			if first.IsZero() {
				first = ts
			}
			last = ts
		}
		if sess.Context.WorkingDirectory == "" && line.Cwd != "" {
			sess.Context.WorkingDirectory = line.Cwd
		}
		if firstUser == "" && line.Type == "user" {
			firstUser = content
		}

		sess.MessageCount++
		if !withMessages {
			continue
		}

		msg := models.ChatMessage{
			ID:        line.UUID,
			Role:      models.MessageRole(line.Type),
			Content:   content,
			Timestamp: ts,
		}
		if msg.ID == "" {
			msg.ID = fmt.Sprintf("%s-%d", sess.ID, lineNo)
		}
		if blocks := codeblock.Extract(content); len(blocks) > 0 {
			msg.Metadata = &models.MessageMetadata{CodeBlocks: blocks}
		}
		sess.Messages = append(sess.Messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	sess.Name = sessionName(summary, firstUser, sess.ID)
	sess.CreatedAt = first
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = sess.UpdatedAt
	}
	if !last.IsZero() {
		sess.UpdatedAt = last
	}
	if !withMessages {
		sess.Messages = nil
	}
	return sess, nil
}

func sessionName(summary, firstUser, id string) string {
	if summary != "" {
		return summary
	}
	name := strings.Join(strings.Fields(firstUser), " ")
	if name == "" {
		return id
	}
	runes := []rune(name)
	if len(runes) <= maxNameLength {
		return name
	}
	return string(runes[:maxNameLength-3]) + "..."
}
