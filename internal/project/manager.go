// Package project keeps the registry of tracked working directories: one
// JSON document per project plus a small config document holding the
// current selection and the recently used list.
package project

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/clidesk/internal/fsutil"
	"github.com/thebtf/clidesk/pkg/models"
)

// DefaultMaxRecent bounds the recently used list.
const DefaultMaxRecent = 10

var (
	ErrInvalidName     = errors.New("project name is required")
	ErrInvalidPath     = errors.New("project path is required")
	ErrProjectNotFound = errors.New("project not found")

	// ErrConfigNotSaved and ErrCleanupFailed report partial failures of a
	// delete that did remove the project document.
	ErrConfigNotSaved = errors.New("project config not saved")
	ErrCleanupFailed  = errors.New("project cleanup failed")

	ErrDirectoryNotFound    = fsutil.ErrDirectoryNotFound
	ErrNotADirectory        = fsutil.ErrNotADirectory
	ErrDirectoryNotReadable = fsutil.ErrDirectoryNotReadable
)

// DeleteHook runs after a project document is removed.
type DeleteHook func(ctx context.Context, projectID string) error

// Config locates the project documents.
type Config struct {
	ProjectsDir string
	ConfigPath  string
	MaxRecent   int
}

// Manager is the filesystem-backed project registry. All operations are
// serialized; documents are rewritten atomically.
type Manager struct {
	dir        string
	configPath string
	maxRecent  int

	mu       sync.Mutex
	onDelete DeleteHook
}

// NewManager creates the projects directory if needed.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.ProjectsDir == "" {
		return nil, errors.New("projects directory is required")
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = filepath.Join(filepath.Dir(cfg.ProjectsDir), "project-config.json")
	}
	if cfg.MaxRecent <= 0 {
		cfg.MaxRecent = DefaultMaxRecent
	}
	if err := os.MkdirAll(cfg.ProjectsDir, 0750); err != nil {
		return nil, fmt.Errorf("create projects dir: %w", err)
	}
	return &Manager{
		dir:        cfg.ProjectsDir,
		configPath: cfg.ConfigPath,
		maxRecent:  cfg.MaxRecent,
	}, nil
}

// SetDeleteHook registers fn to run after every project deletion.
func (m *Manager) SetDeleteHook(fn DeleteHook) {
	m.mu.Lock()
	m.onDelete = fn
	m.mu.Unlock()
}

// Dir returns the projects directory.
func (m *Manager) Dir() string {
	return m.dir
}

// CreateProject validates the request, stores a new project and pushes it to
// the recently used list.
func (m *Manager) CreateProject(req models.CreateProjectRequest) (*models.Project, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrInvalidName
	}
	if strings.TrimSpace(req.Path) == "" {
		return nil, ErrInvalidPath
	}
	path, err := fsutil.ResolveDirectory(req.Path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.create(name, path, strings.TrimSpace(req.Description))
}

func (m *Manager) create(name, path, description string) (*models.Project, error) {
	now := time.Now().UTC()
	p := &models.Project{
		ID:          uuid.NewString(),
		Name:        name,
		Path:        path,
		Description: description,
		SessionIDs:  []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.save(p); err != nil {
		return nil, err
	}

	cfg := m.loadConfig()
	cfg.RecentProjects = m.pushRecent(cfg.RecentProjects, p.ID)
	if err := m.saveConfig(cfg); err != nil {
		return nil, err
	}

	log.Info().Str("projectId", p.ID).Str("path", path).Msg("Project created")
	return p, nil
}

// GetProject returns the project with id, or nil, nil if it does not exist.
func (m *Manager) GetProject(id string) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(id)
}

// ListProjects returns every project, most recently updated first.
func (m *Manager) ListProjects() ([]*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list()
}

func (m *Manager) list() ([]*models.Project, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read projects dir: %w", err)
	}

	projects := make([]*models.Project, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		p, err := m.load(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name()).Msg("Skipping unreadable project document")
			continue
		}
		if p != nil {
			projects = append(projects, p)
		}
	}

	sort.SliceStable(projects, func(i, j int) bool {
		if !projects[i].UpdatedAt.Equal(projects[j].UpdatedAt) {
			return projects[i].UpdatedAt.After(projects[j].UpdatedAt)
		}
		return projects[i].ID < projects[j].ID
	})
	return projects, nil
}

// UpdateProject applies a partial update. A changed path is validated again.
func (m *Manager) UpdateProject(id string, update models.ProjectUpdate) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.load(id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProjectNotFound
	}

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, ErrInvalidName
		}
		p.Name = name
	}
	if update.Path != nil {
		if strings.TrimSpace(*update.Path) == "" {
			return nil, ErrInvalidPath
		}
		path, err := fsutil.ResolveDirectory(*update.Path)
		if err != nil {
			return nil, err
		}
		p.Path = path
	}
	if update.Description != nil {
		p.Description = strings.TrimSpace(*update.Description)
	}

	p.UpdatedAt = nextUpdatedAt(p.UpdatedAt)
	if err := m.save(p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeleteProject removes the project document, clears it from the selection
// state and runs the delete hook. The directory itself is never touched.
// Reports whether the project existed.
func (m *Manager) DeleteProject(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	p, err := m.load(id)
	if err != nil || p == nil {
		m.mu.Unlock()
		return false, err
	}

	if err := os.Remove(m.docPath(id)); err != nil && !os.IsNotExist(err) {
		m.mu.Unlock()
		return false, fmt.Errorf("remove project %s: %w", id, err)
	}

	cfg := m.loadConfig()
	if cfg.CurrentProjectID == id {
		cfg.CurrentProjectID = ""
	}
	cfg.RecentProjects = removeID(cfg.RecentProjects, id)
	err = m.saveConfig(cfg)
	hook := m.onDelete
	m.mu.Unlock()

	var errs []error
	if err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrConfigNotSaved, err))
	}

	log.Info().Str("projectId", id).Msg("Project deleted")
	if hook != nil {
		if err := hook(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrCleanupFailed, err))
		}
	}
	return true, errors.Join(errs...)
}

// OpenProjectDirectory selects the project tracking path, creating it when
// no project points there yet. name defaults to the directory's base name.
func (m *Manager) OpenProjectDirectory(path, name string) (*models.Project, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrInvalidPath
	}
	resolved, err := fsutil.ResolveDirectory(path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	projects, err := m.list()
	if err != nil {
		return nil, err
	}

	var p *models.Project
	for _, existing := range projects {
		if filepath.Clean(existing.Path) == resolved {
			p = existing
			break
		}
	}

	if p == nil {
		name = strings.TrimSpace(name)
		if name == "" {
			name = filepath.Base(resolved)
		}
		if p, err = m.create(name, resolved, ""); err != nil {
			return nil, err
		}
	}

	cfg := m.loadConfig()
	cfg.CurrentProjectID = p.ID
	cfg.RecentProjects = m.pushRecent(cfg.RecentProjects, p.ID)
	if err := m.saveConfig(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// SetCurrentProject selects the project with *id, or clears the selection
// when id is nil. Selecting a project whose directory no longer validates
// fails and leaves the previous selection in place.
func (m *Manager) SetCurrentProject(id *string) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := m.loadConfig()
	if id == nil || *id == "" {
		cfg.CurrentProjectID = ""
		return nil, m.saveConfig(cfg)
	}

	p, err := m.load(*id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProjectNotFound
	}
	if _, err := fsutil.ResolveDirectory(p.Path); err != nil {
		return nil, err
	}

	cfg.CurrentProjectID = p.ID
	cfg.RecentProjects = m.pushRecent(cfg.RecentProjects, p.ID)
	if err := m.saveConfig(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// GetCurrentProject returns the selected project, or nil if none is selected.
func (m *Manager) GetCurrentProject() (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := m.loadConfig()
	if cfg.CurrentProjectID == "" {
		return nil, nil
	}
	return m.load(cfg.CurrentProjectID)
}

// CurrentDirectory returns the path of the selected project.
func (m *Manager) CurrentDirectory() (string, bool) {
	p, err := m.GetCurrentProject()
	if err != nil || p == nil {
		return "", false
	}
	return p.Path, true
}

// GetRecentProjects returns the recently used projects, most recent first.
// Ids whose documents are gone are skipped.
func (m *Manager) GetRecentProjects() ([]*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := m.loadConfig()
	projects := make([]*models.Project, 0, len(cfg.RecentProjects))
	for _, id := range cfg.RecentProjects {
		p, err := m.load(id)
		if err != nil {
			log.Warn().Err(err).Str("projectId", id).Msg("Skipping unreadable recent project")
			continue
		}
		if p != nil {
			projects = append(projects, p)
		}
	}
	return projects, nil
}

// AddSession records sessionID on the project.
func (m *Manager) AddSession(projectID, sessionID string) error {
	return m.updateSessions(projectID, func(ids []string) []string {
		for _, id := range ids {
			if id == sessionID {
				return ids
			}
		}
		return append(ids, sessionID)
	})
}

// RemoveSession drops sessionID from the project.
func (m *Manager) RemoveSession(projectID, sessionID string) error {
	return m.updateSessions(projectID, func(ids []string) []string {
		return removeID(ids, sessionID)
	})
}

func (m *Manager) updateSessions(projectID string, fn func([]string) []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.load(projectID)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrProjectNotFound
	}
	before := len(p.SessionIDs)
	p.SessionIDs = fn(p.SessionIDs)
	if len(p.SessionIDs) == before {
		return nil
	}
	p.UpdatedAt = nextUpdatedAt(p.UpdatedAt)
	return m.save(p)
}

func (m *Manager) pushRecent(recent []string, id string) []string {
	out := make([]string, 0, m.maxRecent)
	out = append(out, id)
	for _, r := range recent {
		if r != id && len(out) < m.maxRecent {
			out = append(out, r)
		}
	}
	return out
}

func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func nextUpdatedAt(prev time.Time) time.Time {
	now := time.Now().UTC()
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}

func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..")
}

func (m *Manager) docPath(id string) string {
	return filepath.Join(m.dir, id+".json")
}

// load reads one project document; nil, nil when it does not exist.
func (m *Manager) load(id string) (*models.Project, error) {
	if !validID(id) {
		return nil, nil
	}
	data, err := os.ReadFile(m.docPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read project %s: %w", id, err)
	}
	var p models.Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse project %s: %w", id, err)
	}
	if p.SessionIDs == nil {
		p.SessionIDs = []string{}
	}
	return &p, nil
}

func (m *Manager) save(p *models.Project) error {
	if err := writeJSON(m.docPath(p.ID), p); err != nil {
		return fmt.Errorf("save project %s: %w", p.ID, err)
	}
	return nil
}

// loadConfig never fails: a missing or corrupt document is an empty selection.
func (m *Manager) loadConfig() models.ProjectConfig {
	cfg := models.ProjectConfig{RecentProjects: []string{}}
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return cfg
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Warn().Err(err).Str("path", m.configPath).Msg("Ignoring corrupt project config")
		return models.ProjectConfig{RecentProjects: []string{}}
	}
	if cfg.RecentProjects == nil {
		cfg.RecentProjects = []string{}
	}
	return cfg
}

func (m *Manager) saveConfig(cfg models.ProjectConfig) error {
	if err := writeJSON(m.configPath, cfg); err != nil {
		return fmt.Errorf("save project config: %w", err)
	}
	return nil
}

// writeJSON writes v to path through a temp file and a rename.
func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
