// Package config provides configuration management for clidesk.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

const (
	// DefaultWorkerPort is the HTTP port the worker listens on.
	DefaultWorkerPort = 3001
	// DefaultCLIPath is the external tool invoked for chat messages.
	DefaultCLIPath = "claude"
	// DefaultCLITimeoutMs is the wall-clock limit for one invocation.
	DefaultCLITimeoutMs = 30000
	// DefaultMaxOutputBytes caps combined stdout+stderr of one invocation.
	DefaultMaxOutputBytes = 10 * 1024 * 1024
	// DefaultMaxRecentProjects bounds the recent-projects list.
	DefaultMaxRecentProjects = 10
	// DefaultCORSOrigin is the UI dev server origin.
	DefaultCORSOrigin = "http://localhost:3000"
	// DefaultEnvironment is the environment mode when none is set.
	DefaultEnvironment = "development"

	// BackendSQLite stores sessions in the relational database.
	BackendSQLite = "sqlite"
	// BackendClaudeLogs reads sessions from the CLI's own JSONL logs.
	BackendClaudeLogs = "claude-logs"

	dataDirName = ".clidesk"
)

// Config holds worker configuration.
type Config struct {
	Environment       string   `json:"CLIDESK_ENV"`
	DBPath            string   `json:"CLIDESK_DB_PATH"`
	DatabaseURL       string   `json:"CLIDESK_DATABASE_URL"`
	SessionBackend    string   `json:"CLIDESK_SESSION_BACKEND"`
	ClaudeCodePath    string   `json:"CLIDESK_CLI_PATH"`
	CORSOrigin        string   `json:"CLIDESK_CORS_ORIGIN"`
	AllowedCommands   []string `json:"-"`
	WorkerPort        int      `json:"CLIDESK_PORT"`
	CLITimeoutMs      int      `json:"CLIDESK_CLI_TIMEOUT"`
	MaxOutputBytes    int64    `json:"CLIDESK_MAX_OUTPUT_SIZE"`
	MaxRecentProjects int      `json:"CLIDESK_MAX_RECENT_PROJECTS"`
	MaxConns          int      `json:"CLIDESK_MAX_CONNS"`
}

// settingsFile mirrors settings.json; list values are comma-separated strings.
type settingsFile struct {
	Config
	AllowedCommands string `json:"CLIDESK_ALLOWED_COMMANDS"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		WorkerPort:        DefaultWorkerPort,
		Environment:       DefaultEnvironment,
		DBPath:            DBPath(),
		SessionBackend:    BackendSQLite,
		ClaudeCodePath:    DefaultCLIPath,
		CLITimeoutMs:      DefaultCLITimeoutMs,
		MaxOutputBytes:    DefaultMaxOutputBytes,
		AllowedCommands:   []string{DefaultCLIPath},
		CORSOrigin:        DefaultCORSOrigin,
		MaxRecentProjects: DefaultMaxRecentProjects,
		MaxConns:          4,
	}
}

// DataDir returns the data directory, honoring CLIDESK_DATA_DIR.
func DataDir() string {
	if dir := os.Getenv("CLIDESK_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, dataDirName)
}

// DBPath returns the default SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "clidesk.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// ProjectsDir returns the directory holding one JSON document per project.
func ProjectsDir() string {
	return filepath.Join(DataDir(), "projects")
}

// ProjectConfigPath returns the recent/current project document path.
func ProjectConfigPath() string {
	return filepath.Join(DataDir(), "project-config.json")
}

// CommandPolicyPath returns the optional YAML command allow-list path.
func CommandPolicyPath() string {
	return filepath.Join(DataDir(), "commands.yaml")
}

// EnsureDataDir creates the data and projects directories.
func EnsureDataDir() error {
	if err := os.MkdirAll(DataDir(), 0750); err != nil {
		return err
	}
	return os.MkdirAll(ProjectsDir(), 0750)
}

// EnsureSettings writes an empty settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte("{}\n"), 0600)
}

// EnsureAll creates the data directory and the settings file.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Load reads settings.json and applies environment overrides on top.
// A missing or malformed settings file yields defaults.
func Load() (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(SettingsPath()); err == nil {
		var sf settingsFile
		sf.Config = *cfg
		if err := json.Unmarshal(data, &sf); err == nil {
			*cfg = sf.Config
			if list := splitTrim(sf.AllowedCommands); len(list) > 0 {
				cfg.AllowedCommands = list
			}
		}
	}

	applyEnv(cfg)
	cfg.normalize()
	return cfg, nil
}

// IsProduction reports whether the worker runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CLIDESK_ENV"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("CLIDESK_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CLIDESK_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("CLIDESK_SESSION_BACKEND"); v != "" {
		cfg.SessionBackend = v
	}
	if v := os.Getenv("CLIDESK_CLI_PATH"); v != "" {
		cfg.ClaudeCodePath = v
	}
	if v := os.Getenv("CLIDESK_CORS_ORIGIN"); v != "" {
		cfg.CORSOrigin = v
	}
	if list := splitTrim(os.Getenv("CLIDESK_ALLOWED_COMMANDS")); len(list) > 0 {
		cfg.AllowedCommands = list
	}
	if v, ok := envInt("CLIDESK_PORT"); ok && v > 0 {
		cfg.WorkerPort = v
	}
	if v, ok := envInt("CLIDESK_CLI_TIMEOUT"); ok && v > 0 {
		cfg.CLITimeoutMs = v
	}
	if v, ok := envInt("CLIDESK_MAX_OUTPUT_SIZE"); ok && v > 0 {
		cfg.MaxOutputBytes = int64(v)
	}
	if v, ok := envInt("CLIDESK_MAX_RECENT_PROJECTS"); ok && v > 0 {
		cfg.MaxRecentProjects = v
	}
	if v, ok := envInt("CLIDESK_MAX_CONNS"); ok && v > 0 {
		cfg.MaxConns = v
	}
}

// normalize fills zero values left by a partial settings file and makes sure
// the configured CLI is always on the allow-list.
func (c *Config) normalize() {
	def := Default()
	if c.WorkerPort <= 0 {
		c.WorkerPort = def.WorkerPort
	}
	if c.Environment == "" {
		c.Environment = def.Environment
	}
	if c.DBPath == "" {
		c.DBPath = def.DBPath
	}
	if c.SessionBackend == "" {
		c.SessionBackend = def.SessionBackend
	}
	if c.ClaudeCodePath == "" {
		c.ClaudeCodePath = def.ClaudeCodePath
	}
	if c.CLITimeoutMs <= 0 {
		c.CLITimeoutMs = def.CLITimeoutMs
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = def.MaxOutputBytes
	}
	if c.MaxRecentProjects <= 0 {
		c.MaxRecentProjects = def.MaxRecentProjects
	}
	if c.MaxConns <= 0 {
		c.MaxConns = def.MaxConns
	}
	if c.CORSOrigin == "" {
		c.CORSOrigin = def.CORSOrigin
	}
	for _, cmd := range c.AllowedCommands {
		if cmd == c.ClaudeCodePath {
			return
		}
	}
	c.AllowedCommands = append(c.AllowedCommands, c.ClaudeCodePath)
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// splitTrim splits a comma-separated list, trimming blanks and dropping empties.
func splitTrim(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
