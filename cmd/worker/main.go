// Package main provides the clidesk worker entry point.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/thebtf/clidesk/internal/config"
	"github.com/thebtf/clidesk/internal/db/claudelog"
	gormdb "github.com/thebtf/clidesk/internal/db/gorm"
	"github.com/thebtf/clidesk/internal/executor"
	"github.com/thebtf/clidesk/internal/project"
	"github.com/thebtf/clidesk/internal/watcher"
	"github.com/thebtf/clidesk/internal/worker"
	"github.com/thebtf/clidesk/internal/worker/session"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	port := flag.Int("port", 0, "HTTP port (default: CLIDESK_PORT or 3001)")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directories")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	if *port > 0 {
		cfg.WorkerPort = *port
	}
	if cfg.IsProduction() {
		// Plain JSON lines for log collectors.
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	store, closeStore := openSessionStore(cfg)
	defer closeStore()

	projects, err := project.NewManager(project.Config{
		ProjectsDir: config.ProjectsDir(),
		ConfigPath:  config.ProjectConfigPath(),
		MaxRecent:   cfg.MaxRecentProjects,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize project registry")
	}

	exec := executor.New(executor.Config{
		AllowedCommands: allowList(cfg),
		DefaultTimeout:  time.Duration(cfg.CLITimeoutMs) * time.Millisecond,
		MaxOutputBytes:  cfg.MaxOutputBytes,
	})

	svc := worker.NewService(Version, cfg, worker.Deps{
		Sessions: session.NewManager(store),
		Projects: projects,
		Executor: exec,
		Chat:     executor.NewChat(exec, cfg.ClaudeCodePath, projects),
	})

	stopWatchers := startWatchers()
	defer stopWatchers()

	if err := svc.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start worker")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down worker")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Worker shutdown incomplete")
	}
}

// openSessionStore selects the session backend. Database failures abort
// startup.
func openSessionStore(cfg *config.Config) (session.Store, func()) {
	if cfg.SessionBackend == config.BackendClaudeLogs {
		root, err := claudelog.DefaultRoot()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to locate Claude session logs")
		}
		log.Info().Str("root", root).Msg("Using read-only Claude log session backend")
		return claudelog.New(root), func() {}
	}

	level := logger.Silent
	if !cfg.IsProduction() && zerolog.GlobalLevel() <= zerolog.DebugLevel {
		level = logger.Warn
	}
	db, err := gormdb.NewStore(gormdb.Config{
		Path:        cfg.DBPath,
		DatabaseURL: cfg.DatabaseURL,
		MaxConns:    cfg.MaxConns,
		LogLevel:    level,
	})
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("Failed to open session database")
	}
	log.Info().Bool("postgres", cfg.DatabaseURL != "").Msg("Session database ready")

	return gormdb.NewSessionStore(db), func() {
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close session database")
		}
	}
}

// allowList is the configured commands plus the CLI itself plus the names
// from the optional command policy file.
func allowList(cfg *config.Config) []string {
	allowed := append([]string{}, cfg.AllowedCommands...)
	allowed = append(allowed, cfg.ClaudeCodePath)

	policy, err := executor.LoadPolicy(config.CommandPolicyPath())
	if err != nil {
		log.Warn().Err(err).Str("path", config.CommandPolicyPath()).Msg("Ignoring unreadable command policy")
		return allowed
	}
	return append(allowed, policy.Names()...)
}

// startWatchers exits on settings changes so a supervisor restarts the worker
// with the new values, and recreates the projects directory if it is deleted.
func startWatchers() func() {
	var started []*watcher.Watcher

	settingsPath := config.SettingsPath()
	settingsWatcher, err := watcher.New(settingsPath, watcher.Handlers{
		OnChange: func() {
			log.Warn().Str("path", settingsPath).Msg("Settings changed, exiting for restart")
			time.Sleep(100 * time.Millisecond)
			os.Exit(0)
		},
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create settings watcher")
	} else if err := settingsWatcher.Start(); err == nil {
		started = append(started, settingsWatcher)
	}

	projectsDir := config.ProjectsDir()
	projectsWatcher, err := watcher.New(projectsDir, watcher.Handlers{
		OnDelete: func() {
			log.Warn().Str("path", projectsDir).Msg("Projects directory deleted, recreating")
			if err := config.EnsureDataDir(); err != nil {
				log.Error().Err(err).Msg("Failed to recreate projects directory")
			}
		},
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create projects watcher")
	} else if err := projectsWatcher.Start(); err == nil {
		started = append(started, projectsWatcher)
	}

	return func() {
		for _, w := range started {
			_ = w.Stop()
		}
	}
}
