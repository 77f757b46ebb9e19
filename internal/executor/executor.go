package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/clidesk/internal/fsutil"
)

// stopReason records why a process was stopped before it exited on its own.
type stopReason int

const (
	reasonNone stopReason = iota
	reasonTimeout
	reasonOutputLimit
	reasonKilled
)

// process is one tracked child.
type process struct {
	id         string
	cmd        *exec.Cmd
	startedAt  time.Time
	mu         sync.Mutex
	started    bool
	exited     bool
	reason     stopReason
	escalation *time.Timer
}

// stop signals the process. The first reason wins. A graceful stop sends
// SIGTERM and escalates to SIGKILL after grace; force sends SIGKILL at once.
func (p *process) stop(reason stopReason, force bool, grace time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exited {
		return false
	}
	if p.reason == reasonNone {
		p.reason = reason
	}
	if !p.started {
		// Start will see the reason and kill immediately.
		return true
	}
	if force {
		killProcess(p.cmd)
		return true
	}
	terminateProcess(p.cmd)
	if p.escalation == nil && grace > 0 {
		p.escalation = time.AfterFunc(grace, func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if !p.exited {
				killProcess(p.cmd)
			}
		})
	}
	return true
}

func (p *process) markStarted() stopReason {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = true
	return p.reason
}

func (p *process) markExited() stopReason {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exited = true
	if p.escalation != nil {
		p.escalation.Stop()
	}
	return p.reason
}

// Executor spawns external commands and tracks one in-flight process per
// correlation id.
type Executor struct {
	cfg     Config
	allowed map[string]struct{}

	mu    sync.Mutex
	procs map[string]*process

	events  *bus
	metrics *metrics
}

// New creates an executor. Zero limits in cfg fall back to DefaultConfig.
func New(cfg Config) *Executor {
	def := DefaultConfig()
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = def.MaxOutputBytes
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = def.KillGrace
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedCommands))
	for _, c := range cfg.AllowedCommands {
		if c = strings.TrimSpace(c); c != "" {
			allowed[c] = struct{}{}
		}
	}

	log.Debug().
		Int("allowedCommands", len(allowed)).
		Dur("timeout", cfg.DefaultTimeout).
		Int64("maxOutputBytes", cfg.MaxOutputBytes).
		Msg("Executor created")

	return &Executor{
		cfg:     cfg,
		allowed: allowed,
		procs:   make(map[string]*process),
		events:  newBus(),
		metrics: newMetrics(),
	}
}

// Subscribe returns a channel of output and exit events for all processes.
// The returned function unsubscribes and closes the channel.
func (e *Executor) Subscribe(buffer int) (<-chan Event, func()) {
	return e.events.subscribe(buffer)
}

// Execute runs req to completion. Failures are reported in the Result, never
// as a Go error. ctx only carries telemetry; a process outlives an abandoned
// caller and is stopped by Kill or its timeout.
func (e *Executor) Execute(ctx context.Context, req Request) *Result {
	start := time.Now()
	res := e.execute(req)
	res.ExecutionTime = time.Since(start).Milliseconds()
	e.metrics.record(ctx, res)

	if req.SessionID != "" && res.Code != CodeSessionBusy {
		e.events.publish(Event{
			SessionID: req.SessionID,
			Type:      EventExit,
			Result:    res,
			Timestamp: time.Now(),
		})
	}
	return res
}

func validate(req Request) *Result {
	switch {
	case strings.TrimSpace(req.Command) == "":
		return failure(CodeInvalidCommand, "Command is required")
	case strings.TrimSpace(req.WorkingDirectory) == "":
		return failure(CodeInvalidWorkingDirectory, "Working directory is required")
	case strings.TrimSpace(req.SessionID) == "":
		return failure(CodeInvalidSessionID, "Session ID is required")
	case req.Timeout != nil && *req.Timeout <= 0:
		return failure(CodeInvalidTimeout, "Timeout must be a positive duration")
	}
	return nil
}

func directoryFailure(dir string, err error) *Result {
	switch {
	case errors.Is(err, fsutil.ErrDirectoryNotFound):
		return failure(CodeDirectoryNotFound, fmt.Sprintf("Working directory does not exist: %s", dir))
	case errors.Is(err, fsutil.ErrNotADirectory):
		return failure(CodeNotADirectory, fmt.Sprintf("Working directory is not a directory: %s", dir))
	default:
		return failure(CodeDirectoryNotReadable, fmt.Sprintf("Working directory is not readable: %v", err))
	}
}

func spawnFailure(binary string, err error) *Result {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return failure(CodeCommandNotFound, fmt.Sprintf("Command not found: %s", binary))
	}
	return failure(CodeSpawnFailed, fmt.Sprintf("Failed to start %s: %v", binary, err))
}

func (e *Executor) execute(req Request) *Result {
	if res := validate(req); res != nil {
		return res
	}

	base, leading := splitCommand(req.Command)
	if base == "" {
		return failure(CodeInvalidCommand, "Command is empty after sanitization")
	}
	if _, ok := e.allowed[base]; !ok {
		log.Warn().Str("command", base).Str("sessionId", req.SessionID).Msg("Rejected command not on allow-list")
		return failure(CodeCommandNotAllowed, fmt.Sprintf("Command not allowed: %s", base))
	}

	dir, err := fsutil.ResolveDirectory(req.WorkingDirectory)
	if err != nil {
		return directoryFailure(dir, err)
	}

	timeout := e.cfg.DefaultTimeout
	if req.Timeout != nil {
		timeout = *req.Timeout
	}

	args := append(leading, sanitizeArgs(req.Args)...)
	cmd := exec.Command(base, args...)
	cmd.Dir = dir
	setupProcessGroup(cmd)

	p := &process{id: req.SessionID, cmd: cmd}
	if !e.register(p) {
		return failure(CodeSessionBusy, fmt.Sprintf("A process is already running for session %s", req.SessionID))
	}
	defer e.unregister(p)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.markExited()
		return spawnFailure(base, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.markExited()
		return spawnFailure(base, err)
	}

	log.Debug().
		Str("sessionId", req.SessionID).
		Str("command", base).
		Int("args", len(args)).
		Str("dir", dir).
		Dur("timeout", timeout).
		Msg("Spawning process")

	if err := cmd.Start(); err != nil {
		p.markExited()
		log.Warn().Err(err).Str("command", base).Msg("Process spawn failed")
		return spawnFailure(base, err)
	}
	p.startedAt = time.Now()
	if pending := p.markStarted(); pending != reasonNone {
		killProcess(cmd)
	}

	var (
		stdoutBuf, stderrBuf bytes.Buffer
		total                atomic.Int64
		wg                   sync.WaitGroup
	)
	wg.Add(2)
	go e.pump(&wg, p, stdout, "stdout", &stdoutBuf, &total)
	go e.pump(&wg, p, stderr, "stderr", &stderrBuf, &total)

	timer := time.AfterFunc(timeout, func() {
		log.Warn().Str("sessionId", p.id).Dur("timeout", timeout).Msg("Process timed out, terminating")
		p.stop(reasonTimeout, false, e.cfg.KillGrace)
	})

	wg.Wait()
	waitErr := cmd.Wait()
	timer.Stop()
	reason := p.markExited()

	res := &Result{Output: stdoutBuf.String()}
	if cmd.ProcessState != nil {
		code := cmd.ProcessState.ExitCode()
		res.ExitCode = &code
	}

	switch reason {
	case reasonOutputLimit:
		res.Code = CodeOutputTooLarge
		res.Error = fmt.Sprintf("Output exceeded maximum size of %d bytes", e.cfg.MaxOutputBytes)
		return res
	case reasonTimeout:
		res.Code = CodeTimeout
		res.Error = fmt.Sprintf("Command timed out after %s", timeout)
		return res
	case reasonKilled:
		res.Code = CodeProcessKilled
		res.Error = "Process was terminated"
		return res
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			res.Code = CodeSpawnFailed
			res.Error = waitErr.Error()
			return res
		}
	}

	if res.ExitCode != nil && *res.ExitCode == 0 {
		res.Success = true
		log.Debug().
			Str("sessionId", p.id).
			Dur("duration", time.Since(p.startedAt)).
			Int("stdoutBytes", stdoutBuf.Len()).
			Msg("Process completed")
		return res
	}

	res.Code = CodeExitNonZero
	res.Error = strings.TrimSpace(stderrBuf.String())
	if res.Error == "" {
		exitCode := -1
		if res.ExitCode != nil {
			exitCode = *res.ExitCode
		}
		res.Error = fmt.Sprintf("Process exited with code %d", exitCode)
	}
	return res
}

// pump copies one output stream into buf, publishing each chunk. Once the
// combined output crosses the limit the process is killed and the rest of
// the stream is drained and discarded.
func (e *Executor) pump(wg *sync.WaitGroup, p *process, r io.Reader, stream string, buf *bytes.Buffer, total *atomic.Int64) {
	defer wg.Done()

	chunk := make([]byte, e.cfg.ChunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			if total.Add(int64(n)) > e.cfg.MaxOutputBytes {
				if p.stop(reasonOutputLimit, true, 0) {
					log.Warn().
						Str("sessionId", p.id).
						Int64("limit", e.cfg.MaxOutputBytes).
						Msg("Process output exceeded limit, killing")
				}
			} else {
				buf.Write(chunk[:n])
				e.events.publish(Event{
					SessionID: p.id,
					Type:      EventOutput,
					Stream:    stream,
					Data:      string(chunk[:n]),
					Timestamp: time.Now(),
				})
			}
		}
		if err != nil {
			return
		}
	}
}

func (e *Executor) register(p *process) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.procs[p.id]; busy {
		return false
	}
	e.procs[p.id] = p
	return true
}

func (e *Executor) unregister(p *process) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.procs[p.id] == p {
		delete(e.procs, p.id)
	}
}

// Kill terminates the process running for sessionID and reports whether one
// was found.
func (e *Executor) Kill(sessionID string) bool {
	e.mu.Lock()
	p, ok := e.procs[sessionID]
	e.mu.Unlock()
	if !ok {
		return false
	}

	log.Info().Str("sessionId", sessionID).Msg("Killing process")
	return p.stop(reasonKilled, false, e.cfg.KillGrace)
}

// ActiveProcesses returns the correlation ids of in-flight processes, sorted.
func (e *Executor) ActiveProcesses() []string {
	e.mu.Lock()
	ids := make([]string, 0, len(e.procs))
	for id := range e.procs {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// Cleanup force-kills every tracked process and returns how many were
// signalled. Used at shutdown.
func (e *Executor) Cleanup() int {
	e.mu.Lock()
	procs := make([]*process, 0, len(e.procs))
	for _, p := range e.procs {
		procs = append(procs, p)
	}
	e.mu.Unlock()

	n := 0
	for _, p := range procs {
		if p.stop(reasonKilled, true, 0) {
			n++
		}
	}
	if n > 0 {
		log.Info().Int("count", n).Msg("Terminated running processes")
	}
	return n
}
