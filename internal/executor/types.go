// Package executor runs the external CLI tool as a child process under
// allow-listing, argument sanitization, output and time limits, and tracks
// in-flight processes by correlation id.
package executor

import (
	"time"
)

// ErrorCode classifies a failed execution.
type ErrorCode string

const (
	CodeInvalidCommand          ErrorCode = "INVALID_COMMAND"
	CodeInvalidArgs             ErrorCode = "INVALID_ARGS"
	CodeInvalidWorkingDirectory ErrorCode = "INVALID_WORKING_DIRECTORY"
	CodeInvalidSessionID        ErrorCode = "INVALID_SESSION_ID"
	CodeInvalidTimeout          ErrorCode = "INVALID_TIMEOUT"
	CodeCommandNotAllowed       ErrorCode = "COMMAND_NOT_ALLOWED"
	CodeDirectoryNotFound       ErrorCode = "DIRECTORY_NOT_FOUND"
	CodeNotADirectory           ErrorCode = "NOT_A_DIRECTORY"
	CodeDirectoryNotReadable    ErrorCode = "DIRECTORY_NOT_READABLE"
	CodeSessionBusy             ErrorCode = "SESSION_BUSY"
	CodeCommandNotFound         ErrorCode = "COMMAND_NOT_FOUND"
	CodeSpawnFailed             ErrorCode = "SPAWN_FAILED"
	CodeOutputTooLarge          ErrorCode = "OUTPUT_TOO_LARGE"
	CodeTimeout                 ErrorCode = "TIMEOUT"
	CodeProcessKilled           ErrorCode = "PROCESS_KILLED"
	CodeExitNonZero             ErrorCode = "EXIT_NONZERO"
)

// IsValidation reports whether the code describes malformed caller input.
func (c ErrorCode) IsValidation() bool {
	switch c {
	case CodeInvalidCommand, CodeInvalidArgs, CodeInvalidWorkingDirectory,
		CodeInvalidSessionID, CodeInvalidTimeout:
		return true
	}
	return false
}

// Request is one process invocation. It is never persisted.
type Request struct {
	// Command is the executable, optionally followed by leading arguments.
	Command string `json:"command"`
	// Args are passed to the process as discrete arguments.
	Args []string `json:"args"`
	// WorkingDirectory must be an existing, readable directory.
	WorkingDirectory string `json:"workingDirectory"`
	// SessionID is the correlation id used for tracking, killing and events.
	SessionID string `json:"sessionId"`
	// Timeout overrides the default wall-clock limit; nil means default.
	Timeout *time.Duration `json:"-"`
}

// Result is the structured outcome of Execute.
type Result struct {
	Success       bool      `json:"success"`
	Output        string    `json:"output"`
	Error         string    `json:"error,omitempty"`
	Code          ErrorCode `json:"code,omitempty"`
	ExecutionTime int64     `json:"executionTime"`
	ExitCode      *int      `json:"exitCode,omitempty"`
}

func failure(code ErrorCode, msg string) *Result {
	return &Result{Success: false, Error: msg, Code: code}
}

// EventType distinguishes streaming events.
type EventType string

const (
	EventOutput EventType = "output"
	EventExit   EventType = "exit"
)

// Event is published for every output chunk and once when a process ends.
type Event struct {
	SessionID string    `json:"sessionId"`
	Type      EventType `json:"type"`
	Stream    string    `json:"stream,omitempty"`
	Data      string    `json:"data,omitempty"`
	Result    *Result   `json:"result,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Config holds executor limits.
type Config struct {
	AllowedCommands []string
	DefaultTimeout  time.Duration
	MaxOutputBytes  int64
	// KillGrace is how long a terminated process may linger before SIGKILL.
	KillGrace time.Duration
	// ChunkSize is the read size for stdout/stderr.
	ChunkSize int
}

// DefaultConfig returns the stock limits: 30s timeout and 10 MiB of output.
func DefaultConfig() Config {
	return Config{
		AllowedCommands: []string{"claude"},
		DefaultTimeout:  30 * time.Second,
		MaxOutputBytes:  10 * 1024 * 1024,
		KillGrace:       2 * time.Second,
		ChunkSize:       32 * 1024,
	}
}
