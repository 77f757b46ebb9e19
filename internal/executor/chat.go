package executor

import (
	"context"
	"os"
	"strings"

	"github.com/google/uuid"
)

// DefaultInitPrompt is sent when a chat is started without a prompt.
const DefaultInitPrompt = "Hello"

// DirectoryResolver supplies the working directory of the current project.
type DirectoryResolver interface {
	CurrentDirectory() (string, bool)
}

// Chat wraps the executor with the CLI's one-shot prompt invocation.
type Chat struct {
	exec   *Executor
	binary string
	dirs   DirectoryResolver
}

// NewChat creates a chat relay that runs binary through exec. dirs may be nil.
func NewChat(exec *Executor, binary string, dirs DirectoryResolver) *Chat {
	if binary == "" {
		binary = "claude"
	}
	return &Chat{exec: exec, binary: binary, dirs: dirs}
}

// Binary returns the CLI the relay invokes.
func (c *Chat) Binary() string {
	return c.binary
}

// StartChatRequest starts a new CLI conversation.
type StartChatRequest struct {
	WorkingDirectory string `json:"workingDirectory,omitempty"`
	Prompt           string `json:"prompt,omitempty"`
}

// ChatResult pairs a correlation id with the execution outcome.
type ChatResult struct {
	SessionID string  `json:"sessionId"`
	Result    *Result `json:"result"`
}

// StartChat generates a correlation id and runs the CLI once with the init
// prompt.
func (c *Chat) StartChat(ctx context.Context, req StartChatRequest) *ChatResult {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		prompt = DefaultInitPrompt
	}
	id := uuid.New().String()
	return &ChatResult{
		SessionID: id,
		Result:    c.SendMessage(ctx, id, prompt, req.WorkingDirectory),
	}
}

// SendMessage runs the CLI with message as its prompt. workingDirectory
// overrides the current project's directory when non-empty.
func (c *Chat) SendMessage(ctx context.Context, sessionID, message, workingDirectory string) *Result {
	return c.exec.Execute(ctx, Request{
		Command:          c.binary,
		Args:             []string{"-p", message},
		WorkingDirectory: c.resolveDirectory(workingDirectory),
		SessionID:        sessionID,
	})
}

func (c *Chat) resolveDirectory(override string) string {
	if strings.TrimSpace(override) != "" {
		return override
	}
	if c.dirs != nil {
		if dir, ok := c.dirs.CurrentDirectory(); ok {
			return dir
		}
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
