package executor

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process tests rely on POSIX utilities")
	}
}

func newTestExecutor(t *testing.T, mutate func(*Config)) *Executor {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AllowedCommands = []string{"echo", "sh", "sleep", "head", "ls", "false", "clidesk-no-such-binary"}
	cfg.KillGrace = 200 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg)
}

func durationPtr(d time.Duration) *time.Duration { return &d }

func waitForActive(t *testing.T, e *Executor, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, a := range e.ActiveProcesses() {
			if a == id {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExecute_Validation(t *testing.T) {
	e := newTestExecutor(t, nil)
	dir := t.TempDir()

	tests := []struct {
		name string
		req  Request
		code ErrorCode
	}{
		{"missing command", Request{WorkingDirectory: dir, SessionID: "s"}, CodeInvalidCommand},
		{"missing directory", Request{Command: "echo", SessionID: "s"}, CodeInvalidWorkingDirectory},
		{"missing session", Request{Command: "echo", WorkingDirectory: dir}, CodeInvalidSessionID},
		{"zero timeout", Request{Command: "echo", WorkingDirectory: dir, SessionID: "s", Timeout: durationPtr(0)}, CodeInvalidTimeout},
		{"negative timeout", Request{Command: "echo", WorkingDirectory: dir, SessionID: "s", Timeout: durationPtr(-time.Second)}, CodeInvalidTimeout},
		{"only metacharacters", Request{Command: ";|&", WorkingDirectory: dir, SessionID: "s"}, CodeInvalidCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Execute(context.Background(), tt.req)
			assert.False(t, res.Success)
			assert.Equal(t, tt.code, res.Code)
			assert.True(t, res.Code.IsValidation())
			assert.NotEmpty(t, res.Error)
		})
	}
}

func TestExecute_NotAllowed(t *testing.T) {
	e := newTestExecutor(t, nil)

	for _, command := range []string{"rm -rf /", "curl", "echo;rm", "bash"} {
		res := e.Execute(context.Background(), Request{
			Command:          command,
			WorkingDirectory: t.TempDir(),
			SessionID:        "s1",
		})
		assert.False(t, res.Success, command)
		assert.Equal(t, CodeCommandNotAllowed, res.Code, command)
		assert.Nil(t, res.ExitCode, "nothing must be spawned for %q", command)
	}
	assert.Empty(t, e.ActiveProcesses())
}

func TestExecute_DirectoryErrors(t *testing.T) {
	e := newTestExecutor(t, nil)
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0600))

	res := e.Execute(context.Background(), Request{Command: "echo", WorkingDirectory: filepath.Join(dir, "missing"), SessionID: "s"})
	assert.Equal(t, CodeDirectoryNotFound, res.Code)

	res = e.Execute(context.Background(), Request{Command: "echo", WorkingDirectory: file, SessionID: "s"})
	assert.Equal(t, CodeNotADirectory, res.Code)
}

func TestExecute_Success(t *testing.T) {
	skipOnWindows(t)
	e := newTestExecutor(t, nil)

	res := e.Execute(context.Background(), Request{
		Command:          "echo hello",
		Args:             []string{"world"},
		WorkingDirectory: t.TempDir(),
		SessionID:        "s1",
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "hello world\n", res.Output)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 0, *res.ExitCode)
	assert.Empty(t, res.Code)
	assert.GreaterOrEqual(t, res.ExecutionTime, int64(0))
	assert.Empty(t, e.ActiveProcesses())
}

func TestExecute_StripsMetacharactersFromArgs(t *testing.T) {
	skipOnWindows(t)
	e := newTestExecutor(t, nil)

	res := e.Execute(context.Background(), Request{
		Command:          "echo",
		Args:             []string{"a;b", "$(id)", "`x`"},
		WorkingDirectory: t.TempDir(),
		SessionID:        "s1",
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "ab id x\n", res.Output)
}

func TestExecute_RunsInWorkingDirectory(t *testing.T) {
	skipOnWindows(t)
	e := newTestExecutor(t, nil)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), nil, 0600))

	res := e.Execute(context.Background(), Request{Command: "ls", WorkingDirectory: dir, SessionID: "s1"})
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Output, "marker.txt")
}

func TestExecute_NonZeroExit(t *testing.T) {
	skipOnWindows(t)
	e := newTestExecutor(t, nil)
	dir := t.TempDir()

	res := e.Execute(context.Background(), Request{
		Command:          "ls",
		Args:             []string{filepath.Join(dir, "does-not-exist")},
		WorkingDirectory: dir,
		SessionID:        "s1",
	})
	assert.False(t, res.Success)
	assert.Equal(t, CodeExitNonZero, res.Code)
	assert.Contains(t, res.Error, "does-not-exist")
	assert.Equal(t, strings.TrimSpace(res.Error), res.Error)
	require.NotNil(t, res.ExitCode)
	assert.NotZero(t, *res.ExitCode)
}

func TestExecute_NonZeroExitWithoutStderr(t *testing.T) {
	skipOnWindows(t)
	e := newTestExecutor(t, nil)

	res := e.Execute(context.Background(), Request{Command: "false", WorkingDirectory: t.TempDir(), SessionID: "s1"})
	assert.False(t, res.Success)
	assert.Equal(t, CodeExitNonZero, res.Code)
	assert.Equal(t, "Process exited with code 1", res.Error)
}

func TestExecute_CommandNotFound(t *testing.T) {
	e := newTestExecutor(t, nil)

	res := e.Execute(context.Background(), Request{
		Command:          "clidesk-no-such-binary",
		WorkingDirectory: t.TempDir(),
		SessionID:        "s1",
	})
	assert.False(t, res.Success)
	assert.Equal(t, CodeCommandNotFound, res.Code)
	assert.Equal(t, "Command not found: clidesk-no-such-binary", res.Error)
	assert.Empty(t, e.ActiveProcesses())
}

func TestExecute_OutputTooLarge(t *testing.T) {
	skipOnWindows(t)
	e := newTestExecutor(t, func(c *Config) {
		c.MaxOutputBytes = 1024
		c.ChunkSize = 256
	})

	res := e.Execute(context.Background(), Request{
		Command:          "head",
		Args:             []string{"-c", "1000000", "/dev/zero"},
		WorkingDirectory: t.TempDir(),
		SessionID:        "big",
	})
	assert.False(t, res.Success)
	assert.Equal(t, CodeOutputTooLarge, res.Code)
	assert.Equal(t, "Output exceeded maximum size of 1024 bytes", res.Error)
	assert.LessOrEqual(t, len(res.Output), 1024)
	assert.NotContains(t, e.ActiveProcesses(), "big")
}

func TestExecute_Timeout(t *testing.T) {
	skipOnWindows(t)
	e := newTestExecutor(t, nil)

	start := time.Now()
	res := e.Execute(context.Background(), Request{
		Command:          "sleep",
		Args:             []string{"10"},
		WorkingDirectory: t.TempDir(),
		SessionID:        "slow",
		Timeout:          durationPtr(100 * time.Millisecond),
	})
	assert.False(t, res.Success)
	assert.Equal(t, CodeTimeout, res.Code)
	assert.Contains(t, res.Error, "timed out")
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Empty(t, e.ActiveProcesses())
}

func TestExecute_TimeoutEscalatesToKill(t *testing.T) {
	skipOnWindows(t)
	e := newTestExecutor(t, nil)

	// The shell ignores SIGTERM; only the SIGKILL escalation ends it.
	res := e.Execute(context.Background(), Request{
		Command:          "sh",
		Args:             []string{"-c", "trap '' TERM\nsleep 10"},
		WorkingDirectory: t.TempDir(),
		SessionID:        "stubborn",
		Timeout:          durationPtr(100 * time.Millisecond),
	})
	assert.Equal(t, CodeTimeout, res.Code)
	assert.Empty(t, e.ActiveProcesses())
}

func TestKill(t *testing.T) {
	skipOnWindows(t)
	e := newTestExecutor(t, nil)

	assert.False(t, e.Kill("unknown"))

	done := make(chan *Result, 1)
	go func() {
		done <- e.Execute(context.Background(), Request{
			Command:          "sleep",
			Args:             []string{"10"},
			WorkingDirectory: t.TempDir(),
			SessionID:        "victim",
		})
	}()

	waitForActive(t, e, "victim")
	assert.True(t, e.Kill("victim"))

	select {
	case res := <-done:
		assert.False(t, res.Success)
		assert.Equal(t, CodeProcessKilled, res.Code)
		assert.Equal(t, "Process was terminated", res.Error)
	case <-time.After(5 * time.Second):
		t.Fatal("killed process did not finish")
	}
	assert.Empty(t, e.ActiveProcesses())
}

func TestExecute_SessionBusy(t *testing.T) {
	skipOnWindows(t)
	e := newTestExecutor(t, nil)
	dir := t.TempDir()

	done := make(chan *Result, 1)
	go func() {
		done <- e.Execute(context.Background(), Request{Command: "sleep", Args: []string{"10"}, WorkingDirectory: dir, SessionID: "dup"})
	}()
	waitForActive(t, e, "dup")

	res := e.Execute(context.Background(), Request{Command: "echo", WorkingDirectory: dir, SessionID: "dup"})
	assert.Equal(t, CodeSessionBusy, res.Code)

	other := e.Execute(context.Background(), Request{Command: "echo", Args: []string{"ok"}, WorkingDirectory: dir, SessionID: "other"})
	assert.True(t, other.Success, other.Error)

	require.True(t, e.Kill("dup"))
	<-done
}

func TestActiveProcessesAndCleanup(t *testing.T) {
	skipOnWindows(t)
	e := newTestExecutor(t, nil)
	dir := t.TempDir()

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	for i, id := range []string{"b", "a"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i] = e.Execute(context.Background(), Request{Command: "sleep", Args: []string{"10"}, WorkingDirectory: dir, SessionID: id})
		}(i, id)
	}
	waitForActive(t, e, "a")
	waitForActive(t, e, "b")
	assert.Equal(t, []string{"a", "b"}, e.ActiveProcesses())

	assert.Equal(t, 2, e.Cleanup())
	wg.Wait()

	for _, res := range results {
		assert.Equal(t, CodeProcessKilled, res.Code)
	}
	assert.Empty(t, e.ActiveProcesses())
	assert.Zero(t, e.Cleanup())
}

func TestSubscribe_OutputAndExitEvents(t *testing.T) {
	skipOnWindows(t)
	e := newTestExecutor(t, nil)

	events, unsubscribe := e.Subscribe(16)
	defer unsubscribe()

	res := e.Execute(context.Background(), Request{Command: "echo", Args: []string{"streamed"}, WorkingDirectory: t.TempDir(), SessionID: "evt"})
	require.True(t, res.Success, res.Error)

	var output strings.Builder
	var exit *Event
	timeout := time.After(2 * time.Second)
	for exit == nil {
		select {
		case ev := <-events:
			assert.Equal(t, "evt", ev.SessionID)
			switch ev.Type {
			case EventOutput:
				assert.Equal(t, "stdout", ev.Stream)
				output.WriteString(ev.Data)
			case EventExit:
				exit = &ev
			}
		case <-timeout:
			t.Fatal("no exit event")
		}
	}
	assert.Equal(t, "streamed\n", output.String())
	require.NotNil(t, exit.Result)
	assert.True(t, exit.Result.Success)
}

func TestSubscribe_UnsubscribeClosesChannel(t *testing.T) {
	e := newTestExecutor(t, nil)
	events, unsubscribe := e.Subscribe(0)
	unsubscribe()
	unsubscribe()

	_, ok := <-events
	assert.False(t, ok)
}

type fixedDirs struct {
	dir string
	ok  bool
}

func (f fixedDirs) CurrentDirectory() (string, bool) { return f.dir, f.ok }

func TestChat_SendMessageUsesCurrentProject(t *testing.T) {
	skipOnWindows(t)
	projectDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "in-project.txt"), nil, 0600))

	e := newTestExecutor(t, nil)
	chat := NewChat(e, "ls", fixedDirs{dir: projectDir, ok: true})

	// ls treats "-p" as a flag and the message as a path inside the directory.
	res := chat.SendMessage(context.Background(), "c1", "in-project.txt", "")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "in-project.txt\n", res.Output)

	override := t.TempDir()
	res = chat.SendMessage(context.Background(), "c1", "in-project.txt", override)
	assert.False(t, res.Success)
	assert.Equal(t, CodeExitNonZero, res.Code)
}

func TestChat_StartChatGeneratesID(t *testing.T) {
	skipOnWindows(t)
	e := newTestExecutor(t, nil)
	chat := NewChat(e, "echo", nil)

	out := chat.StartChat(context.Background(), StartChatRequest{WorkingDirectory: t.TempDir(), Prompt: "hi"})
	require.NotNil(t, out.Result)
	assert.Len(t, out.SessionID, 36)
	assert.True(t, out.Result.Success, out.Result.Error)
	assert.Equal(t, "-p hi\n", out.Result.Output)

	out = chat.StartChat(context.Background(), StartChatRequest{WorkingDirectory: t.TempDir()})
	assert.Equal(t, "-p "+DefaultInitPrompt+"\n", out.Result.Output)
}

func TestChat_NotAllowedBinary(t *testing.T) {
	e := newTestExecutor(t, nil)
	chat := NewChat(e, "python", nil)

	res := chat.SendMessage(context.Background(), "c1", "hello", t.TempDir())
	assert.Equal(t, CodeCommandNotAllowed, res.Code)
}
