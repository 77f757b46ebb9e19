package claudelog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/clidesk/pkg/models"
)

const sampleLog = `{"type":"file-history-snapshot","messageId":"x"}
{"type":"user","uuid":"u1","sessionId":"abc","timestamp":"2025-01-02T10:00:00.000Z","cwd":"/work/demo","message":{"role":"user","content":"Write a hello world in python"}}
{"type":"assistant","uuid":"a1","sessionId":"abc","timestamp":"2025-01-02T10:00:05.000Z","message":{"role":"assistant","content":[{"type":"text","text":"Here you go:\n` + "```python\\nprint(1)\\n```" + `"},{"type":"tool_use","id":"t1","name":"Write","input":{}}]}}
{"type":"user","uuid":"u2","sessionId":"abc","timestamp":"2025-01-02T10:00:06.000Z","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"ok"}]}}
not json at all
{"type":"summary","summary":"Python hello world"}
`

func writeLog(t *testing.T, root, dir, id, content string) string {
	t.Helper()
	path := filepath.Join(root, dir, id+".jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestGetSession(t *testing.T) {
	root := t.TempDir()
	writeLog(t, root, "-work-demo", "abc", sampleLog)
	store := New(root)

	sess, err := store.GetSession(context.Background(), "abc")
	require.NoError(t, err)
	require.NotNil(t, sess)

	assert.Equal(t, "abc", sess.ID)
	assert.Equal(t, "Python hello world", sess.Name)
	assert.Equal(t, "-work-demo", sess.ProjectID)
	assert.Equal(t, "/work/demo", sess.Context.WorkingDirectory)
	assert.Equal(t, 2, sess.MessageCount, "tool results are not transcript messages")
	assert.Equal(t, "2025-01-02T10:00:00Z", sess.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	assert.Equal(t, "2025-01-02T10:00:05Z", sess.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))

	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "u1", sess.Messages[0].ID)
	assert.Equal(t, models.RoleUser, sess.Messages[0].Role)
	assert.Nil(t, sess.Messages[0].Metadata)

	reply := sess.Messages[1]
	assert.Equal(t, models.RoleAssistant, reply.Role)
	assert.True(t, strings.HasPrefix(reply.Content, "Here you go:"))
	require.NotNil(t, reply.Metadata)
	require.Len(t, reply.Metadata.CodeBlocks, 1)
	assert.Equal(t, "python", reply.Metadata.CodeBlocks[0].Language)
	assert.Equal(t, "print(1)", reply.Metadata.CodeBlocks[0].Code)
}

func TestGetSessionNotFound(t *testing.T) {
	store := New(t.TempDir())

	for _, id := range []string{"missing", "", "../etc/passwd", "a/b"} {
		sess, err := store.GetSession(context.Background(), id)
		assert.NoError(t, err, id)
		assert.Nil(t, sess, id)
	}
}

func TestSessionNameFallsBackToFirstUserMessage(t *testing.T) {
	root := t.TempDir()
	long := strings.Repeat("word ", 30)
	writeLog(t, root, "p", "s1", `{"type":"user","uuid":"u1","timestamp":"2025-01-02T10:00:00Z","message":{"role":"user","content":"`+long+`"}}`+"\n")

	sess, err := New(root).GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, []rune(sess.Name), maxNameLength)
	assert.True(t, strings.HasSuffix(sess.Name, "..."))
}

func TestListSessions(t *testing.T) {
	root := t.TempDir()
	writeLog(t, root, "p1", "older", `{"type":"user","uuid":"u","timestamp":"2025-01-01T00:00:00Z","message":{"role":"user","content":"one"}}`+"\n")
	writeLog(t, root, "p1", "newer", `{"type":"user","uuid":"u","timestamp":"2025-03-01T00:00:00Z","message":{"role":"user","content":"two"}}`+"\n")
	writeLog(t, root, "p2", "middle", `{"type":"user","uuid":"u","timestamp":"2025-02-01T00:00:00Z","message":{"role":"user","content":"three"}}`+"\n")
	require.NoError(t, os.WriteFile(filepath.Join(root, "p1", "notes.txt"), []byte("ignored"), 0600))

	store := New(root)
	ctx := context.Background()

	all, err := store.ListSessions(ctx, models.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "newer", all[0].ID)
	assert.Equal(t, "middle", all[1].ID)
	assert.Equal(t, "older", all[2].ID)
	assert.Nil(t, all[0].Messages)
	assert.Equal(t, 1, all[0].MessageCount)

	p1, err := store.ListSessions(ctx, models.SessionFilter{ProjectID: "p1"})
	require.NoError(t, err)
	assert.Len(t, p1, 2)

	page, err := store.ListSessions(ctx, models.SessionFilter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "middle", page[0].ID)

	past, err := store.ListSessions(ctx, models.SessionFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestListSessionsMissingRoot(t *testing.T) {
	sessions, err := New(filepath.Join(t.TempDir(), "nope")).ListSessions(context.Background(), models.SessionFilter{})
	require.NoError(t, err)
	assert.NotNil(t, sessions)
	assert.Empty(t, sessions)
}

func TestWritesAreRejected(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	assert.ErrorIs(t, store.CreateSession(ctx, &models.ChatSession{ID: "x"}), ErrReadOnly)

	_, err := store.UpdateSession(ctx, "x", models.SessionUpdate{})
	assert.ErrorIs(t, err, ErrReadOnly)

	_, err = store.DeleteSession(ctx, "x")
	assert.ErrorIs(t, err, ErrReadOnly)

	_, err = store.AddMessage(ctx, "x", &models.ChatMessage{})
	assert.ErrorIs(t, err, ErrReadOnly)

	_, err = store.DeleteMessage(ctx, "x", "m")
	assert.ErrorIs(t, err, ErrReadOnly)

	n, err := store.DetachProject(ctx, "p")
	assert.NoError(t, err)
	assert.Zero(t, n)
}
