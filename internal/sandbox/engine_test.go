package sandbox

import (
	"context"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSandbox(t *testing.T, limits *ResourceLimits) *Sandbox {
	t.Helper()
	e := NewEngine(Options{BaseDir: t.TempDir()})
	sb, err := e.Create(context.Background(), IsolationBasic, limits, "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sb.Cleanup() })
	return sb
}

func TestExecuteCommand_Success(t *testing.T) {
	sb := newTestSandbox(t, nil)

	res, err := sb.ExecuteCommand(context.Background(), []string{"echo", "hello"}, 0)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ReturnCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, StateCompleted, sb.State())
}

func TestExecuteCommand_NonZeroExit(t *testing.T) {
	sb := newTestSandbox(t, nil)

	res, err := sb.ExecuteCommand(context.Background(), []string{"sh", "-c", "exit 3"}, 0)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.ReturnCode)
	assert.False(t, res.ResourceLimitsExceeded)
	assert.Equal(t, StateFailed, sb.State())
}

func TestExecuteCommand_WallTimeout(t *testing.T) {
	limits := DefaultLimits()
	limits.WallTime = time.Second
	sb := newTestSandbox(t, &limits)

	start := time.Now()
	res, err := sb.ExecuteCommand(context.Background(), []string{"sleep", "30"}, 0)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.True(t, res.ResourceLimitsExceeded)
	assert.Equal(t, -1, res.ReturnCode)
	assert.Equal(t, StateTimedOut, sb.State())
	elapsed := time.Since(start)
	assert.Less(t, elapsed, 5*time.Second, "timeout should fire near the one second ceiling, took %s", elapsed)
}

func TestExecuteCommand_TimeoutKillsChildren(t *testing.T) {
	limits := DefaultLimits()
	limits.WallTime = time.Second
	sb := newTestSandbox(t, &limits)

	// The shell spawns a background sleep; the process-group kill must
	// take it down too, so Wait returns promptly instead of blocking on
	// the inherited stdout pipe.
	start := time.Now()
	res, err := sb.ExecuteCommand(context.Background(), []string{"sh", "-c", "sleep 30 & sleep 30"}, 0)
	require.NoError(t, err)
	assert.True(t, res.ResourceLimitsExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecuteCommand_EmptyCommand(t *testing.T) {
	sb := newTestSandbox(t, nil)

	res, err := sb.ExecuteCommand(context.Background(), nil, 0)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "empty command", res.Error)
}

func TestExecuteCommand_AfterCleanup(t *testing.T) {
	sb := newTestSandbox(t, nil)
	require.NoError(t, sb.Cleanup())

	_, err := sb.ExecuteCommand(context.Background(), []string{"true"}, 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestExecuteCommand_FileDiff(t *testing.T) {
	sb := newTestSandbox(t, nil)
	require.NoError(t, sb.AddFile("input.txt", []byte("before")))

	res, err := sb.ExecuteCommand(context.Background(),
		[]string{"sh", "-c", "sleep 1; echo out > output.txt; echo after > input.txt"}, 0)
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.Contains(t, res.CreatedFiles, "output.txt")
	assert.Contains(t, res.ModifiedFiles, "input.txt")

	out, err := sb.GetFile("output.txt")
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(out))
}

func TestAddFile_Limits(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxFileSize = 8
	sb := newTestSandbox(t, &limits)

	assert.NoError(t, sb.AddFile("small.txt", []byte("ok")))
	assert.ErrorIs(t, sb.AddFile("big.txt", make([]byte, 9)), ErrFileTooLarge)
}

func TestAddFile_PathEscape(t *testing.T) {
	sb := newTestSandbox(t, nil)

	assert.Error(t, sb.AddFile("/etc/passwd", []byte("x")))
	assert.Error(t, sb.AddFile("../escape.txt", []byte("x")))
	assert.NoError(t, sb.AddFile("nested/dir/ok.txt", []byte("x")))
}

func TestGetFile_Missing(t *testing.T) {
	sb := newTestSandbox(t, nil)
	_, err := sb.GetFile("ghost.txt")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestCleanup_Idempotent(t *testing.T) {
	e := NewEngine(Options{BaseDir: t.TempDir()})
	sb, err := e.Create(context.Background(), IsolationBasic, nil, "clean")
	require.NoError(t, err)

	require.NoError(t, sb.Cleanup())
	require.NoError(t, sb.Cleanup())
	assert.Equal(t, StateCleanedUp, sb.State())
	assert.NoDirExists(t, sb.WorkDir())
}

func TestCreate_VMRejected(t *testing.T) {
	e := NewEngine(Options{BaseDir: t.TempDir()})
	_, err := e.Create(context.Background(), IsolationVM, nil, "vm")
	assert.ErrorIs(t, err, ErrSetup)
}

func TestTruncateMiddle(t *testing.T) {
	assert.Equal(t, "short", truncateMiddle("short", 100))

	long := strings.Repeat("a", 600) + strings.Repeat("z", 600)
	got := truncateMiddle(long, 200)
	assert.LessOrEqual(t, len(got), 200)
	assert.Contains(t, got, OutputTruncationMarker)
	assert.True(t, strings.HasPrefix(got, "aaa"))
	assert.True(t, strings.HasSuffix(got, "zzz"))
}

func TestBoundedBuffer_RetainsHeadAndTail(t *testing.T) {
	var b boundedBuffer
	b.limit = 64

	n, err := b.Write([]byte(strings.Repeat("a", 100)))
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	_, err = b.Write([]byte(strings.Repeat("z", 100)))
	require.NoError(t, err)

	got := b.String()
	assert.Contains(t, got, OutputTruncationMarker)
	assert.True(t, strings.HasPrefix(got, "aaa"))
	assert.True(t, strings.HasSuffix(got, "zzz"))
}

func TestBoundedBuffer_SmallOutputUntouched(t *testing.T) {
	var b boundedBuffer
	b.limit = 1024
	_, err := b.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", b.String())
}
