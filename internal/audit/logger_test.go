package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnscope-systems/vulnscope-core/internal/crypto"
)

func newTestLogger(t *testing.T, encrypt bool) *Logger {
	t.Helper()
	cm, err := crypto.NewManager(crypto.Config{})
	require.NoError(t, err)

	l, err := NewLogger(Options{
		Enabled:       true,
		Directory:     t.TempDir(),
		Encrypt:       encrypt,
		RetentionDays: 30,
		Crypto:        cm,
	})
	require.NoError(t, err)
	return l
}

func TestLogAndQuery_RoundTrip(t *testing.T) {
	l := newTestLogger(t, false)
	ctx := context.Background()

	err := l.Log(ctx, &Event{
		Type:        EventLogin,
		PrincipalID: "user-1",
		Component:   "auth",
		Level:       LevelInfo,
		Success:     true,
		Details:     map[string]any{"source": "10.0.0.1"},
	})
	require.NoError(t, err)

	events, err := l.Query(ctx, Filter{Type: EventLogin, PrincipalID: "user-1"})
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, "auth", e.Component)
	assert.True(t, e.Success)
	assert.Equal(t, "10.0.0.1", e.Details["source"])
	assert.NotEmpty(t, e.ID)
	assert.True(t, e.VerifyChecksum())
}

func TestLog_EncryptedAtRest(t *testing.T) {
	l := newTestLogger(t, true)
	ctx := context.Background()

	require.NoError(t, l.Log(ctx, &Event{
		Type:      EventTokenIssued,
		Component: "auth",
		Details:   map[string]any{"token_name": "ci-pipeline"},
	}))

	// The raw file must not leak plaintext and must carry the ENC marker.
	files, err := os.ReadDir(l.opts.Directory)
	require.NoError(t, err)
	require.Len(t, files, 1)

	raw, err := os.ReadFile(filepath.Join(l.opts.Directory, files[0].Name()))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "ENC:"))
	assert.NotContains(t, string(raw), "ci-pipeline")

	events, err := l.Query(ctx, Filter{Type: EventTokenIssued})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ci-pipeline", events[0].Details["token_name"])
}

func TestQuery_SkipsTamperedRecords(t *testing.T) {
	l := newTestLogger(t, false)
	ctx := context.Background()

	require.NoError(t, l.Log(ctx, &Event{Type: EventLogin, Component: "auth", PrincipalID: "alice"}))
	require.NoError(t, l.Log(ctx, &Event{Type: EventLogin, Component: "auth", PrincipalID: "bob"}))

	files, err := os.ReadDir(l.opts.Directory)
	require.NoError(t, err)
	require.Len(t, files, 1)
	path := filepath.Join(l.opts.Directory, files[0].Name())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), "alice", "mallory", 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o600))

	// The tampered record is silently excluded; the query never raises.
	events, err := l.Query(ctx, Filter{Type: EventLogin})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "bob", events[0].PrincipalID)
}

func TestQuery_Filters(t *testing.T) {
	l := newTestLogger(t, false)
	ctx := context.Background()

	fail := false
	require.NoError(t, l.Log(ctx, &Event{Type: EventPermissionDenied, Component: "authz", Success: false, Level: LevelWarning}))
	require.NoError(t, l.Log(ctx, &Event{Type: EventPermissionGranted, Component: "authz", Success: true}))
	require.NoError(t, l.Log(ctx, &Event{Type: EventSandboxExecution, Component: "sandbox", Success: true, ResourceID: "sbx-1"}))

	events, err := l.Query(ctx, Filter{Component: "authz", Success: &fail})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventPermissionDenied, events[0].Type)

	events, err = l.Query(ctx, Filter{ResourceID: "sbx-1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventSandboxExecution, events[0].Type)

	events, err = l.Query(ctx, Filter{Level: LevelWarning})
	require.NoError(t, err)
	require.Len(t, events, 1)

	// Time window excluding everything.
	events, err = l.Query(ctx, Filter{End: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestLog_Disabled(t *testing.T) {
	l, err := NewLogger(Options{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, l.Log(ctx, &Event{Type: EventLogin, Component: "auth"}))

	events, err := l.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestCleanOldLogs(t *testing.T) {
	l := newTestLogger(t, false)
	ctx := context.Background()

	require.NoError(t, l.Log(ctx, &Event{Type: EventLogin, Component: "auth"}))

	// Fabricate files on both sides of the retention cutoff.
	old := filepath.Join(l.opts.Directory, "audit-2020-01-01.log")
	require.NoError(t, os.WriteFile(old, []byte("{}\n"), 0o600))
	unrelated := filepath.Join(l.opts.Directory, "notes.txt")
	require.NoError(t, os.WriteFile(unrelated, []byte("keep"), 0o600))

	removed, err := l.CleanOldLogs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(unrelated)
	assert.NoError(t, err)
}

func TestConcurrentAppends_NoInterleaving(t *testing.T) {
	l := newTestLogger(t, false)
	ctx := context.Background()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 20; j++ {
				_ = l.Log(ctx, &Event{Type: EventOperation, Component: "test", PrincipalID: "writer"})
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	events, err := l.Query(ctx, Filter{Type: EventOperation})
	require.NoError(t, err)
	assert.Len(t, events, 160)
	for _, e := range events {
		assert.True(t, e.VerifyChecksum())
	}
}
