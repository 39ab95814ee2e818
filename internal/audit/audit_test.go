package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vircore/controlplane/internal/types"
)

func TestLogQueryNewestFirst(t *testing.T) {
	l, err := New(100, "")
	require.NoError(t, err)
	defer l.Close()

	l.Log(types.AuditEvent{Kind: types.EventLogin, User: "alice", Result: types.ResultSuccess, Action: "login"})
	l.Log(types.AuditEvent{Kind: types.EventLogout, User: "alice", Result: types.ResultSuccess, Action: "logout"})

	got := l.Query(Query{User: "alice"})
	require.Len(t, got, 2)
	assert.Equal(t, types.EventLogout, got[0].Kind, "newest event must be first")
}

func TestLogRingEvictsOldest(t *testing.T) {
	l, err := New(3, "")
	require.NoError(t, err)
	defer l.Close()

	for i := 0; i < 5; i++ {
		l.Log(types.AuditEvent{Kind: types.EventLogin, User: "u", Resource: string(rune('a' + i)), Action: "login"})
	}

	got := l.Query(Query{User: "u", Limit: 100})
	require.Len(t, got, 3)
	// only the three most recent resources survive
	assert.Equal(t, "e", got[0].Resource)
	assert.Equal(t, "d", got[1].Resource)
	assert.Equal(t, "c", got[2].Resource)
}

func TestLogQueryFiltersBySeverityAndKind(t *testing.T) {
	l, err := New(100, "")
	require.NoError(t, err)
	defer l.Close()

	l.Log(types.AuditEvent{Kind: types.EventLoginFailed, Severity: types.SeverityWarning, User: "bob"})
	l.Log(types.AuditEvent{Kind: types.EventVmCreated, Severity: types.SeverityInfo, User: "bob"})

	got := l.Query(Query{Kind: types.EventLoginFailed})
	require.Len(t, got, 1)
	assert.Equal(t, types.EventLoginFailed, got[0].Kind)

	got = l.Query(Query{Severity: types.SeverityInfo})
	require.Len(t, got, 1)
	assert.Equal(t, types.EventVmCreated, got[0].Kind)
}

func TestDetectBruteForce(t *testing.T) {
	l, err := New(100, "")
	require.NoError(t, err)
	defer l.Close()

	for i := 0; i < 4; i++ {
		l.Log(types.AuditEvent{Kind: types.EventLoginFailed, User: "mallory"})
	}
	l.Log(types.AuditEvent{Kind: types.EventLoginFailed, User: "eve"})

	flagged := l.DetectBruteForce(4, time.Minute)
	assert.Contains(t, flagged, "mallory")
	assert.NotContains(t, flagged, "eve")
}

func TestLogWritesJSONLinesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	l, err := New(10, path)
	require.NoError(t, err)

	l.Log(types.AuditEvent{Kind: types.EventLogin, User: "alice", Action: "login"})
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event_type":"Login"`)
	assert.Contains(t, string(data), `"user":"alice"`)
}

func TestRotatorDueBySize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	require.NoError(t, os.WriteFile(path, make([]byte, 200), 0600))

	r := NewRotator(path, RotationPolicy{Kind: RotateBySize, MaxBytes: 100})
	assert.True(t, r.Due(time.Now()))
}

func TestRotatorRotateCompressesAndPrunes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("line one\n"), 0600))

	r := NewRotator(path, RotationPolicy{Kind: RotateBySize, MaxBytes: 1, MaxArchives: 1})
	require.NoError(t, r.Rotate(time.Now()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var gzCount int
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".gz" {
			gzCount++
		}
	}
	assert.Equal(t, 1, gzCount)

	info, err := os.Stat(path)
	require.NoError(t, err, "a fresh active file must exist after rotation")
	assert.Zero(t, info.Size(), "the fresh active file must be empty")
}

func TestLogContinuesAfterRotateAndReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	l, err := New(10, path)
	require.NoError(t, err)
	defer l.Close()

	l.Log(types.AuditEvent{Kind: types.EventLogin, User: "alice", Action: "login"})

	r := NewRotator(path, RotationPolicy{Kind: RotateBySize, MaxBytes: 1, MaxArchives: 5})
	require.NoError(t, r.Rotate(time.Now()))
	require.NoError(t, l.Reopen())

	l.Log(types.AuditEvent{Kind: types.EventLogout, User: "alice", Action: "logout"})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event_type":"Logout"`, "post-rotation events must land in the fresh file")
	assert.NotContains(t, string(data), `"event_type":"Login"`, "pre-rotation events belong to the archive")
}

func TestRotatorPrunesBeyondMaxArchives(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	r := NewRotator(path, RotationPolicy{Kind: RotateBySize, MaxBytes: 1, MaxArchives: 1})

	// Archive names have one-second resolution, so each rotation gets its
	// own second to produce distinct archives.
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("x"), 0600))
		require.NoError(t, r.Rotate(start.Add(time.Duration(i)*time.Second)))
		time.Sleep(2 * time.Millisecond)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var gzCount int
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".gz" {
			gzCount++
		}
	}
	assert.Equal(t, 1, gzCount, "pruning must keep only MaxArchives archives")
}
