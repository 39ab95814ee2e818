package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vircore/controlplane/internal/log"
	"github.com/vircore/controlplane/internal/types"
)

// Log is the audit log. log() never fails the caller's triggering
// operation: every internal error is logged, not propagated.
type Log struct {
	mu       sync.RWMutex
	ring     []types.AuditEvent
	capacity int
	head     int // write cursor into ring, used once full
	filled   bool

	path   string
	file   *os.File
	writer *bufio.Writer

	logger zerolog.Logger
}

// New creates an audit log with the given ring capacity. If filePath is
// non-empty, events are also appended there as one JSON object per line.
func New(capacity int, filePath string) (*Log, error) {
	l := &Log{
		ring:     make([]types.AuditEvent, capacity),
		capacity: capacity,
		logger:   log.WithComponent("audit"),
	}

	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, err
		}
		l.path = filePath
		l.file = f
		l.writer = bufio.NewWriter(f)
	}

	return l, nil
}

// Reopen closes the current file handle and opens a fresh one at the
// same path. Called after rotation has renamed the active file away, so
// ingestion continues into the new file instead of the archived inode.
// No-op when no file sink is configured.
func (l *Log) Reopen() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.path == "" {
		return nil
	}
	if l.writer != nil {
		_ = l.writer.Flush()
	}
	if l.file != nil {
		_ = l.file.Close()
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		l.file = nil
		l.writer = nil
		l.logger.Error().Err(err).Str("file", l.path).Msg("failed to reopen audit file after rotation")
		return err
	}
	l.file = f
	l.writer = bufio.NewWriter(f)
	return nil
}

// Close flushes and closes the backing file, if any.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer != nil {
		_ = l.writer.Flush()
	}
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// fileRecord is the JSON-lines wire format, one object per line.
type fileRecord struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	Severity  string    `json:"severity"`
	Result    string    `json:"result"`
	Action    string    `json:"action"`
	User      string    `json:"user,omitempty"`
	Source    string    `json:"source,omitempty"`
	Resource  string    `json:"resource,omitempty"`
	Details   string    `json:"details,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
}

// Log records an event. This is fire-and-forget: no error ever reaches
// the caller.
func (l *Log) Log(e types.AuditEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	l.emitStructured(e)
	l.appendFile(e)

	l.mu.Lock()
	l.pushRing(e)
	l.mu.Unlock()
}

func (l *Log) emitStructured(e types.AuditEvent) {
	var ev *zerolog.Event
	switch e.Severity {
	case types.SeverityCritical, types.SeverityError:
		ev = l.logger.Error()
	case types.SeverityWarning:
		ev = l.logger.Warn()
	default:
		ev = l.logger.Info()
	}
	ev.Str("event_type", string(e.Kind)).
		Str("result", string(e.Result)).
		Str("user", e.User).
		Str("resource", e.Resource).
		Msg(e.Action)
}

func (l *Log) appendFile(e types.AuditEvent) {
	rec := fileRecord{
		Timestamp: e.Timestamp,
		EventType: string(e.Kind),
		Severity:  string(e.Severity),
		Result:    string(e.Result),
		Action:    e.Action,
		User:      e.User,
		Source:    e.Source,
		Resource:  e.Resource,
		Details:   e.Details,
		SessionID: e.SessionID,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer == nil {
		return
	}

	data, err := json.Marshal(rec)
	if err != nil {
		l.logger.Error().Err(err).Msg("failed to marshal audit record")
		return
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		l.logger.Error().Err(err).Msg("failed to append audit record")
		return
	}
	if err := l.writer.Flush(); err != nil {
		l.logger.Error().Err(err).Msg("failed to flush audit file")
	}
}

// pushRing appends to the ring, dropping from the head once full. Caller
// must hold l.mu.
func (l *Log) pushRing(e types.AuditEvent) {
	if !l.filled {
		// still growing: find first unused slot by count
		count := l.head
		if count < l.capacity {
			l.ring[count] = e
			l.head = count + 1
			if l.head == l.capacity {
				l.filled = true
				l.head = 0
			}
			return
		}
	}
	l.ring[l.head] = e
	l.head = (l.head + 1) % l.capacity
}

// snapshot returns ring contents oldest-first, while holding the read lock.
func (l *Log) snapshot() []types.AuditEvent {
	if !l.filled {
		out := make([]types.AuditEvent, l.head)
		copy(out, l.ring[:l.head])
		return out
	}
	out := make([]types.AuditEvent, l.capacity)
	copy(out, l.ring[l.head:])
	copy(out[l.capacity-l.head:], l.ring[:l.head])
	return out
}

// Query filters the in-memory ring, returning at most Limit results
// newest-first (default cap 100).
type Query struct {
	Kind     types.EventKind
	User     string
	Severity types.Severity
	Since    time.Time
	Until    time.Time
	Limit    int
}

func (l *Log) Query(q Query) []types.AuditEvent {
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	l.mu.RLock()
	all := l.snapshot()
	l.mu.RUnlock()

	var matched []types.AuditEvent
	for i := len(all) - 1; i >= 0; i-- {
		e := all[i]
		if q.Kind != "" && e.Kind != q.Kind {
			continue
		}
		if q.User != "" && e.User != q.User {
			continue
		}
		if q.Severity != "" && e.Severity != q.Severity {
			continue
		}
		if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
			continue
		}
		matched = append(matched, e)
		if len(matched) >= limit {
			break
		}
	}
	return matched
}

// DetectBruteForce returns usernames with at least threshold LoginFailed
// events whose timestamps fall within (now-window, now].
func (l *Log) DetectBruteForce(threshold int, window time.Duration) []string {
	now := time.Now()
	cutoff := now.Add(-window)

	l.mu.RLock()
	all := l.snapshot()
	l.mu.RUnlock()

	counts := make(map[string]int)
	for _, e := range all {
		if e.Kind != types.EventLoginFailed {
			continue
		}
		if e.Timestamp.After(cutoff) && !e.Timestamp.After(now) {
			counts[e.User]++
		}
	}

	var out []string
	for user, n := range counts {
		if n >= threshold {
			out = append(out, user)
		}
	}
	return out
}
