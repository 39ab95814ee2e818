/*
Package audit provides the append-only security event stream.

The audit package records structured security events (logins, permission
checks, VM lifecycle, storage and cluster changes) into an in-memory
bounded ring and, when configured, an append-only JSON-lines file.
Logging is fire-and-forget: a write failure is logged and swallowed, it
never fails the operation that produced the event.

# Architecture

Event ingestion is a three-step pipeline, ordered:

 1. Structured log emission at the severity-mapped level
 2. File append (one JSON object per line), if a file is configured
 3. Ring insert, dropping the oldest event once capacity is reached

Query filters the ring by kind, user, severity, and time window,
returning results newest-first with a default cap of 100.

# Brute-Force Detection

DetectBruteForce(threshold, window) returns every username with at
least threshold LoginFailed events inside (now-window, now]. Callers
typically run it after each failed login and emit a
BruteForceDetected event for anyone it flags.

# Rotation

Rotator rolls the active file into timestamped gzip archives under a
size, daily, weekly, or combined policy, pruning the oldest archives
past MaxArchives by modification time. Rotation failures are logged
and do not stop ingestion.

# Usage

	al, err := audit.New(10000, "/var/log/vcp/audit.jsonl")
	if err != nil {
		return err
	}
	defer al.Close()

	al.Log(types.AuditEvent{
		Kind:     types.EventLoginFailed,
		Severity: types.SeverityWarning,
		Result:   types.ResultFailure,
		User:     "eve",
		Action:   "login",
	})

	flagged := al.DetectBruteForce(5, 10*time.Minute)

	recent := al.Query(audit.Query{
		Kind:  types.EventLoginFailed,
		Since: time.Now().Add(-time.Hour),
	})

# Integration Points

This package integrates with:

  - internal/auth, which logs login, logout, and permission events
  - internal/webhook, which fans selected events out to subscribers
  - cmd/vcpd, which polls the Rotator from its background sweep loop
*/
package audit
