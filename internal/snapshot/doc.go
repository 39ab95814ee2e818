/*
Package snapshot schedules recurring VM snapshots with per-schedule
retention.

A single timer ticks on a fixed interval (60s by default). On each
tick, every enabled schedule whose next-run instant has arrived is
fired: the target VM is resolved through an injected lookup, a
snapshot named "<prefix>_<YYYYMMDD_HHMMSS>" is created through the
SnapshotManager collaborator, and snapshots carrying the schedule's
prefix beyond the retention count are deleted, oldest first.

A missing VM or a failed creation is logged and still advances
next_run, so a broken schedule never retries in a tight loop.

# Frequencies

  - hourly: one hour after the current run
  - daily(hour): next occurrence of that hour, today or tomorrow
  - weekly(weekday, hour): next occurrence of that weekday and hour;
    weekday numbering is Sunday=0..Saturday=6, matching time.Weekday
  - monthly(day, hour): day clamped to 28 so the trigger exists in
    every month
  - custom(cron): a standard five-field cron expression; an invalid
    expression falls back to hourly with a warning

# Usage

	s := snapshot.New(60*time.Second, lookupVM, snapMgr)
	s.AddSchedule(types.SnapshotSchedule{
		ID:         "hourly-db",
		VmID:       "vm-100",
		NamePrefix: "hourly-db",
		Frequency:  types.Frequency{Kind: types.FreqHourly},
		RetentionN: 24,
		Enabled:    true,
		NextRun:    time.Now(),
	})
	s.Start()
	defer s.Stop()

Tests drive Tick(now) directly with a fixed clock instead of waiting
on the timer.

# Integration Points

This package integrates with:

  - internal/types for SnapshotSchedule, Frequency, and SnapshotInfo
  - internal/metrics for run and prune counters
  - cmd/vcpd apply, which bulk-loads schedules from YAML
*/
package snapshot
