package snapshot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/vircore/controlplane/internal/log"
	"github.com/vircore/controlplane/internal/metrics"
	"github.com/vircore/controlplane/internal/types"
)

// VmLookup resolves a VM id to its record; missing VMs are logged and
// skipped without blocking the rest of the tick.
type VmLookup func(vmID string) (*types.VmRecord, bool)

// SnapshotManager creates, lists, and deletes VM snapshots. The
// hypervisor-facing implementation lives outside this package; the
// scheduler depends only on this interface.
type SnapshotManager interface {
	Create(ctx context.Context, vmID, name string, includeMemory bool) error
	List(ctx context.Context, vmID string) ([]types.SnapshotInfo, error)
	Delete(ctx context.Context, vmID, name string) error
}

// Scheduler owns a set of SnapshotSchedule entries and advances them on
// a single tick (tickInterval, 60s by default).
type Scheduler struct {
	tickInterval time.Duration
	lookupVM     VmLookup
	snapshots    SnapshotManager

	mu        sync.RWMutex
	schedules map[string]*types.SnapshotSchedule

	stopCh chan struct{}
	logger zerolog.Logger
}

// New constructs a Scheduler. tickInterval defaults to 60s if zero.
func New(tickInterval time.Duration, lookupVM VmLookup, mgr SnapshotManager) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = 60 * time.Second
	}
	return &Scheduler{
		tickInterval: tickInterval,
		lookupVM:     lookupVM,
		snapshots:    mgr,
		schedules:    make(map[string]*types.SnapshotSchedule),
		stopCh:       make(chan struct{}),
		logger:       log.WithComponent("snapshot"),
	}
}

// AddSchedule registers or replaces a schedule.
func (s *Scheduler) AddSchedule(sch types.SnapshotSchedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := sch
	s.schedules[sch.ID] = &cp
}

// RemoveSchedule drops a schedule by id.
func (s *Scheduler) RemoveSchedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schedules, id)
}

// Schedules returns a snapshot of every configured schedule.
func (s *Scheduler) Schedules() []types.SnapshotSchedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.SnapshotSchedule, 0, len(s.schedules))
	for _, sch := range s.schedules {
		out = append(out, *sch)
	}
	return out
}

// Start begins the scheduler's tick loop on its own goroutine.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop halts the tick loop.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(time.Now())
		case <-s.stopCh:
			return
		}
	}
}

// Tick advances every enabled schedule whose NextRun has arrived. It is
// exported so tests can drive a deterministic clock instead of waiting
// on the ticker.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.RLock()
	due := make([]*types.SnapshotSchedule, 0)
	for _, sch := range s.schedules {
		if sch.Enabled && !sch.NextRun.After(now) {
			due = append(due, sch)
		}
	}
	s.mu.RUnlock()

	for _, sch := range due {
		s.runOne(sch, now)
	}
}

func (s *Scheduler) runOne(sch *types.SnapshotSchedule, now time.Time) {
	defer s.advance(sch, now)

	vm, ok := s.lookupVM(sch.VmID)
	if !ok {
		s.logger.Warn().Str("schedule_id", sch.ID).Str("vm_id", sch.VmID).Msg("snapshot schedule: VM not found, skipping")
		metrics.SnapshotRunsTotal.WithLabelValues("vm_not_found").Inc()
		return
	}

	name := fmt.Sprintf("%s_%s", sch.NamePrefix, now.Format("20060102_150405"))
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := s.snapshots.Create(ctx, vm.ID, name, sch.IncludeMemory); err != nil {
		s.logger.Error().Err(err).Str("schedule_id", sch.ID).Str("vm_id", vm.ID).Msg("snapshot creation failed")
		metrics.SnapshotRunsTotal.WithLabelValues("failed").Inc()
		return
	}
	metrics.SnapshotRunsTotal.WithLabelValues("succeeded").Inc()

	s.prune(ctx, sch)
}

// prune lists every snapshot whose name has the schedule's prefix,
// sorts newest-first, and deletes everything past RetentionN.
func (s *Scheduler) prune(ctx context.Context, sch *types.SnapshotSchedule) {
	all, err := s.snapshots.List(ctx, sch.VmID)
	if err != nil {
		s.logger.Error().Err(err).Str("schedule_id", sch.ID).Msg("failed to list snapshots for retention")
		return
	}

	var matching []types.SnapshotInfo
	prefix := sch.NamePrefix + "_"
	for _, snap := range all {
		if len(snap.Name) >= len(prefix) && snap.Name[:len(prefix)] == prefix {
			matching = append(matching, snap)
		}
	}

	sort.Slice(matching, func(i, j int) bool { return matching[i].CreatedAt.After(matching[j].CreatedAt) })

	for i := sch.RetentionN; i < len(matching); i++ {
		if err := s.snapshots.Delete(ctx, sch.VmID, matching[i].Name); err != nil {
			s.logger.Error().Err(err).Str("snapshot", matching[i].Name).Msg("failed to prune snapshot")
			continue
		}
		metrics.SnapshotsPrunedTotal.Inc()
	}
}

func (s *Scheduler) advance(sch *types.SnapshotSchedule, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.schedules[sch.ID]; ok {
		ran := now
		cur.LastRun = &ran
		cur.NextRun = NextRunAfter(cur.Frequency, now, s.logger)
	}
}

// NextRunAfter computes the next trigger instant after now for freq.
// Weekday numbering is Sunday=0..Saturday=6, matching Go's
// time.Weekday, so no remapping is needed at the boundary.
func NextRunAfter(freq types.Frequency, now time.Time, logger zerolog.Logger) time.Time {
	switch freq.Kind {
	case types.FreqHourly:
		return now.Add(time.Hour)
	case types.FreqDaily:
		return nextDailyAfter(now, freq.Hour)
	case types.FreqWeekly:
		return nextWeeklyAfter(now, time.Weekday(freq.Weekday), freq.Hour)
	case types.FreqMonthly:
		return nextMonthlyAfter(now, freq.Day, freq.Hour)
	case types.FreqCustom:
		return nextCustomAfter(now, freq.Cron, logger)
	default:
		return now.Add(time.Hour)
	}
}

func nextDailyAfter(now time.Time, hour int) time.Time {
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

func nextWeeklyAfter(now time.Time, weekday time.Weekday, hour int) time.Time {
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	daysUntil := (int(weekday) - int(candidate.Weekday()) + 7) % 7
	candidate = candidate.AddDate(0, 0, daysUntil)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

func nextMonthlyAfter(now time.Time, day, hour int) time.Time {
	if day > 28 {
		day = 28
	}
	if day < 1 {
		day = 1
	}
	candidate := time.Date(now.Year(), now.Month(), day, hour, 0, 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = time.Date(now.Year(), now.Month()+1, day, hour, 0, 0, 0, now.Location())
	}
	return candidate
}

func nextCustomAfter(now time.Time, expr string, logger zerolog.Logger) time.Time {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		logger.Warn().Err(err).Str("cron", expr).Msg("custom cron expression invalid, falling back to hourly")
		return now.Add(time.Hour)
	}
	return sched.Next(now)
}
