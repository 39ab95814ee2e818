package snapshot

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vircore/controlplane/internal/types"
)

type fakeManager struct {
	mu    sync.Mutex
	byVM  map[string][]types.SnapshotInfo
	calls int
}

func newFakeManager() *fakeManager {
	return &fakeManager{byVM: make(map[string][]types.SnapshotInfo)}
}

func (f *fakeManager) Create(ctx context.Context, vmID, name string, includeMemory bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.byVM[vmID] = append(f.byVM[vmID], types.SnapshotInfo{Name: name, VmID: vmID, CreatedAt: time.Now().Add(time.Duration(f.calls) * time.Second)})
	return nil
}

func (f *fakeManager) List(ctx context.Context, vmID string) ([]types.SnapshotInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.SnapshotInfo, len(f.byVM[vmID]))
	copy(out, f.byVM[vmID])
	return out, nil
}

func (f *fakeManager) Delete(ctx context.Context, vmID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.byVM[vmID][:0]
	for _, s := range f.byVM[vmID] {
		if s.Name != name {
			kept = append(kept, s)
		}
	}
	f.byVM[vmID] = kept
	return nil
}

func lookupAlways(vm *types.VmRecord) VmLookup {
	return func(id string) (*types.VmRecord, bool) {
		if vm.ID == id {
			return vm, true
		}
		return nil, false
	}
}

// S6: schedule "hourly-db" retention=3, pre-seeded with 3 prior
// snapshots; a 4th is created on tick, leaving exactly 3.
func TestTickEnforcesRetention(t *testing.T) {
	vm := &types.VmRecord{ID: "vm-1"}
	mgr := newFakeManager()
	for i := 0; i < 3; i++ {
		mgr.byVM["vm-1"] = append(mgr.byVM["vm-1"], types.SnapshotInfo{
			Name:      fmt.Sprintf("hourly-db_2026010%d_000000", i+1),
			VmID:      "vm-1",
			CreatedAt: time.Now().Add(time.Duration(i) * time.Hour),
		})
	}

	s := New(time.Hour, lookupAlways(vm), mgr)
	now := time.Now()
	s.AddSchedule(types.SnapshotSchedule{
		ID: "sched-1", VmID: "vm-1", NamePrefix: "hourly-db",
		Frequency: types.Frequency{Kind: types.FreqHourly}, RetentionN: 3, Enabled: true, NextRun: now,
	})

	s.Tick(now)

	snaps, err := mgr.List(context.Background(), "vm-1")
	require.NoError(t, err)
	assert.Len(t, snaps, 3)
}

func TestTickAdvancesNextRunEvenWhenVmMissing(t *testing.T) {
	mgr := newFakeManager()
	s := New(time.Hour, func(string) (*types.VmRecord, bool) { return nil, false }, mgr)
	now := time.Now()
	s.AddSchedule(types.SnapshotSchedule{
		ID: "sched-1", VmID: "missing", NamePrefix: "p", Frequency: types.Frequency{Kind: types.FreqHourly},
		RetentionN: 1, Enabled: true, NextRun: now,
	})

	s.Tick(now)

	scheds := s.Schedules()
	require.Len(t, scheds, 1)
	assert.True(t, scheds[0].NextRun.After(now))
	assert.NotNil(t, scheds[0].LastRun)
	assert.Equal(t, 0, mgr.calls)
}

func TestNextRunAfterDaily(t *testing.T) {
	logger := zerolog.Nop()
	now := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)

	next := NextRunAfter(types.Frequency{Kind: types.FreqDaily, Hour: 3}, now, logger)
	assert.Equal(t, time.Date(2026, 7, 30, 3, 0, 0, 0, time.UTC), next)

	next = NextRunAfter(types.Frequency{Kind: types.FreqDaily, Hour: 23}, now, logger)
	assert.Equal(t, time.Date(2026, 7, 29, 23, 0, 0, 0, time.UTC), next)
}

func TestNextRunAfterWeekly(t *testing.T) {
	logger := zerolog.Nop()
	// 2026-07-29 is a Wednesday (weekday=3).
	now := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)

	next := NextRunAfter(types.Frequency{Kind: types.FreqWeekly, Weekday: 0, Hour: 2}, now, logger) // next Sunday
	assert.Equal(t, time.Date(2026, 8, 2, 2, 0, 0, 0, time.UTC), next)
}

func TestNextRunAfterMonthlyClampsDay(t *testing.T) {
	logger := zerolog.Nop()
	now := time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC)

	next := NextRunAfter(types.Frequency{Kind: types.FreqMonthly, Day: 31, Hour: 0}, now, logger)
	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), next)
}

func TestNextRunAfterCustomCron(t *testing.T) {
	logger := zerolog.Nop()
	now := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)

	next := NextRunAfter(types.Frequency{Kind: types.FreqCustom, Cron: "0 */6 * * *"}, now, logger)
	assert.True(t, next.After(now))
}

func TestNextRunAfterCustomCronFallsBackToHourlyOnInvalidExpr(t *testing.T) {
	logger := zerolog.Nop()
	now := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)

	next := NextRunAfter(types.Frequency{Kind: types.FreqCustom, Cron: "not a cron expr"}, now, logger)
	assert.Equal(t, now.Add(time.Hour), next)
}
