package actuate

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/stfc-ral/condor-defrag/pkg/cyclectx"
	"github.com/stfc-ral/condor-defrag/pkg/facade"
	"github.com/stfc-ral/condor-defrag/pkg/governor"
	"github.com/stfc-ral/condor-defrag/pkg/reachability"
	"github.com/stfc-ral/condor-defrag/pkg/types"
)

func newTestContext(fake *facade.Fake) *cyclectx.Context {
	return &cyclectx.Context{
		Logger:   zerolog.Nop(),
		Facade:   fake,
		Prober:   reachability.NewFakeProber(),
		Clock:    clocktesting.NewFakeClock(time.Now()),
		Tunables: cyclectx.DefaultTunables(),
	}
}

// TestApply_ReadyToStopKillBurst: total_killable=10, num_free=6 means two
// jobs must die to reach a full multiple of 8 free CPUs, newest first, then
// the unconditional restore writes.
func TestApply_ReadyToStopKillBurst(t *testing.T) {
	now := time.Now()
	machine := types.Machine{
		Name:           "node-c",
		TotalCPUs:      16,
		NumFree:        6,
		NumPreemptable: 4,
		PreemptableJobs: []types.Job{
			{GlobalID: "g1", Schedd: "schedd-1", StartTime: now.Add(-4 * time.Hour)},
			{GlobalID: "g2", Schedd: "schedd-1", StartTime: now.Add(-1 * time.Hour)},
			{GlobalID: "g3", Schedd: "schedd-1", StartTime: now.Add(-3 * time.Hour)},
			{GlobalID: "g4", Schedd: "schedd-1", StartTime: now.Add(-2 * time.Hour)},
		},
	}
	decisions := []types.Decision{{Bucket: types.BucketReadyToStopDrain, Machine: machine}}

	fake := facade.NewFake()
	sctx := newTestContext(fake)
	budget := governor.Budget{MaxDraining: 2, DrainAllowed: true}

	report := Apply(context.Background(), sctx, facade.Collector{}, decisions, budget, 0)

	require.Equal(t, 2, report.Killed)
	// Newest-first: g2 (1h ago) then g4 (2h ago).
	assert.Equal(t, []string{"g2", "g4"}, fake.RemovedJobs)

	require.Len(t, fake.PersistentSetCalls, 3)
	assert.Equal(t, "StartJobs", fake.PersistentSetCalls[0].Key)
	assert.Equal(t, "False", fake.PersistentSetCalls[0].Value)
	assert.Equal(t, "PREEMPTABLE_ONLY", fake.PersistentSetCalls[1].Key)
	assert.Equal(t, "False", fake.PersistentSetCalls[1].Value)
	assert.Equal(t, "StartJobs", fake.PersistentSetCalls[2].Key)
	assert.Equal(t, "True", fake.PersistentSetCalls[2].Value)
}

// Even when no jobs need killing, PREEMPTABLE_ONLY/StartJobs are rewritten;
// the value is already correct and the write is cheap.
func TestApply_ReadyToStopZeroKillStillRestores(t *testing.T) {
	machine := types.Machine{
		Name:           "node-e",
		TotalCPUs:      16,
		NumFree:        8,
		NumPreemptable: 0,
	}
	decisions := []types.Decision{{Bucket: types.BucketReadyToStopDrain, Machine: machine}}

	fake := facade.NewFake()
	sctx := newTestContext(fake)
	budget := governor.Budget{MaxDraining: 2, DrainAllowed: true}

	report := Apply(context.Background(), sctx, facade.Collector{}, decisions, budget, 0)

	assert.Equal(t, 0, report.Killed)
	assert.Equal(t, 1, report.Skipped)
	require.Len(t, fake.PersistentSetCalls, 2)
	assert.Equal(t, "PREEMPTABLE_ONLY", fake.PersistentSetCalls[0].Key)
	assert.Equal(t, "StartJobs", fake.PersistentSetCalls[1].Key)
}

// With draining inhibited the kill phase is skipped entirely, but the
// restore writes still run so the node returns to normal intake.
func TestApply_DrainNotAllowedSkipsKillButStillRestores(t *testing.T) {
	machine := types.Machine{
		Name:           "node-c",
		TotalCPUs:      16,
		NumFree:        6,
		NumPreemptable: 4,
		PreemptableJobs: []types.Job{
			{GlobalID: "g1", Schedd: "schedd-1", StartTime: time.Now()},
		},
	}
	decisions := []types.Decision{{Bucket: types.BucketReadyToStopDrain, Machine: machine}}

	fake := facade.NewFake()
	sctx := newTestContext(fake)
	budget := governor.Budget{MaxDraining: 0, DrainAllowed: false}

	report := Apply(context.Background(), sctx, facade.Collector{}, decisions, budget, 0)

	assert.Equal(t, 0, report.Killed)
	assert.Empty(t, fake.RemovedJobs)
	require.Len(t, fake.PersistentSetCalls, 2)
}

// TestApply_CancelExcessDrains: the least-killable machines are cancelled
// first until the draining count is back inside the budget.
func TestApply_CancelExcessDrains(t *testing.T) {
	decisions := []types.Decision{
		{Bucket: types.BucketAlreadyDraining, Machine: types.Machine{Name: "m1", NumFree: 5, NumPreemptable: 0}},
		{Bucket: types.BucketAlreadyDraining, Machine: types.Machine{Name: "m2", NumFree: 1, NumPreemptable: 0}},
		{Bucket: types.BucketAlreadyDraining, Machine: types.Machine{Name: "m3", NumFree: 3, NumPreemptable: 0}},
		{Bucket: types.BucketAlreadyDraining, Machine: types.Machine{Name: "m4", NumFree: 0, NumPreemptable: 0}},
		{Bucket: types.BucketAlreadyDraining, Machine: types.Machine{Name: "m5", NumFree: 2, NumPreemptable: 0}},
	}

	fake := facade.NewFake()
	sctx := newTestContext(fake)
	budget := governor.Budget{MaxDraining: 2, DrainAllowed: true}

	report := Apply(context.Background(), sctx, facade.Collector{}, decisions, budget, 5)

	require.Equal(t, 3, report.Cancelled)
	var cancelledMachines []string
	for _, c := range fake.PersistentSetCalls {
		cancelledMachines = append(cancelledMachines, c.Machine)
	}
	// Ascending total_killable_cpus order: m4(0), m2(1), m5(2).
	assert.Equal(t, []string{"m4", "m2", "m5"}, cancelledMachines)
}

// TestApply_StartNewDrains: drains start in rank-descending order up to
// the budget.
func TestApply_StartNewDrains(t *testing.T) {
	decisions := []types.Decision{
		{Bucket: types.BucketDrainable, Machine: types.Machine{Name: "node-a"}, Rank: 2.6},
		{Bucket: types.BucketDrainable, Machine: types.Machine{Name: "node-b"}, Rank: 5.8},
	}

	fake := facade.NewFake()
	sctx := newTestContext(fake)
	budget := governor.Budget{MaxDraining: 2, DrainAllowed: true}

	report := Apply(context.Background(), sctx, facade.Collector{}, decisions, budget, 0)

	require.Equal(t, 2, report.Started)
	require.Len(t, fake.PersistentSetCalls, 2)
	assert.Equal(t, "node-b", fake.PersistentSetCalls[0].Machine)
	assert.Equal(t, "node-a", fake.PersistentSetCalls[1].Machine)
	assert.Equal(t, "PREEMPTABLE_ONLY", fake.PersistentSetCalls[0].Key)
	assert.Equal(t, "True", fake.PersistentSetCalls[0].Value)
}

func TestApply_InhibitedStartsNoNewDrains(t *testing.T) {
	decisions := []types.Decision{
		{Bucket: types.BucketDrainable, Machine: types.Machine{Name: "node-a"}, Rank: 9.9},
	}

	fake := facade.NewFake()
	sctx := newTestContext(fake)
	budget := governor.Budget{MaxDraining: 0, DrainAllowed: false}

	report := Apply(context.Background(), sctx, facade.Collector{}, decisions, budget, 0)

	assert.Equal(t, 0, report.Started)
	assert.Empty(t, fake.PersistentSetCalls)
}

func TestApply_MachineFailuresAreSkippedNotFatal(t *testing.T) {
	decisions := []types.Decision{
		{Bucket: types.BucketDrainable, Machine: types.Machine{Name: "bad-node"}, Rank: 1.0},
	}

	fake := facade.NewFake()
	fake.FailingMachines["bad-node"] = true
	sctx := newTestContext(fake)
	budget := governor.Budget{MaxDraining: 2, DrainAllowed: true}

	report := Apply(context.Background(), sctx, facade.Collector{}, decisions, budget, 0)

	assert.Equal(t, 0, report.Started)
	require.Len(t, report.Errors, 1)
}
