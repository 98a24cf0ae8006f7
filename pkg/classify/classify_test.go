package classify

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stfc-ral/condor-defrag/pkg/cyclectx"
	"github.com/stfc-ral/condor-defrag/pkg/facade"
	"github.com/stfc-ral/condor-defrag/pkg/reachability"
	"github.com/stfc-ral/condor-defrag/pkg/types"
)

func baseAd(machine string) types.StartdAd {
	return types.StartdAd{
		Machine:            machine,
		Partitionable:      true,
		HasPreemptableOnly: true,
		NodeIsHealthy:      true,
		StartJobs:          true,
		TotalCPUs:          16,
		NumFree:            2,
	}
}

func newTestContext(fake *facade.Fake, unreachable ...string) *cyclectx.Context {
	return &cyclectx.Context{
		Logger:   zerolog.Nop(),
		Facade:   fake,
		Prober:   reachability.NewFakeProber(unreachable...),
		Tunables: cyclectx.DefaultTunables(),
	}
}

func TestClassify_EligibilityGate(t *testing.T) {
	tests := []struct {
		name string
		ad   types.StartdAd
	}{
		{"not partitionable", types.StartdAd{Machine: "a", HasPreemptableOnly: true, NodeIsHealthy: true, StartJobs: true}},
		{"missing preemptable_only attribute", types.StartdAd{Machine: "a", Partitionable: true, NodeIsHealthy: true, StartJobs: true}},
		{"unhealthy", types.StartdAd{Machine: "a", Partitionable: true, HasPreemptableOnly: true, StartJobs: true}},
		{"not startable", types.StartdAd{Machine: "a", Partitionable: true, HasPreemptableOnly: true, NodeIsHealthy: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := facade.NewFake()
			sctx := newTestContext(fake)
			_, ok := Classify(context.Background(), sctx, facade.Collector{}, tt.ad, types.NewPreemptableSet())
			assert.False(t, ok)
		})
	}
}

func TestClassify_Unreachable(t *testing.T) {
	fake := facade.NewFake()
	sctx := newTestContext(fake, "node-a")
	_, ok := Classify(context.Background(), sctx, facade.Collector{}, baseAd("node-a"), types.NewPreemptableSet())
	assert.False(t, ok)
}

func TestClassify_HibernationGuard(t *testing.T) {
	ad := baseAd("node-a")
	ad.ShouldHibernate = true
	ad.NumFree = ad.TotalCPUs // fully empty

	fake := facade.NewFake()
	sctx := newTestContext(fake)
	_, ok := Classify(context.Background(), sctx, facade.Collector{}, ad, types.NewPreemptableSet())
	assert.False(t, ok)
}

func TestClassify_HibernationGuardRequiresTrueIdleness(t *testing.T) {
	ad := baseAd("node-a")
	ad.ShouldHibernate = true
	// num_free != total_cpus: child slots are busy, so hibernation does not skip.
	fake := facade.NewFake()
	fake.RunningJobs["node-a"] = []types.Job{{JobID: "1", GlobalID: "g1", Schedd: "schedd-1", StartTime: time.Now()}}
	sctx := newTestContext(fake)
	_, ok := Classify(context.Background(), sctx, facade.Collector{}, ad, types.NewPreemptableSet())
	assert.True(t, ok)
}

func TestClassify_FastDrainGuard(t *testing.T) {
	ad := baseAd("node-a")
	ad.KillSignal = true
	fake := facade.NewFake()
	sctx := newTestContext(fake)
	_, ok := Classify(context.Background(), sctx, facade.Collector{}, ad, types.NewPreemptableSet())
	assert.False(t, ok)
}

func TestClassify_EfficientEmptyGuard(t *testing.T) {
	ad := baseAd("node-a")
	ad.EfficientDrain = true
	fake := facade.NewFake()
	sctx := newTestContext(fake)
	_, ok := Classify(context.Background(), sctx, facade.Collector{}, ad, types.NewPreemptableSet())
	assert.False(t, ok)
}

func TestClassify_NoRunningJobsSkips(t *testing.T) {
	ad := baseAd("node-a")
	fake := facade.NewFake()
	sctx := newTestContext(fake)
	_, ok := Classify(context.Background(), sctx, facade.Collector{}, ad, types.NewPreemptableSet())
	assert.False(t, ok)
}

// TestClassify_PureDrainStart: two healthy nodes, neither with enough
// killable CPUs, ranked with the bigger node first.
func TestClassify_PureDrainStart(t *testing.T) {
	adA := baseAd("node-a")
	adA.TotalCPUs, adA.NumFree = 16, 2

	adB := baseAd("node-b")
	adB.TotalCPUs, adB.NumFree = 32, 0

	fake := facade.NewFake()
	fake.RunningJobs["node-a"] = []types.Job{{JobID: "1", GlobalID: "pa1", Schedd: "schedd-1", StartTime: time.Now()}}
	fake.RunningJobs["node-b"] = []types.Job{
		{JobID: "1", GlobalID: "pb1", Schedd: "schedd-1", StartTime: time.Now()},
		{JobID: "2", GlobalID: "pb2", Schedd: "schedd-1", StartTime: time.Now()},
		{JobID: "3", GlobalID: "pb3", Schedd: "schedd-1", StartTime: time.Now()},
	}
	preemptable := types.NewPreemptableSet("pa1", "pb1", "pb2", "pb3")

	sctx := newTestContext(fake)

	decisionA, okA := Classify(context.Background(), sctx, facade.Collector{}, adA, preemptable)
	require.True(t, okA)
	decisionB, okB := Classify(context.Background(), sctx, facade.Collector{}, adB, preemptable)
	require.True(t, okB)

	assert.Equal(t, types.BucketDrainable, decisionA.Bucket)
	assert.InDelta(t, 2.6, decisionA.Rank, 0.0001)

	assert.Equal(t, types.BucketDrainable, decisionB.Bucket)
	assert.InDelta(t, 5.8, decisionB.Rank, 0.0001)

	ordered := Drainable([]types.Decision{decisionA, decisionB})
	require.Len(t, ordered, 2)
	assert.Equal(t, "node-b", ordered[0].Machine.Name)
	assert.Equal(t, "node-a", ordered[1].Machine.Name)
}

// TestClassify_ReadyToStop: enough killable CPUs for a full multicore job.
func TestClassify_ReadyToStop(t *testing.T) {
	ad := baseAd("node-c")
	ad.TotalCPUs, ad.NumFree, ad.PreemptableOnly = 16, 6, true

	fake := facade.NewFake()
	now := time.Now()
	fake.RunningJobs["node-c"] = []types.Job{
		{JobID: "1", GlobalID: "g1", Schedd: "schedd-1", StartTime: now},
		{JobID: "2", GlobalID: "g2", Schedd: "schedd-1", StartTime: now},
		{JobID: "3", GlobalID: "g3", Schedd: "schedd-1", StartTime: now},
		{JobID: "4", GlobalID: "g4", Schedd: "schedd-1", StartTime: now},
	}
	preemptable := types.NewPreemptableSet("g1", "g2", "g3", "g4")

	sctx := newTestContext(fake)
	decision, ok := Classify(context.Background(), sctx, facade.Collector{}, ad, preemptable)
	require.True(t, ok)
	assert.Equal(t, types.BucketReadyToStopDrain, decision.Bucket)
	assert.Equal(t, 10, decision.Machine.TotalKillableCPUs())
}

func TestClassify_AlreadyDraining(t *testing.T) {
	ad := baseAd("node-d")
	ad.TotalCPUs, ad.NumFree, ad.PreemptableOnly = 16, 2, true

	fake := facade.NewFake()
	fake.RunningJobs["node-d"] = []types.Job{{JobID: "1", GlobalID: "g1", Schedd: "schedd-1", StartTime: time.Now()}}
	preemptable := types.NewPreemptableSet("g1")

	sctx := newTestContext(fake)
	decision, ok := Classify(context.Background(), sctx, facade.Collector{}, ad, preemptable)
	require.True(t, ok)
	assert.Equal(t, types.BucketAlreadyDraining, decision.Bucket)
}
