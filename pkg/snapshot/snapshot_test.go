package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stfc-ral/condor-defrag/pkg/cyclectx"
	"github.com/stfc-ral/condor-defrag/pkg/facade"
	"github.com/stfc-ral/condor-defrag/pkg/types"
)

func newTestContext(fake *facade.Fake) *cyclectx.Context {
	return &cyclectx.Context{
		Logger:   zerolog.Nop(),
		Facade:   fake,
		Tunables: cyclectx.DefaultTunables(),
	}
}

func TestCollect_FatalOnUnreachableCollector(t *testing.T) {
	fake := facade.NewFake()
	fake.CollectorUnreachable = true

	_, err := Collect(context.Background(), newTestContext(fake))
	require.Error(t, err)
	var fatal *FatalError
	require.True(t, errors.As(err, &fatal))
	assert.ErrorIs(t, fatal.Unwrap(), facade.ErrUnreachable)
}

func TestCollect_FatalOnNoSchedds(t *testing.T) {
	fake := facade.NewFake()
	fake.NoSchedds = true

	_, err := Collect(context.Background(), newTestContext(fake))
	require.Error(t, err)
	var fatal *FatalError
	require.True(t, errors.As(err, &fatal))
	assert.ErrorIs(t, fatal.Unwrap(), facade.ErrNoSchedds)
}

// TestCollect_EmptyFleet: the collector is fine and schedds are known, but
// no startds match the filter, so there is no fleet to act on.
func TestCollect_EmptyFleet(t *testing.T) {
	fake := facade.NewFake()
	fake.ScheddHosts = []string{"schedd-1"}

	_, err := Collect(context.Background(), newTestContext(fake))
	require.Error(t, err)
	var fatal *FatalError
	require.True(t, errors.As(err, &fatal))
	assert.ErrorIs(t, fatal.Unwrap(), ErrNoStartds)
}

// TestCollect_RecoverableScheddErrorsContributeZero checks that a single
// failing schedd degrades to (0,0)/empty rather than aborting the snapshot.
func TestCollect_RecoverableScheddErrorsContributeZero(t *testing.T) {
	fake := facade.NewFake()
	fake.ScheddHosts = []string{"schedd-ok", "schedd-bad"}
	fake.Startds = []types.StartdAd{{Machine: "node-a"}}
	fake.RunningIdle["schedd-ok"] = types.JobCounts{Running: 5, Idle: 3}
	fake.PreemptableIDs["schedd-ok"] = []string{"g1", "g2"}
	fake.UnreachableSchedds["schedd-bad"] = true

	snap, err := Collect(context.Background(), newTestContext(fake))
	require.NoError(t, err)
	assert.Equal(t, types.JobCounts{Running: 5, Idle: 3}, snap.Counts)
	assert.True(t, snap.Preemptable.Has("g1"))
	assert.True(t, snap.Preemptable.Has("g2"))
	assert.Len(t, snap.Preemptable, 2)
}

func TestCollect_PreemptableSetDedupesAcrossSchedds(t *testing.T) {
	fake := facade.NewFake()
	fake.ScheddHosts = []string{"schedd-1", "schedd-2"}
	fake.Startds = []types.StartdAd{{Machine: "node-a"}}
	fake.PreemptableIDs["schedd-1"] = []string{"shared", "a"}
	fake.PreemptableIDs["schedd-2"] = []string{"shared", "b"}

	snap, err := Collect(context.Background(), newTestContext(fake))
	require.NoError(t, err)
	assert.Len(t, snap.Preemptable, 3)
}
