// Package snapshot builds the one-shot fleet collection a cycle needs: job
// counts, the preemptable set, and the filtered startd ad list, all
// gathered in a single pass at the start of a cycle.
package snapshot

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/stfc-ral/condor-defrag/pkg/cyclectx"
	"github.com/stfc-ral/condor-defrag/pkg/facade"
	"github.com/stfc-ral/condor-defrag/pkg/log"
	"github.com/stfc-ral/condor-defrag/pkg/types"
)

// Snapshot is the cycle-scoped fleet state the classifier and governor need.
type Snapshot struct {
	Counts      types.JobCounts
	Preemptable types.PreemptableSet
	Startds     []types.StartdAd
	Collector   facade.Collector
}

// ErrNoStartds is returned (wrapped in a FatalError) when the collector is
// reachable but no startd ads match the filter: there is no fleet to act on.
var ErrNoStartds = errors.New("snapshot: no startds matched filter")

// FatalError wraps the fatal-to-cycle failures: collector unreachable, no
// schedds, an empty fleet, or a startd listing transport error.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Collect builds a Snapshot. Collector/startd failures are fatal (wrapped
// in FatalError); per-schedd query failures degrade that schedd's
// contribution to zero and are only logged.
func Collect(ctx context.Context, sctx *cyclectx.Context) (*Snapshot, error) {
	logger := log.WithComponent("snapshot")

	collector, err := sctx.Facade.LocateCollector(ctx, sctx.Tunables.CollectorHost)
	if err != nil {
		return nil, &FatalError{Err: fmt.Errorf("locating collector: %w", err)}
	}

	scheddHosts, err := sctx.Facade.ListScheddHosts(ctx, collector)
	if err != nil {
		return nil, &FatalError{Err: fmt.Errorf("listing schedd hosts: %w", err)}
	}

	startds, err := sctx.Facade.ListStartds(ctx, collector, sctx.Tunables.StartdFilter)
	if err != nil {
		return nil, &FatalError{Err: fmt.Errorf("listing startds: %w", err)}
	}
	if len(startds) == 0 {
		return nil, &FatalError{Err: fmt.Errorf("%w: %q", ErrNoStartds, sctx.Tunables.StartdFilter)}
	}

	snap := &Snapshot{
		Preemptable: types.NewPreemptableSet(),
		Startds:     startds,
		Collector:   collector,
	}

	poolSize := sctx.Tunables.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 16
	}
	sem := semaphore.NewWeighted(int64(poolSize))

	type scheddResult struct {
		host        string
		counts      types.JobCounts
		preemptable []string
	}
	results := make([]scheddResult, len(scheddHosts))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, host := range scheddHosts {
		group.Go(func() error {
			if err := sem.Acquire(groupCtx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)

			counts, err := sctx.Facade.ListRunningIdleMulticore(groupCtx, collector, host)
			if err != nil {
				logger.Warn().Err(err).Str("schedd", host).Msg("failed to query running/idle multicore jobs, treating as (0,0)")
			} else {
				results[i].counts = counts
			}

			ids, err := sctx.Facade.ListPreemptableJobIDs(groupCtx, collector, host)
			if err != nil {
				logger.Warn().Err(err).Str("schedd", host).Msg("failed to query preemptable job ids, treating as empty")
			} else {
				results[i].preemptable = ids
			}

			results[i].host = host
			return nil
		})
	}
	// Every function passed to group.Go above returns nil, so Wait returns
	// nil; a cancelled context only leaves the affected schedds contributing
	// zero.
	if err := group.Wait(); err != nil {
		return nil, &FatalError{Err: fmt.Errorf("collecting schedd state: %w", err)}
	}

	for _, r := range results {
		snap.Counts.Running += r.counts.Running
		snap.Counts.Idle += r.counts.Idle
		for _, id := range r.preemptable {
			snap.Preemptable.Add(id)
		}
	}

	return snap, nil
}
