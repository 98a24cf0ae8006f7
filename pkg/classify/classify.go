// Package classify implements the per-machine classification cascade:
// eligibility gate, reachability and hibernation/fast-drain/efficient-empty
// guards, running-job accounting, and bucketing with rank.
package classify

import (
	"context"
	"sort"

	"github.com/stfc-ral/condor-defrag/pkg/cyclectx"
	"github.com/stfc-ral/condor-defrag/pkg/facade"
	"github.com/stfc-ral/condor-defrag/pkg/log"
	"github.com/stfc-ral/condor-defrag/pkg/types"
)

// Classify runs the full cascade for one startd ad. The second return
// value is false for "skip, no action" so callers never have to
// distinguish a zero-value Decision from a real one.
func Classify(ctx context.Context, sctx *cyclectx.Context, collector facade.Collector, ad types.StartdAd, preemptable types.PreemptableSet) (types.Decision, bool) {
	logger := log.WithMachine(sctx.Logger, ad.Machine)

	if !ad.Partitionable || !ad.HasPreemptableOnly || !ad.NodeIsHealthy || !ad.StartJobs {
		return types.Decision{}, false
	}

	ok, err := sctx.Prober.Probe(ctx, ad.Machine)
	if err != nil {
		logger.Warn().Err(err).Msg("reachability probe errored, treating as unreachable")
		return types.Decision{}, false
	}
	if !ok {
		return types.Decision{}, false
	}

	totalCPUs := ad.TotalCPUs
	numFree := ad.NumFree

	if ad.ShouldHibernate && numFree == totalCPUs {
		return types.Decision{}, false
	}

	if ad.KillSignal {
		return types.Decision{}, false
	}

	if ad.EfficientDrain {
		return types.Decision{}, false
	}

	jobs, err := sctx.Facade.ListRunningJobs(ctx, collector, ad.Machine)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to fetch running jobs, skipping machine this cycle")
		return types.Decision{}, false
	}
	if len(jobs) == 0 {
		return types.Decision{}, false
	}

	var numPreemptable int
	var preemptableJobs []types.Job
	for _, job := range jobs {
		if preemptable.Has(job.GlobalID) {
			numPreemptable++
			preemptableJobs = append(preemptableJobs, job)
		}
	}

	machine := types.Machine{
		Name:            ad.Machine,
		TotalCPUs:       totalCPUs,
		NumFree:         numFree,
		NumPreemptable:  numPreemptable,
		PreemptableJobs: preemptableJobs,
		PreemptableOnly: ad.PreemptableOnly,
	}

	totalKillable := machine.TotalKillableCPUs()

	switch {
	case totalKillable >= sctx.Tunables.TargetCPUs:
		return types.Decision{Bucket: types.BucketReadyToStopDrain, Machine: machine}, true
	case ad.PreemptableOnly:
		return types.Decision{Bucket: types.BucketAlreadyDraining, Machine: machine}, true
	default:
		rank := float64(machine.TotalCPUs-totalKillable) / float64(sctx.Tunables.TargetCPUs-totalKillable)
		return types.Decision{Bucket: types.BucketDrainable, Machine: machine, Rank: rank}, true
	}
}

// ClassifyAll runs Classify over every ad in startds, returning only the
// decisions that were not skipped. Order of the input is preserved within
// each resulting bucket so callers can break rank/total_killable ties by
// the facade's original listing order.
func ClassifyAll(ctx context.Context, sctx *cyclectx.Context, collector facade.Collector, startds []types.StartdAd, preemptable types.PreemptableSet) []types.Decision {
	decisions := make([]types.Decision, 0, len(startds))
	for _, ad := range startds {
		if decision, ok := Classify(ctx, sctx, collector, ad, preemptable); ok {
			decisions = append(decisions, decision)
		}
	}
	return decisions
}

// Drainable extracts the drainable-bucket decisions from decisions, sorted
// by rank descending.
func Drainable(decisions []types.Decision) []types.Decision {
	var out []types.Decision
	for _, d := range decisions {
		if d.Bucket == types.BucketDrainable {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank > out[j].Rank })
	return out
}

// AlreadyDraining extracts the already-draining decisions, sorted by
// total killable CPUs ascending.
func AlreadyDraining(decisions []types.Decision) []types.Decision {
	var out []types.Decision
	for _, d := range decisions {
		if d.Bucket == types.BucketAlreadyDraining {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Machine.TotalKillableCPUs() < out[j].Machine.TotalKillableCPUs()
	})
	return out
}

// ReadyToStopDraining extracts the ready-to-stop-draining decisions in
// their original order; machine-to-machine ordering between them doesn't
// matter, only the per-machine job ordering applied when acting on one.
func ReadyToStopDraining(decisions []types.Decision) []types.Decision {
	var out []types.Decision
	for _, d := range decisions {
		if d.Bucket == types.BucketReadyToStopDrain {
			out = append(out, d)
		}
	}
	return out
}
