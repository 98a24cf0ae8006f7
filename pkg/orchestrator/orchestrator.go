// Package orchestrator drives a single cycle end to end: acquire the
// single-instance lock, snapshot the fleet, classify every machine, compute
// the concurrency budget, actuate, publish metrics, and report a distinct
// exit code for each fatal outcome.
package orchestrator

import (
	"context"
	"errors"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stfc-ral/condor-defrag/pkg/actuate"
	"github.com/stfc-ral/condor-defrag/pkg/classify"
	"github.com/stfc-ral/condor-defrag/pkg/cyclectx"
	"github.com/stfc-ral/condor-defrag/pkg/facade"
	"github.com/stfc-ral/condor-defrag/pkg/governor"
	"github.com/stfc-ral/condor-defrag/pkg/lock"
	"github.com/stfc-ral/condor-defrag/pkg/log"
	"github.com/stfc-ral/condor-defrag/pkg/metrics"
	"github.com/stfc-ral/condor-defrag/pkg/snapshot"
	"github.com/stfc-ral/condor-defrag/pkg/types"
)

// ExitCode enumerates the distinct non-zero exit codes a cycle can report.
type ExitCode int

const (
	ExitOK ExitCode = iota
	ExitLockHeld
	ExitCollectorUnreachable
	ExitNoSchedds
	ExitNoStartds
)

// MetricsTextfilePath is the default location for the node_exporter
// textfile-collector output. Empty disables writing it.
var MetricsTextfilePath = "/var/lib/node_exporter/textfile_collector/condor_defrag.prom"

// Run executes exactly one cycle using sctx, acquiring the advisory lock
// at sctx.Tunables.LockFilePath first. It returns the exit code main
// should use; errors are already logged by the time Run returns.
func Run(ctx context.Context, sctx *cyclectx.Context) ExitCode {
	cycleID := uuid.NewString()
	logger := log.WithCycle(sctx.Logger, cycleID)
	sctx.Logger = logger

	l, err := lock.Acquire(sctx.Tunables.LockFilePath)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			logger.Error().Msg("another instance holds the lock, exiting")
			return ExitLockHeld
		}
		logger.Error().Err(err).Msg("failed to acquire lock")
		return ExitLockHeld
	}
	defer l.Release()

	timer := metrics.NewTimer()
	logger.Info().Msg("cycle starting")

	_, statErr := os.Stat(sctx.Tunables.InhibitFilePath)
	inhibitPresent := statErr == nil

	snap, err := snapshot.Collect(ctx, sctx)
	if err != nil {
		var fatal *snapshot.FatalError
		if errors.As(err, &fatal) {
			switch {
			case errors.Is(fatal.Unwrap(), facade.ErrUnreachable):
				logger.Error().Err(err).Msg("collector unreachable, aborting cycle")
				metrics.CyclesTotal.WithLabelValues("collector_unreachable").Inc()
				return ExitCollectorUnreachable
			case errors.Is(fatal.Unwrap(), facade.ErrNoSchedds):
				logger.Error().Err(err).Msg("no schedds discovered, aborting cycle")
				metrics.CyclesTotal.WithLabelValues("no_schedds").Inc()
				return ExitNoSchedds
			case errors.Is(fatal.Unwrap(), snapshot.ErrNoStartds):
				logger.Error().Err(err).Msg("no startds matched the filter, aborting cycle")
				metrics.CyclesTotal.WithLabelValues("no_startds").Inc()
				return ExitNoStartds
			default:
				logger.Error().Err(err).Msg("fatal snapshot error, aborting cycle")
				metrics.CyclesTotal.WithLabelValues("fatal").Inc()
				return ExitCollectorUnreachable
			}
		}
		logger.Error().Err(err).Msg("unexpected snapshot error, aborting cycle")
		metrics.CyclesTotal.WithLabelValues("fatal").Inc()
		return ExitCollectorUnreachable
	}

	decisions := classify.ClassifyAll(ctx, sctx, snap.Collector, snap.Startds, snap.Preemptable)
	logBuckets(logger, decisions)

	budget := governor.Compute(snap.Counts, inhibitPresent, sctx.Tunables)
	logger.Info().
		Int("idle", snap.Counts.Idle).
		Int("running", snap.Counts.Running).
		Bool("inhibited", inhibitPresent).
		Int("max_draining", budget.MaxDraining).
		Msg("computed concurrency budget")

	currentlyDraining := len(classify.AlreadyDraining(decisions))

	report := actuate.Apply(ctx, sctx, snap.Collector, decisions, budget, currentlyDraining)

	finalDraining := currentlyDraining - report.Cancelled + report.Started
	if finalDraining != budget.MaxDraining {
		logger.Warn().
			Int("currently_draining", finalDraining).
			Int("max_draining", budget.MaxDraining).
			Msg("draining count does not match budget at cycle end")
	}

	recordMetrics(snap, decisions, budget, report)

	timer.ObserveDuration(metrics.CycleDuration)
	metrics.LastCycleTimestamp.SetToCurrentTime()
	metrics.CyclesTotal.WithLabelValues("ok").Inc()

	if MetricsTextfilePath != "" {
		if err := metrics.WriteTextfile(MetricsTextfilePath); err != nil {
			logger.Warn().Err(err).Msg("failed to write metrics textfile")
		}
	}

	logger.Info().
		Int("drainable", len(classify.Drainable(decisions))).
		Int("already_draining", len(classify.AlreadyDraining(decisions))).
		Int("ready_to_stop", len(classify.ReadyToStopDraining(decisions))).
		Int("started", report.Started).
		Int("cancelled", report.Cancelled).
		Int("killed", report.Killed).
		Int("errors", len(report.Errors)).
		Msg("cycle complete")

	return ExitOK
}

// logBuckets emits the bucket membership before any action is taken, so an
// operator can see from the log what the cycle was about to do.
func logBuckets(logger zerolog.Logger, decisions []types.Decision) {
	for _, d := range classify.Drainable(decisions) {
		logger.Info().
			Str("machine", d.Machine.Name).
			Float64("rank", d.Rank).
			Msg("machine can be drained")
	}
	for _, d := range classify.ReadyToStopDraining(decisions) {
		logger.Info().
			Str("machine", d.Machine.Name).
			Int("total_killable_cpus", d.Machine.TotalKillableCPUs()).
			Msg("machine has enough killable CPUs")
	}
	for _, d := range classify.AlreadyDraining(decisions) {
		logger.Info().
			Str("machine", d.Machine.Name).
			Msg("machine is draining")
	}
}

func recordMetrics(snap *snapshot.Snapshot, decisions []types.Decision, budget governor.Budget, report actuate.Report) {
	metrics.MulticoreJobCounts.WithLabelValues("idle").Set(float64(snap.Counts.Idle))
	metrics.MulticoreJobCounts.WithLabelValues("running").Set(float64(snap.Counts.Running))

	metrics.MachinesByBucket.WithLabelValues(string(types.BucketDrainable)).Set(float64(len(classify.Drainable(decisions))))
	metrics.MachinesByBucket.WithLabelValues(string(types.BucketAlreadyDraining)).Set(float64(len(classify.AlreadyDraining(decisions))))
	metrics.MachinesByBucket.WithLabelValues(string(types.BucketReadyToStopDrain)).Set(float64(len(classify.ReadyToStopDraining(decisions))))

	metrics.MaxDraining.Set(float64(budget.MaxDraining))
	if budget.DrainAllowed {
		metrics.DrainAllowed.Set(1)
	} else {
		metrics.DrainAllowed.Set(0)
	}

	metrics.DrainsStarted.Add(float64(report.Started))
	metrics.DrainsCancelled.Add(float64(report.Cancelled))
	metrics.JobsKilled.Add(float64(report.Killed))
	metrics.ActuationErrors.Add(float64(len(report.Errors)))
}
