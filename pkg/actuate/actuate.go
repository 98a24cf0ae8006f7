// Package actuate applies classification decisions to the fleet in three
// ordered phases: kill bursts on ready-to-stop-draining machines,
// cancellation of excess drains, and starting new drains up to the
// governor's budget.
package actuate

import (
	"context"
	"sort"

	"github.com/stfc-ral/condor-defrag/pkg/classify"
	"github.com/stfc-ral/condor-defrag/pkg/cyclectx"
	"github.com/stfc-ral/condor-defrag/pkg/facade"
	"github.com/stfc-ral/condor-defrag/pkg/governor"
	"github.com/stfc-ral/condor-defrag/pkg/log"
	"github.com/stfc-ral/condor-defrag/pkg/types"
)

// startdDaemon is the daemon name every persistent_set call targets.
const startdDaemon = "startd"

// Report tallies what one call to Apply actually did, for logging and the
// metrics textfile writer.
type Report struct {
	Started   int
	Cancelled int
	Killed    int
	Skipped   int
	Errors    []error
}

func (r *Report) addErr(err error) {
	if err != nil {
		r.Errors = append(r.Errors, err)
	}
}

// Apply runs the three phases in order against decisions, given the
// governor's budget and the number of machines already draining at the
// start of the cycle. It returns a Report of what happened.
func Apply(ctx context.Context, sctx *cyclectx.Context, collector facade.Collector, decisions []types.Decision, budget governor.Budget, currentlyDraining int) Report {
	var report Report

	readyToStop := classify.ReadyToStopDraining(decisions)
	for _, d := range readyToStop {
		applyReadyToStop(ctx, sctx, collector, d.Machine, budget, &report)
	}

	draining := classify.AlreadyDraining(decisions)
	for _, d := range draining {
		if !(currentlyDraining > budget.MaxDraining && currentlyDraining > 0) {
			break
		}
		logger := log.WithMachine(sctx.Logger, d.Machine.Name)
		if err := sctx.Facade.PersistentSet(ctx, d.Machine.Name, startdDaemon, "PREEMPTABLE_ONLY", "False"); err != nil {
			logger.Warn().Err(err).Msg("failed to cancel excess drain")
			report.addErr(err)
			continue
		}
		report.Cancelled++
		currentlyDraining--
	}

	if budget.DrainAllowed {
		drainable := classify.Drainable(decisions)
		for _, d := range drainable {
			if currentlyDraining >= budget.MaxDraining {
				break
			}
			logger := log.WithMachine(sctx.Logger, d.Machine.Name)
			if err := sctx.Facade.PersistentSet(ctx, d.Machine.Name, startdDaemon, "PREEMPTABLE_ONLY", "True"); err != nil {
				logger.Warn().Err(err).Msg("failed to start drain")
				report.addErr(err)
				continue
			}
			report.Started++
			currentlyDraining++
		}
	}

	return report
}

// applyReadyToStop handles one ready-to-stop-draining machine: an optional
// kill burst followed by an unconditional restore.
func applyReadyToStop(ctx context.Context, sctx *cyclectx.Context, collector facade.Collector, machine types.Machine, budget governor.Budget, report *Report) {
	logger := log.WithMachine(sctx.Logger, machine.Name)

	jobs := append([]types.Job(nil), machine.PreemptableJobs...)
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].StartTime.After(jobs[j].StartTime) })

	totalKillable := machine.TotalKillableCPUs()
	killThisMany := sctx.Tunables.TargetCPUs*(totalKillable/sctx.Tunables.TargetCPUs) - machine.NumFree
	if killThisMany < 0 {
		killThisMany = 0
	}
	if killThisMany > len(jobs) {
		killThisMany = len(jobs)
	}

	if killThisMany > 0 && budget.DrainAllowed {
		if err := sctx.Facade.PersistentSet(ctx, machine.Name, startdDaemon, "StartJobs", "False"); err != nil {
			logger.Warn().Err(err).Msg("failed to quiesce node before kill burst")
			report.addErr(err)
		}

		killed := 0
		for _, job := range jobs[:killThisMany] {
			if err := sctx.Facade.RemoveJob(ctx, collector, job.Schedd, job.GlobalID); err != nil {
				logger.Warn().Err(err).Str("job", job.GlobalID).Msg("failed to remove preemptable job")
				report.addErr(err)
				continue
			}
			killed++
		}
		report.Killed += killed

		sctx.Clock.Sleep(sctx.Tunables.VacateWait)
	} else {
		report.Skipped++
	}

	if err := sctx.Facade.PersistentSet(ctx, machine.Name, startdDaemon, "PREEMPTABLE_ONLY", "False"); err != nil {
		logger.Error().Err(err).Msg("failed to restore PREEMPTABLE_ONLY, node may stay offline")
		report.addErr(err)
	}
	if err := sctx.Facade.PersistentSet(ctx, machine.Name, startdDaemon, "StartJobs", "True"); err != nil {
		logger.Error().Err(err).Msg("failed to restore StartJobs, node may stay offline")
		report.addErr(err)
	}
}
