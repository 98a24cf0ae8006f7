// Package governor computes how many machines may be draining at once,
// driven by fleet-wide idle/running job counts and the inhibit-file flag.
package governor

import (
	"github.com/stfc-ral/condor-defrag/pkg/cyclectx"
	"github.com/stfc-ral/condor-defrag/pkg/types"
)

// Budget is the governor's per-cycle output.
type Budget struct {
	// MaxDraining is the ceiling on concurrently-draining machines.
	MaxDraining int

	// DrainAllowed is false when the inhibit file is present; no new
	// drains are started regardless of rank, even though cancel-excess
	// and ready-to-stop handling still run.
	DrainAllowed bool
}

// Compute applies the governor's threshold ladder:
//
//	inhibited                         -> 0
//	idle > IdleHigh && running > RunningHigh -> ConcLow
//	idle > IdleHigh                   -> ConcHigh
//	else                              -> ConcDefault
func Compute(counts types.JobCounts, inhibited bool, tunables cyclectx.Tunables) Budget {
	if inhibited {
		return Budget{MaxDraining: 0, DrainAllowed: false}
	}

	switch {
	case counts.Idle > tunables.IdleHigh && counts.Running > tunables.RunningHigh:
		return Budget{MaxDraining: tunables.ConcLow, DrainAllowed: true}
	case counts.Idle > tunables.IdleHigh:
		return Budget{MaxDraining: tunables.ConcHigh, DrainAllowed: true}
	default:
		return Budget{MaxDraining: tunables.ConcDefault, DrainAllowed: true}
	}
}
