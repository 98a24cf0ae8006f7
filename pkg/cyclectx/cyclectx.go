// Package cyclectx carries the state every component needs explicitly —
// logger, facade, clock, and tunables — instead of through global mutable
// module state. This also makes every component trivially mockable in
// tests.
package cyclectx

import (
	"time"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/stfc-ral/condor-defrag/pkg/facade"
	"github.com/stfc-ral/condor-defrag/pkg/reachability"
)

// Tunables holds every compile/config-time constant the controller needs.
type Tunables struct {
	// TargetCPUs is the size, in CPUs, of the multicore job this
	// controller tries to make landable.
	TargetCPUs int

	// IdleHigh/RunningHigh/ConcLow/ConcHigh/ConcDefault feed the
	// concurrency governor.
	IdleHigh    int
	RunningHigh int
	ConcLow     int
	ConcHigh    int
	ConcDefault int

	// VacateWait is the post-kill pacing sleep that gives a vacate time
	// to complete before the restore writes run.
	VacateWait time.Duration

	// PingTimeout bounds the reachability probe.
	PingTimeout time.Duration

	// StartdFilter is the opaque constraint expression passed to
	// ListStartds unchanged.
	StartdFilter string

	// InhibitFilePath is checked for existence only; its contents are
	// ignored.
	InhibitFilePath string

	// LockFilePath is the advisory single-instance lock.
	LockFilePath string

	// CollectorHost is the host the facade locates a collector on.
	CollectorHost string

	// WorkerPoolSize bounds the fan-out over per-schedd queries.
	WorkerPoolSize int
}

// DefaultTunables returns the controller's default tunable values.
func DefaultTunables() Tunables {
	return Tunables{
		TargetCPUs:      8,
		IdleHigh:        20,
		RunningHigh:     300,
		ConcLow:         20,
		ConcHigh:        60,
		ConcDefault:     2,
		VacateWait:      10 * time.Second,
		PingTimeout:     2 * time.Second,
		StartdFilter:    `RalCluster =!= "wn-cloud" && ClusterName =!= "wn-test" && RalCluster =!= "vm-nubes" && RalCluster =!= "vm-hyperv"`,
		InhibitFilePath: "/etc/nodrain",
		LockFilePath:    "/var/run/efficientDrainingRunning",
		CollectorHost:   "localhost",
		WorkerPoolSize:  16,
	}
}

// Context is the explicit, passed-everywhere bag of collaborators every
// component operates against, in place of package-global loggers and
// collectors.
type Context struct {
	Logger   zerolog.Logger
	Facade   facade.SchedulerFacade
	Prober   reachability.Prober
	Clock    clock.Clock
	Tunables Tunables
}
