// Package facade hides the batch scheduler's wire protocol behind a small
// capability interface. Every other package in this module talks to the
// fleet only through SchedulerFacade; none of them may assume how a query
// or an action is actually expressed on the wire.
package facade

import (
	"context"
	"errors"

	"github.com/stfc-ral/condor-defrag/pkg/types"
)

// Sentinel errors for the failure kinds that are fatal to a whole cycle.
// Recoverable per-schedd/per-machine failures are returned as plain
// wrapped errors — callers (pkg/snapshot, pkg/classify) decide locally
// whether to skip.
var (
	// ErrUnreachable is returned by LocateCollector when the collector
	// rejects a trivial self-query.
	ErrUnreachable = errors.New("facade: collector unreachable")

	// ErrNoSchedds is returned by ListScheddHosts when the collector
	// reports zero schedd hosts.
	ErrNoSchedds = errors.New("facade: no schedds found")

	// ErrQueryIO is returned by ListStartds on a transport error; this one
	// is fatal (there is no fleet to act on), unlike the per-schedd and
	// per-machine queries which degrade gracefully instead.
	ErrQueryIO = errors.New("facade: query I/O error")
)

// Collector identifies the condor collector this cycle talks to. It carries
// no behavior of its own — it is a plain address the facade implementation
// resolves however its backend requires.
type Collector struct {
	Host string
	Port int
}

// SchedulerFacade is the abstract capability set a cycle needs: discovery,
// ad queries, job removal, and persistent configuration writes.
type SchedulerFacade interface {
	// LocateCollector resolves the collector at host and confirms it is
	// reachable. Failure is fatal for the cycle (ErrUnreachable).
	LocateCollector(ctx context.Context, host string) (Collector, error)

	// ListScheddHosts returns every schedd host known to the collector.
	// An empty result is fatal for the cycle (ErrNoSchedds).
	ListScheddHosts(ctx context.Context, c Collector) ([]string, error)

	// ListStartds returns startd ads matching constraint, an opaque
	// filter expression passed through unchanged. Transport failure is
	// fatal (ErrQueryIO).
	ListStartds(ctx context.Context, c Collector, constraint string) ([]types.StartdAd, error)

	// ListRunningIdleMulticore returns the running/idle RequestCpus>1 job
	// counts for one schedd. Failure is recoverable — the caller should
	// treat this schedd's contribution as zero and continue.
	ListRunningIdleMulticore(ctx context.Context, c Collector, scheddHost string) (types.JobCounts, error)

	// ListPreemptableJobIDs returns the global IDs of jobs this schedd
	// currently marks preemptable. Failure is recoverable.
	ListPreemptableJobIDs(ctx context.Context, c Collector, scheddHost string) ([]string, error)

	// ListRunningJobs returns the jobs currently running on machineName.
	// Failure is recoverable per-machine — skip that machine this cycle.
	ListRunningJobs(ctx context.Context, c Collector, machineName string) ([]types.Job, error)

	// RemoveJob issues an abstract "remove" action for globalID, routed to
	// the schedd that owns it.
	RemoveJob(ctx context.Context, c Collector, scheddHost, globalID string) error

	// PersistentSet atomically writes a persistent configuration pair on
	// the named host's daemon and triggers a reconfiguration, so the value
	// survives a reboot of that node.
	PersistentSet(ctx context.Context, machineName, daemon, key, value string) error
}
