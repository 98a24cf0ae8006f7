// Package types holds the cycle-scoped data model shared by every component
// of the defrag controller: the fleet snapshot, per-machine classification
// decisions, and the small value types the SchedulerFacade speaks in.
//
// Every value here is materialised fresh at snapshot time and discarded at
// the end of the cycle — nothing in this package is persisted, and nothing
// here should grow cross-cycle state.
package types

import "time"

// Machine represents one worker node as seen by a single cycle.
type Machine struct {
	// Name is the fully-qualified host identifier; unique key for a cycle.
	Name string

	// TotalCPUs is the number of CPUs on the machine.
	TotalCPUs int

	// NumFree is the number of unallocated CPUs on the partitionable slot.
	NumFree int

	// NumPreemptable is the count of running preemptable jobs on this
	// machine, each accounted as 1 CPU regardless of RequestCpus.
	NumPreemptable int

	// PreemptableJobs is the ordered sequence of preemptable Job records
	// running on this machine, in the order the facade returned them.
	PreemptableJobs []Job

	// PreemptableOnly mirrors the ad's PREEMPTABLE_ONLY attribute at
	// snapshot time.
	PreemptableOnly bool
}

// TotalKillableCPUs is NumFree + NumPreemptable.
func (m Machine) TotalKillableCPUs() int {
	return m.NumFree + m.NumPreemptable
}

// Job is one running job instance on a Machine.
type Job struct {
	// JobID is the scheduler-local integer-like handle.
	JobID string

	// GlobalID is the cluster-wide unique identifier; this is what
	// membership in a PreemptableSet and remove_job operate on.
	GlobalID string

	// StartTime is the wall-clock instant the job entered its current
	// activity (EnteredCurrentActivity in condor terms).
	StartTime time.Time

	// Schedd is the identifier of the schedd that owns this job, needed
	// to route the remove action to the right collector/schedd pair.
	Schedd string
}

// JobCounts tallies multicore (RequestCpus>1) jobs across all schedds in a
// cycle.
type JobCounts struct {
	Running int
	Idle    int
}

// PreemptableSet is the set of global job identifiers currently marked
// preemptable, accumulated across all schedds. Duplicates collapse.
type PreemptableSet map[string]struct{}

// NewPreemptableSet builds a PreemptableSet from a slice of global IDs.
func NewPreemptableSet(ids ...string) PreemptableSet {
	set := make(PreemptableSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Add inserts a global ID into the set.
func (s PreemptableSet) Add(id string) {
	s[id] = struct{}{}
}

// Has reports whether id is a member of the set.
func (s PreemptableSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// StartdAd is the subset of a startd partitionable-slot ad the classifier
// needs. It is the facade's output shape, deliberately flat rather than an
// opaque ClassAd — the classifier must not know how ads are queried or
// represented on the wire.
type StartdAd struct {
	Machine            string
	Partitionable      bool
	HasPreemptableOnly bool
	PreemptableOnly    bool
	NodeIsHealthy      bool
	StartJobs          bool
	ShouldHibernate    bool
	KillSignal         bool
	EfficientDrain     bool
	TotalCPUs          int
	NumFree            int
}

// Bucket names the three mutually-exclusive buckets a machine can land in
// during classification.
type Bucket string

const (
	BucketDrainable        Bucket = "drainable"
	BucketAlreadyDraining  Bucket = "already_draining"
	BucketReadyToStopDrain Bucket = "ready_to_stop_draining"
)

// Decision is the tagged-variant classification result for one machine.
// Rank is only meaningful when Bucket == BucketDrainable; callers must not
// read it otherwise.
type Decision struct {
	Bucket  Bucket
	Machine Machine
	Rank    float64
}
