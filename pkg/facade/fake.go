package facade

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/stfc-ral/condor-defrag/pkg/types"
)

// Fake is an in-memory SchedulerFacade for tests. It records every
// PersistentSet/RemoveJob call so tests can assert on the exact sequence
// the actuator issued.
type Fake struct {
	mu sync.Mutex

	Startds            []types.StartdAd
	ScheddHosts        []string
	RunningIdle        map[string]types.JobCounts
	PreemptableIDs     map[string][]string
	RunningJobs        map[string][]types.Job
	UnreachableSchedds map[string]bool
	FailingMachines    map[string]bool

	CollectorUnreachable bool
	NoSchedds            bool
	StartdQueryErr       bool

	PersistentSetCalls []PersistentSetCall
	RemovedJobs        []string
}

// PersistentSetCall records one PersistentSet invocation for assertions.
type PersistentSetCall struct {
	Machine string
	Daemon  string
	Key     string
	Value   string
}

// NewFake returns an empty Fake ready for a test to populate.
func NewFake() *Fake {
	return &Fake{
		RunningIdle:        make(map[string]types.JobCounts),
		PreemptableIDs:     make(map[string][]string),
		RunningJobs:        make(map[string][]types.Job),
		UnreachableSchedds: make(map[string]bool),
		FailingMachines:    make(map[string]bool),
	}
}

func (f *Fake) LocateCollector(ctx context.Context, host string) (Collector, error) {
	if f.CollectorUnreachable {
		return Collector{}, ErrUnreachable
	}
	return Collector{Host: host, Port: DefaultCollectorPort}, nil
}

func (f *Fake) ListScheddHosts(ctx context.Context, c Collector) ([]string, error) {
	if f.NoSchedds {
		return nil, ErrNoSchedds
	}
	hosts := append([]string(nil), f.ScheddHosts...)
	sort.Strings(hosts)
	return hosts, nil
}

func (f *Fake) ListStartds(ctx context.Context, c Collector, constraint string) ([]types.StartdAd, error) {
	if f.StartdQueryErr {
		return nil, ErrQueryIO
	}
	return append([]types.StartdAd(nil), f.Startds...), nil
}

func (f *Fake) ListRunningIdleMulticore(ctx context.Context, c Collector, scheddHost string) (types.JobCounts, error) {
	if f.UnreachableSchedds[scheddHost] {
		return types.JobCounts{}, fmt.Errorf("schedd %s unreachable", scheddHost)
	}
	return f.RunningIdle[scheddHost], nil
}

func (f *Fake) ListPreemptableJobIDs(ctx context.Context, c Collector, scheddHost string) ([]string, error) {
	if f.UnreachableSchedds[scheddHost] {
		return nil, fmt.Errorf("schedd %s unreachable", scheddHost)
	}
	return append([]string(nil), f.PreemptableIDs[scheddHost]...), nil
}

func (f *Fake) ListRunningJobs(ctx context.Context, c Collector, machineName string) ([]types.Job, error) {
	if f.FailingMachines[machineName] {
		return nil, fmt.Errorf("machine %s unreachable", machineName)
	}
	return append([]types.Job(nil), f.RunningJobs[machineName]...), nil
}

func (f *Fake) RemoveJob(ctx context.Context, c Collector, scheddHost, globalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailingMachines[scheddHost] {
		return fmt.Errorf("removing %s failed", globalID)
	}
	f.RemovedJobs = append(f.RemovedJobs, globalID)
	return nil
}

func (f *Fake) PersistentSet(ctx context.Context, machineName, daemon, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailingMachines[machineName] {
		return fmt.Errorf("persistent_set on %s failed", machineName)
	}
	f.PersistentSetCalls = append(f.PersistentSetCalls, PersistentSetCall{
		Machine: machineName,
		Daemon:  daemon,
		Key:     key,
		Value:   value,
	})
	return nil
}

var _ SchedulerFacade = (*Fake)(nil)
