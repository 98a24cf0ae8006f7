package facade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/PelicanPlatform/classad/classad"
	htcondor "github.com/bbockelm/golang-htcondor"
	"github.com/rs/zerolog"
	"github.com/stfc-ral/condor-defrag/pkg/log"
	"github.com/stfc-ral/condor-defrag/pkg/types"
)

// DefaultCollectorPort is condor's well-known collector port.
const DefaultCollectorPort = 9618

// CondorFacade is the real SchedulerFacade backed by HTCondor. Collector
// discovery and ad listing go through the golang-htcondor client; per-schedd
// job queries, removal, and persistent configuration shell out to the condor
// command-line tools.
type CondorFacade struct {
	logger zerolog.Logger

	// ExecTimeout bounds every subprocess call and every collector query.
	ExecTimeout time.Duration

	// Binary paths, overridable for testing/non-standard installs.
	CondorQPath         string
	CondorRmPath        string
	CondorConfigValPath string
	CondorReconfigPath  string
}

// NewCondorFacade returns a CondorFacade with standard binary paths and a
// 10 second exec timeout.
func NewCondorFacade() *CondorFacade {
	return &CondorFacade{
		logger:              log.WithComponent("facade"),
		ExecTimeout:         10 * time.Second,
		CondorQPath:         "condor_q",
		CondorRmPath:        "condor_rm",
		CondorConfigValPath: "condor_config_val",
		CondorReconfigPath:  "condor_reconfig",
	}
}

// LocateCollector resolves host and confirms it answers a trivial
// self-query before any other call is attempted against it.
func (f *CondorFacade) LocateCollector(ctx context.Context, host string) (Collector, error) {
	c := Collector{Host: host, Port: DefaultCollectorPort}

	ctx, cancel := context.WithTimeout(ctx, f.ExecTimeout)
	defer cancel()

	collector := htcondor.NewCollector(c.Host, c.Port)
	if _, err := collector.QueryAds(ctx, "CollectorAd", "true"); err != nil {
		return Collector{}, fmt.Errorf("%w: %s: %v", ErrUnreachable, host, err)
	}
	return c, nil
}

// ListScheddHosts returns every schedd Name known to the collector.
func (f *CondorFacade) ListScheddHosts(ctx context.Context, c Collector) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.ExecTimeout)
	defer cancel()

	collector := htcondor.NewCollector(c.Host, c.Port)
	ads, err := collector.QueryAds(ctx, "ScheddAd", "true")
	if err != nil {
		return nil, fmt.Errorf("%w: listing schedds: %v", ErrQueryIO, err)
	}

	var hosts []string
	for _, ad := range ads {
		if name, ok := adString(ad, "Name"); ok {
			hosts = append(hosts, name)
		}
	}
	if len(hosts) == 0 {
		return nil, ErrNoSchedds
	}
	return hosts, nil
}

// ListStartds returns startd ads matching constraint, an opaque filter
// expression passed through to the collector query unchanged.
func (f *CondorFacade) ListStartds(ctx context.Context, c Collector, constraint string) ([]types.StartdAd, error) {
	ctx, cancel := context.WithTimeout(ctx, f.ExecTimeout)
	defer cancel()

	collector := htcondor.NewCollector(c.Host, c.Port)
	ads, err := collector.QueryAds(ctx, "StartdAd", constraint)
	if err != nil {
		return nil, fmt.Errorf("%w: listing startds: %v", ErrQueryIO, err)
	}

	result := make([]types.StartdAd, 0, len(ads))
	for _, ad := range ads {
		machine, _ := adString(ad, "Machine")
		_, partitionable := ad.Lookup("PartitionableSlot")
		preemptableOnly, hasPreemptableOnly := adBool(ad, "PREEMPTABLE_ONLY")
		nodeIsHealthy, _ := adBool(ad, "NODE_IS_HEALTHY")
		startJobs, _ := adBool(ad, "StartJobs")
		shouldHibernate, _ := adBool(ad, "ShouldHibernate")
		killSignal, _ := adBool(ad, "KILL_SIGNAL")
		efficientDrain, _ := adBool(ad, "EFFICIENT_DRAIN")
		totalCPUs, _ := adInt(ad, "TotalCpus")
		numFree, _ := adInt(ad, "Cpus")

		result = append(result, types.StartdAd{
			Machine:            machine,
			Partitionable:      partitionable,
			HasPreemptableOnly: hasPreemptableOnly,
			PreemptableOnly:    preemptableOnly,
			NodeIsHealthy:      nodeIsHealthy,
			StartJobs:          startJobs,
			ShouldHibernate:    shouldHibernate,
			KillSignal:         killSignal,
			EfficientDrain:     efficientDrain,
			TotalCPUs:          totalCPUs,
			NumFree:            numFree,
		})
	}
	return result, nil
}

// ListRunningIdleMulticore queries scheddHost for RequestCpus>1 jobs and
// tallies how many are running versus idle.
func (f *CondorFacade) ListRunningIdleMulticore(ctx context.Context, c Collector, scheddHost string) (types.JobCounts, error) {
	data, err := f.queryJobsJSON(ctx, scheddHost, "RequestCpus>1", []string{"JobStatus", "RequestCpus"})
	if err != nil {
		return types.JobCounts{}, err
	}

	var rows []struct {
		JobStatus   int `json:"JobStatus"`
		RequestCpus int `json:"RequestCpus"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return types.JobCounts{}, fmt.Errorf("decoding job counts for %s: %w", scheddHost, err)
	}

	var counts types.JobCounts
	for _, row := range rows {
		switch row.JobStatus {
		case 2:
			counts.Running++
		case 1:
			counts.Idle++
		}
	}
	return counts, nil
}

// ListPreemptableJobIDs queries scheddHost for jobs marked preemptable and
// returns their global job identifiers.
func (f *CondorFacade) ListPreemptableJobIDs(ctx context.Context, c Collector, scheddHost string) ([]string, error) {
	data, err := f.queryJobsJSON(ctx, scheddHost, "isPreemptable =?= True", []string{"GlobalJobId"})
	if err != nil {
		return nil, err
	}

	var rows []struct {
		GlobalJobId string `json:"GlobalJobId"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decoding preemptable job ids for %s: %w", scheddHost, err)
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.GlobalJobId)
	}
	return ids, nil
}

// ListRunningJobs returns the jobs currently running on machineName.
func (f *CondorFacade) ListRunningJobs(ctx context.Context, c Collector, machineName string) ([]types.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, f.ExecTimeout)
	defer cancel()

	collector := htcondor.NewCollector(c.Host, c.Port)
	constraint := fmt.Sprintf("Machine==%q", machineName)
	ads, err := collector.QueryAds(ctx, "StartdAd", constraint)
	if err != nil {
		return nil, fmt.Errorf("listing running jobs on %s: %w", machineName, err)
	}

	var jobs []types.Job
	for _, ad := range ads {
		jobID, ok := adString(ad, "JobId")
		if !ok {
			continue
		}
		globalID, _ := adString(ad, "GlobalJobId")
		schedd, _ := adString(ad, "ClientMachine")
		entered, _ := adInt(ad, "EnteredCurrentActivity")

		jobs = append(jobs, types.Job{
			JobID:     jobID,
			GlobalID:  globalID,
			Schedd:    schedd,
			StartTime: time.Unix(int64(entered), 0),
		})
	}
	return jobs, nil
}

// RemoveJob issues condor_rm against the job's GlobalJobId on the schedd
// that owns it.
func (f *CondorFacade) RemoveJob(ctx context.Context, c Collector, scheddHost, globalID string) error {
	ctx, cancel := context.WithTimeout(ctx, f.ExecTimeout)
	defer cancel()

	args := []string{"-name", scheddHost, "-constraint", fmt.Sprintf("GlobalJobId==%q", globalID)}
	if err := f.run(ctx, f.CondorRmPath, args...); err != nil {
		return fmt.Errorf("removing job %s on %s: %w", globalID, scheddHost, err)
	}
	return nil
}

// PersistentSet writes key=value persistently on machineName's daemon via
// condor_config_val -set, then triggers condor_reconfig, returning an error
// only if either step fails. Callers get one atomic call for both halves of
// the write instead of having to sequence them.
func (f *CondorFacade) PersistentSet(ctx context.Context, machineName, daemon, key, value string) error {
	ctx, cancel := context.WithTimeout(ctx, f.ExecTimeout)
	defer cancel()

	setArgs := []string{"-name", machineName, "-" + daemon, "-set", fmt.Sprintf("%s = %s", key, value)}
	if err := f.run(ctx, f.CondorConfigValPath, setArgs...); err != nil {
		return fmt.Errorf("setting %s=%s on %s: %w", key, value, machineName, err)
	}

	reconfigArgs := []string{"-name", machineName}
	if err := f.run(ctx, f.CondorReconfigPath, reconfigArgs...); err != nil {
		return fmt.Errorf("reconfiguring %s: %w", machineName, err)
	}

	f.logger.Debug().
		Str("machine", machineName).
		Str("daemon", daemon).
		Str("key", key).
		Str("value", value).
		Msg("persistent config set")
	return nil
}

func (f *CondorFacade) run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, stderr.String())
	}
	return nil
}

// queryJobsJSON runs condor_q -json against scheddHost with the given
// constraint/projection and returns the raw JSON array it printed.
func (f *CondorFacade) queryJobsJSON(ctx context.Context, scheddHost, constraint string, attrs []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.ExecTimeout)
	defer cancel()

	args := []string{"-name", scheddHost, "-json", "-constraint", constraint}
	if len(attrs) > 0 {
		args = append(args, "-attributes", strings.Join(attrs, ","))
	}

	cmd := exec.CommandContext(ctx, f.CondorQPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("querying %s: %w: %s", scheddHost, err, stderr.String())
	}

	data := bytes.TrimSpace(stdout.Bytes())
	if len(data) == 0 {
		data = []byte("[]")
	}
	return data, nil
}

// adString/adBool/adInt pull a single attribute off a condor ClassAd
// returned by the collector client. They rely only on Lookup/String, so
// callers never need to know the ad's wire representation.
func adString(ad *classad.ClassAd, name string) (string, bool) {
	expr, ok := ad.Lookup(name)
	if !ok {
		return "", false
	}
	return strings.Trim(strings.TrimSpace(expr.String()), `"`), true
}

func adBool(ad *classad.ClassAd, name string) (bool, bool) {
	v, ok := adString(ad, name)
	if !ok {
		return false, false
	}
	return strings.EqualFold(v, "true"), true
}

func adInt(ad *classad.ClassAd, name string) (int, bool) {
	v, ok := adString(ad, name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
