package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/utils/clock"

	"github.com/stfc-ral/condor-defrag/pkg/cyclectx"
	"github.com/stfc-ral/condor-defrag/pkg/facade"
	"github.com/stfc-ral/condor-defrag/pkg/log"
	"github.com/stfc-ral/condor-defrag/pkg/orchestrator"
	"github.com/stfc-ral/condor-defrag/pkg/reachability"
)

// Version information (set via ldflags during build).
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// exitUsage is returned when the CLI layer itself fails — bad flags,
// unknown subcommands — before a cycle ever starts. It must stay distinct
// from every orchestrator.ExitCode so operators can tell a usage mistake
// apart from a failed cycle.
const exitUsage = 64

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitUsage)
	}
}

var rootCmd = &cobra.Command{
	Use:     "condor-defrag",
	Short:   "Single-shot HTCondor fleet defragmentation controller",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"condor-defrag version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	defaults := cyclectx.DefaultTunables()

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.Flags().Int("target-cpus", defaults.TargetCPUs, "CPU size of the multicore job to make landable")
	rootCmd.Flags().Int("idle-high", defaults.IdleHigh, "Idle-job threshold for the concurrency governor")
	rootCmd.Flags().Int("running-high", defaults.RunningHigh, "Running-job threshold for the concurrency governor")
	rootCmd.Flags().Int("conc-low", defaults.ConcLow, "Max concurrent drains when idle and running are both high")
	rootCmd.Flags().Int("conc-high", defaults.ConcHigh, "Max concurrent drains when only idle is high")
	rootCmd.Flags().Int("conc-default", defaults.ConcDefault, "Max concurrent drains in the default regime")
	rootCmd.Flags().Duration("vacate-wait", defaults.VacateWait, "Sleep after a kill burst to let vacate complete")
	rootCmd.Flags().Duration("ping-timeout", defaults.PingTimeout, "Reachability probe timeout")
	rootCmd.Flags().String("inhibit-file", defaults.InhibitFilePath, "Presence of this file inhibits all new drains")
	rootCmd.Flags().String("lock-file", defaults.LockFilePath, "Advisory single-instance lock file path")
	rootCmd.Flags().String("startd-filter", defaults.StartdFilter, "Constraint expression passed through to startd listing")
	rootCmd.Flags().String("collector-host", defaults.CollectorHost, "HTCondor collector host")
	rootCmd.Flags().Int("worker-pool-size", defaults.WorkerPoolSize, "Bounded fan-out pool size for per-schedd queries")
	rootCmd.Flags().String("metrics-textfile", orchestrator.MetricsTextfilePath, "node_exporter textfile-collector output path (empty disables)")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func run(cmd *cobra.Command, args []string) error {
	tunables := cyclectx.DefaultTunables()

	tunables.TargetCPUs, _ = cmd.Flags().GetInt("target-cpus")
	tunables.IdleHigh, _ = cmd.Flags().GetInt("idle-high")
	tunables.RunningHigh, _ = cmd.Flags().GetInt("running-high")
	tunables.ConcLow, _ = cmd.Flags().GetInt("conc-low")
	tunables.ConcHigh, _ = cmd.Flags().GetInt("conc-high")
	tunables.ConcDefault, _ = cmd.Flags().GetInt("conc-default")
	tunables.VacateWait, _ = cmd.Flags().GetDuration("vacate-wait")
	tunables.PingTimeout, _ = cmd.Flags().GetDuration("ping-timeout")
	tunables.InhibitFilePath, _ = cmd.Flags().GetString("inhibit-file")
	tunables.LockFilePath, _ = cmd.Flags().GetString("lock-file")
	tunables.StartdFilter, _ = cmd.Flags().GetString("startd-filter")
	tunables.CollectorHost, _ = cmd.Flags().GetString("collector-host")
	tunables.WorkerPoolSize, _ = cmd.Flags().GetInt("worker-pool-size")

	orchestrator.MetricsTextfilePath, _ = cmd.Flags().GetString("metrics-textfile")

	prober := reachability.NewICMPProber()
	prober.Timeout = tunables.PingTimeout

	sctx := &cyclectx.Context{
		Logger:   log.Logger,
		Facade:   facade.NewCondorFacade(),
		Prober:   prober,
		Clock:    clock.RealClock{},
		Tunables: tunables,
	}

	exitCode := orchestrator.Run(cmd.Context(), sctx)
	if exitCode != orchestrator.ExitOK {
		os.Exit(int(exitCode))
	}
	return nil
}
