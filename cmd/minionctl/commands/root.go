// Package commands provides the CLI commands for the orchestrator.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/minionctl/orchestrator/internal/logging"
)

var (
	// Version and BuildTime are set at build time via -ldflags.
	Version   = "0.1.0"
	BuildTime = "dev"
)

var (
	printLogs bool
	logLevel  string
	logFile   bool
)

var rootCmd = &cobra.Command{
	Use:   "minionctl",
	Short: "minionctl - orchestrator for long-running coding agent sessions",
	Long: `minionctl manages a legion of minions: long-running conversational
coding agent sessions, coordinated through comms, channels, and
cron-driven schedules.

Run 'minionctl serve' to start the orchestrator server.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logCfg := logging.Config{
			Level:     logging.ParseLevel(logLevel),
			Output:    os.Stderr,
			Pretty:    printLogs,
			LogToFile: logFile,
		}
		if !printLogs && !logFile {
			logCfg.Level = logging.FatalLevel
		}
		logging.Init(logCfg)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&logFile, "log-file", false, "Write logs to a timestamped file")

	rootCmd.SetVersionTemplate(fmt.Sprintf("minionctl %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
