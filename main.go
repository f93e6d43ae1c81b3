// Command missionengine runs and operates the mission orchestration engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "missionengine",
	Short: "Mission orchestration engine",
	Long: `Plans expert missions, runs them under a durable state machine and
pauses at human checkpoints. Configuration is read from the environment
and an optional .env file.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(newServeCmd(), newResumeCmd(), newResolveCmd(), newWatchCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
