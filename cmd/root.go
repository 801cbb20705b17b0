package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "soundmexpro-sub001",
	Short: "Multi-channel low-latency audio I/O host",
	Long: `soundmexpro-sub001 - a multi-channel, low-latency audio I/O host wrapper
with a driver-facing engine: load/prepare/start/stop lifecycle, buffered and
real-time processing modes, and a done path for visualization/recording.

Commands:
  - engine: Run the driver-backed audio engine against a live device or,
    with --input-file, against a decoded audio file routed through the
    same lifecycle as a capture source`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
