// Package main provides the CLI entry point for cortexlearn.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set at build time)
	version = "dev"

	cfgPath string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cortexlearn",
		Short: "Adaptive lesson player driven by gaze, face and voice signals",
		Long: `cortexlearn plays narrated lessons segment by segment and adapts them
to the learner: voice commands deepen or simplify the explanation, and
attention signals from the sensor feed drive break suggestions.

Use 'cortexlearn [command] --help' for more information.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.cortexlearn/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(lessonCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(eventsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
