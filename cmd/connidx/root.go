package main

import (
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var (
	// rootFlag is the workspace holding .connidx/
	rootFlag    string
	verboseFlag int
	quietFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "connidx",
	Short: "connidx - incremental connection index maintenance",
	Long: `connidx keeps a project's connection index anchored to the right lines as
files change. Edits are recorded as checkpoints; a run diffs each pending file,
remaps the stored connections and sends only the changed ranges to the
discovery pipeline.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("connidx version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "", "Workspace directory containing .connidx (default: current directory)")
	rootCmd.PersistentFlags().CountVarP(&verboseFlag, "verbose", "v", "Increase log verbosity (-v debug)")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Only log errors")
}
