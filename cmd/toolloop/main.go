package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	workDir string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "toolloop",
	Short: "Autonomous coding agent driven by tagged tool calls",
	Long: `toolloop runs a coding task against a model. The model calls tools by
writing <tool name="..."> tags in its response; toolloop parses them as the
response streams, runs them one at a time and feeds the results back until
the model calls attempt_completion.

Conversations are saved after every turn and can be resumed later.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workDir, "dir", "C", ".", "workspace directory")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "debug output on the console")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(healCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
