// Package cli wires the engine into cobra commands.
package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/relaygent/relaygent/internal/cli.version=1.2.3"
	version = "0.4.1"
	logo    = "\n" +
		"            _                             _\n" +
		"  _ __ ___| | __ _ _   _  __ _  ___ _ __ | |_\n" +
		" | '__/ _ \\ |/ _` | | | |/ _` |/ _ \\ '_ \\| __|\n" +
		" | | |  __/ | (_| | |_| | (_| |  __/ | | | |_\n" +
		" |_|  \\___|_|\\__,_|\\__, |\\__, |\\___|_| |_|\\__|\n" +
		"                   |___/ |___/\n"
)

var rootCmd = &cobra.Command{
	Use:   "relaygent",
	Short: "relaygent - recursive multi-agent task executor",
	Long:  color.CyanString(logo) + "\nAn LLM-driven task executor that delegates work to concurrent sub-agents.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(traceCmd)
}

func printHeader(title string) {
	fmt.Println(color.CyanString(logo))
	if title != "" {
		fmt.Println(title)
		fmt.Println("─────────────────────")
	}
}
