package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	runMessage     string
	runDryRun      bool
	runAutoApprove bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single task through the agent",
	Run:   runOnce,
}

func init() {
	runCmd.Flags().StringVarP(&runMessage, "message", "m", "", "Task for the agent")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Report intended writes without performing them")
	runCmd.Flags().BoolVarP(&runAutoApprove, "yes", "y", false, "Auto-approve all write operations")
}

func runOnce(cmd *cobra.Command, args []string) {
	if runMessage == "" {
		fmt.Println("Error: --message is required")
		os.Exit(1)
	}

	printHeader("🤖 relaygent Run")

	sess, err := newSession(runDryRun, runAutoApprove)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer sess.close()

	response, err := sess.agent.Run(context.Background(), runMessage)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n" + response)
	reportPendingActions(sess)
}

// reportPendingActions drains and prints queued side-effect actions after a
// run. The drain clears the queue.
func reportPendingActions(sess *session) {
	actions := sess.agent.Context().DrainPendingActions()
	if len(actions) == 0 {
		return
	}
	fmt.Println("\nPending actions:")
	for _, a := range actions {
		if a.Path != "" {
			fmt.Printf("  - %s: %s\n", a.Kind, a.Path)
		} else {
			fmt.Printf("  - %s: %s\n", a.Kind, a.Note)
		}
	}
}
