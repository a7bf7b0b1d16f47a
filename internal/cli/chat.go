package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	chatDryRun      bool
	chatAutoApprove bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat session with the agent",
	Run:   runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatDryRun, "dry-run", false, "Report intended writes without performing them")
	chatCmd.Flags().BoolVarP(&chatAutoApprove, "yes", "y", false, "Auto-approve all write operations")
}

func runChat(cmd *cobra.Command, args []string) {
	printHeader("🤖 relaygent Chat")

	sess, err := newSession(chatDryRun, chatAutoApprove)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer sess.close()

	fmt.Printf("Model: %s  Trace: %s\n", sess.cfg.Model.Name, sess.traceID)
	fmt.Println("Commands: /compact [instructions], /continue, /status, /exit")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print(color.GreenString("you> "))
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if handleCommand(sess, line) {
				return
			}
			continue
		}

		// Ctrl-C cancels the current turn, not the session. Queued
		// sub-agent work is cancelled; in-flight work is abandoned.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		response, err := sess.agent.Run(ctx, line)
		stop()
		if err != nil {
			fmt.Println(color.RedString("Error: %v", err))
			continue
		}
		fmt.Println("\n" + response)
		reportPendingActions(sess)
		if sess.agent.CompactionPending() {
			fmt.Println(color.YellowString("Context is %.0f%% full. Run /compact to reclaim budget.", sess.agent.ContextUtilization()*100))
		}
	}
}

// handleCommand processes a slash command; returns true to exit the session.
func handleCommand(sess *session, line string) bool {
	cmdWord, rest, _ := strings.Cut(line, " ")
	switch cmdWord {
	case "/exit", "/quit":
		return true
	case "/compact":
		summary, err := sess.agent.CompactConversation(context.Background(), strings.TrimSpace(rest))
		if err != nil {
			fmt.Println(color.RedString("Error: %v", err))
			return false
		}
		fmt.Printf("Compacted. Summary (%d chars):\n%s\n", len(summary), summary)
	case "/continue":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		response, err := sess.agent.Continue(ctx)
		stop()
		if err != nil {
			fmt.Println(color.RedString("Error: %v", err))
			return false
		}
		fmt.Println("\n" + response)
		reportPendingActions(sess)
	case "/status":
		fmt.Printf("Agent: %s  Depth limit: %d  Context: %.0f%%  Compaction pending: %v\n",
			sess.agent.Context().AgentID,
			sess.agent.Context().MaxDepth,
			sess.agent.ContextUtilization()*100,
			sess.agent.CompactionPending(),
		)
	default:
		fmt.Printf("Unknown command: %s\n", cmdWord)
	}
	return false
}
