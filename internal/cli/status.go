package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaygent/relaygent/internal/config"
	"github.com/relaygent/relaygent/internal/timeline"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ relaygent Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 relaygent Status")
		fmt.Printf("Version: %s\n", version)

		configPath, err := config.ConfigPath()
		if err == nil {
			if _, statErr := os.Stat(configPath); statErr == nil {
				fmt.Println("Config:  ✓ Found (" + configPath + ")")
			} else {
				fmt.Println("Config:  ✗ Not found (" + configPath + ")")
			}
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("Config error: %v\n", err)
			return
		}
		if cfg.Providers.OpenAI.APIKey != "" || cfg.Providers.OpenRouter.APIKey != "" {
			fmt.Println("API Key: ✓ Found")
		} else {
			fmt.Println("API Key: ✗ Not found")
		}
		fmt.Printf("Model:   %s\n", cfg.Model.Name)
		fmt.Printf("Engine:  iterations=%d parallelism=%d max-depth=%d compaction=%.2f\n",
			cfg.Engine.MaxIterations, cfg.Engine.SpawnParallelism, cfg.Engine.MaxSpawnDepth, cfg.Engine.CompactionThreshold)
		if len(cfg.Agents.Subagents) > 0 {
			fmt.Printf("Subagents: %d defined\n", len(cfg.Agents.Subagents))
		}
	},
}

var traceCmd = &cobra.Command{
	Use:   "trace <trace-id>",
	Short: "Show the recorded timeline for a trace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		if cfg.Paths.TimelineDB == "" {
			fmt.Println("Error: no timeline database configured (paths.timelineDb)")
			os.Exit(1)
		}
		tl, err := timeline.NewService(cfg.Paths.TimelineDB)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		defer tl.Close()

		events, err := tl.EventsByTrace(args[0])
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		for _, ev := range events {
			fmt.Printf("%s  %-8s %-24s %s\n", ev.Timestamp.Format("15:04:05"), ev.SpanType, ev.AgentID, ev.Content)
		}
		prompt, completion, err := tl.TraceTokens(args[0])
		if err == nil {
			fmt.Printf("\nTokens: prompt=%d completion=%d\n", prompt, completion)
		}
	},
}
