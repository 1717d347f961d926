package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"metriclens/internal/config"
	"metriclens/internal/logging"
	"metriclens/internal/pipeline"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive question loop",
	Long: `Reads questions from stdin until EOF or "exit". Config file edits
are picked up between questions without restarting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		// Re-wire the pipeline when the config file changes, so refinement
		// toggles and attempt budgets apply to the next question.
		watcher, err := config.Watch(cfgPath, func(cfg *config.Config) {
			if err := theApp.configure(ctx, cfg); err != nil {
				logging.Get(logging.CategoryConfig).Warnf("reconfigure failed, keeping previous wiring: %v", err)
			}
		})
		if err != nil {
			logging.Get(logging.CategoryConfig).Warnf("config watching unavailable: %v", err)
		} else {
			defer watcher.Stop()
		}

		fmt.Fprintln(out, "metricLens. Ask a question, or \"exit\" to leave.")
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for {
			fmt.Fprint(out, "> ")
			if !scanner.Scan() {
				break
			}
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			if text == "exit" || text == "quit" {
				break
			}

			res, err := theApp.pipeline().ProcessQuery(ctx, text, callerID, property)
			if err != nil {
				fmt.Fprintln(out, pipeline.Explain(err))
				continue
			}
			fmt.Fprintln(out, res.SummaryText)
		}
		return scanner.Err()
	},
}
