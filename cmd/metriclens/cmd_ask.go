package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"metriclens/internal/pipeline"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask an analytics question in plain language",
	Long: `Runs one question through the full pipeline and prints the report.

Examples:
  metriclens ask "pageviews for the last 7 days"
  metriclens ask "top 10 pages by sessions this month"
  metriclens ask "full breakdown of my traffic"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")

		res, err := theApp.pipeline().ProcessQuery(cmd.Context(), text, callerID, property)
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), pipeline.Explain(err))
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), res.SummaryText)
		return nil
	},
}
