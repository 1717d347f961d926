package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"metriclens/internal/perception"
)

var reportDays int

var reportCmd = &cobra.Command{
	Use:   "report [property-id]",
	Short: "Build the full multi-section report for a property",
	Long: `Runs the complete report battery (overview, engagement, channel,
country, browser and device breakdowns, daily trend) concurrently and
prints whichever sections came back. Failed sections are listed, never
fatal.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := property
		if len(args) > 0 {
			target = args[0]
		}
		if target == "" {
			if st := theApp.activityStore(); st != nil {
				saved, err := st.DefaultTarget(cmd.Context(), callerID)
				if err == nil && saved != "" {
					target = saved
				}
			}
		}
		if target == "" {
			target = perception.FallbackTargetID
		}

		dateRange := perception.DateRange{
			Start: fmt.Sprintf("%ddaysAgo", reportDays),
			End:   "yesterday",
			Label: fmt.Sprintf("last_%d_days", reportDays),
		}

		comp := theApp.orchestrator().BuildComposite(cmd.Context(), target, dateRange)
		fmt.Fprintln(cmd.OutOrStdout(), comp.Summary())

		if comp.Succeeded() == 0 {
			return fmt.Errorf("no report sections could be retrieved for property %s", target)
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().IntVar(&reportDays, "days", 30, "report window in days, ending yesterday")
}
