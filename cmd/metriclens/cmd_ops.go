package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"metriclens/internal/perception"
	"metriclens/internal/resolve"
)

var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "List the operations the analytics tool exposes",
	RunE: func(cmd *cobra.Command, args []string) error {
		names := theApp.connector().ListOperations(cmd.Context())
		if len(names) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No operations available. Is the tool command configured and reachable?")
			return nil
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List the accounts and properties visible to the tool",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, op, err := theApp.operations().Resolve(cmd.Context(), resolve.CapListAccounts, nil)
		if err != nil {
			return err
		}
		logVerboseOp(cmd, op)
		return printRaw(cmd, raw)
	},
}

var dimsCmd = &cobra.Command{
	Use:   "dims [property-id]",
	Short: "List the custom dimensions registered on a property",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := property
		if len(args) > 0 {
			target = args[0]
		}
		if target == "" {
			target = perception.FallbackTargetID
		}

		raw, op, err := theApp.operations().Resolve(cmd.Context(), resolve.CapCustomDimensions,
			map[string]any{"propertyId": target})
		if err != nil {
			return err
		}
		logVerboseOp(cmd, op)
		return printRaw(cmd, raw)
	},
}

func logVerboseOp(cmd *cobra.Command, op string) {
	if verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "(via %s)\n", op)
	}
}

// printRaw pretty-prints a raw tool result, unwrapping a text content
// envelope when that is all the tool sent.
func printRaw(cmd *cobra.Command, raw json.RawMessage) error {
	var env struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Content) > 0 && env.Content[0].Text != "" {
		fmt.Fprintln(cmd.OutOrStdout(), env.Content[0].Text)
		return nil
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), string(raw))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), buf.String())
	return nil
}

var targetCmd = &cobra.Command{
	Use:   "target [property-id]",
	Short: "Show or set your default analytics property",
	Long: `Without an argument, prints the saved default property for the
current caller. With one, saves it as the default used when a question
names no property.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st := theApp.activityStore()
		if st == nil {
			return fmt.Errorf("the activity store is disabled, no place to save preferences")
		}

		if len(args) == 0 {
			saved, err := st.DefaultTarget(cmd.Context(), callerID)
			if err != nil {
				return err
			}
			if saved == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "No default property saved.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), saved)
			return nil
		}

		if err := st.SetDefaultTarget(cmd.Context(), callerID, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Default property set to %s\n", args[0])
		return nil
	},
}
