package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ignite/compliance-gate/internal/domain"
)

var (
	lockdownReason string
	lockdownNote   string
	evaluateAction string
)

var lockdownCmd = &cobra.Command{
	Use:   "lockdown",
	Short: "Inspect and manage agent lockdowns",
}

var lockdownListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active lockdowns",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := gateApp.Monitor.ListActive(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			if list == nil {
				list = []domain.Lockdown{}
			}
			return printJSON(out, list)
		}
		if len(list) == 0 {
			fmt.Fprintln(out, "No active lockdowns.")
			return nil
		}
		for _, l := range list {
			fmt.Fprintf(out, "%s  %-16s  %s  %s\n", l.ID, l.AgentType, l.CreatedAt.Format("2006-01-02 15:04"), l.Reason)
		}
		return nil
	},
}

var lockdownActivateCmd = &cobra.Command{
	Use:   "activate <agent-type>",
	Short: "Lock an agent type down manually (\"all\" locks every agent)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := gateApp.Monitor.ActivateManual(cmd.Context(), args[0], lockdownReason, actor)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), l)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Locked down %s (%s)\n", l.AgentType, l.ID)
		return nil
	},
}

var lockdownResolveCmd = &cobra.Command{
	Use:   "resolve <lockdown-id>",
	Short: "Resolve an active lockdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := gateApp.Monitor.Resolve(cmd.Context(), args[0], actor, lockdownNote)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), l)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Resolved lockdown %s for %s\n", l.ID, l.AgentType)
		return nil
	},
}

var lockdownEvaluateCmd = &cobra.Command{
	Use:   "evaluate <agent-type>",
	Short: "Run the lockdown rules for an agent type now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ev := gateApp.Monitor.Evaluate(cmd.Context(), args[0], evaluateAction)
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, ev)
		}
		fmt.Fprintf(out, "Risk score: %d  blocked: %t\n", ev.RiskScore, ev.Blocked)
		for _, w := range ev.Warnings {
			fmt.Fprintf(out, "  warning: %s\n", w)
		}
		for _, l := range ev.Lockdowns {
			fmt.Fprintf(out, "  lockdown %s: %s\n", l.ID, l.Reason)
		}
		return nil
	},
}

func init() {
	lockdownActivateCmd.Flags().StringVar(&lockdownReason, "reason", "", "reason for the lockdown")
	lockdownResolveCmd.Flags().StringVar(&lockdownNote, "note", "", "resolution note")
	lockdownEvaluateCmd.Flags().StringVar(&evaluateAction, "action", "", "limit evaluation to one action type")
	lockdownCmd.AddCommand(lockdownListCmd, lockdownActivateCmd, lockdownResolveCmd, lockdownEvaluateCmd)
}
