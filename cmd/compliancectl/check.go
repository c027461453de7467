package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ignite/compliance-gate/internal/domain"
	"github.com/ignite/compliance-gate/internal/service/gate"
)

var checkOpts gate.CheckOptions

var checkCmd = &cobra.Command{
	Use:   "check <contact-id> <sms|email|voice>",
	Short: "Ask the gate whether a contact may be reached on a channel now",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := gateApp.Gate.AssertCanContact(cmd.Context(), args[0], domain.Channel(args[1]), checkOpts)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, res)
		}
		if res.Allowed {
			fmt.Fprintf(out, "ALLOWED  %s\n", res.Message)
		} else {
			fmt.Fprintf(out, "BLOCKED  %s: %s\n", res.Reason, res.Message)
		}
		for _, w := range res.Warnings {
			fmt.Fprintf(out, "  warning: %s\n", w)
		}
		return nil
	},
}

var callHoursCmd = &cobra.Command{
	Use:   "call-hours <phone>",
	Short: "Show the local time and call-hour decision for a phone number",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res := gateApp.Windows.CheckLegalCallHours(cmd.Context(), args[0], time.Now())
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, res)
		}
		verdict := "outside"
		if res.Allowed {
			verdict = "inside"
		}
		fmt.Fprintf(out, "%s local (%s), %s calling hours %02d:00-%02d:00\n",
			res.LocalTime.Format("15:04 Mon"), res.Timezone, verdict, res.StartHour, res.EndHour)
		if !res.Inferred {
			fmt.Fprintln(out, "  timezone not inferred from the number; default zone used")
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkOpts.ConsentType, "consent-type", "", "consent type to require")
	checkCmd.Flags().StringVar(&checkOpts.Actor, "agent", "", "agent type checked against lockdowns")
	checkCmd.Flags().BoolVar(&checkOpts.RespectBusinessHours, "business-hours", false, "also hold to business hours and calendar blocks")
}
