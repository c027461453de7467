package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ignite/compliance-gate/internal/domain"
)

var estopReason string

var estopCmd = &cobra.Command{
	Use:   "estop",
	Short: "Show or change the emergency stop",
}

var estopStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the emergency stop state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := gateApp.EmergencyStop.Status(cmd.Context())
		if err != nil {
			return err
		}
		return printControl(cmd, c)
	},
}

var estopOnCmd = &cobra.Command{
	Use:   "on",
	Short: "Engage the emergency stop: every outbound action is blocked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEmergencyStop(cmd, true)
	},
}

var estopOffCmd = &cobra.Command{
	Use:   "off",
	Short: "Release the emergency stop",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEmergencyStop(cmd, false)
	},
}

func init() {
	for _, c := range []*cobra.Command{estopOnCmd, estopOffCmd} {
		c.Flags().StringVar(&estopReason, "reason", "", "reason recorded with the change")
	}
	estopCmd.AddCommand(estopStatusCmd, estopOnCmd, estopOffCmd)
}

func setEmergencyStop(cmd *cobra.Command, active bool) error {
	c, err := gateApp.EmergencyStop.Set(cmd.Context(), active, actor, estopReason)
	if err != nil {
		return err
	}
	return printControl(cmd, c)
}

func printControl(cmd *cobra.Command, c *domain.SystemControl) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, c)
	}
	state := "released"
	if c.Active {
		state = "ENGAGED"
	}
	fmt.Fprintf(out, "Emergency stop: %s\n", state)
	if c.UpdatedBy != "" {
		fmt.Fprintf(out, "  Updated by: %s at %s\n", c.UpdatedBy, c.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	}
	if c.Reason != "" {
		fmt.Fprintf(out, "  Reason:     %s\n", c.Reason)
	}
	return nil
}
