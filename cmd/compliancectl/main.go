// Command compliancectl is the operator CLI for the compliance gate. It talks
// to the gate's database directly, so it works while the HTTP service is down.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/ignite/compliance-gate/internal/app"
	"github.com/ignite/compliance-gate/internal/config"
	"github.com/ignite/compliance-gate/internal/pkg/logger"
)

var (
	configPath string
	jsonOutput bool
	actor      string

	gateApp *app.App
)

func defaultActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "operator"
}

var rootCmd = &cobra.Command{
	Use:           "compliancectl <command>",
	Short:         "Operate the compliance gate: emergency stop, lockdowns and ad-hoc checks",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if gateApp != nil {
			return nil
		}
		cfg, err := config.LoadFromEnv(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		// One-shot commands never run the scheduled monitor.
		cfg.Lockdown.Enabled = false
		cfg.Database.MigrateOnStart = false

		l, err := logger.New(logger.Options{Level: "warn", Format: "console", RedactPII: cfg.Logging.Redact()})
		if err == nil {
			logger.SetDefault(l)
		}

		a, err := app.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		gateApp = a
		return nil
	},
}

func init() {
	configFlag := os.Getenv("GATE_CONFIG")
	if configFlag == "" {
		configFlag = "config/config.yaml"
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", configFlag, "path to the gate config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", defaultActor(), "operator name recorded in the audit log")

	rootCmd.AddCommand(estopCmd)
	rootCmd.AddCommand(lockdownCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(callHoursCmd)
}

// printJSON writes v indented.
func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	if gateApp != nil {
		gateApp.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
