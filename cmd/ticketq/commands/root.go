package commands

import (
	"context"
	"fmt"
	"os"
	"payticket-backend/internal/components/telemetry"
	"payticket-backend/pkg/configutil"
	tracing "payticket-backend/pkg/telemetry"

	"github.com/spf13/cobra"
)

var (
	configPath *string
	verbose    *bool

	cfg    Config
	traces tracing.Telemetry
)

var rootCmd = &cobra.Command{
	Use:   "ticketq",
	Short: "ticketq looks up parking tickets through the ticket queue, and runs the queue itself.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(*verbose)

		err := configutil.LoadDotEnv(".env")
		if err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
		cfg, err = LoadConfig(*configPath)
		if err != nil {
			return fmt.Errorf("read config %s: %w", *configPath, err)
		}
		traces, err = tracing.SetupFromEnv(cmd.Context(), "ticketq-"+cmd.Name())
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return traces.Shutdown(context.WithoutCancel(cmd.Context()))
	},
	SilenceUsage: true,
}

func init() {
	configPath = rootCmd.PersistentFlags().String("config", "ticketq.json5", "The json5 config file, <name>.local.json5 is merged over it.")
	verbose = rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
