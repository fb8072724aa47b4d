package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drksbr/intratun/internal/agent"
	"github.com/drksbr/intratun/internal/relay"
	"github.com/drksbr/intratun/internal/runtime"
	"github.com/drksbr/intratun/internal/util"
	"github.com/drksbr/intratun/internal/version"
)

func Execute() error {
	opts := &runtime.Options{
		LogLevel: "info",
	}
	ctx, cancel := util.WithSignalContext(context.Background())
	defer cancel()
	cmd := newRootCommand(opts)
	return cmd.ExecuteContext(ctx)
}

func newRootCommand(opts *runtime.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "intratun",
		Short:        "Rendezvous fabric pairing external callers with agent-side services",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.SetupLogger()
		},
	}

	cmd.PersistentFlags().BoolVar(&opts.JSONLogs, "json-logs", false, "emit logs in JSON format")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "log level (debug, info, warn, error)")

	cmd.AddCommand(relay.NewCommand(opts))
	cmd.AddCommand(agent.NewCommand(opts))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
		},
	})

	return cmd
}
