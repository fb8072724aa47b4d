package relay

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/drksbr/intratun/internal/observability"
	"github.com/drksbr/intratun/internal/runtime"
)

// relayOptions holds every relay-subcommand flag.
type relayOptions struct {
	controlListen       string
	proxyListen         string
	publicListen        string
	observabilityListen string

	agentDirectory    string
	bootstrapToken    string
	idMode            string
	rendezvousTimeout time.Duration
	maxPublicConns    int

	acmeHosts []string
	acmeEmail string
	acmeCache string

	tracingEnabled  bool
	tracingExporter string
	tracingEndpoint string
}

// NewCommand builds the "relay" cobra subcommand.
func NewCommand(globals *runtime.Options) *cobra.Command {
	opts := &relayOptions{
		controlListen:       ":17000",
		proxyListen:         ":17001",
		publicListen:        ":18080",
		observabilityListen: ":18081",
		idMode:              "uuid",
		rendezvousTimeout:   defaultPendingTimeout,
	}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the control/proxy/public rendezvous fabric",
		RunE: func(cmd *cobra.Command, args []string) error {
			if globals.Logger() == nil {
				if err := globals.SetupLogger(); err != nil {
					return err
				}
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
				Enabled:     opts.tracingEnabled,
				Exporter:    opts.tracingExporter,
				ServiceName: "intratun-relay",
				Endpoint:    opts.tracingEndpoint,
			})
			if err != nil {
				return err
			}
			defer shutdownTracing(context.Background())

			server, err := NewServer(globals.Logger().With("component", "relay"), opts)
			if err != nil {
				return err
			}
			return server.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&opts.controlListen, "control-listen", opts.controlListen, "listen address for the agent control channel")
	cmd.Flags().StringVar(&opts.proxyListen, "proxy-listen", opts.proxyListen, "listen address agents dial to open proxy sockets")
	cmd.Flags().StringVar(&opts.publicListen, "public-listen", opts.publicListen, "listen address for external callers")
	cmd.Flags().StringVar(&opts.observabilityListen, "observability-listen", opts.observabilityListen, "listen address for the HTTP introspection API")
	cmd.Flags().StringVar(&opts.agentDirectory, "agent-directory", "", "path to YAML file listing agent email/password pairs")
	cmd.Flags().StringVar(&opts.bootstrapToken, "api-key", "", "static bootstrap token used when the validator reports a transient error")
	cmd.Flags().StringVar(&opts.idMode, "id-mode", opts.idMode, "rendezvous id generator (uuid or cuid)")
	cmd.Flags().DurationVar(&opts.rendezvousTimeout, "rendezvous-timeout", opts.rendezvousTimeout, "how long a public connection waits for a matching proxy socket")
	cmd.Flags().IntVar(&opts.maxPublicConns, "max-public-conns", 0, "maximum concurrent public connections (0 disables the limit)")
	cmd.Flags().StringSliceVar(&opts.acmeHosts, "acme-host", nil, "hostnames for Let's Encrypt certificates on the observability listener (repeatable)")
	cmd.Flags().StringVar(&opts.acmeEmail, "acme-email", "", "contact email for Let's Encrypt registration")
	cmd.Flags().StringVar(&opts.acmeCache, "acme-cache", "", "directory for ACME certificate cache")
	cmd.Flags().BoolVar(&opts.tracingEnabled, "tracing", false, "enable OpenTelemetry tracing")
	cmd.Flags().StringVar(&opts.tracingExporter, "tracing-exporter", "stdout", "tracing exporter (stdout, otlp-grpc, otlp-http)")
	cmd.Flags().StringVar(&opts.tracingEndpoint, "tracing-endpoint", "", "tracing collector endpoint, if applicable")

	return cmd
}
