package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/drksbr/intratun/internal/runtime"
	"github.com/drksbr/intratun/internal/util"
)

// options holds every agent-subcommand flag. An agent authenticates either
// with a previously issued token or, the first time it runs, with an
// email/password pair traded for one.
type options struct {
	controlAddr string
	proxyAddr   string
	localTarget string

	agentID  string
	email    string
	password string
	token    string

	dialTimeoutMs int
	reconnectMin  time.Duration
	reconnectMax  time.Duration
	modelList     []string

	logger *slog.Logger
}

// NewCommand builds the "agent" cobra subcommand.
func NewCommand(globals *runtime.Options) *cobra.Command {
	opts := &options{
		controlAddr:   "127.0.0.1:17000",
		proxyAddr:     "127.0.0.1:17001",
		dialTimeoutMs: 5000,
		reconnectMin:  1 * time.Second,
		reconnectMax:  30 * time.Second,
	}

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Agent that dials the relay and exposes a local service to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if globals.Logger() == nil {
				if err := globals.SetupLogger(); err != nil {
					return err
				}
			}
			if err := opts.validate(); err != nil {
				return err
			}
			opts.logger = globals.Logger().With("component", "agent")
			ctx := cmd.Context()
			if ctx == nil {
				var cancel context.CancelFunc
				ctx, cancel = util.WithSignalContext(context.Background())
				defer cancel()
			}
			return opts.run(ctx)
		},
	}

	cmd.Flags().StringVar(&opts.controlAddr, "control", opts.controlAddr, "relay control channel address")
	cmd.Flags().StringVar(&opts.proxyAddr, "proxy", opts.proxyAddr, "relay proxy channel address")
	cmd.Flags().StringVar(&opts.localTarget, "local-target", "", "address of the local service this agent exposes")
	cmd.Flags().StringVar(&opts.agentID, "id", "", "agent identifier sent with Register (random if omitted)")
	cmd.Flags().StringVar(&opts.email, "email", "", "login email, used when --token is not set")
	cmd.Flags().StringVar(&opts.password, "password", "", "login password, used when --token is not set")
	cmd.Flags().StringVar(&opts.token, "token", "", "previously issued token; skips interactive login")
	cmd.Flags().IntVar(&opts.dialTimeoutMs, "dial-timeout-ms", opts.dialTimeoutMs, "timeout in milliseconds for dialing the relay (control and proxy) and the local target")
	cmd.Flags().StringSliceVar(&opts.modelList, "model", nil, "model identifiers this agent advertises (repeatable)")

	return cmd
}

func (o *options) validate() error {
	if o.controlAddr == "" || o.proxyAddr == "" {
		return errors.New("--control and --proxy are required")
	}
	if o.localTarget == "" {
		return errors.New("--local-target is required")
	}
	if o.token == "" && (o.email == "" || o.password == "") {
		return errors.New("either --token or both --email and --password are required")
	}
	if o.agentID == "" {
		o.agentID = uuid.NewString()
	}
	if o.reconnectMin <= 0 {
		o.reconnectMin = time.Second
	}
	if o.reconnectMax < o.reconnectMin {
		o.reconnectMax = o.reconnectMin
	}
	return nil
}
