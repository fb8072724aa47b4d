package agent

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"time"
)

// agent holds the state shared across reconnect attempts: the resolved
// options and, once a login has succeeded once, the token to reuse on the
// next attempt instead of the email/password pair (the LoginByToken
// path).
type agent struct {
	opts   *options
	logger *slog.Logger

	mu    sync.Mutex
	token string

	rngMu sync.Mutex
	rng   *rand.Rand
}

func (o *options) run(ctx context.Context) error {
	a := &agent{
		opts:   o,
		logger: o.logger,
		token:  o.token,
	}
	return a.run(ctx)
}

// run implements the reconnect loop: jittered exponential backoff, 1s
// floor, 30s cap, resetting once a connection survives past a minute.
func (a *agent) run(ctx context.Context) error {
	backoff := a.opts.reconnectMin
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		start := time.Now()
		err := a.connectOnce(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if err != nil {
			a.logger.Warn("control connection failed", "error", err)
		} else {
			a.logger.Info("control connection closed, reconnecting")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(start) > time.Minute {
			backoff = a.opts.reconnectMin
		}
		sleep := a.jitter(backoff)
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
		if backoff < a.opts.reconnectMax {
			backoff *= 2
			if backoff > a.opts.reconnectMax {
				backoff = a.opts.reconnectMax
			}
		}
	}
}

func (a *agent) jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	a.rngMu.Lock()
	if a.rng == nil {
		a.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	const f = 0.4
	min := 1 - f/2
	max := 1 + f/2
	scale := min + a.rng.Float64()*(max-min)
	a.rngMu.Unlock()
	return time.Duration(float64(base) * scale)
}

func (a *agent) connectOnce(ctx context.Context) error {
	dialer := net.Dialer{Timeout: time.Duration(a.opts.dialTimeoutMs) * time.Millisecond}
	conn, err := dialer.DialContext(ctx, "tcp", a.opts.controlAddr)
	if err != nil {
		return err
	}

	sess := newControlSession(a, conn)
	return sess.run(ctx)
}
