package relay

import "github.com/prometheus/client_golang/prometheus"

// relayMetrics are the Prometheus collectors exposed on the observability
// port. The names and roles here map onto this fabric's own connection
// lifecycle events.
type relayMetrics struct {
	agentsConnected   prometheus.Gauge
	activeStreams     prometheus.Gauge
	bytesUpstream     prometheus.Counter
	bytesDownstream   prometheus.Counter
	dialErrors        prometheus.Counter
	authFailures      prometheus.Counter
	rendezvousTimeout prometheus.Counter
}

func newRelayMetrics() *relayMetrics {
	m := &relayMetrics{
		agentsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intratun_agents_connected",
			Help: "Number of agents currently registered and authed",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intratun_active_streams",
			Help: "Number of splices currently joining a public and a proxy socket",
		}),
		bytesUpstream: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intratun_bytes_upstream_total",
			Help: "Total bytes copied from public callers to agents",
		}),
		bytesDownstream: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intratun_bytes_downstream_total",
			Help: "Total bytes copied from agents to public callers",
		}),
		dialErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intratun_dial_errors_total",
			Help: "Number of failed RequestNewProxyConn dispatches to a chosen agent",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intratun_auth_failures_total",
			Help: "Number of rejected control-channel or public bearer-token auth attempts",
		}),
		rendezvousTimeout: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intratun_rendezvous_timeouts_total",
			Help: "Number of pending entries retired by the sweeper without a matching proxy connection",
		}),
	}

	prometheus.MustRegister(
		m.agentsConnected,
		m.activeStreams,
		m.bytesUpstream,
		m.bytesDownstream,
		m.dialErrors,
		m.authFailures,
		m.rendezvousTimeout,
	)

	return m
}
