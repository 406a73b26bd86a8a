// Package metrics exposes the proxy's session-survival state as
// Prometheus gauges/counters, the ambient observability surface the
// teacher repo always pairs with a long-running service.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Sessions          prometheus.Gauge
	SessionsBackendLost prometheus.Gauge
	SessionsReconnecting prometheus.Gauge
	HeartbeatOnline   prometheus.Gauge
	Reconnects        prometheus.Counter
	AuthCaptured      prometheus.Counter
	FailoverTeardowns prometheus.Counter
	SessionsDestroyed prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "muproxy", Name: "sessions", Help: "Currently tracked client sessions.",
		}),
		SessionsBackendLost: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "muproxy", Name: "sessions_backend_lost", Help: "Sessions with no backend socket, awaiting reconnect.",
		}),
		SessionsReconnecting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "muproxy", Name: "sessions_reconnecting", Help: "Sessions gagged awaiting the reconnect sentinel.",
		}),
		HeartbeatOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "muproxy", Name: "heartbeat_online", Help: "1 if the heartbeat socket is currently connected.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "muproxy", Name: "reconnects_total", Help: "Backend reconnects started: credentials replayed on a reopened backend socket.",
		}),
		AuthCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "muproxy", Name: "auth_captured_total", Help: "Credentials captured via connect-success correlation.",
		}),
		FailoverTeardowns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "muproxy", Name: "failover_teardowns_total", Help: "Global failover teardowns executed.",
		}),
		SessionsDestroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "muproxy", Name: "sessions_destroyed_total", Help: "Sessions destroyed, any reason.",
		}),
	}
	reg.MustRegister(
		m.Sessions, m.SessionsBackendLost, m.SessionsReconnecting, m.HeartbeatOnline,
		m.Reconnects, m.AuthCaptured, m.FailoverTeardowns, m.SessionsDestroyed,
	)
	return m
}
