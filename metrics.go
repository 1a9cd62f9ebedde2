package irc

import "github.com/prometheus/client_golang/prometheus"

// metricsRegisterer is the type Options.MetricsRegisterer is declared
// against; kept as an alias so config.go doesn't need to import
// prometheus directly.
type metricsRegisterer = prometheus.Registerer

// networkMetrics holds the optional Prometheus instrumentation for one
// Network. A nil *networkMetrics (the zero value returned when no
// registerer is configured) makes every method a no-op, so call sites
// never need a nil check of their own.
type networkMetrics struct {
	commandsSent     prometheus.Counter
	commandsReceived prometheus.Counter
	reconnects       prometheus.Counter
	rateLimitWaits   prometheus.Counter
	capsEnabled      prometheus.Gauge
}

func newNetworkMetrics(reg prometheus.Registerer, network string) *networkMetrics {
	if reg == nil {
		return nil
	}
	labels := prometheus.Labels{"network": network}
	m := &networkMetrics{
		commandsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "netwolf_commands_sent_total",
			Help:        "Total commands sent to the server.",
			ConstLabels: labels,
		}),
		commandsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "netwolf_commands_received_total",
			Help:        "Total commands received from the server.",
			ConstLabels: labels,
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "netwolf_reconnects_total",
			Help:        "Total reconnect attempts made.",
			ConstLabels: labels,
		}),
		rateLimitWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "netwolf_rate_limit_waits_total",
			Help:        "Total times a send blocked on the rate limiter.",
			ConstLabels: labels,
		}),
		capsEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "netwolf_caps_enabled",
			Help:        "Number of capabilities currently enabled.",
			ConstLabels: labels,
		}),
	}
	for _, c := range []prometheus.Collector{m.commandsSent, m.commandsReceived, m.reconnects, m.rateLimitWaits, m.capsEnabled} {
		_ = reg.Register(c)
	}
	return m
}

func (m *networkMetrics) sentOne() {
	if m != nil {
		m.commandsSent.Inc()
	}
}

func (m *networkMetrics) receivedOne() {
	if m != nil {
		m.commandsReceived.Inc()
	}
}

func (m *networkMetrics) reconnected() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *networkMetrics) setCapsEnabled(n int) {
	if m != nil {
		m.capsEnabled.Set(float64(n))
	}
}
