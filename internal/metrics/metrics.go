// Package metrics holds the daemon's Prometheus collectors. They live on a
// private registry so tests and embedders never collide with the default one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "audiocontrold"

var (
	Registry = prometheus.NewRegistry()

	BusPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_events_published_total",
		Help:      "Events published on the event bus.",
	})
	BusDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_events_dropped_total",
		Help:      "Per-subscriber deliveries dropped because the subscriber channel was full.",
	})
	BusSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "bus_subscribers",
		Help:      "Current number of event bus subscribers.",
	})

	FanoutClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "fanout_clients",
		Help:      "Registered feed clients.",
	})
	FanoutBuffered = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "fanout_buffer_events",
		Help:      "Events held in the recent-event buffer.",
	})

	ReconnectAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "controller_reconnect_attempts_total",
		Help:      "Failed backend connection attempts.",
	}, []string{"player"})
	ControllerDisabled = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "controller_disabled",
		Help:      "1 when a controller gave up reconnecting.",
	}, []string{"player"})

	Commands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Commands dispatched to backends.",
	}, []string{"player", "command", "result"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		BusPublished, BusDropped, BusSubscribers,
		FanoutClients, FanoutBuffered,
		ReconnectAttempts, ControllerDisabled,
		Commands,
	)
}

// Handler serves the private registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// CommandResult records one dispatched command.
func CommandResult(player, command string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	Commands.WithLabelValues(player, command, result).Inc()
}
