package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relayctl"

type Metrics struct {
	Registry *prometheus.Registry

	RelayCommands   *prometheus.CounterVec
	RelayWrites     *prometheus.CounterVec
	RelayFault      *prometheus.GaugeVec
	RelayState      *prometheus.GaugeVec
	RuleFirings     *prometheus.CounterVec
	EvaluationSkips *prometheus.CounterVec
	EvaluationPass  prometheus.Histogram
	ActionAttempts  *prometheus.CounterVec
	ActionOutcomes  *prometheus.CounterVec
	DispatchQueue   prometheus.Gauge
	TickOverruns    prometheus.Counter
	RegistryReloads *prometheus.CounterVec
	RegistryVersion prometheus.Gauge
	CalendarEvents  *prometheus.CounterVec
}

// New builds a metric set on its own registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RelayCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_commands_total",
			Help:      "Relay commands by relay, command and result.",
		}, []string{"relay", "command", "result"}),
		RelayWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_hardware_writes_total",
			Help:      "Hardware write attempts by relay and result.",
		}, []string{"relay", "result"}),
		RelayFault: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_fault",
			Help:      "1 while the relay carries the fault overlay.",
		}, []string{"relay"}),
		RelayState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_state",
			Help:      "Logical relay state: 0 off, 1 on, 2 pulsing.",
		}, []string{"relay"}),
		RuleFirings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_firings_total",
			Help:      "Rule firings by rule id.",
		}, []string{"rule"}),
		EvaluationSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_evaluation_skips_total",
			Help:      "Rules skipped during evaluation by reason.",
		}, []string{"reason"}),
		EvaluationPass: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_pass_seconds",
			Help:      "Duration of one evaluation pass.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		ActionAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_attempts_total",
			Help:      "Action execution attempts by action type.",
		}, []string{"type"}),
		ActionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_outcomes_total",
			Help:      "Terminal action outcomes by type and outcome.",
		}, []string{"type", "outcome"}),
		DispatchQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_length",
			Help:      "Actions waiting for a dispatcher worker.",
		}),
		TickOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_tick_overruns_total",
			Help:      "Evaluation passes that ran past their period.",
		}),
		RegistryReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_registry_reloads_total",
			Help:      "Rule registry reloads by result.",
		}, []string{"result"}),
		RegistryVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rule_registry_version",
			Help:      "Version of the published rule snapshot.",
		}),
		CalendarEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calendar_events_total",
			Help:      "Calendar events by event id and result.",
		}, []string{"event", "result"}),
	}

	m.Registry.MustRegister(
		m.RelayCommands, m.RelayWrites, m.RelayFault, m.RelayState,
		m.RuleFirings, m.EvaluationSkips, m.EvaluationPass,
		m.ActionAttempts, m.ActionOutcomes, m.DispatchQueue,
		m.TickOverruns, m.RegistryReloads, m.RegistryVersion, m.CalendarEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide metric set.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

// Or returns m, or the process-wide set when m is nil.
func Or(m *Metrics) *Metrics {
	if m != nil {
		return m
	}
	return Default()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
