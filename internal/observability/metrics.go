package observability

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records router session activity. A nil *Metrics records nothing.
type Metrics struct {
	connectAttempts *prometheus.CounterVec
	logins          *prometheus.CounterVec
	execs           *prometheus.CounterVec
	execDuration    *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	routerRows   *prometheus.GaugeVec
	routerValues *prometheus.GaugeVec
	pollUp       prometheus.Gauge
	pollErrors   prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mikrolink",
				Name:      "connect_attempts_total",
				Help:      "Connect attempts by outcome.",
			},
			[]string{"result"},
		),
		logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mikrolink",
				Name:      "logins_total",
				Help:      "Successful logins by handshake method.",
			},
			[]string{"method"},
		),
		execs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mikrolink",
				Name:      "exec_total",
				Help:      "Executed commands by reply kind.",
			},
			[]string{"command", "kind"},
		),
		execDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mikrolink",
				Name:      "exec_duration_seconds",
				Help:      "Command round-trip duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mikrolink",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests served by the monitor.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mikrolink",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		routerRows: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "mikrolink",
				Subsystem: "router",
				Name:      "rows",
				Help:      "Rows returned by the last poll of a command.",
			},
			[]string{"command"},
		),
		routerValues: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "mikrolink",
				Subsystem: "router",
				Name:      "value",
				Help:      "Numeric attributes from the last poll of a command.",
			},
			[]string{"command", "row", "attr"},
		),
		pollUp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mikrolink",
				Subsystem: "poll",
				Name:      "up",
				Help:      "1 if the last poll succeeded.",
			},
		),
		pollErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "mikrolink",
				Subsystem: "poll",
				Name:      "errors_total",
				Help:      "Failed polls.",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.connectAttempts, m.logins, m.execs, m.execDuration,
			m.httpRequests, m.httpDuration,
			m.routerRows, m.routerValues, m.pollUp, m.pollErrors,
		)
	}
	return m
}

func (m *Metrics) RecordConnectAttempt(result string) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordLogin(method string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(method).Inc()
}

func (m *Metrics) RecordExec(command, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	command = commandLabel(command)
	m.execs.WithLabelValues(command, kind).Inc()
	m.execDuration.WithLabelValues(command).Observe(duration.Seconds())
}

func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	statusLabel := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	m.httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// RecordPoll replaces the gauges of command with the given row count and
// per-row numeric values.
func (m *Metrics) RecordPoll(command string, rows int, values map[string]map[string]float64) {
	if m == nil {
		return
	}
	command = commandLabel(command)
	m.routerRows.WithLabelValues(command).Set(float64(rows))
	m.routerValues.DeletePartialMatch(prometheus.Labels{"command": command})
	for row, attrs := range values {
		for attr, v := range attrs {
			m.routerValues.WithLabelValues(command, row, attr).Set(v)
		}
	}
}

// RecordPollResult sets poll_up and counts failures.
func (m *Metrics) RecordPollResult(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.pollUp.Set(0)
		m.pollErrors.Inc()
		return
	}
	m.pollUp.Set(1)
}

// commandLabel keeps label cardinality bounded to the command path.
func commandLabel(command string) string {
	command = strings.TrimSpace(command)
	if i := strings.IndexAny(command, " \n"); i >= 0 {
		command = command[:i]
	}
	if command == "" {
		return "unknown"
	}
	return command
}
