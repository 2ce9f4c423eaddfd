package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dongle"

var (
	// AMICommands counts console commands by outcome kind
	AMICommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ami_commands_total",
			Help:      "Total number of AMI console commands by result",
		},
		[]string{"result"},
	)

	// AMICommandDuration observes command round-trip time
	AMICommandDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ami_command_duration_seconds",
			Help:      "AMI command round-trip time",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	// AMIReconnects counts reconnect attempts by outcome
	AMIReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ami_reconnects_total",
			Help:      "Total number of AMI reconnect attempts",
		},
		[]string{"result"},
	)

	// AMIConnected is 1 while the session is logged in
	AMIConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ami_connected",
			Help:      "Whether the AMI session is logged in",
		},
	)

	// DevicesPresent is the number of devices in the last discovery snapshot
	DevicesPresent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_present",
			Help:      "Number of dongles reported by the last discovery poll",
		},
	)

	// DeviceChanges counts added and removed devices
	DeviceChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_changes_total",
			Help:      "Total number of devices added or removed",
		},
		[]string{"change"},
	)

	// SignalDBm is the last signal reading per device
	SignalDBm = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signal_dbm",
			Help:      "Last signal strength reading in dBm",
		},
		[]string{"imei", "dongle_id"},
	)

	// ParseWarnings counts skipped lines per parser
	ParseWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_warnings_total",
			Help:      "Total number of response lines the parsers could not use",
		},
		[]string{"parser"},
	)

	// MessagesSent counts SMS and USSD requests by outcome
	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Total number of SMS and USSD requests",
		},
		[]string{"type", "result"},
	)

	once sync.Once
)

// InitMetrics registers all metrics with the default registry. Safe to call
// more than once.
func InitMetrics() {
	once.Do(func() {
		for _, c := range []prometheus.Collector{
			AMICommands,
			AMICommandDuration,
			AMIReconnects,
			AMIConnected,
			DevicesPresent,
			DeviceChanges,
			SignalDBm,
			ParseWarnings,
			MessagesSent,
		} {
			_ = prometheus.DefaultRegisterer.Register(c)
		}
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
