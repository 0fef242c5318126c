// Package metrics exposes scanner counters and gauges in Prometheus format.
package metrics

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/satscan/internal/rtsp"
	"github.com/zsiec/satscan/internal/scan"
)

// Metrics holds the scanner's Prometheus collectors on a private registry.
type Metrics struct {
	registry       *prometheus.Registry
	rtspRequests   *prometheus.CounterVec
	tablesAcquired *prometheus.CounterVec
	tableTimeouts  *prometheus.CounterVec
	channelsFound  *prometheus.CounterVec
	entriesScanned *prometheus.CounterVec
	signalLevel    *prometheus.GaugeVec
	signalQuality  *prometheus.GaugeVec
	activeScans    prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		rtspRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "satscan_rtsp_requests_total",
			Help: "RTSP requests answered by the tuner, by method and status code",
		}, []string{"method", "status"}),
		tablesAcquired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "satscan_tables_acquired_total",
			Help: "PSI/SI tables collected, by table",
		}, []string{"table"}),
		tableTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "satscan_table_timeouts_total",
			Help: "Table waits that ran out of time, by table",
		}, []string{"table"}),
		channelsFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "satscan_channels_found_total",
			Help: "Channels emitted, by tuner",
		}, []string{"tuner"}),
		entriesScanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "satscan_entries_scanned_total",
			Help: "Tuning entries processed, by whether the tuner locked",
		}, []string{"locked"}),
		signalLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "satscan_signal_level",
			Help: "Last reported signal level in percent",
		}, []string{"tuner"}),
		signalQuality: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "satscan_signal_quality",
			Help: "Last reported signal quality in percent",
		}, []string{"tuner"}),
		activeScans: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "satscan_active_scans",
			Help: "Scans currently running",
		}),
	}

	registry.MustRegister(
		m.rtspRequests,
		m.tablesAcquired,
		m.tableTimeouts,
		m.channelsFound,
		m.entriesScanned,
		m.signalLevel,
		m.signalQuality,
		m.activeScans,
	)
	return m
}

// ObserveRTSP counts one answered request. It matches
// rtsp.Options.OnResponse.
func (m *Metrics) ObserveRTSP(method string, status rtsp.StatusCode) {
	m.rtspRequests.WithLabelValues(method, strconv.Itoa(int(status))).Inc()
}

// ObserveTable counts a completed table or a timeout. It matches
// scan.Options.OnTable.
func (m *Metrics) ObserveTable(table string, err error) {
	switch {
	case err == nil:
		m.tablesAcquired.WithLabelValues(table).Inc()
	case errors.Is(err, scan.ErrTableTimeout):
		m.tableTimeouts.WithLabelValues(table).Inc()
	}
}

func (m *Metrics) ObserveEntry(locked bool) {
	m.entriesScanned.WithLabelValues(strconv.FormatBool(locked)).Inc()
}

func (m *Metrics) IncChannels(tuner string) {
	m.channelsFound.WithLabelValues(tuner).Inc()
}

func (m *Metrics) SetSignal(tuner string, info rtsp.SignalInfo) {
	m.signalLevel.WithLabelValues(tuner).Set(float64(info.Level))
	m.signalQuality.WithLabelValues(tuner).Set(float64(info.Quality))
}

func (m *Metrics) SetActiveScans(n int) {
	m.activeScans.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
