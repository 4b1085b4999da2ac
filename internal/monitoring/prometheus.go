package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "lead_ingest"

var (
	descLoads = prometheus.NewDesc(namespace+"_loads",
		"Loads recorded in the ledger within the lookback window.", nil, nil)
	descPartialLoads = prometheus.NewDesc(namespace+"_partial_loads",
		"Loads that skipped at least one row within the lookback window.", nil, nil)
	descRows = prometheus.NewDesc(namespace+"_rows",
		"Rows seen by loads within the lookback window.", []string{"outcome"}, nil)
	descSkipRate = prometheus.NewDesc(namespace+"_row_skip_ratio",
		"Skipped rows over parsed rows within the lookback window.", nil, nil)
	descNotifications = prometheus.NewDesc(namespace+"_notifications_total",
		"Storage notifications handled since process start.", []string{"outcome"}, nil)
	descDeadLetters = prometheus.NewDesc(namespace+"_dead_letters",
		"Notifications currently parked in dead letters.", nil, nil)
	descScrapeErrors = prometheus.NewDesc(namespace+"_scrape_error",
		"1 if the last snapshot could not be collected.", nil, nil)
)

// Exporter exposes MetricsSnapshot values as Prometheus metrics. Each scrape
// takes a fresh snapshot.
type Exporter struct {
	collector     *Collector
	lookbackHours int
	timeout       time.Duration
}

// NewExporter creates an exporter over collector. lookbackHours <= 0 means 24.
func NewExporter(collector *Collector, lookbackHours int) *Exporter {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	return &Exporter{collector: collector, lookbackHours: lookbackHours, timeout: 10 * time.Second}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- descLoads
	ch <- descPartialLoads
	ch <- descRows
	ch <- descSkipRate
	ch <- descNotifications
	ch <- descDeadLetters
	ch <- descScrapeErrors
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	snap, err := e.collector.Collect(ctx, e.lookbackHours)
	if err != nil {
		zap.L().Warn("monitoring: prometheus scrape failed", zap.Error(err))
		ch <- prometheus.MustNewConstMetric(descScrapeErrors, prometheus.GaugeValue, 1)
		return
	}
	ch <- prometheus.MustNewConstMetric(descScrapeErrors, prometheus.GaugeValue, 0)

	ch <- prometheus.MustNewConstMetric(descLoads, prometheus.GaugeValue, float64(snap.Loads))
	ch <- prometheus.MustNewConstMetric(descPartialLoads, prometheus.GaugeValue, float64(snap.PartialLoads))
	ch <- prometheus.MustNewConstMetric(descRows, prometheus.GaugeValue, float64(snap.RowsParsed), "parsed")
	ch <- prometheus.MustNewConstMetric(descRows, prometheus.GaugeValue, float64(snap.RowsLoaded), "loaded")
	ch <- prometheus.MustNewConstMetric(descRows, prometheus.GaugeValue, float64(snap.RowsSkipped), "skipped")
	ch <- prometheus.MustNewConstMetric(descSkipRate, prometheus.GaugeValue, snap.SkipRate)
	ch <- prometheus.MustNewConstMetric(descNotifications, prometheus.CounterValue, float64(snap.NotifyProcessed), "processed")
	ch <- prometheus.MustNewConstMetric(descNotifications, prometheus.CounterValue, float64(snap.NotifyDuplicates), "duplicate")
	ch <- prometheus.MustNewConstMetric(descNotifications, prometheus.CounterValue, float64(snap.NotifyFailed), "failed")
	ch <- prometheus.MustNewConstMetric(descDeadLetters, prometheus.GaugeValue, float64(snap.DeadLetters))
}

// Handler serves the exporter in the Prometheus text format from a private
// registry.
func (e *Exporter) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(e)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
