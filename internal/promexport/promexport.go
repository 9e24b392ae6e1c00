// Package promexport implements a prometheus.Collector over the
// Metrics Aggregator, describing and collecting its counters and
// RTT/jitter gauges on demand (spec SPEC_FULL.md §4/§5).
package promexport

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Ronifue/netstats/internal/metrics"
)

// Collector adapts one run's metrics.Aggregator to prometheus.Collector,
// following the teacher pack's describe/collect shape
// (runZeroInc-sockstats's TCPInfoCollector) with a single aggregator in
// place of a per-connection map, since one run has exactly one metrics
// instance.
type Collector struct {
	runLabel string
	agg      *metrics.Aggregator

	packetsSent     *prometheus.Desc
	packetsReceived *prometheus.Desc
	bytesSent       *prometheus.Desc
	bytesReceived   *prometheus.Desc
	outOfOrder      *prometheus.Desc
	packetLossPct   *prometheus.Desc
	avgRTTMicros    *prometheus.Desc
	avgJitterMicros *prometheus.Desc
}

// New builds a Collector for agg, tagging every metric with runLabel
// (the caller's run identifier) as a constant label so multiple
// runs exported from the same process don't collide.
func New(runLabel string, agg *metrics.Aggregator) *Collector {
	constLabels := prometheus.Labels{"run_id": runLabel}
	return &Collector{
		runLabel: runLabel,
		agg:      agg,
		packetsSent: prometheus.NewDesc(
			"netstats_packets_sent_total", "Total packets sent in this run.", nil, constLabels),
		packetsReceived: prometheus.NewDesc(
			"netstats_packets_received_total", "Total packets received in this run.", nil, constLabels),
		bytesSent: prometheus.NewDesc(
			"netstats_bytes_sent_total", "Total bytes sent in this run.", nil, constLabels),
		bytesReceived: prometheus.NewDesc(
			"netstats_bytes_received_total", "Total bytes received in this run.", nil, constLabels),
		outOfOrder: prometheus.NewDesc(
			"netstats_out_of_order_total", "Total out-of-order packets observed.", nil, constLabels),
		packetLossPct: prometheus.NewDesc(
			"netstats_packet_loss_percent", "Current packet loss percentage.", nil, constLabels),
		avgRTTMicros: prometheus.NewDesc(
			"netstats_avg_rtt_microseconds", "Mean observed RTT in microseconds.", nil, constLabels),
		avgJitterMicros: prometheus.NewDesc(
			"netstats_avg_jitter_microseconds", "Mean observed jitter in microseconds.", nil, constLabels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.packetsSent
	descs <- c.packetsReceived
	descs <- c.bytesSent
	descs <- c.bytesReceived
	descs <- c.outOfOrder
	descs <- c.packetLossPct
	descs <- c.avgRTTMicros
	descs <- c.avgJitterMicros
}

// Collect implements prometheus.Collector, reading a fresh snapshot of
// the aggregator on every scrape.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.agg.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.packetsSent, prometheus.CounterValue, float64(snap.PacketsSent))
	ch <- prometheus.MustNewConstMetric(c.packetsReceived, prometheus.CounterValue, float64(snap.PacketsReceived))
	ch <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(snap.BytesSent))
	ch <- prometheus.MustNewConstMetric(c.bytesReceived, prometheus.CounterValue, float64(snap.BytesReceived))
	ch <- prometheus.MustNewConstMetric(c.outOfOrder, prometheus.CounterValue, float64(snap.OutOfOrderCount))

	ch <- prometheus.MustNewConstMetric(c.packetLossPct, prometheus.GaugeValue, c.agg.PacketLossPercentage())

	if avg, ok := c.agg.AvgRTTMicros(); ok {
		ch <- prometheus.MustNewConstMetric(c.avgRTTMicros, prometheus.GaugeValue, avg)
	}
	if avg, ok := c.agg.AvgJitterMicros(); ok {
		ch <- prometheus.MustNewConstMetric(c.avgJitterMicros, prometheus.GaugeValue, avg)
	}
}
