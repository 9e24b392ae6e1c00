// Package report builds the post-run Summary from a TestConfig and a
// Metrics snapshot, including the bandwidth-samples-to-Mbps
// post-processing applied whenever a Summary is built.
package report

import (
	"time"

	"github.com/Ronifue/netstats/internal/config"
	"github.com/Ronifue/netstats/internal/metrics"
)

// BandwidthPoint is one (seconds-since-start, megabits-per-second) pair.
type BandwidthPoint struct {
	TimeSecs float64
	Mbps     float64
}

// Summary is the final, immutable account of one run: configuration,
// metrics snapshot, anomaly log, and the processed bandwidth series.
type Summary struct {
	RunID string

	Config config.TestConfig

	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	OutOfOrderCount uint64
	PacketLossPct   float64

	AvgRTTMicros    float64
	HaveRTT         bool
	AvgJitterMicros float64
	HaveJitter      bool

	Anomalies []metrics.Event

	StartTimeUTC        string
	EndTimeUTC          string
	ActualDurationSecs  float64
	BandwidthOverTime   []BandwidthPoint
}

// processBandwidthSamples converts the Aggregator's raw
// (elapsed-ms, bytes-in-interval) samples into (seconds, Mbps) points.
// A sample whose interval has zero duration (two samples landing on
// the same millisecond) is skipped rather than divided by zero,
// mirroring the original reporter's interval-skip rule.
func processBandwidthSamples(samples []metrics.BandwidthSample) []BandwidthPoint {
	points := make([]BandwidthPoint, 0, len(samples))
	var lastMillis uint64

	for _, s := range samples {
		intervalMillis := s.ElapsedMillis - lastMillis
		if intervalMillis == 0 {
			lastMillis = s.ElapsedMillis
			continue
		}
		intervalSecs := float64(intervalMillis) / 1000.0
		mbps := (float64(s.Bytes) * 8.0) / intervalSecs / 1_000_000.0
		points = append(points, BandwidthPoint{
			TimeSecs: float64(s.ElapsedMillis) / 1000.0,
			Mbps:     mbps,
		})
		lastMillis = s.ElapsedMillis
	}
	return points
}

// BuildSummary assembles a Summary from a run's config, a final
// metrics snapshot, the run identifier, and wall-clock start/end
// instants.
func BuildSummary(runID string, cfg config.TestConfig, snap metrics.Snapshot, started, ended time.Time) Summary {
	var lossPct float64
	if snap.PacketsSent > 0 {
		var lost uint64
		if snap.PacketsSent > snap.PacketsReceived {
			lost = snap.PacketsSent - snap.PacketsReceived
		}
		lossPct = 100 * float64(lost) / float64(snap.PacketsSent)
	}

	var avgRTT, avgJitter float64
	if snap.RTTCount > 0 {
		avgRTT = float64(snap.SumRTTMicros) / float64(snap.RTTCount)
	}
	if snap.JitterCount > 0 {
		avgJitter = float64(snap.SumJitterMicros) / float64(snap.JitterCount)
	}

	return Summary{
		RunID:              runID,
		Config:             cfg,
		PacketsSent:        snap.PacketsSent,
		PacketsReceived:    snap.PacketsReceived,
		BytesSent:          snap.BytesSent,
		BytesReceived:      snap.BytesReceived,
		OutOfOrderCount:    snap.OutOfOrderCount,
		PacketLossPct:      lossPct,
		AvgRTTMicros:       avgRTT,
		HaveRTT:            snap.RTTCount > 0,
		AvgJitterMicros:    avgJitter,
		HaveJitter:         snap.JitterCount > 0,
		Anomalies:          snap.Anomalies,
		StartTimeUTC:       started.UTC().Format(time.RFC3339),
		EndTimeUTC:         ended.UTC().Format(time.RFC3339),
		ActualDurationSecs: ended.Sub(started).Seconds(),
		BandwidthOverTime:  processBandwidthSamples(snap.BandwidthSamples),
	}
}
