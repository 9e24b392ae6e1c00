package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Ronifue/netstats/internal/config"
	"github.com/Ronifue/netstats/internal/metrics"
)

func TestProcessBandwidthSamplesComputesMbps(t *testing.T) {
	samples := []metrics.BandwidthSample{
		{ElapsedMillis: 1000, Bytes: 125000}, // 1,000,000 bits / 1s = 1 Mbps
		{ElapsedMillis: 2000, Bytes: 250000}, // 2 Mbps
	}
	points := processBandwidthSamples(samples)

	assert.Len(t, points, 2)
	assert.InDelta(t, 1.0, points[0].Mbps, 0.001)
	assert.InDelta(t, 1.0, points[0].TimeSecs, 0.001)
	assert.InDelta(t, 2.0, points[1].Mbps, 0.001)
}

func TestProcessBandwidthSamplesSkipsZeroDurationInterval(t *testing.T) {
	samples := []metrics.BandwidthSample{
		{ElapsedMillis: 1000, Bytes: 125000},
		{ElapsedMillis: 1000, Bytes: 5000}, // same millisecond as previous: skipped
		{ElapsedMillis: 2000, Bytes: 125000},
	}
	points := processBandwidthSamples(samples)

	assert.Len(t, points, 2)
	assert.InDelta(t, 1.0, points[1].Mbps, 0.001)
}

func TestBuildSummaryComputesLossAndAverages(t *testing.T) {
	snap := metrics.Snapshot{
		PacketsSent:     10,
		PacketsReceived: 8,
		SumRTTMicros:    4000,
		RTTCount:        2,
		SumJitterMicros: 1000,
		JitterCount:     2,
	}

	started := time.Now().Add(-2 * time.Second)
	ended := time.Now()
	s := BuildSummary("run-1", config.TestConfig{}, snap, started, ended)

	assert.Equal(t, 20.0, s.PacketLossPct)
	assert.True(t, s.HaveRTT)
	assert.InDelta(t, 2000.0, s.AvgRTTMicros, 0.001)
	assert.True(t, s.HaveJitter)
	assert.InDelta(t, 500.0, s.AvgJitterMicros, 0.001)
	assert.InDelta(t, 2.0, s.ActualDurationSecs, 0.2)
}

func TestBuildSummaryZeroSentHasNoLoss(t *testing.T) {
	snap := metrics.Snapshot{}
	s := BuildSummary("run-2", config.TestConfig{}, snap, time.Now(), time.Now())
	assert.Equal(t, 0.0, s.PacketLossPct)
	assert.False(t, s.HaveRTT)
}
