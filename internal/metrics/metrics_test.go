package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSentAndReceivedCounters(t *testing.T) {
	a := New()
	a.RecordSent(100)
	a.RecordSent(100)
	a.RecordReceived(100, 0)

	snap := a.Snapshot()
	assert.Equal(t, uint64(2), snap.PacketsSent)
	assert.Equal(t, uint64(1), snap.PacketsReceived)
	assert.Equal(t, uint64(200), snap.BytesSent)
	assert.Equal(t, uint64(100), snap.BytesReceived)
}

func TestPacketLossPercentage(t *testing.T) {
	a := New()
	for i := 0; i < 10; i++ {
		a.RecordSent(10)
	}
	for i := 0; i < 9; i++ {
		a.RecordReceived(10, 0)
	}
	assert.InDelta(t, 10.0, a.PacketLossPercentage(), 0.001)
}

func TestPacketLossPercentageZeroSent(t *testing.T) {
	a := New()
	assert.Equal(t, 0.0, a.PacketLossPercentage())
}

func TestRTTAndJitterAveraging(t *testing.T) {
	a := New()
	a.RecordReceived(10, 1000)
	a.RecordReceived(10, 3000)

	avgRTT, ok := a.AvgRTTMicros()
	require.True(t, ok)
	assert.InDelta(t, 2000.0, avgRTT, 0.001)

	avgJitter, ok := a.AvgJitterMicros()
	require.True(t, ok)
	assert.InDelta(t, 2000.0, avgJitter, 0.001)
}

func TestAvgRTTWithoutSamples(t *testing.T) {
	a := New()
	_, ok := a.AvgRTTMicros()
	assert.False(t, ok)
}

func TestLatencySpikeAnomaly(t *testing.T) {
	a := New()
	a.ConfigureThresholds(Thresholds{LatencySpikeMicros: 5000, HasLatencySpike: true})
	a.RecordReceived(10, 10000) // 10ms RTT, exceeds 5ms threshold

	snap := a.Snapshot()
	require.Len(t, snap.Anomalies, 1)
	assert.Equal(t, AnomalyHighLatencySpike, snap.Anomalies[0].Kind)
	assert.Equal(t, "RTT: 10.00 ms", snap.Anomalies[0].Description)
}

func TestJitterSpikeAnomaly(t *testing.T) {
	a := New()
	a.ConfigureThresholds(Thresholds{JitterSpikeMicros: 1000, HasJitterSpike: true})
	a.RecordReceived(10, 1000)
	a.RecordReceived(10, 5000) // delta = 4000us, exceeds 1000us threshold

	snap := a.Snapshot()
	require.Len(t, snap.Anomalies, 1)
	assert.Equal(t, AnomalyJitterSpike, snap.Anomalies[0].Kind)
	assert.Equal(t, "Jitter: 4.00 ms", snap.Anomalies[0].Description)
}

func TestOutOfOrderAnomaly(t *testing.T) {
	a := New()
	a.RecordOutOfOrder(5, 10)

	snap := a.Snapshot()
	require.Len(t, snap.Anomalies, 1)
	assert.Equal(t, AnomalyOutOfOrder, snap.Anomalies[0].Kind)
	assert.Equal(t, uint64(1), snap.OutOfOrderCount)
}

func TestCheckLossThresholdAppendsAnomalyOnce(t *testing.T) {
	a := New()
	a.ConfigureThresholds(Thresholds{LossPercent: 5, HasLossPercent: true})
	for i := 0; i < 10; i++ {
		a.RecordSent(10)
	}
	for i := 0; i < 5; i++ { // 50% loss
		a.RecordReceived(10, 0)
	}

	a.CheckLossThreshold()

	snap := a.Snapshot()
	require.Len(t, snap.Anomalies, 1)
	assert.Equal(t, AnomalyPacketLoss, snap.Anomalies[0].Kind)
	assert.Equal(t, "50.00% (threshold: 5%)", snap.Anomalies[0].Description)
}

func TestCheckLossThresholdNotConfigured(t *testing.T) {
	a := New()
	a.RecordSent(10)
	a.CheckLossThreshold()

	snap := a.Snapshot()
	assert.Empty(t, snap.Anomalies)
}

func TestTakeBandwidthSampleResetsAccumulator(t *testing.T) {
	a := New()
	a.RecordReceived(500, 0)
	a.TakeBandwidthSample(1000)
	a.RecordReceived(250, 0)
	a.TakeBandwidthSample(2000)

	snap := a.Snapshot()
	require.Len(t, snap.BandwidthSamples, 2)
	assert.Equal(t, uint64(500), snap.BandwidthSamples[0].Bytes)
	assert.Equal(t, uint64(250), snap.BandwidthSamples[1].Bytes)
}

func TestThroughputBps(t *testing.T) {
	a := New()
	a.RecordReceived(1_000_000/8, 0) // 1 megabit of bytes
	assert.InDelta(t, 1_000_000.0, a.ThroughputBps(1), 1)
	assert.Equal(t, 0.0, a.ThroughputBps(0))
}
