// Package metrics implements the thread-safe aggregator that converts
// per-packet events into rolling bandwidth samples, RTT/jitter stats,
// and anomaly events, shared among every task of one run.
package metrics

import (
	"fmt"
	"sync"
	"time"
)

// AnomalyKind identifies the behavioral anomaly an Event describes.
type AnomalyKind int

const (
	AnomalyHighLatencySpike AnomalyKind = iota
	AnomalyJitterSpike
	AnomalyOutOfOrder
	AnomalyPacketLoss
)

func (k AnomalyKind) String() string {
	switch k {
	case AnomalyHighLatencySpike:
		return "HighLatencySpike"
	case AnomalyJitterSpike:
		return "JitterSpike"
	case AnomalyOutOfOrder:
		return "OutOfOrder"
	case AnomalyPacketLoss:
		return "PacketLoss"
	default:
		return "Unknown"
	}
}

// Event is one entry in the append-only anomaly log.
type Event struct {
	ElapsedMillis uint64
	Kind          AnomalyKind
	Description   string
}

// BandwidthSample is one (elapsed-ms, bytes-in-interval) pair.
type BandwidthSample struct {
	ElapsedMillis uint64
	Bytes         uint64
}

// Thresholds configures anomaly detection. Latency and jitter
// thresholds are in microseconds, the unit RTT and jitter are tracked
// in; callers holding millisecond values convert them before passing
// them in.
type Thresholds struct {
	LatencySpikeMicros uint64
	HasLatencySpike    bool
	JitterSpikeMicros  uint64
	HasJitterSpike     bool
	LossPercent        float64
	HasLossPercent     bool
}

// Aggregator holds all mutable state shared among the tasks of a single
// run. Every exported method is safe for concurrent use; critical
// sections are kept short and never span an I/O suspension (spec §5).
type Aggregator struct {
	mu sync.Mutex

	startedAt time.Time
	started   bool

	packetsSent     uint64
	packetsReceived uint64
	bytesSent       uint64
	bytesReceived   uint64
	outOfOrderCount uint64

	sumRTTMicros uint64
	rttCount     uint64
	minRTTMicros uint64
	maxRTTMicros uint64
	lastRTT      uint64
	haveLastRTT  bool

	sumJitterMicros uint64
	jitterCount     uint64

	bandwidthSamples    []BandwidthSample
	partialBytes        uint64
	lastSampleMillis    uint64
	haveLastSampleTime  bool

	anomalies []Event

	thresholds Thresholds
}

// New creates an empty Aggregator. It is initialized by the dispatcher
// on first packet event or at run start (InitStart), mutated during the
// run, and handed off to the reporter with no further writers at
// termination.
func New() *Aggregator {
	return &Aggregator{}
}

func elapsedMillisLocked(a *Aggregator) uint64 {
	if !a.started {
		return 0
	}
	return uint64(time.Since(a.startedAt).Milliseconds())
}

// InitStart idempotently records the run's start instant on first call,
// zeroing the bandwidth partial accumulator and the last-sample
// timestamp.
func (a *Aggregator) InitStart() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initStartLocked()
}

func (a *Aggregator) initStartLocked() {
	if a.started {
		return
	}
	a.started = true
	a.startedAt = time.Now()
	a.partialBytes = 0
	a.lastSampleMillis = 0
	a.haveLastSampleTime = true
}

// ConfigureThresholds copies the latency/jitter/loss thresholds into the
// aggregator as given; latency and jitter values must already be in
// microseconds.
func (a *Aggregator) ConfigureThresholds(t Thresholds) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.thresholds = t
}

// RecordSent increments packets-sent and bytes-sent by size, ensuring
// the run's start time has been initialized.
func (a *Aggregator) RecordSent(size int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initStartLocked()
	a.packetsSent++
	a.bytesSent += uint64(size)
}

// RecordReceived increments packets-received, bytes-received, and the
// partial bandwidth accumulator by size. When rttMicros > 0 it updates
// RTT sum/count/min/max, derives jitter from the previous RTT sample,
// and appends a HighLatencySpike anomaly if a latency threshold is
// configured and exceeded.
func (a *Aggregator) RecordReceived(size int, rttMicros uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initStartLocked()

	a.packetsReceived++
	a.bytesReceived += uint64(size)
	a.partialBytes += uint64(size)

	if rttMicros == 0 {
		return
	}

	a.sumRTTMicros += rttMicros
	a.rttCount++
	if a.rttCount == 1 || rttMicros < a.minRTTMicros {
		a.minRTTMicros = rttMicros
	}
	if a.rttCount == 1 || rttMicros > a.maxRTTMicros {
		a.maxRTTMicros = rttMicros
	}

	if a.haveLastRTT {
		var delta uint64
		if rttMicros >= a.lastRTT {
			delta = rttMicros - a.lastRTT
		} else {
			delta = a.lastRTT - rttMicros
		}
		a.recordJitterLocked(delta)
	}
	a.lastRTT = rttMicros
	a.haveLastRTT = true

	if a.thresholds.HasLatencySpike && rttMicros > a.thresholds.LatencySpikeMicros {
		ms := float64(rttMicros) / 1000.0
		a.anomalies = append(a.anomalies, Event{
			ElapsedMillis: elapsedMillisLocked(a),
			Kind:          AnomalyHighLatencySpike,
			Description:   fmt.Sprintf("RTT: %.2f ms", ms),
		})
	}
}

// RecordJitter accumulates a jitter sample (the absolute delta between
// two consecutive RTT samples) and appends a JitterSpike anomaly if a
// jitter threshold is configured and exceeded.
func (a *Aggregator) RecordJitter(deltaMicros uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initStartLocked()
	a.recordJitterLocked(deltaMicros)
}

func (a *Aggregator) recordJitterLocked(deltaMicros uint64) {
	a.sumJitterMicros += deltaMicros
	a.jitterCount++

	if a.thresholds.HasJitterSpike && deltaMicros > a.thresholds.JitterSpikeMicros {
		ms := float64(deltaMicros) / 1000.0
		a.anomalies = append(a.anomalies, Event{
			ElapsedMillis: elapsedMillisLocked(a),
			Kind:          AnomalyJitterSpike,
			Description:   fmt.Sprintf("Jitter: %.2f ms", ms),
		})
	}
}

// RecordOutOfOrder increments the out-of-order counter and appends an
// OutOfOrder anomaly describing the sequence number and the highest
// sequence number seen so far.
func (a *Aggregator) RecordOutOfOrder(seq, highest uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initStartLocked()
	a.outOfOrderCount++
	a.anomalies = append(a.anomalies, Event{
		ElapsedMillis: elapsedMillisLocked(a),
		Kind:          AnomalyOutOfOrder,
		Description:   fmt.Sprintf("packet seq %d received after %d", seq, highest),
	})
}

// TakeBandwidthSample appends (elapsedMillis, partial-accumulator),
// resets the accumulator, and advances the last-sample timestamp. The
// resulting sample sequence is strictly non-decreasing in elapsedMillis
// by construction (callers drive it from a monotonic clock).
func (a *Aggregator) TakeBandwidthSample(elapsedMillis uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initStartLocked()
	a.bandwidthSamples = append(a.bandwidthSamples, BandwidthSample{
		ElapsedMillis: elapsedMillis,
		Bytes:         a.partialBytes,
	})
	a.partialBytes = 0
	a.lastSampleMillis = elapsedMillis
}

// CheckLossThreshold is a post-run hook: if a loss-percent threshold is
// configured and the actual loss exceeds it, appends exactly one
// PacketLoss anomaly. Intended to be called once, after every sending
// and receiving task has joined.
func (a *Aggregator) CheckLossThreshold() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.thresholds.HasLossPercent {
		return
	}
	loss := a.packetLossPercentageLocked()
	if loss > a.thresholds.LossPercent {
		a.anomalies = append(a.anomalies, Event{
			ElapsedMillis: elapsedMillisLocked(a),
			Kind:          AnomalyPacketLoss,
			Description:   fmt.Sprintf("%.2f%% (threshold: %g%%)", loss, a.thresholds.LossPercent),
		})
	}
}

func (a *Aggregator) packetLossPercentageLocked() float64 {
	if a.packetsSent == 0 {
		return 0
	}
	var lost uint64
	if a.packetsSent > a.packetsReceived {
		lost = a.packetsSent - a.packetsReceived
	}
	return 100 * float64(lost) / float64(a.packetsSent)
}

// PacketLossPercentage returns 100 * max(0, sent-received) / sent, or 0
// when sent is 0.
func (a *Aggregator) PacketLossPercentage() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.packetLossPercentageLocked()
}

// AvgRTTMicros returns the mean RTT in microseconds, and false when no
// RTT sample has been recorded.
func (a *Aggregator) AvgRTTMicros() (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rttCount == 0 {
		return 0, false
	}
	return float64(a.sumRTTMicros) / float64(a.rttCount), true
}

// AvgJitterMicros returns the mean jitter in microseconds, and false
// when no jitter sample has been recorded.
func (a *Aggregator) AvgJitterMicros() (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.jitterCount == 0 {
		return 0, false
	}
	return float64(a.sumJitterMicros) / float64(a.jitterCount), true
}

// ThroughputBps returns bytes_received * 8 / secs, or 0 when secs <= 0.
func (a *Aggregator) ThroughputBps(secs float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if secs <= 0 {
		return 0
	}
	return float64(a.bytesReceived) * 8 / secs
}

// Snapshot is an immutable point-in-time copy of the aggregator's
// state, safe to hand to a reporter after every writer has joined.
type Snapshot struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	OutOfOrderCount uint64

	SumRTTMicros uint64
	RTTCount     uint64
	MinRTTMicros uint64
	MaxRTTMicros uint64
	HaveRTT      bool

	SumJitterMicros uint64
	JitterCount     uint64

	BandwidthSamples []BandwidthSample
	Anomalies        []Event

	StartedAt time.Time
}

// Snapshot copies out the current state for handoff to a reporter. The
// caller becomes the sole reader; no further writes are expected once a
// run has joined every task.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	samples := make([]BandwidthSample, len(a.bandwidthSamples))
	copy(samples, a.bandwidthSamples)
	anomalies := make([]Event, len(a.anomalies))
	copy(anomalies, a.anomalies)

	return Snapshot{
		PacketsSent:      a.packetsSent,
		PacketsReceived:  a.packetsReceived,
		BytesSent:        a.bytesSent,
		BytesReceived:    a.bytesReceived,
		OutOfOrderCount:  a.outOfOrderCount,
		SumRTTMicros:     a.sumRTTMicros,
		RTTCount:         a.rttCount,
		MinRTTMicros:     a.minRTTMicros,
		MaxRTTMicros:     a.maxRTTMicros,
		HaveRTT:          a.rttCount > 0,
		SumJitterMicros:  a.sumJitterMicros,
		JitterCount:      a.jitterCount,
		BandwidthSamples: samples,
		Anomalies:        anomalies,
		StartedAt:        a.startedAt,
	}
}
