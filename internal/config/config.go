// Package config defines TestConfig, the immutable description of one
// run, and loads environment-variable defaults (optionally backed by a
// .env file) the way the teacher's ARI services do.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Protocol selects the transport a run uses.
type Protocol int

const (
	ProtocolUDP Protocol = iota
	ProtocolTCP
)

func (p Protocol) String() string {
	if p == ProtocolTCP {
		return "TCP"
	}
	return "UDP"
}

// Role selects which side(s) of the conversation this process drives.
type Role int

const (
	RoleClient Role = iota
	RoleServer
	RoleBidirectional
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "Client"
	case RoleServer:
		return "Server"
	case RoleBidirectional:
		return "Bidirectional"
	default:
		return "Unknown"
	}
}

// TCPBidiMode selects how a Bidirectional/TCP run establishes its
// stream(s). Only meaningful when Protocol == ProtocolTCP and
// Role == RoleBidirectional; otherwise it is ignored (spec §3 invariant).
type TCPBidiMode int

const (
	// TCPBidiDualStream runs two streams: one connecting out, one
	// accepted. The reverse stream is a second full data stream sent at
	// the configured tick rate (not an ACK channel), so the offered load
	// is doubled.
	TCPBidiDualStream TCPBidiMode = iota
	TCPBidiSingleStream
)

// SizeRange is an inclusive (Min, Max) payload-size range for randomized
// packet sizes. 0 < Min <= Max is the spec invariant, checked by
// Validate; a nil TestConfig.SizeRange means "no range configured".
type SizeRange struct {
	Min, Max int
}

// Thresholds configures anomaly detection. A zero value in a field with
// its accompanying bool false means "not configured".
type Thresholds struct {
	LatencySpikeMs uint64
	HasLatencySpike bool
	JitterSpikeMs  uint64
	HasJitterSpike bool
	LossPercent    float64
	HasLossPercent bool
}

// TestConfig is the immutable description of a run, once started.
type TestConfig struct {
	TargetHost string
	TargetPort uint16

	TestDurationSecs uint64
	TickRateHz       uint32 // 0 means as-fast-as-possible

	PacketSizeBytes int
	SizeRange       *SizeRange

	Protocol Protocol
	Role     Role

	TCPBidiMode *TCPBidiMode

	// Initiator, when set, authoritatively decides which side connects
	// in Bidirectional/TCP/SingleStream mode, resolving the Open
	// Question in spec §9 (see SPEC_FULL.md §6). true means "this
	// process connects out"; false means "this process listens".
	Initiator *bool

	Thresholds Thresholds
}

// TickInterval returns 1s / TickRateHz. Callers must check TickRateHz
// != 0 first (0 means AFAP and has no meaningful interval).
func (c *TestConfig) TickInterval() time.Duration {
	return time.Duration(float64(time.Second) / float64(c.TickRateHz))
}

// TotalDuration returns the configured test duration as a Duration.
func (c *TestConfig) TotalDuration() time.Duration {
	return time.Duration(c.TestDurationSecs) * time.Second
}

// EffectiveTCPBidiMode returns the configured sub-mode, defaulting to
// DualStream, but only when it is actually relevant (TCP + Bidirectional);
// otherwise it's ignored per the spec §3 invariant.
func (c *TestConfig) EffectiveTCPBidiMode() TCPBidiMode {
	if c.Protocol != ProtocolTCP || c.Role != RoleBidirectional {
		return TCPBidiDualStream
	}
	if c.TCPBidiMode == nil {
		return TCPBidiDualStream
	}
	return *c.TCPBidiMode
}

// Validate checks the invariants spec §3 states are the front-end's
// responsibility, so a misconfigured run fails fast before any socket
// is touched.
func (c *TestConfig) Validate() error {
	if c.TargetPort == 0 {
		return fmt.Errorf("config: target port must be non-zero")
	}
	if c.SizeRange != nil {
		if c.SizeRange.Min == 0 || c.SizeRange.Min > c.SizeRange.Max {
			return fmt.Errorf("config: size range must satisfy 0 < min <= max, got (%d, %d)", c.SizeRange.Min, c.SizeRange.Max)
		}
	}
	if c.Protocol == ProtocolTCP && c.TickRateHz == 0 {
		return fmt.Errorf("config: TCP requires a non-zero tick rate (no as-fast-as-possible mode over TCP)")
	}
	return nil
}

// Defaults holds process-environment-derived fallback values for a CLI
// front-end to seed flags with, following the teacher's ari-server
// LoadConfig/.env pattern.
type Defaults struct {
	TargetHost       string
	TargetPort       uint16
	TestDurationSecs uint64
	TickRateHz       uint32
	PacketSizeBytes  int
}

// LoadDefaults loads an optional .env file (if present) and reads
// environment-variable overrides for the CLI's flag defaults.
func LoadDefaults() Defaults {
	_ = godotenv.Load()
	return Defaults{
		TargetHost:       getEnv("NETSTATS_TARGET_HOST", "127.0.0.1"),
		TargetPort:       uint16(getEnvAsInt("NETSTATS_TARGET_PORT", 5201)),
		TestDurationSecs: uint64(getEnvAsInt("NETSTATS_DURATION_SECS", 10)),
		TickRateHz:       uint32(getEnvAsInt("NETSTATS_TICK_RATE_HZ", 20)),
		PacketSizeBytes:  getEnvAsInt("NETSTATS_PACKET_SIZE_BYTES", 1024),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}
