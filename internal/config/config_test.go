package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *TestConfig {
	return &TestConfig{
		TargetHost:       "127.0.0.1",
		TargetPort:       5201,
		TestDurationSecs: 10,
		TickRateHz:       20,
		PacketSizeBytes:  128,
		Protocol:         ProtocolUDP,
		Role:             RoleClient,
	}
}

func TestValidateRejectsZeroPort(t *testing.T) {
	c := validConfig()
	c.TargetPort = 0
	require.Error(t, c.Validate())
}

func TestValidateRejectsInvertedSizeRange(t *testing.T) {
	c := validConfig()
	c.SizeRange = &SizeRange{Min: 100, Max: 50}
	require.Error(t, c.Validate())
}

func TestValidateRejectsTCPWithAFAP(t *testing.T) {
	c := validConfig()
	c.Protocol = ProtocolTCP
	c.TickRateHz = 0
	require.Error(t, c.Validate())
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	c := validConfig()
	assert.NoError(t, c.Validate())
}

func TestTickIntervalAndTotalDuration(t *testing.T) {
	c := validConfig()
	c.TickRateHz = 10
	c.TestDurationSecs = 5
	assert.Equal(t, 100*time.Millisecond, c.TickInterval())
	assert.Equal(t, 5*time.Second, c.TotalDuration())
}

func TestEffectiveTCPBidiModeDefaultsToDualStream(t *testing.T) {
	c := validConfig()
	c.Protocol = ProtocolTCP
	c.Role = RoleBidirectional
	assert.Equal(t, TCPBidiDualStream, c.EffectiveTCPBidiMode())
}

func TestEffectiveTCPBidiModeIgnoredOutsideTCPBidi(t *testing.T) {
	c := validConfig()
	single := TCPBidiSingleStream
	c.TCPBidiMode = &single
	// Protocol is UDP / Role is Client: the sub-mode is irrelevant per spec.
	assert.Equal(t, TCPBidiDualStream, c.EffectiveTCPBidiMode())
}

func TestEffectiveTCPBidiModeHonorsExplicitSingleStream(t *testing.T) {
	c := validConfig()
	c.Protocol = ProtocolTCP
	c.Role = RoleBidirectional
	single := TCPBidiSingleStream
	c.TCPBidiMode = &single
	assert.Equal(t, TCPBidiSingleStream, c.EffectiveTCPBidiMode())
}
