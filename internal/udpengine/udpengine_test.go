package udpengine

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Ronifue/netstats/internal/clock"
	"github.com/Ronifue/netstats/internal/config"
	"github.com/Ronifue/netstats/internal/metrics"
	"github.com/Ronifue/netstats/internal/packet"
)

// TestUDPLoopbackEchoExchange exercises the E1 scenario from spec §8 at
// a small scale: a client SendLoop against a server ReceiveLoop on
// loopback should exchange echoed packets with no loss.
func TestUDPLoopbackEchoExchange(t *testing.T) {
	serverConn, err := Listen(0)
	require.NoError(t, err)
	defer serverConn.Close()

	port := uint16(serverConn.LocalAddr().(*net.UDPAddr).Port)

	cfg := &config.TestConfig{
		TargetHost:       "127.0.0.1",
		TargetPort:       port,
		TestDurationSecs: 1,
		TickRateHz:       20,
		PacketSizeBytes:  32,
	}

	serverClock := clock.New()
	serverMetrics := metrics.New()
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- ReceiveLoop(serverClock, serverConn, cfg, serverMetrics)
	}()

	clientConn, err := Dial(net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))))
	require.NoError(t, err)
	defer clientConn.Close()

	clientClock := clock.New()
	clientMetrics := metrics.New()
	err = SendLoop(clientClock, clientConn, nil, true, cfg, clientMetrics, true)
	require.NoError(t, err)

	select {
	case serverErr := <-serverDone:
		require.NoError(t, serverErr)
	case <-time.After(10 * time.Second):
		t.Fatal("server receive loop did not finish in time")
	}

	snap := clientMetrics.Snapshot()
	require.Greater(t, snap.PacketsSent, uint64(0))
	require.Equal(t, snap.PacketsSent, snap.PacketsReceived)
}

// TestUDPReceiveLoopDetectsOutOfOrder exercises the E5 scenario from
// spec §8 through ReceiveLoop's actual sequence-tracking path (not
// Aggregator.RecordOutOfOrder directly): sequences 1,2,4,3,5 arrive in
// that order, and only seq 3 arriving after the already-seen seq 4
// should trigger the out-of-order detector exactly once.
func TestUDPReceiveLoopDetectsOutOfOrder(t *testing.T) {
	serverConn, err := Listen(0)
	require.NoError(t, err)
	defer serverConn.Close()

	port := uint16(serverConn.LocalAddr().(*net.UDPAddr).Port)

	cfg := &config.TestConfig{
		TargetHost:       "127.0.0.1",
		TargetPort:       port,
		TestDurationSecs: 1,
		TickRateHz:       20,
		PacketSizeBytes:  16,
	}

	serverClock := clock.New()
	serverMetrics := metrics.New()
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- ReceiveLoop(serverClock, serverConn, cfg, serverMetrics)
	}()

	senderConn, err := Dial(net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))))
	require.NoError(t, err)
	defer senderConn.Close()

	for _, seq := range []uint32{1, 2, 4, 3, 5} {
		p := packet.NewData(seq, 16)
		_, err := senderConn.Write(packet.Encode(p))
		require.NoError(t, err)
		time.Sleep(20 * time.Millisecond) // keep the loopback datagrams in send order
	}

	select {
	case serverErr := <-serverDone:
		require.NoError(t, serverErr)
	case <-time.After(10 * time.Second):
		t.Fatal("server receive loop did not finish in time")
	}

	snap := serverMetrics.Snapshot()
	require.Equal(t, uint64(5), snap.PacketsReceived)
	require.Equal(t, uint64(1), snap.OutOfOrderCount)
}
