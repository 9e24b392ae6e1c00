package tcpengine

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Ronifue/netstats/internal/clock"
	"github.com/Ronifue/netstats/internal/config"
	"github.com/Ronifue/netstats/internal/metrics"
)

// TestTCPLoopbackFramedTransfer exercises the E2 scenario from spec §8:
// a client send loop against a server receive loop over one loopback
// TCP stream delivers every framed packet, byte-for-byte accounted.
func TestTCPLoopbackFramedTransfer(t *testing.T) {
	listener, err := Listen(0)
	require.NoError(t, err)
	port := uint16(listener.Addr().(*net.TCPAddr).Port)

	cfg := &config.TestConfig{
		TargetHost:       "127.0.0.1",
		TargetPort:       port,
		TestDurationSecs: 1,
		TickRateHz:       10,
		PacketSizeBytes:  64,
	}

	acceptDone := make(chan *net.TCPConn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		conn, err := AcceptOne(listener)
		if err != nil {
			acceptErr <- err
			return
		}
		acceptDone <- conn
	}()

	clientConn, err := Connect(net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))))
	require.NoError(t, err)
	defer clientConn.Close()

	var serverConn *net.TCPConn
	select {
	case serverConn = <-acceptDone:
	case err := <-acceptErr:
		t.Fatalf("accept failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not accept connection in time")
	}
	defer serverConn.Close()

	serverClock := clock.New()
	serverMetrics := metrics.New()
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- ReceiveLoop(serverClock, serverConn, cfg, serverMetrics)
	}()

	clientClock := clock.New()
	clientMetrics := metrics.New()
	require.NoError(t, SendLoop(clientClock, clientConn, cfg, clientMetrics, true))

	select {
	case serverErr := <-serverDone:
		require.NoError(t, serverErr)
	case <-time.After(10 * time.Second):
		t.Fatal("server receive loop did not finish in time")
	}

	clientSnap := clientMetrics.Snapshot()
	serverSnap := serverMetrics.Snapshot()
	require.Greater(t, clientSnap.PacketsSent, uint64(0))
	require.Equal(t, clientSnap.PacketsSent, serverSnap.PacketsReceived)
	require.Equal(t, clientSnap.BytesSent, serverSnap.BytesReceived)
}
