// Package tcpengine implements the TCP send pacing loop and framed
// receive loop (spec §4.5): connect/listen/accept, the 4-byte
// length-prefix framing envelope, and graceful half-close.
package tcpengine

import (
	"encoding/binary"
	"errors"
	"io"
	"log"
	"math/rand"
	"net"
	"strconv"
	"time"

	"github.com/Ronifue/netstats/internal/clock"
	"github.com/Ronifue/netstats/internal/config"
	"github.com/Ronifue/netstats/internal/metrics"
	"github.com/Ronifue/netstats/internal/nerr"
	"github.com/Ronifue/netstats/internal/packet"
)

const (
	bandwidthSampleInterval = time.Second
	shutdownGrace           = 5 * time.Second
	recvDeadlineSlice       = 200 * time.Millisecond
)

// Connect dials remote for the Client-role (and DualStream/SingleStream
// connecting-side) primary sender stream.
func Connect(remote string) (*net.TCPConn, error) {
	addr, err := net.ResolveTCPAddr("tcp", remote)
	if err != nil {
		return nil, nerr.InvalidAddress("resolving TCP target address", err)
	}
	conn, err := net.DialTCP("tcp", nil, addr)
	if err != nil {
		return nil, nerr.IO("connecting TCP stream", err)
	}
	return conn, nil
}

// Listen binds a TCP listener on the given port across all interfaces.
func Listen(port uint16) (*net.TCPListener, error) {
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort("0.0.0.0", strconv.Itoa(int(port))))
	if err != nil {
		return nil, nerr.InvalidAddress("resolving TCP listen address", err)
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, nerr.IO("binding TCP listener", err)
	}
	return l, nil
}

// AcceptOne accepts exactly one connection and closes the listener,
// since every run named in the dispatcher's table accepts a single
// stream per listening side (spec §4.6).
func AcceptOne(l *net.TCPListener) (*net.TCPConn, error) {
	defer l.Close()
	conn, err := l.AcceptTCP()
	if err != nil {
		return nil, nerr.IO("accepting TCP connection", err)
	}
	return conn, nil
}

func randomPayloadSize(cfg *config.TestConfig) int {
	if cfg.SizeRange == nil {
		return cfg.PacketSizeBytes
	}
	r := cfg.SizeRange
	if r.Min == r.Max {
		return r.Min
	}
	return r.Min + rand.Intn(r.Max-r.Min+1)
}

// SendLoop drives the tick-paced framed send loop. isPrimary senders
// run for the full test duration; secondary senders (DualStream's
// reverse stream) stop once the primary duration elapses, matching the
// same rule as the UDP engine's secondary sender.
func SendLoop(c *clock.Clock, conn *net.TCPConn, cfg *config.TestConfig, m *metrics.Aggregator, isPrimary bool) error {
	testDuration := cfg.TotalDuration()
	tickInterval := cfg.TickInterval()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	loopDeadline := testDuration
	if !isPrimary {
		loopDeadline = time.Duration(1<<63 - 1)
	}

	var seq uint32
	var sendErr error

	for c.Elapsed() < loopDeadline {
		<-ticker.C

		size := randomPayloadSize(cfg)
		p := packet.NewData(seq, size)
		frame := packet.EncodeFrame(p)

		if _, err := conn.Write(frame); err != nil {
			sendErr = nerr.IO("writing TCP frame", err)
			break
		}
		m.RecordSent(len(frame))
		seq++

		if !isPrimary && c.Elapsed() >= testDuration {
			break
		}
	}

	if err := conn.CloseWrite(); err != nil {
		log.Printf("tcpengine: send loop: error shutting down write half: %v", err)
	}
	return sendErr
}

// ReceiveLoop drives the framed receive loop: read a frame, or take a
// bandwidth sample on the 1 Hz tick, or exit at the shutdown deadline
// (spec §4.5). Go's net.Conn has no select-style multi-wait, so each
// pass sets a short read deadline and treats its expiry as the signal
// to re-check the sampler and overall deadline — biased toward the
// read path exactly as the spec's select is, since a successful read
// is always processed before either timer concern.
func ReceiveLoop(c *clock.Clock, conn *net.TCPConn, cfg *config.TestConfig, m *metrics.Aggregator) error {
	deadline := cfg.TotalDuration() + shutdownGrace
	nextSample := bandwidthSampleInterval

	lengthBuf := make([]byte, packet.FrameLengthSize)

	for {
		if c.Elapsed() >= deadline {
			m.TakeBandwidthSample(c.ElapsedMillis())
			return nil
		}

		sliceLeft := deadline - c.Elapsed()
		if recvDeadlineSlice < sliceLeft {
			sliceLeft = recvDeadlineSlice
		}
		conn.SetReadDeadline(time.Now().Add(sliceLeft))

		if _, err := io.ReadFull(conn, lengthBuf); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if c.Elapsed() >= nextSample {
					m.TakeBandwidthSample(c.ElapsedMillis())
					nextSample += bandwidthSampleInterval
				}
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return nerr.IO("reading TCP frame length", err)
		}

		bodyLen, lenErr := packet.DecodeFrameLength(lengthBuf)
		if lenErr != nil {
			return nerr.Serialization("oversized TCP frame", lenErr)
		}

		body := make([]byte, bodyLen)
		conn.SetReadDeadline(time.Now().Add(shutdownGrace))
		if _, err := io.ReadFull(conn, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nerr.IO("TCP connection closed mid-frame", err)
			}
			return nerr.IO("reading TCP frame body", err)
		}

		if _, decErr := packet.Decode(body); decErr != nil {
			log.Printf("tcpengine: receive loop: failed to decode frame: %v", decErr)
			continue
		}

		m.RecordReceived(len(lengthBuf)+len(body), 0)

		if c.Elapsed() >= nextSample {
			m.TakeBandwidthSample(c.ElapsedMillis())
			nextSample += bandwidthSampleInterval
		}
	}
}
