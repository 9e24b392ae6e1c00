// Package udpengine implements the UDP send pacing loop and framed
// receive loop (spec §4.4): connected or shared-listening sockets, tick
// or as-fast-as-possible pacing, the RTT echo protocol, and out-of-order
// detection with the ¼/¾-quadrant wraparound heuristic.
package udpengine

import (
	"errors"
	"log"
	"math/rand"
	"net"
	"runtime"
	"strconv"
	"strings"
	"syscall"
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
	maxReplyWait            = 200 * time.Millisecond
	recvBufferSize          = 4096
)

// Dial binds a local ephemeral endpoint and connects it to remote, for
// the Client-role primary sender.
func Dial(remote string) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, nerr.InvalidAddress("resolving UDP target address", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, nerr.IO("dialing UDP socket", err)
	}
	return conn, nil
}

// Listen binds to the given port on all interfaces, unconnected, for
// the Server role and the Bidirectional role's shared listen socket.
func Listen(port uint16) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort("0.0.0.0", strconv.Itoa(int(port))))
	if err != nil {
		return nil, nerr.InvalidAddress("resolving UDP listen address", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, nerr.IO("binding UDP listen socket", err)
	}
	return conn, nil
}

// isConnReset reports whether err is the OS-level "connection reset"
// indication a UDP socket surfaces after an ICMP port-unreachable for a
// prior datagram (spec §4.4/§7): non-fatal, logged, and the receive
// loop continues.
func isConnReset(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.ECONNRESET
	}
	return strings.Contains(err.Error(), "connection reset") || strings.Contains(err.Error(), "forcibly closed")
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

// SendLoop drives the timed send pacing loop: paced by TickRateHz, or
// as-fast-as-possible with cooperative yields when TickRateHz == 0.
// When connected is true, conn is used with Write/Read (the Client-role
// dedicated socket); when false, remote identifies the peer and conn is
// the Bidirectional role's shared listen socket, used with
// WriteToUDP/ReadFromUDP. isPrimary senders run for the full test
// duration and wait a bounded time for each echo reply; a secondary
// sender stops once the primary duration elapses and reads no replies.
func SendLoop(c *clock.Clock, conn *net.UDPConn, remote *net.UDPAddr, connected bool, cfg *config.TestConfig, m *metrics.Aggregator, isPrimary bool) error {
	testDuration := cfg.TotalDuration()
	tickInterval := time.Duration(0)
	afap := cfg.TickRateHz == 0
	if !afap {
		tickInterval = cfg.TickInterval()
	}

	var ticker *time.Ticker
	if !afap {
		ticker = time.NewTicker(tickInterval)
		defer ticker.Stop()
	}

	loopDeadline := testDuration
	if !isPrimary {
		loopDeadline = time.Duration(1<<63 - 1)
	}

	var seq uint32
	recvBuf := make([]byte, recvBufferSize)

	for c.Elapsed() < loopDeadline {
		if isPrimary {
			if afap {
				runtime.Gosched()
			} else {
				<-ticker.C
			}
		} else {
			if afap {
				runtime.Gosched()
			} else {
				time.Sleep(tickInterval)
			}
		}

		size := randomPayloadSize(cfg)
		req := packet.NewEchoRequest(seq, size)
		payload := packet.Encode(req)

		sendInstant := time.Now()
		var err error
		if connected {
			_, err = conn.Write(payload)
		} else {
			_, err = conn.WriteToUDP(payload, remote)
		}
		if err != nil {
			return nerr.IO("sending UDP datagram", err)
		}
		m.RecordSent(len(payload))

		if isPrimary {
			waitFor := maxReplyWait
			if !afap && tickInterval < waitFor {
				waitFor = tickInterval
			}
			conn.SetReadDeadline(time.Now().Add(waitFor))

			var n int
			var fromAddr *net.UDPAddr
			if connected {
				n, err = conn.Read(recvBuf)
			} else {
				n, fromAddr, err = conn.ReadFromUDP(recvBuf)
			}
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					// expected: no reply within the bounded wait window
				} else {
					log.Printf("udpengine: send loop reply read error: %v", err)
				}
			} else if connected || (fromAddr != nil && fromAddr.String() == remote.String()) {
				reply, decErr := packet.Decode(recvBuf[:n])
				if decErr != nil {
					log.Printf("udpengine: malformed echo reply: %v", decErr)
				} else if reply.Header.Kind == packet.KindEchoReply && reply.Header.SequenceNumber == seq {
					rtt := time.Since(sendInstant).Microseconds()
					m.RecordReceived(n, uint64(rtt))
				} else {
					log.Printf("udpengine: unexpected reply kind=%s seq=%d (wanted EchoReply seq=%d)", reply.Header.Kind, reply.Header.SequenceNumber, seq)
				}
			}
		}

		seq++

		if !isPrimary && c.Elapsed() >= testDuration {
			break
		}
	}
	return nil
}

// ReceiveLoop drives the framed receive loop: a three-way wait between
// an available datagram, the 1s bandwidth sampler, and the
// test-duration+5s shutdown deadline (spec §4.4).
func ReceiveLoop(c *clock.Clock, conn *net.UDPConn, cfg *config.TestConfig, m *metrics.Aggregator) error {
	deadline := cfg.TotalDuration() + shutdownGrace
	nextSample := bandwidthSampleInterval

	var highestSeen uint32
	haveHighest := false

	buf := make([]byte, recvBufferSize)

	for {
		if c.Elapsed() >= deadline {
			m.TakeBandwidthSample(c.ElapsedMillis())
			return nil
		}

		readTimeout := nextSample - c.Elapsed()
		if d := deadline - c.Elapsed(); d < readTimeout {
			readTimeout = d
		}
		if readTimeout <= 0 {
			readTimeout = time.Millisecond
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if c.Elapsed() >= nextSample {
					m.TakeBandwidthSample(c.ElapsedMillis())
					nextSample += bandwidthSampleInterval
				}
				continue
			}
			if isConnReset(err) {
				log.Printf("udpengine: receive loop: connection reset (ICMP port unreachable?), continuing")
				continue
			}
			return nerr.IO("UDP receive loop", err)
		}

		p, decErr := packet.Decode(buf[:n])
		if decErr != nil {
			log.Printf("udpengine: receive loop: failed to decode packet from %s: %v", src, decErr)
			continue
		}

		m.RecordReceived(n, 0)

		seq := p.Header.SequenceNumber
		if haveHighest {
			likelyWrap := seq < (1<<32)/4 && highestSeen > (3*(uint32(1)<<30))
			if seq < highestSeen && !likelyWrap {
				m.RecordOutOfOrder(seq, highestSeen)
			}
			if seq > highestSeen {
				highestSeen = seq
			}
		} else {
			highestSeen = seq
			haveHighest = true
		}

		if p.Header.Kind == packet.KindEchoRequest {
			reply := packet.NewEchoReply(p)
			replyBytes := packet.Encode(reply)
			if _, err := conn.WriteToUDP(replyBytes, src); err != nil {
				log.Printf("udpengine: receive loop: error sending echo reply to %s: %v", src, err)
			}
		}

		if c.Elapsed() >= nextSample {
			m.TakeBandwidthSample(c.ElapsedMillis())
			nextSample += bandwidthSampleInterval
		}
	}
}
