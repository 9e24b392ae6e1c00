// Package dispatcher implements the Role Dispatcher (spec §4.6): the
// single entry point that reads a TestConfig, builds the socket(s) for
// the configured (role, protocol, TCP bidi sub-mode) cell, spawns
// exactly the tasks that cell requires, and joins them.
package dispatcher

import (
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/rs/xid"

	"github.com/Ronifue/netstats/internal/clock"
	"github.com/Ronifue/netstats/internal/config"
	"github.com/Ronifue/netstats/internal/metrics"
	"github.com/Ronifue/netstats/internal/nerr"
	"github.com/Ronifue/netstats/internal/tcpengine"
	"github.com/Ronifue/netstats/internal/udpengine"
)

// Run is the dispatcher entry point: initializes the metrics start
// time and thresholds, then branches on (role, protocol) exactly as
// the table in spec §4.6 describes, returning the first task error.
func Run(c *clock.Clock, cfg *config.TestConfig, m *metrics.Aggregator) error {
	runID := xid.New().String()
	log.Printf("dispatcher[%s]: starting role=%s protocol=%s target=%s:%d", runID, cfg.Role, cfg.Protocol, cfg.TargetHost, cfg.TargetPort)

	m.InitStart()
	m.ConfigureThresholds(metrics.Thresholds{
		LatencySpikeMicros: cfg.Thresholds.LatencySpikeMs * 1000,
		HasLatencySpike:    cfg.Thresholds.HasLatencySpike,
		JitterSpikeMicros:  cfg.Thresholds.JitterSpikeMs * 1000,
		HasJitterSpike:     cfg.Thresholds.HasJitterSpike,
		LossPercent:        cfg.Thresholds.LossPercent,
		HasLossPercent:     cfg.Thresholds.HasLossPercent,
	})

	var err error
	switch cfg.Role {
	case config.RoleClient:
		err = runClient(c, cfg, m)
	case config.RoleServer:
		err = runServer(c, cfg, m)
	case config.RoleBidirectional:
		err = runBidirectional(c, cfg, m)
	default:
		err = nerr.UnsupportedMode(fmt.Sprintf("unknown role %v", cfg.Role))
	}

	m.CheckLossThreshold()
	if err != nil {
		log.Printf("dispatcher[%s]: run ended with error: %v", runID, err)
		return err
	}
	log.Printf("dispatcher[%s]: run complete", runID)
	return nil
}

func target(cfg *config.TestConfig) string {
	return net.JoinHostPort(cfg.TargetHost, fmt.Sprint(cfg.TargetPort))
}

func runClient(c *clock.Clock, cfg *config.TestConfig, m *metrics.Aggregator) error {
	switch cfg.Protocol {
	case config.ProtocolUDP:
		conn, err := udpengine.Dial(target(cfg))
		if err != nil {
			return err
		}
		defer conn.Close()
		return udpengine.SendLoop(c, conn, nil, true, cfg, m, true)
	case config.ProtocolTCP:
		conn, err := tcpengine.Connect(target(cfg))
		if err != nil {
			return err
		}
		defer conn.Close()
		return tcpengine.SendLoop(c, conn, cfg, m, true)
	default:
		return nerr.UnsupportedMode(fmt.Sprintf("unknown protocol %v", cfg.Protocol))
	}
}

func runServer(c *clock.Clock, cfg *config.TestConfig, m *metrics.Aggregator) error {
	switch cfg.Protocol {
	case config.ProtocolUDP:
		conn, err := udpengine.Listen(cfg.TargetPort)
		if err != nil {
			return err
		}
		defer conn.Close()
		return udpengine.ReceiveLoop(c, conn, cfg, m)
	case config.ProtocolTCP:
		l, err := tcpengine.Listen(cfg.TargetPort)
		if err != nil {
			return err
		}
		conn, err := tcpengine.AcceptOne(l)
		if err != nil {
			return err
		}
		defer conn.Close()
		return tcpengine.ReceiveLoop(c, conn, cfg, m)
	default:
		return nerr.UnsupportedMode(fmt.Sprintf("unknown protocol %v", cfg.Protocol))
	}
}

func runBidirectional(c *clock.Clock, cfg *config.TestConfig, m *metrics.Aggregator) error {
	switch cfg.Protocol {
	case config.ProtocolUDP:
		return runBidiUDP(c, cfg, m)
	case config.ProtocolTCP:
		switch cfg.EffectiveTCPBidiMode() {
		case config.TCPBidiDualStream:
			return runBidiTCPDualStream(c, cfg, m)
		case config.TCPBidiSingleStream:
			return runBidiTCPSingleStream(c, cfg, m)
		default:
			return nerr.UnsupportedMode("unknown TCP bidirectional sub-mode")
		}
	default:
		return nerr.UnsupportedMode(fmt.Sprintf("unknown protocol %v", cfg.Protocol))
	}
}

// runBidiUDP shares one listen socket between the send loop (using
// WriteToUDP to the configured target) and the receive loop (using
// ReadFromUDP/WriteToUDP for echo replies), per spec §4.6's
// "shared listen socket" cell.
func runBidiUDP(c *clock.Clock, cfg *config.TestConfig, m *metrics.Aggregator) error {
	conn, err := udpengine.Listen(cfg.TargetPort)
	if err != nil {
		return err
	}
	defer conn.Close()

	remoteAddr, err := net.ResolveUDPAddr("udp", target(cfg))
	if err != nil {
		return nerr.InvalidAddress("resolving UDP target address", err)
	}

	return joinTasks(
		func() error { return udpengine.SendLoop(c, conn, remoteAddr, false, cfg, m, true) },
		func() error { return udpengine.ReceiveLoop(c, conn, cfg, m) },
	)
}

// runBidiTCPDualStream spawns two independent TCP sessions in
// parallel: one connecting out (primary sender on that stream, with a
// secondary receiver), one listening (primary receiver, with a
// secondary sender) — spec §4.6/§9.
func runBidiTCPDualStream(c *clock.Clock, cfg *config.TestConfig, m *metrics.Aggregator) error {
	return joinTasks(
		func() error {
			conn, err := tcpengine.Connect(target(cfg))
			if err != nil {
				return err
			}
			defer conn.Close()
			return joinTasks(
				func() error { return tcpengine.SendLoop(c, conn, cfg, m, true) },
				func() error { return tcpengine.ReceiveLoop(c, conn, cfg, m) },
			)
		},
		func() error {
			l, err := tcpengine.Listen(cfg.TargetPort)
			if err != nil {
				return err
			}
			conn, err := tcpengine.AcceptOne(l)
			if err != nil {
				return err
			}
			defer conn.Close()
			return joinTasks(
				func() error { return tcpengine.ReceiveLoop(c, conn, cfg, m) },
				func() error { return tcpengine.SendLoop(c, conn, cfg, m, false) },
			)
		},
	)
}

// runBidiTCPSingleStream elects which side connects and which listens
// per SPEC_FULL.md §6 (the explicit Initiator override, falling back
// to the documented listen-addr/target-addr tiebreaker), then splits
// the one established stream into independent send/receive tasks.
func runBidiTCPSingleStream(c *clock.Clock, cfg *config.TestConfig, m *metrics.Aggregator) error {
	initiates := resolveInitiator(cfg)

	var conn *net.TCPConn
	var err error
	if initiates {
		conn, err = tcpengine.Connect(target(cfg))
	} else {
		var l *net.TCPListener
		l, err = tcpengine.Listen(cfg.TargetPort)
		if err == nil {
			conn, err = tcpengine.AcceptOne(l)
		}
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	return joinTasks(
		func() error { return tcpengine.SendLoop(c, conn, cfg, m, initiates) },
		func() error { return tcpengine.ReceiveLoop(c, conn, cfg, m) },
	)
}

// localHostFunc reports the host this process would actually be
// reachable at from remote, letting resolveInitiator's tiebreak logic
// be tested without touching the network.
type localHostFunc func(remote string) (string, error)

// discoverLocalHost asks the OS which local address it would route
// through to reach remote, by dialing a UDP "connection" (no packets
// leave the host for this — UDP dial only resolves a route) and
// reading back the socket's local address, the same outbound-address
// trick used elsewhere in the pack (e.g. doublezero's twamp sender).
func discoverLocalHost(remote string) (string, error) {
	conn, err := net.Dial("udp", remote)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	host, _, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		return "", err
	}
	return host, nil
}

// resolveInitiator decides which side of a SingleStream run connects.
// If TestConfig.Initiator is set it's authoritative; otherwise fall
// back to comparing this process's own reachable address (not a
// "0.0.0.0" wildcard, which would sort below virtually every real
// address and make both peers "connect") against the remote target,
// with "local connects" as the fallback when the two compare equal
// (a loopback self-test) or when the local address can't be
// discovered (SPEC_FULL.md §6).
func resolveInitiator(cfg *config.TestConfig) bool {
	return resolveInitiatorWithLocalHost(cfg, discoverLocalHost)
}

func resolveInitiatorWithLocalHost(cfg *config.TestConfig, localHost localHostFunc) bool {
	if cfg.Initiator != nil {
		return *cfg.Initiator
	}

	remoteAddr := target(cfg)
	host, err := localHost(remoteAddr)
	if err != nil {
		log.Printf("dispatcher: resolveInitiator: could not discover local address, defaulting to local connects: %v", err)
		return true
	}

	localAddr := net.JoinHostPort(host, fmt.Sprint(cfg.TargetPort))
	if localAddr != remoteAddr {
		return localAddr < remoteAddr
	}
	return true
}

// joinTasks runs every fn concurrently, waits for all to finish, and
// returns the first non-nil error encountered (spec §4.6's "returns the
// first error produced by any task").
func joinTasks(fns ...func() error) error {
	errs := make([]error, len(fns))
	var wg sync.WaitGroup
	wg.Add(len(fns))
	for i, fn := range fns {
		i, fn := i, fn
		go func() {
			defer wg.Done()
			errs[i] = fn()
		}()
	}
	wg.Wait()

	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
