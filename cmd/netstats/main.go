// Command netstats is the CLI front-end over the core: it parses
// flags into a TestConfig, runs the Role Dispatcher, and prints the
// resulting report.Summary (optionally serving it live over websocket
// and Prometheus), following the teacher's cmd/echo and cmd/load_test
// flag-parsing and JSON-report-output style.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"

	"github.com/Ronifue/netstats/internal/clock"
	"github.com/Ronifue/netstats/internal/config"
	"github.com/Ronifue/netstats/internal/dispatcher"
	"github.com/Ronifue/netstats/internal/metrics"
	"github.com/Ronifue/netstats/internal/promexport"
	"github.com/Ronifue/netstats/internal/report"
	"github.com/Ronifue/netstats/internal/wsstream"
)

// cliConfig holds the flags this front-end exposes, in addition to the
// defaults internal/config.LoadDefaults reads from the environment/.env.
type cliConfig struct {
	role        string
	protocol    string
	bidiMode    string
	initiator   string
	targetHost  string
	targetPort  uint
	durationSec uint
	tickRateHz  uint
	packetSize  uint
	sizeMin     uint
	sizeMax     uint

	latencySpikeMs uint
	jitterSpikeMs  uint
	lossPercent    float64

	reportFile string
	servePort  uint
}

func parseFlags() *cliConfig {
	defaults := config.LoadDefaults()

	c := &cliConfig{}
	flag.StringVar(&c.role, "role", "client", "Client, Server, or Bidirectional")
	flag.StringVar(&c.protocol, "protocol", "udp", "udp or tcp")
	flag.StringVar(&c.bidiMode, "tcp-bidi-mode", "dualstream", "dualstream or singlestream (TCP+Bidirectional only)")
	flag.StringVar(&c.initiator, "initiator", "", "true/false: authoritative SingleStream initiator override")
	flag.StringVar(&c.targetHost, "target", defaults.TargetHost, "target host")
	flag.UintVar(&c.targetPort, "port", uint(defaults.TargetPort), "target/listen port")
	flag.UintVar(&c.durationSec, "duration", uint(defaults.TestDurationSecs), "test duration in seconds")
	flag.UintVar(&c.tickRateHz, "rate", uint(defaults.TickRateHz), "tick rate in Hz (0 = as-fast-as-possible, UDP only)")
	flag.UintVar(&c.packetSize, "size", uint(defaults.PacketSizeBytes), "packet payload size in bytes")
	flag.UintVar(&c.sizeMin, "size-min", 0, "randomized payload size range minimum (0 disables the range)")
	flag.UintVar(&c.sizeMax, "size-max", 0, "randomized payload size range maximum")
	flag.UintVar(&c.latencySpikeMs, "latency-spike-ms", 0, "latency spike anomaly threshold in ms (0 disables)")
	flag.UintVar(&c.jitterSpikeMs, "jitter-spike-ms", 0, "jitter spike anomaly threshold in ms (0 disables)")
	flag.Float64Var(&c.lossPercent, "loss-threshold-percent", 0, "packet loss anomaly threshold percent (0 disables)")
	flag.StringVar(&c.reportFile, "report-file", "", "optional path to write the JSON report summary")
	flag.UintVar(&c.servePort, "serve-port", 0, "optional HTTP port serving /metrics and /ws (0 disables)")
	flag.Parse()

	return c
}

func buildTestConfig(c *cliConfig) (*config.TestConfig, error) {
	var role config.Role
	switch c.role {
	case "client", "Client":
		role = config.RoleClient
	case "server", "Server":
		role = config.RoleServer
	case "bidirectional", "Bidirectional", "bidi":
		role = config.RoleBidirectional
	default:
		return nil, fmt.Errorf("unknown -role %q", c.role)
	}

	var protocol config.Protocol
	switch c.protocol {
	case "udp", "UDP":
		protocol = config.ProtocolUDP
	case "tcp", "TCP":
		protocol = config.ProtocolTCP
	default:
		return nil, fmt.Errorf("unknown -protocol %q", c.protocol)
	}

	var bidiMode *config.TCPBidiMode
	switch c.bidiMode {
	case "dualstream", "DualStream":
		m := config.TCPBidiDualStream
		bidiMode = &m
	case "singlestream", "SingleStream":
		m := config.TCPBidiSingleStream
		bidiMode = &m
	default:
		return nil, fmt.Errorf("unknown -tcp-bidi-mode %q", c.bidiMode)
	}

	var initiator *bool
	switch c.initiator {
	case "":
	case "true":
		v := true
		initiator = &v
	case "false":
		v := false
		initiator = &v
	default:
		return nil, fmt.Errorf("-initiator must be \"true\", \"false\", or unset")
	}

	var sizeRange *config.SizeRange
	if c.sizeMin > 0 || c.sizeMax > 0 {
		sizeRange = &config.SizeRange{Min: int(c.sizeMin), Max: int(c.sizeMax)}
	}

	cfg := &config.TestConfig{
		TargetHost:       c.targetHost,
		TargetPort:       uint16(c.targetPort),
		TestDurationSecs: uint64(c.durationSec),
		TickRateHz:       uint32(c.tickRateHz),
		PacketSizeBytes:  int(c.packetSize),
		SizeRange:        sizeRange,
		Protocol:         protocol,
		Role:             role,
		TCPBidiMode:      bidiMode,
		Initiator:        initiator,
		Thresholds: config.Thresholds{
			LatencySpikeMs:  uint64(c.latencySpikeMs),
			HasLatencySpike: c.latencySpikeMs > 0,
			JitterSpikeMs:   uint64(c.jitterSpikeMs),
			HasJitterSpike:  c.jitterSpikeMs > 0,
			LossPercent:     c.lossPercent,
			HasLossPercent:  c.lossPercent > 0,
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	flags := parseFlags()
	cfg, err := buildTestConfig(flags)
	if err != nil {
		log.Fatalf("netstats: invalid configuration: %v", err)
	}

	runID := xid.New().String()
	c := clock.New()
	m := metrics.New()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if flags.servePort > 0 {
		startObservabilityServer(ctx, runID, flags.servePort, c, cfg, m)
	}

	started := time.Now()
	runErr := dispatcher.Run(c, cfg, m)
	ended := time.Now()

	snap := m.Snapshot()
	summary := report.BuildSummary(runID, *cfg, snap, started, ended)

	printSummary(&summary)
	if flags.reportFile != "" {
		if err := writeReportFile(flags.reportFile, &summary); err != nil {
			log.Printf("netstats: failed to write report file %s: %v", flags.reportFile, err)
		}
	}

	if runErr != nil {
		log.Fatalf("netstats: run failed: %v", runErr)
	}
}

func startObservabilityServer(ctx context.Context, runID string, port uint, c *clock.Clock, cfg *config.TestConfig, m *metrics.Aggregator) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(promexport.New(runID, m))

	ws := wsstream.New(runID, c, cfg, m)
	go ws.Run(ctx, time.Second)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", ws.Handler)

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("netstats[%s]: observability server error: %v", runID, err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("netstats[%s]: serving /metrics and /ws on %s", runID, addr)
}

func printSummary(s *report.Summary) {
	fmt.Printf("run %s: %s/%s  sent=%d recv=%d loss=%.2f%% outOfOrder=%d\n",
		s.RunID, s.Config.Protocol, s.Config.Role, s.PacketsSent, s.PacketsReceived, s.PacketLossPct, s.OutOfOrderCount)
	if s.HaveRTT {
		fmt.Printf("  avg RTT: %.2f ms\n", s.AvgRTTMicros/1000)
	}
	if s.HaveJitter {
		fmt.Printf("  avg jitter: %.2f ms\n", s.AvgJitterMicros/1000)
	}
	fmt.Printf("  anomalies: %d\n", len(s.Anomalies))
	for _, a := range s.Anomalies {
		fmt.Printf("    [%dms] %s: %s\n", a.ElapsedMillis, a.Kind, a.Description)
	}
}

func writeReportFile(path string, s *report.Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
