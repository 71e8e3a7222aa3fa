// Command assetsync-bench measures how quickly file saves fan out to
// connected mirrors. It runs an in-process server on an in-memory project,
// connects a number of reader mirrors and one writer, and reports delivery
// latency from the writer's save to each reader's update.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/assetsync/assetsync/internal/config"
	"github.com/assetsync/assetsync/internal/dev"
	"github.com/assetsync/assetsync/internal/files"
	"github.com/assetsync/assetsync/internal/filesync"
	"github.com/assetsync/assetsync/internal/metrics"
)

const (
	benchRoot = "/bench"
	benchFile = "/shared.txt"
)

type profile struct {
	Name         string
	Clients      int
	Duration     time.Duration
	RPS          float64
	PayloadBytes int
}

var profiles = map[string]profile{
	"fast": {
		Name:         "fast",
		Clients:      20,
		Duration:     5 * time.Second,
		RPS:          10,
		PayloadBytes: 256,
	},
	"standard": {
		Name:         "standard",
		Clients:      100,
		Duration:     20 * time.Second,
		RPS:          20,
		PayloadBytes: 1024,
	},
	"stress": {
		Name:         "stress",
		Clients:      400,
		Duration:     60 * time.Second,
		RPS:          50,
		PayloadBytes: 16 << 10,
	},
}

type benchConfig struct {
	Profile      string
	Clients      int
	Duration     time.Duration
	RPS          float64
	PayloadBytes int
	JSONOutput   string
}

type benchCounters struct {
	saves       atomic.Uint64
	saveErrors  atomic.Uint64
	deliveries  atomic.Uint64
	unknown     atomic.Uint64
	connectFail atomic.Uint64
}

func main() {
	log.SetFlags(0)

	cfg, err := parseConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	promRegistry := prometheus.NewRegistry()
	m := metrics.New(metrics.WithRegistry(promRegistry))

	serverCfg := config.New()
	serverCfg.Base = benchRoot
	serverCfg.Host = "127.0.0.1"
	serverCfg.Port = 0
	serverCfg.Sync = false

	reg := files.New(files.Options{Root: benchRoot, Fs: afero.NewMemMapFs(), Logger: logger})
	server := dev.NewServer(dev.ServerOptions{
		Config:   serverCfg,
		Registry: reg,
		Metrics:  m,
		Gatherer: promRegistry,
		Logger:   logger,
	})

	serveCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()
	go func() {
		if err := server.Start(serveCtx); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()
	addr, err := waitForAddr(server, 5*time.Second)
	if err != nil {
		log.Fatal(err)
	}
	url := "ws://" + addr + dev.SocketPath

	var (
		counters benchCounters
		sent     sync.Map // token -> time.Time
	)

	var (
		samplesMu sync.Mutex
		samples   = make([]time.Duration, 0, sampleBuffer(cfg.Clients))
	)

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelConnect()

	readers := make([]*filesync.Mirror, 0, cfg.Clients)
	for i := 0; i < cfg.Clients; i++ {
		r := filesync.NewMirror(filesync.MirrorOptions{Logger: logger})
		r.Changes().Attach(func(c filesync.Change) {
			if c.Entry.Filename != benchFile || !c.Entry.Loaded {
				return
			}
			token := tokenOf(c.Entry.Content)
			v, ok := sent.Load(token)
			if !ok {
				counters.unknown.Add(1)
				return
			}
			counters.deliveries.Add(1)
			d := time.Since(v.(time.Time))
			samplesMu.Lock()
			samples = append(samples, d)
			samplesMu.Unlock()
		}, nil)
		if err := r.Connect(connectCtx, url); err != nil {
			counters.connectFail.Add(1)
			continue
		}
		readers = append(readers, r)
	}

	writer := filesync.NewMirror(filesync.MirrorOptions{Logger: logger})
	if err := writer.Connect(connectCtx, url); err != nil {
		log.Fatalf("writer connect: %v", err)
	}

	var before runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	start := time.Now()
	ticker := time.NewTicker(time.Duration(float64(time.Second) / cfg.RPS))
	defer ticker.Stop()

	var seq uint64
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}
		seq++
		content := makeContent(seq, cfg.PayloadBytes)
		sent.Store(tokenOf(content), time.Now())
		counters.saves.Add(1)
		if err := writer.Save(ctx, benchFile, content); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			counters.saveErrors.Add(1)
		}
	}
	elapsed := time.Since(start)

	// Give in-flight updates a moment to arrive.
	time.Sleep(250 * time.Millisecond)

	writer.Close()
	for _, r := range readers {
		r.Close()
	}
	stopServer()

	var after runtime.MemStats
	runtime.ReadMemStats(&after)

	samplesMu.Lock()
	latencies := append([]time.Duration(nil), samples...)
	samplesMu.Unlock()
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	report := buildReport(cfg, len(readers), elapsed, latencies, &counters, before, after, promRegistry)

	writeSummary(os.Stderr, report)
	if err := writeJSON(cfg.JSONOutput, report); err != nil {
		log.Fatalf("write json: %v", err)
	}
}

func parseConfig() (benchConfig, error) {
	profileFlag := flag.String("profile", "standard", "profile: fast|standard|stress")
	clientsFlag := flag.Int("clients", -1, "number of reader mirrors")
	durationFlag := flag.String("duration", "", "benchmark duration, e.g. 30s")
	rpsFlag := flag.Float64("rps", -1, "saves per second")
	payloadFlag := flag.Int("payload-bytes", -1, "bytes of file content per save")
	jsonFlag := flag.String("json", "-", "JSON output path ('-' for stdout)")
	flag.Parse()

	name := strings.ToLower(strings.TrimSpace(*profileFlag))
	if name == "" {
		name = "standard"
	}
	base, ok := profiles[name]
	if !ok {
		return benchConfig{}, fmt.Errorf("unknown profile %q", name)
	}

	cfg := benchConfig{
		Profile:      base.Name,
		Clients:      base.Clients,
		Duration:     base.Duration,
		RPS:          base.RPS,
		PayloadBytes: base.PayloadBytes,
		JSONOutput:   strings.TrimSpace(*jsonFlag),
	}
	if *clientsFlag != -1 {
		cfg.Clients = *clientsFlag
	}
	if *durationFlag != "" {
		d, err := time.ParseDuration(*durationFlag)
		if err != nil {
			return benchConfig{}, fmt.Errorf("invalid -duration: %w", err)
		}
		cfg.Duration = d
	}
	if *rpsFlag != -1 {
		cfg.RPS = *rpsFlag
	}
	if *payloadFlag != -1 {
		cfg.PayloadBytes = *payloadFlag
	}
	if cfg.JSONOutput == "" {
		cfg.JSONOutput = "-"
	}

	if cfg.Clients <= 0 {
		return benchConfig{}, errors.New("-clients must be > 0")
	}
	if cfg.Duration <= 0 {
		return benchConfig{}, errors.New("-duration must be > 0")
	}
	if cfg.RPS <= 0 {
		return benchConfig{}, errors.New("-rps must be > 0")
	}
	if cfg.PayloadBytes <= 0 {
		return benchConfig{}, errors.New("-payload-bytes must be > 0")
	}
	return cfg, nil
}

func waitForAddr(s *dev.Server, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if addr := s.Addr(); addr != nil {
			return addr.String(), nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return "", errors.New("server did not start")
}

func sampleBuffer(clients int) int {
	return max(clients*4, 1024)
}

// makeContent returns a payload whose first line is a unique token.
func makeContent(seq uint64, size int) string {
	token := "bench-" + strconv.FormatUint(seq, 10)
	if pad := size - len(token) - 1; pad > 0 {
		return token + "\n" + strings.Repeat("x", pad)
	}
	return token + "\n"
}

func tokenOf(content string) string {
	token, _, _ := strings.Cut(content, "\n")
	return token
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

type benchReport struct {
	Version    string         `json:"version"`
	Run        runInfo        `json:"run"`
	Workload   workloadInfo   `json:"workload"`
	LatencyMS  latencyInfo    `json:"latency_ms"`
	Throughput throughputInfo `json:"throughput"`
	GC         gcInfo         `json:"gc"`
	Sync       syncInfo       `json:"sync"`
}

type runInfo struct {
	Timestamp string `json:"timestamp"`
	Go        string `json:"go"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	CPUCount  int    `json:"cpu_count"`
}

type workloadInfo struct {
	Profile      string  `json:"profile"`
	Clients      int     `json:"clients"`
	Connected    int     `json:"connected"`
	DurationMS   int64   `json:"duration_ms"`
	SavesPerSec  float64 `json:"saves_per_sec"`
	PayloadBytes int     `json:"payload_bytes"`
}

type latencyInfo struct {
	Min float64 `json:"min"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

type throughputInfo struct {
	Saves              uint64  `json:"saves"`
	Deliveries         uint64  `json:"deliveries"`
	ExpectedDeliveries uint64  `json:"expected_deliveries"`
	DeliveriesPerSec   float64 `json:"deliveries_per_sec"`
}

type gcInfo struct {
	AllocMB      float64 `json:"alloc_mb"`
	HeapLiveMB   float64 `json:"heap_live_mb"`
	NumGC        uint32  `json:"num_gc"`
	PauseTotalMS float64 `json:"pause_total_ms"`
}

type syncInfo struct {
	Messages       map[string]float64 `json:"messages"`
	SaveErrors     uint64             `json:"save_errors"`
	UnknownTokens  uint64             `json:"unknown_tokens"`
	ConnectFailure uint64             `json:"connect_failures"`
}

func buildReport(
	cfg benchConfig,
	connected int,
	elapsed time.Duration,
	latencies []time.Duration,
	counters *benchCounters,
	before runtime.MemStats,
	after runtime.MemStats,
	gatherer prometheus.Gatherer,
) benchReport {
	saves := counters.saves.Load()
	deliveries := counters.deliveries.Load()

	latency := latencyInfo{}
	if len(latencies) > 0 {
		latency = latencyInfo{
			Min: ms(latencies[0]),
			P50: ms(percentile(latencies, 0.50)),
			P95: ms(percentile(latencies, 0.95)),
			P99: ms(percentile(latencies, 0.99)),
			Max: ms(latencies[len(latencies)-1]),
		}
	}

	return benchReport{
		Version: "1",
		Run: runInfo{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Go:        runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			CPUCount:  runtime.NumCPU(),
		},
		Workload: workloadInfo{
			Profile:      cfg.Profile,
			Clients:      cfg.Clients,
			Connected:    connected,
			DurationMS:   cfg.Duration.Milliseconds(),
			SavesPerSec:  cfg.RPS,
			PayloadBytes: cfg.PayloadBytes,
		},
		LatencyMS: latency,
		Throughput: throughputInfo{
			Saves:              saves,
			Deliveries:         deliveries,
			ExpectedDeliveries: saves * uint64(connected),
			DeliveriesPerSec:   float64(deliveries) / math.Max(0.001, elapsed.Seconds()),
		},
		GC: gcInfo{
			AllocMB:      float64(after.TotalAlloc-before.TotalAlloc) / (1024 * 1024),
			HeapLiveMB:   float64(after.HeapAlloc) / (1024 * 1024),
			NumGC:        after.NumGC - before.NumGC,
			PauseTotalMS: ms(time.Duration(after.PauseTotalNs - before.PauseTotalNs)),
		},
		Sync: syncInfo{
			Messages:       syncMessages(gatherer),
			SaveErrors:     counters.saveErrors.Load(),
			UnknownTokens:  counters.unknown.Load(),
			ConnectFailure: counters.connectFail.Load(),
		},
	}
}

// syncMessages sums assetsync_sync_messages_total by direction and event.
func syncMessages(g prometheus.Gatherer) map[string]float64 {
	out := make(map[string]float64)
	families, err := g.Gather()
	if err != nil {
		return out
	}
	for _, mf := range families {
		if mf.GetName() != "assetsync_sync_messages_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			var direction, event string
			for _, l := range metric.GetLabel() {
				switch l.GetName() {
				case "direction":
					direction = l.GetValue()
				case "event":
					event = l.GetValue()
				}
			}
			out[direction+":"+event] += metric.GetCounter().GetValue()
		}
	}
	return out
}

func writeSummary(w io.Writer, report benchReport) {
	fmt.Fprintln(w, "=== assetsync fan-out benchmark ===")
	fmt.Fprintf(w, "Profile: %s\n", report.Workload.Profile)
	fmt.Fprintf(w, "Mirrors: %d (%d connected)\n", report.Workload.Clients, report.Workload.Connected)
	fmt.Fprintf(w, "Duration: %s\n", time.Duration(report.Workload.DurationMS)*time.Millisecond)
	fmt.Fprintf(w, "Save rate: %.2f/s\n", report.Workload.SavesPerSec)
	fmt.Fprintf(w, "Payload bytes: %d\n", report.Workload.PayloadBytes)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Saves: %d\n", report.Throughput.Saves)
	fmt.Fprintf(w, "Deliveries: %d of %d\n", report.Throughput.Deliveries, report.Throughput.ExpectedDeliveries)
	fmt.Fprintf(w, "Throughput: %.1f deliveries/s\n", report.Throughput.DeliveriesPerSec)
	fmt.Fprintf(w, "Save errors: %d\n", report.Sync.SaveErrors)
	fmt.Fprintln(w)

	if report.LatencyMS.Max == 0 {
		fmt.Fprintln(w, "No latency samples recorded.")
	} else {
		fmt.Fprintln(w, "Latency (writer save -> reader update):")
		fmt.Fprintf(w, "  min: %.2f ms\n", report.LatencyMS.Min)
		fmt.Fprintf(w, "  p50: %.2f ms\n", report.LatencyMS.P50)
		fmt.Fprintf(w, "  p95: %.2f ms\n", report.LatencyMS.P95)
		fmt.Fprintf(w, "  p99: %.2f ms\n", report.LatencyMS.P99)
		fmt.Fprintf(w, "  max: %.2f ms\n", report.LatencyMS.Max)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Go runtime / GC (process-wide):")
	fmt.Fprintf(w, "  alloc:     %.2f MB\n", report.GC.AllocMB)
	fmt.Fprintf(w, "  heap_live: %.2f MB\n", report.GC.HeapLiveMB)
	fmt.Fprintf(w, "  num_gc:    %d\n", report.GC.NumGC)
	fmt.Fprintf(w, "  gc_pause:  %.2f ms (total)\n", report.GC.PauseTotalMS)
}

func writeJSON(path string, report benchReport) error {
	var out io.Writer
	if path == "-" {
		out = os.Stdout
	} else {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
