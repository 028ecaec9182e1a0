package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/woxQAQ/arena-bridge/internal/config"
	"github.com/woxQAQ/arena-bridge/internal/metrics"
	"github.com/woxQAQ/arena-bridge/pkg/analysis"
	"github.com/woxQAQ/arena-bridge/pkg/bridge"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	genes := flag.Int("genes", 200, "Number of features in the synthetic count matrix")
	cells := flag.Int("cells", 500, "Number of cells in the synthetic count matrix")
	clusters := flag.Int("k", 4, "Number of k-means clusters")
	seed := flag.Uint64("seed", 42, "Random seed")
	serve := flag.Bool("serve", false, "Keep serving metrics after the pipeline until interrupted")
	flag.Parse()

	if err := validateFlags(*genes, *cells, *clusters); err != nil {
		fmt.Fprintf(os.Stderr, "invalid flags: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting arenactl",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
		zap.String("backend", cfg.Native.Backend),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	var opts []bridge.Option
	var srv *http.Server
	if cfg.MetricsEnabled {
		collector := metrics.NewCollector()
		opts = append(opts, bridge.WithObserver(collector))
		srv = serveMetrics(cfg.MetricsPort, collector, logger)
	}

	b, err := bridge.Initialize(ctx, cfg, logger, opts...)
	if err != nil {
		logger.Fatal("Failed to initialize bridge", zap.Error(err))
	}

	runErr := run(ctx, b, logger, *genes, *cells, *clusters, *seed)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("Pipeline failed", zap.Error(runErr))
	}

	if *serve && srv != nil && runErr == nil {
		logger.Info("Serving metrics until interrupted", zap.String("addr", srv.Addr))
		<-ctx.Done()
	}

	if err := bridge.Terminate(context.WithoutCancel(ctx)); err != nil {
		logger.Error("Failed to terminate bridge", zap.Error(err))
	}
	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	}

	logger.Info("Shutdown complete")
	if runErr != nil {
		os.Exit(1)
	}
}

// validateFlags checks the synthetic matrix shape before anything is
// allocated.
func validateFlags(genes, cells, clusters int) error {
	switch {
	case genes < 1:
		return fmt.Errorf("-genes must be at least 1, got %d", genes)
	case cells < 1:
		return fmt.Errorf("-cells must be at least 1, got %d", cells)
	case clusters < 1 || clusters > cells:
		return fmt.Errorf("-k must be in [1, %d], got %d", cells, clusters)
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = lvl
	return cfg.Build()
}

func serveMetrics(port int, collector *metrics.Collector, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Serving metrics", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()
	return srv
}

// run drives QC, normalization and clustering over a synthetic count matrix.
func run(ctx context.Context, b *bridge.Bridge, logger *zap.Logger, genes, cells, k int, seed uint64) error {
	rng := rand.New(rand.NewPCG(seed, seed^0x5DEECE66D))
	counts := make([]float64, genes*cells)
	for c := 0; c < cells; c++ {
		group := c % k
		for g := 0; g < genes; g++ {
			lambda := 0.5
			if g%k == group {
				lambda = 8
			}
			counts[c*genes+g] = float64(poisson(rng, lambda))
		}
	}

	qc, err := analysis.PerCellQC(ctx, b, counts, genes, cells)
	if err != nil {
		return fmt.Errorf("per-cell QC: %w", err)
	}
	defer qc.Free(ctx)

	sums, err := qc.Sums(bridge.ModeCopy)
	if err != nil {
		return err
	}
	var total float64
	for _, s := range sums.Slice() {
		total += s
	}
	logger.Info("Computed per-cell QC",
		zap.Int("cells", qc.NumCells()),
		zap.Float64("mean_library_size", total/float64(cells)),
	)

	norm, err := analysis.LogNormalize(ctx, b, counts, genes, cells, nil)
	if err != nil {
		return fmt.Errorf("log-normalize: %w", err)
	}
	defer norm.Free(ctx)
	logger.Info("Log-normalized counts", zap.Int("rows", norm.NRow()), zap.Int("cols", norm.NCol()))

	km, err := analysis.NewKMeans(ctx, b, norm.Buffer(), genes, cells, k, seed)
	if err != nil {
		return fmt.Errorf("k-means: %w", err)
	}
	defer km.Free(ctx)

	converged, err := km.Advance(ctx, 100, 10*time.Second)
	if err != nil {
		return fmt.Errorf("k-means: %w", err)
	}
	iterations, err := km.Iterations()
	if err != nil {
		return err
	}

	assignments, err := km.Clusters(bridge.ModeCopy)
	if err != nil {
		return err
	}
	sizes := make([]int, k)
	for _, c := range assignments.Slice() {
		if c >= 0 {
			sizes[c]++
		}
	}
	logger.Info("Clustered cells",
		zap.Bool("converged", converged),
		zap.Int("iterations", iterations),
		zap.Ints("cluster_sizes", sizes),
	)

	stats := b.Stats()
	logger.Info("Arena statistics",
		zap.Uint64("committed_bytes", stats.Committed),
		zap.Uint64("in_use_bytes", stats.InUse),
		zap.Int("allocations", stats.Allocations),
		zap.Uint64("epoch", stats.Epoch),
		zap.Int("live_handles", stats.LiveHandles),
		zap.Int("pending_releases", stats.PendingReleases),
	)
	return nil
}

// poisson draws from a Poisson distribution by inversion.
func poisson(rng *rand.Rand, lambda float64) int {
	l, p, k := math.Exp(-lambda), 1.0, 0
	for {
		p *= rng.Float64()
		if p <= l {
			return k
		}
		k++
	}
}
