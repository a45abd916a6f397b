// Spins up the pantry server: a snapshot-backed cache served over the Redis protocol.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/nobletooth/pantry/pkg/cache"
	"github.com/nobletooth/pantry/pkg/config"
	"github.com/nobletooth/pantry/pkg/port"
	"github.com/nobletooth/pantry/pkg/storage"
	"github.com/nobletooth/pantry/pkg/utils"
)

var (
	printVersion   = flag.Bool("print_version", false, "Print the version and exit.")
	metricsAddress = flag.String("metrics_address", ":9090", "The ip:port serving Prometheus metrics; empty disables it.")
)

const shutdownTimeout = 5 * time.Second

func main() {
	config.InitFlags()
	utils.InitLogging()

	if *printVersion {
		slog.Info("Pantry build info.", utils.BuildAttrs()...)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	go func() { // Listen for OS interrupts in the background.
		sig := <-signals
		slog.Info("Received termination signal, cancelling server context.", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("Pantry server stopped.", "error", err)
		os.Exit(1)
	}
	slog.Info("Pantry server stopped.")
}

func run(ctx context.Context) error {
	store, err := storage.NewBlobStoreFromFlags(ctx)
	if err != nil {
		return fmt.Errorf("failed to open the snapshot store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Failed to close the snapshot store.", "error", err)
		}
	}()

	engine, err := cache.New[[]byte](ctx, cache.OptionsFromFlags(), store, cache.BytesCodec{})
	if err != nil {
		return fmt.Errorf("failed to create the cache: %w", err)
	}
	defer func() { _ = engine.Close() }() // Writes the last pending snapshot.

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return port.RunRedisServer(groupCtx, engine) })
	group.Go(func() error { return serveMetrics(groupCtx, *metricsAddress) })
	return group.Wait()
}

// serveMetrics serves the default Prometheus registry on `address` until `ctx` is cancelled.
func serveMetrics(ctx context.Context, address string) error {
	if address == "" {
		slog.Info("Metrics server is disabled.")
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: shutdownTimeout}

	serverErrSignal := make(chan error, 1)
	go func() { serverErrSignal <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-serverErrSignal:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server stopped unexpectedly: %w", err)
	}
}
