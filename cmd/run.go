package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/luciancaetano/kephasgate"
	"github.com/luciancaetano/kephasgate/event"
	"github.com/luciancaetano/kephasgate/gate"
	"github.com/luciancaetano/kephasgate/internal/config"
)

// line is one printed domain event.
type line struct {
	Shard int         `json:"shard"`
	Name  string      `json:"name"`
	Event event.Event `json:"event"`
}

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect every shard and print domain events as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			logger, err := a.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger, cmd.OutOrStdout())
		},
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, out io.Writer) error {
	gcfg, err := clientConfig(cfg, logger)
	if err != nil {
		return err
	}

	store, closeStore, err := openCache(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	defer closeStore()
	gcfg.Cache = store

	var reg *prometheus.Registry
	if cfg.Metrics.Addr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		gcfg.Registerer = reg
	}

	client, err := gate.New(gcfg)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.Start(ctx)
	})
	g.Go(func() error {
		return printEvents(client.Events(), out)
	})
	if reg != nil {
		g.Go(func() error {
			return serveMetrics(ctx, cfg.Metrics.Addr, reg, logger)
		})
	}
	return g.Wait()
}

func openCache(ctx context.Context, cfg config.Cache) (kephasgate.Cache, func(), error) {
	if cfg.Driver != config.DriverSQLite {
		return gate.NewMemoryCache(), func() {}, nil
	}
	store, err := gate.OpenSQLiteCache(ctx, cfg.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open cache: %w", err)
	}
	// snapshots from an earlier run may be stale
	if err := store.Clear(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("clear cache: %w", err)
	}
	return store, func() { store.Close() }, nil
}

// printEvents writes events until the stream is closed.
func printEvents(events <-chan event.Event, out io.Writer) error {
	enc := json.NewEncoder(out)
	for ev := range events {
		if err := enc.Encode(line{Shard: ev.Shard(), Name: ev.Name(), Event: ev}); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
