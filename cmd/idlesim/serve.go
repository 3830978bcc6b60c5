package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/idle-engine/internal/bridge"
	"github.com/signalsfoundry/idle-engine/internal/config"
	"github.com/signalsfoundry/idle-engine/internal/logging"
	"github.com/signalsfoundry/idle-engine/internal/observability"
	"github.com/signalsfoundry/idle-engine/internal/sim"
)

const stopGrace = 5 * time.Second

func newServeCmd(flags *globalFlags) *cobra.Command {
	var (
		addr        string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host simulations for remote clients over gRPC",
		Long: `Start the host bridge. Every Connect stream gets its own simulation,
driven by the wall clock until the host disconnects or the session halts.

Examples:
  idlesim serve
  idlesim serve --addr :7070 --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, content, log, err := flags.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Bridge.Addr = addr
			}
			if metricsAddr != "" {
				cfg.Metrics.Addr = metricsAddr
			}

			lis, err := net.Listen("tcp", cfg.Bridge.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.Bridge.Addr, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, content, log, lis, prometheus.NewRegistry())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gRPC listen address (overrides [bridge] addr)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus listen address (overrides [metrics] addr)")
	return cmd
}

// runServe serves the bridge on lis until ctx is cancelled.
func runServe(ctx context.Context, cfg *config.Config, content *config.Content, log logging.Logger, lis net.Listener, reg *prometheus.Registry) error {
	tracing, err := observability.InitTracing(ctx, observability.TracingFromEnv(cfg.Tracing), sim.Build, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer tracing.Shutdown(context.Background())

	collector, err := observability.NewSimCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
		go func() {
			if err := collector.ServeMetrics(ctx, cfg.Metrics.Addr); err != nil {
				log.Warn(ctx, "metrics server exited", logging.Err(err))
			}
		}()
		log.Info(ctx, "serving Prometheus metrics", logging.String("addr", cfg.Metrics.Addr))
	}

	srv := bridge.NewServer(cfg, content, log,
		bridge.WithMetrics(collector),
		bridge.WithOutbox(cfg.Bridge.InboxSize*4),
	)
	server := bridge.NewGRPCServer(srv, log, collector)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(lis) }()
	log.Info(ctx, "host bridge listening", logging.String("addr", lis.Addr().String()))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("bridge server: %w", err)
	}

	log.Info(context.Background(), "shutting down host bridge", logging.Int("sessions", srv.Sessions()))
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(stopGrace):
		server.Stop()
	}
	return nil
}
