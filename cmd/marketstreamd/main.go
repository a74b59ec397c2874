// Command marketstreamd runs the market-data streaming daemon: publishers,
// subscribers, the DLQ, and the push gateway, all wired from one config file.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vishwanath-tns/StockScreeer-sub011/internal/config"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/logging"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/metrics"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/orchestrator"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:           "marketstreamd",
		Short:         "Market-data streaming daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, metricsAddr)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the configuration file")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "optional bind address for the /metrics endpoint")
	return cmd
}

func run(configPath, metricsAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logging.Init(logging.Config{Level: cfg.Logging.Level, JSONOutput: cfg.Logging.JSON})
	log := logging.WithComponent("main")

	registry := prometheus.NewRegistry()
	prom, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if serr := http.ListenAndServe(metricsAddr, mux); serr != nil {
				log.Error().Err(serr).Msg("metrics endpoint failed")
			}
		}()
		log.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")
	}

	o := orchestrator.New(cfg)
	o.SetMetrics(prom)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := o.Start(ctx); err != nil {
		return fmt.Errorf("starting orchestrator: %w", err)
	}
	log.Info().Str("config", configPath).Msg("daemon running")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := o.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stopping orchestrator: %w", err)
	}
	return nil
}
