package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/poiesic/taxcrawl"
	"github.com/poiesic/taxcrawl/ingestion"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

func crawlCommand() *cli.Command {
	return &cli.Command{
		Name:   "crawl",
		Usage:  "Crawl pages from the start URL and store their embeddings",
		Action: runCrawl,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "start-url",
				Usage: "Page to start from (defaults to base_url)",
			},
			&cli.IntFlag{
				Name:  "max-pages",
				Usage: "Maximum pages to fetch (defaults to limits.max_pages or the daily limit)",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Pages processed concurrently (defaults to limits.max_concurrent_requests)",
			},
			&cli.BoolFlag{
				Name:  "follow-all",
				Usage: "Discover links on every processed page, not just the start page",
			},
		},
	}
}

func runCrawl(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := loadedConfig(c)
	if n := c.Int("max-pages"); n > 0 {
		cfg.Limits.MaxPages = n
	}
	if n := c.Int("workers"); n > 0 {
		cfg.Limits.MaxConcurrentRequests = n
	}

	var opts []taxcrawl.IndexOption
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		shutdown := serveMetrics(cfg.Metrics.Addr, reg)
		defer shutdown()
		opts = append(opts, taxcrawl.WithRegisterer(reg))
	}

	idx, err := openIndex(ctx, cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer idx.Close()

	var pipelineOpts []ingestion.Option
	if c.Bool("follow-all") {
		pipelineOpts = append(pipelineOpts, ingestion.WithLinkDiscovery(ingestion.DiscoverEverywhere))
	}
	crawler, err := idx.NewCrawler(ctx, pipelineOpts...)
	if err != nil {
		return fmt.Errorf("failed to create crawler: %w", err)
	}
	defer crawler.Close()

	report, err := crawler.Crawl(ctx, c.String("start-url"))
	if err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}
	return writeJSON(c, report)
}

// serveMetrics exposes reg on addr at /metrics until the returned function is
// called.
func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger := slog.Default().With("component", "metrics")
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown", "err", err)
		}
	}
}

func writeJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
