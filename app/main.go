package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scrapiens/scrapiens/app/api"
	"github.com/scrapiens/scrapiens/app/cfg"
	"github.com/scrapiens/scrapiens/app/stages"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		slog.Error("Configuration error", "error", err)
		os.Exit(1)
	}
	if c == nil {
		// Help was shown, exit gracefully
		return
	}

	if c.Command == "" {
		fmt.Fprintln(os.Stderr, "Usage: scrapiens [options] <command>")
		fmt.Fprintln(os.Stderr, "Commands: scrape, deduplicate, classify, extract, match-keywords, build-digest, send, pipeline, status, serve")
		os.Exit(1)
	}

	if err := run(c); err != nil {
		slog.Error("Command failed", "command", c.Command, "error", err)
		os.Exit(1)
	}
}

func run(c *cfg.Cfg) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, err := stages.NewRunner(c)
	if err != nil {
		return err
	}
	defer runner.Close()

	switch c.Command {
	case "scrape":
		return runner.Scrape(ctx, false)
	case "deduplicate":
		return runner.Deduplicate(ctx, false)
	case "classify":
		return runner.Classify(ctx, false)
	case "extract":
		return runner.Extract(ctx, false)
	case "match-keywords":
		return runner.MatchKeywords(ctx, false)
	case "build-digest":
		return runner.BuildDigest(ctx, false)
	case "send":
		return runner.Send(ctx)
	case "pipeline":
		return runner.RunPipeline(ctx)
	case "status":
		return runner.Status()
	case "serve":
		return serve(ctx, c, runner)
	default:
		return fmt.Errorf("unknown command %q", c.Command)
	}
}

func serve(ctx context.Context, c *cfg.Cfg, runner *stages.Runner) error {
	slog.Info("Starting status server", "version", c.Version, "port", c.Port)

	handler := api.NewHandler(runner.Runs(), runner.Deliveries(), c.DataDir, c.Port)
	server := api.NewServer(handler, c.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + c.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-serverErrChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	slog.Info("HTTP server stopped")

	return nil
}
