package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/cuemby/docrepo/internal/config"
	"github.com/cuemby/docrepo/internal/digest"
	"github.com/cuemby/docrepo/internal/driver"
	"github.com/cuemby/docrepo/internal/facade"
	"github.com/cuemby/docrepo/internal/lease"
	"github.com/cuemby/docrepo/internal/notary"
	"github.com/cuemby/docrepo/internal/repository"
)

func main() {
	// Self-contained healthcheck for scratch containers (no curl/wget available).
	// Usage: docrepo -healthcheck
	if len(os.Args) > 1 && os.Args[1] == "-healthcheck" {
		resp, err := http.Get("http://127.0.0.1:8080/healthz")
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n := notary.New(cfg.NotarySigningKey, cfg.NotaryIssuer)

	d, err := newDriver(ctx, cfg, n)
	if err != nil {
		slog.Error("failed to create storage driver", "backend", cfg.StorageBackend, "error", err)
		os.Exit(1)
	}
	d = driver.Instrument(d)

	if initer, ok := d.(interface{ Init(context.Context) error }); ok {
		if err := initer.Init(ctx); err != nil {
			slog.Error("failed to initialise storage driver", "backend", cfg.StorageBackend, "error", err)
			os.Exit(1)
		}
	}

	f := facade.New(d, n, cfg.CacheCapacity)
	repo := repository.New(f, n)
	_ = repo // repo is the caller-facing API; wired for future transport handlers

	if cfg.LeaseSweepEnabled {
		bags := make([]digest.Citation, 0, len(cfg.LeaseSweepBagTags))
		for _, tag := range cfg.LeaseSweepBagTags {
			bags = append(bags, digest.Citation{Tag: tag, Version: "v1"})
		}
		sweeper := lease.New(f, func(context.Context) ([]digest.Citation, error) {
			return bags, nil
		}, cfg.LeaseTTL)
		go sweeper.Run(ctx, cfg.LeaseSweepInterval)
		slog.Info("lease sweeper started", "ttl", cfg.LeaseTTL, "interval", cfg.LeaseSweepInterval, "bags", len(bags))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	h2s := &http2.Server{}
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: h2c.NewHandler(mux, h2s),
	}

	go func() {
		slog.Info("starting server", "addr", cfg.ListenAddr, "backend", cfg.StorageBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func newDriver(ctx context.Context, cfg config.Config, n notary.Notary) (driver.Driver, error) {
	switch cfg.StorageBackend {
	case "fs":
		return driver.NewFSDriver(cfg.FSRoot), nil
	case "http":
		if cfg.HTTPBaseURL == "" {
			return nil, fmt.Errorf("HTTP_BASE_URL is required for the http storage backend")
		}
		return driver.NewHTTPDriver(cfg.HTTPBaseURL, n, cfg.NotaryIssuer), nil
	case "s3":
		slog.Warn("message-bag operations (AddMessage/BorrowMessage/ReturnMessage/DeleteMessage) are unsupported on the s3 backend: S3 has no compare-and-swap delete, so the backend refuses those calls rather than risk double-delivery")
		return driver.NewObjectDriver(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3ForcePathStyle)
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.StorageBackend)
	}
}
