// Package config loads process configuration from the environment, in the
// flat-struct-plus-envOr style the teacher repo uses.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// AWS SDK environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY,
// AWS_REGION, AWS_ENDPOINT_URL) are read directly by the SDK's default
// credential chain and do not appear in this struct.

// Config holds every environment-derived setting cmd/docrepo needs to wire
// a Repository: which storage backend to use, that backend's connection
// details, cache/bag sizing, lease sweeping, the Notary's signing key, and
// the ambient health listener's address.
type Config struct {
	StorageBackend string // "fs", "http", or "s3"

	FSRoot string

	HTTPBaseURL string

	S3Bucket         string
	S3Prefix         string
	S3ForcePathStyle bool

	CacheCapacity      int
	DefaultBagCapacity int
	LeaseSweepEnabled  bool
	LeaseTTL           time.Duration
	LeaseSweepInterval time.Duration

	// LeaseSweepBagTags lists the bags (by tag, at version "v1") the lease
	// sweeper should scan. The facade has no registry of "all known bags,"
	// so this is supplied out of band rather than discovered.
	LeaseSweepBagTags []string

	NotarySigningKey []byte
	NotaryIssuer     string
	ListenAddr       string
	LogLevel         slog.Level
}

func Load() Config {
	cacheCapacity, _ := strconv.Atoi(envOr("CACHE_CAPACITY", "256"))
	defaultBagCapacity, _ := strconv.Atoi(envOr("DEFAULT_BAG_CAPACITY", "1024"))
	leaseTTLSeconds, _ := strconv.Atoi(envOr("LEASE_TTL_SECONDS", "300"))
	leaseIntervalSeconds, _ := strconv.Atoi(envOr("LEASE_SWEEP_INTERVAL_SECONDS", "60"))

	return Config{
		StorageBackend: envOr("STORAGE_BACKEND", "fs"),

		FSRoot: envOr("FS_ROOT", "/data/docrepo"),

		HTTPBaseURL: os.Getenv("HTTP_BASE_URL"),

		S3Bucket:         envOr("S3_BUCKET", "docrepo"),
		S3Prefix:         os.Getenv("S3_PREFIX"),
		S3ForcePathStyle: envOr("S3_FORCE_PATH_STYLE", "true") == "true",

		CacheCapacity:      cacheCapacity,
		DefaultBagCapacity: defaultBagCapacity,
		LeaseSweepEnabled:  envOr("LEASE_SWEEP_ENABLED", "false") == "true",
		LeaseTTL:           time.Duration(leaseTTLSeconds) * time.Second,
		LeaseSweepInterval: time.Duration(leaseIntervalSeconds) * time.Second,
		LeaseSweepBagTags:  splitNonEmpty(os.Getenv("LEASE_SWEEP_BAG_TAGS")),
		NotarySigningKey:   []byte(envOr("NOTARY_SIGNING_KEY", "change-me-in-production")),
		NotaryIssuer:       envOr("NOTARY_ISSUER", "docrepo"),
		ListenAddr:         envOr("LISTEN_ADDR", ":8080"),
		LogLevel:           parseLogLevel(envOr("LOG_LEVEL", "info")),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
