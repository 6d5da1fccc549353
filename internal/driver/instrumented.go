package driver

import (
	"context"
	"time"

	"github.com/cuemby/docrepo/internal/metrics"
)

// instrumented wraps a Driver, recording per-namespace/method operation
// counts and latency without the underlying backend needing to know about
// metrics itself — the same "decorate, don't modify" shape the teacher uses
// for its logging middleware around the proxy handler.
type instrumented struct {
	inner Driver
}

// Instrument wraps d so every call is recorded in internal/metrics.
func Instrument(d Driver) Driver {
	return &instrumented{inner: d}
}

func observe(ns Namespace, method string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.DriverOps.WithLabelValues(string(ns), method, outcome).Inc()
	metrics.DriverLatency.WithLabelValues(string(ns), method).Observe(time.Since(start).Seconds())
}

func (d *instrumented) Exists(ctx context.Context, ns Namespace, key, digest string) (bool, error) {
	start := time.Now()
	ok, err := d.inner.Exists(ctx, ns, key, digest)
	observe(ns, "Exists", start, err)
	return ok, err
}

func (d *instrumented) Read(ctx context.Context, ns Namespace, key, digest string) ([]byte, error) {
	start := time.Now()
	data, err := d.inner.Read(ctx, ns, key, digest)
	observe(ns, "Read", start, err)
	return data, err
}

func (d *instrumented) Write(ctx context.Context, ns Namespace, key, digest string, data []byte, allowOverwrite bool) error {
	start := time.Now()
	err := d.inner.Write(ctx, ns, key, digest, data, allowOverwrite)
	observe(ns, "Write", start, err)
	return err
}

func (d *instrumented) Delete(ctx context.Context, ns Namespace, key, digest string) (bool, error) {
	start := time.Now()
	existed, err := d.inner.Delete(ctx, ns, key, digest)
	observe(ns, "Delete", start, err)
	return existed, err
}

func (d *instrumented) List(ctx context.Context, ns Namespace, prefix string, maxKeys int) ([]string, error) {
	start := time.Now()
	keys, err := d.inner.List(ctx, ns, prefix, maxKeys)
	observe(ns, "List", start, err)
	return keys, err
}

// Init forwards to the wrapped driver's Init, if it has one (only the
// object-store driver does). cmd/docrepo type-asserts for this interface
// after wrapping, so the assertion must still succeed post-instrumentation.
func (d *instrumented) Init(ctx context.Context) error {
	if initer, ok := d.inner.(interface{ Init(context.Context) error }); ok {
		return initer.Init(ctx)
	}
	return nil
}
