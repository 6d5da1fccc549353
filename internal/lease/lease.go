// Package lease implements the optional out-of-band sweeper that reclaims
// messages stranded in a bag's processing state past their lease TTL. The
// sweeper is disabled by default (spec open question 3); the core facade
// never starts one on its own.
package lease

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuemby/docrepo/internal/digest"
	"github.com/cuemby/docrepo/internal/facade"
)

// reclaimer is the subset of *facade.Facade the sweeper depends on, kept
// narrow so tests can supply a fake without constructing a full driver.
type reclaimer interface {
	ProcessingKeys(ctx context.Context, bag digest.Citation) ([]string, error)
	Reclaim(ctx context.Context, bag digest.Citation, relKey string) (bool, error)
}

// BagLister supplies the set of bags the sweeper should scan on each tick.
// The facade has no notion of "all known bags," so the caller (typically
// the repository's owner) must provide this — usually backed by a fixed
// configuration list or a names-namespace scan for bag-type documents.
type BagLister func(ctx context.Context) ([]digest.Citation, error)

// Sweeper periodically scans the processing subtree of every bag BagLister
// returns and reclaims entries that have sat there longer than TTL. Age is
// tracked in memory from first observation, since the Driver interface
// exposes no modification timestamps a sweeper could read directly.
type Sweeper struct {
	facade reclaimer
	bags   BagLister
	ttl    time.Duration

	mu        sync.Mutex
	firstSeen map[string]time.Time
}

// New creates a Sweeper over f, scanning the bags bags returns and
// reclaiming any processing entry older than ttl.
func New(f *facade.Facade, bags BagLister, ttl time.Duration) *Sweeper {
	return &Sweeper{
		facade:    f,
		bags:      bags,
		ttl:       ttl,
		firstSeen: make(map[string]time.Time),
	}
}

// Run ticks every interval until ctx is cancelled, sweeping on each tick.
// It blocks; callers typically run it in its own goroutine.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sweepOnce(ctx); err != nil {
				slog.Error("lease sweep failed", "error", err)
			}
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) error {
	bags, err := s.bags(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	seen := make(map[string]bool)

	for _, bag := range bags {
		keys, err := s.facade.ProcessingKeys(ctx, bag)
		if err != nil {
			slog.Warn("lease sweep: listing processing keys failed", "bag", bag.Tag, "error", err)
			continue
		}

		for _, relKey := range keys {
			trackingKey := bag.Tag + "/" + bag.Version + "/" + relKey
			seen[trackingKey] = true

			s.mu.Lock()
			first, ok := s.firstSeen[trackingKey]
			if !ok {
				s.firstSeen[trackingKey] = now
				s.mu.Unlock()
				continue
			}
			s.mu.Unlock()

			if now.Sub(first) < s.ttl {
				continue
			}

			reclaimed, err := s.facade.Reclaim(ctx, bag, relKey)
			if err != nil {
				slog.Warn("lease sweep: reclaim failed", "bag", bag.Tag, "key", relKey, "error", err)
				continue
			}
			if reclaimed {
				slog.Info("lease sweep: reclaimed stale message", "bag", bag.Tag, "key", relKey, "age", now.Sub(first))
			}
			s.mu.Lock()
			delete(s.firstSeen, trackingKey)
			s.mu.Unlock()
		}
	}

	s.forgetStale(seen)
	return nil
}

// forgetStale drops tracking entries for keys no longer observed in
// processing (already acknowledged or reclaimed by someone else), so the
// in-memory map does not grow unbounded over the sweeper's lifetime.
func (s *Sweeper) forgetStale(seen map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.firstSeen {
		if !seen[key] {
			delete(s.firstSeen, key)
		}
	}
}
