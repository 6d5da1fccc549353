// Package facade implements the Storage Facade: the namespace protocol over
// {name, draft, document, contract, message} and the bag state machine,
// composed atop a driver.Driver and a trio of bounded caches. This is the
// component the spec calls "the hard part" of the system, alongside the
// driver and cache packages it depends on.
package facade

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"

	"github.com/cuemby/docrepo/internal/apperr"
	"github.com/cuemby/docrepo/internal/cache"
	"github.com/cuemby/docrepo/internal/digest"
	"github.com/cuemby/docrepo/internal/driver"
	"github.com/cuemby/docrepo/internal/metrics"
	"github.com/cuemby/docrepo/internal/notary"
)

// Message is a notarized document living inside a bag, in either the
// available or processing state.
type Message struct {
	Citation digest.Citation
	Content  []byte
}

// listPageSize bounds the number of keys a single List call returns when
// scanning a bag's available/processing subtree, per the spec's note that
// MessageCount and BorrowMessage operate on "a reasonable page size."
const listPageSize = 1000

// Facade enforces the object protocol atop a single driver.Driver. Each
// Facade owns its own caches — the spec's open question about a shared
// module-global cache is resolved in favor of per-instance caches (see
// DESIGN.md, open question 1).
type Facade struct {
	driver   driver.Driver
	notary   notary.Notary
	names    *cache.Cache[digest.Citation]
	docs     *cache.Cache[[]byte]
	contract *cache.Cache[[]byte]
}

// New creates a Facade over d, using notary n to derive citations and
// cacheCapacity for each of the three immutable-class caches.
func New(d driver.Driver, n notary.Notary, cacheCapacity int) *Facade {
	return &Facade{
		driver:   d,
		notary:   n,
		names:    cache.New[digest.Citation](cacheCapacity),
		docs:     cache.New[[]byte](cacheCapacity),
		contract: cache.New[[]byte](cacheCapacity),
	}
}

func observe(cacheName string, hit bool) {
	if hit {
		metrics.CacheHits.WithLabelValues(cacheName).Inc()
	} else {
		metrics.CacheMisses.WithLabelValues(cacheName).Inc()
	}
}

// -- Name operations --------------------------------------------------------

func (f *Facade) NameExists(ctx context.Context, name digest.Name) (bool, error) {
	key := digest.NameKey(name)
	if _, ok := f.names.Get(key); ok {
		observe("name", true)
		return true, nil
	}
	observe("name", false)
	return f.driver.Exists(ctx, driver.Names, key, "")
}

func (f *Facade) ReadName(ctx context.Context, name digest.Name) (digest.Citation, error) {
	key := digest.NameKey(name)
	if c, ok := f.names.Get(key); ok {
		observe("name", true)
		return c, nil
	}
	observe("name", false)

	data, err := f.driver.Read(ctx, driver.Names, key, "")
	if err != nil {
		return digest.Citation{}, err
	}
	c, ok := digest.DecodeCitation(data)
	if !ok {
		return digest.Citation{}, apperr.New("facade", "ReadName", apperr.KindMalformedRequest, map[string]string{"name": string(name)}, nil)
	}
	f.names.Put(key, c)
	return c, nil
}

func (f *Facade) WriteName(ctx context.Context, name digest.Name, citation digest.Citation) error {
	key := digest.NameKey(name)
	err := f.driver.Write(ctx, driver.Names, key, citation.Digest, digest.EncodeCitation(citation), false)
	if err != nil {
		if driver.IsConflict(err) {
			return apperr.New("facade", "WriteName", apperr.KindConflict, map[string]string{"name": string(name)}, err)
		}
		return err
	}
	f.names.Put(key, citation)
	return nil
}

// -- Draft operations ---------------------------------------------------------
// Drafts are mutable and never cached, so these are a direct pass-through.

func (f *Facade) DraftExists(ctx context.Context, citation digest.Citation) (bool, error) {
	return f.driver.Exists(ctx, driver.Drafts, digest.DocKey(citation), citation.Digest)
}

func (f *Facade) ReadDraft(ctx context.Context, citation digest.Citation) ([]byte, error) {
	return f.driver.Read(ctx, driver.Drafts, digest.DocKey(citation), citation.Digest)
}

func (f *Facade) WriteDraft(ctx context.Context, citation digest.Citation, content []byte) error {
	return f.driver.Write(ctx, driver.Drafts, digest.DocKey(citation), citation.Digest, content, true)
}

func (f *Facade) DeleteDraft(ctx context.Context, citation digest.Citation) (bool, error) {
	return f.driver.Delete(ctx, driver.Drafts, digest.DocKey(citation), citation.Digest)
}

// -- Document operations ------------------------------------------------------

func (f *Facade) DocumentExists(ctx context.Context, citation digest.Citation) (bool, error) {
	key := digest.DocKey(citation)
	if _, ok := f.docs.Get(key); ok {
		observe("document", true)
		return true, nil
	}
	observe("document", false)
	return f.driver.Exists(ctx, driver.Documents, key, citation.Digest)
}

func (f *Facade) ReadDocument(ctx context.Context, citation digest.Citation) ([]byte, error) {
	key := digest.DocKey(citation)
	if data, ok := f.docs.Get(key); ok {
		observe("document", true)
		return data, nil
	}
	observe("document", false)

	data, err := f.driver.Read(ctx, driver.Documents, key, citation.Digest)
	if err != nil {
		return nil, err
	}
	f.docs.Put(key, data)
	return data, nil
}

// WriteDocument derives citation, checks it hasn't already been promoted to
// a contract, then stages the bytes in the documents namespace. Documents
// may be re-uploaded byte-identically (allowOverwrite=true — the staging
// slot tolerates idempotent retries), but the facade rejects a rewrite that
// would change the underlying content, since a document key is supposed to
// be bijective with its digest.
func (f *Facade) WriteDocument(ctx context.Context, citation digest.Citation, content []byte) error {
	key := digest.DocKey(citation)

	exists, err := f.driver.Exists(ctx, driver.Contracts, key, citation.Digest)
	if err != nil {
		return err
	}
	if exists {
		return apperr.New("facade", "WriteDocument", apperr.KindConflict, map[string]string{"key": key}, nil)
	}

	if existing, err := f.driver.Read(ctx, driver.Documents, key, citation.Digest); err == nil {
		if string(existing) != string(content) {
			return apperr.New("facade", "WriteDocument", apperr.KindDigestMismatch, map[string]string{"key": key}, nil)
		}
	} else if !driver.IsNotFound(err) {
		return err
	}

	if err := f.driver.Write(ctx, driver.Documents, key, citation.Digest, content, true); err != nil {
		return err
	}
	f.docs.Put(key, content)
	return nil
}

// -- Contract operations -------------------------------------------------------

func (f *Facade) ContractExists(ctx context.Context, citation digest.Citation) (bool, error) {
	key := digest.DocKey(citation)
	if _, ok := f.contract.Get(key); ok {
		observe("contract", true)
		return true, nil
	}
	observe("contract", false)
	return f.driver.Exists(ctx, driver.Contracts, key, citation.Digest)
}

func (f *Facade) ReadContract(ctx context.Context, citation digest.Citation) ([]byte, error) {
	key := digest.DocKey(citation)
	if data, ok := f.contract.Get(key); ok {
		observe("contract", true)
		return data, nil
	}
	observe("contract", false)

	data, err := f.driver.Read(ctx, driver.Contracts, key, citation.Digest)
	if err != nil {
		return nil, err
	}
	f.contract.Put(key, data)
	return data, nil
}

// WriteContract promotes a document to a contract: write the contract under
// allowOverwrite=false (so a second promotion attempt fails conflict), then
// delete the staging document copy. The two operations are sequenced, not
// transactional — a crash between them leaves a harmless document shadow
// that a subsequent WriteContract will refuse with conflict; this is a
// documented, manual-cleanup recovery case, not retried automatically.
func (f *Facade) WriteContract(ctx context.Context, citation digest.Citation, content []byte) error {
	key := digest.DocKey(citation)

	if err := f.driver.Write(ctx, driver.Contracts, key, citation.Digest, content, false); err != nil {
		if driver.IsConflict(err) {
			return apperr.New("facade", "WriteContract", apperr.KindConflict, map[string]string{"key": key}, err)
		}
		return err
	}
	f.contract.Put(key, content)

	if _, err := f.driver.Delete(ctx, driver.Documents, key, citation.Digest); err != nil {
		slog.Warn("contract promoted but staging document delete failed; manual cleanup required", "key", key, "error", err)
	}
	return nil
}

// -- Bag / message operations --------------------------------------------------

// bagCapacity extracts the "$capacity" declaration from a bag contract's
// content. The textual document encoding is out of scope for this core
// (spec.md §1); the reference convention used here is a single trailing
// line "$capacity: N", which the reference Notary's callers are expected to
// produce when minting a bag contract.
func bagCapacity(content []byte) (int, error) {
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "$capacity:"); ok {
			n, err := strconv.Atoi(strings.TrimSpace(rest))
			if err != nil {
				return 0, fmt.Errorf("parsing $capacity: %w", err)
			}
			return n, nil
		}
	}
	return 0, fmt.Errorf("bag contract missing $capacity declaration")
}

func (f *Facade) requireBag(ctx context.Context, bag digest.Citation) (int, error) {
	content, err := f.ReadContract(ctx, bag)
	if err != nil {
		if driver.IsNotFound(err) {
			return 0, apperr.New("facade", "requireBag", apperr.KindNoBag, map[string]string{"bag": bag.Tag}, err)
		}
		return 0, err
	}
	capacity, err := bagCapacity(content)
	if err != nil {
		return 0, apperr.New("facade", "requireBag", apperr.KindMalformedRequest, map[string]string{"bag": bag.Tag}, err)
	}
	return capacity, nil
}

// MessageCount returns the number of available messages in bag. Per the
// spec, this is an estimate under contention (List is not a snapshot), so
// callers should treat it as advisory, not authoritative.
func (f *Facade) MessageCount(ctx context.Context, bag digest.Citation) (int, error) {
	if _, err := f.requireBag(ctx, bag); err != nil {
		return 0, err
	}
	keys, err := f.driver.List(ctx, driver.Messages, digest.BagPrefix(bag, digest.Available), listPageSize)
	if err != nil {
		return 0, err
	}
	metrics.BagDepth.WithLabelValues(bag.Tag).Set(float64(len(keys)))
	return len(keys), nil
}

// MessageAvailable reports whether bag currently has at least one available
// message. It is a thin convenience over MessageCount.
func (f *Facade) MessageAvailable(ctx context.Context, bag digest.Citation) (bool, error) {
	count, err := f.MessageCount(ctx, bag)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// AddMessage enqueues msg into bag's available subtree, after a racy
// capacity pre-check (spec.md §5, "Backpressure").
func (f *Facade) AddMessage(ctx context.Context, bag digest.Citation, msg Message) error {
	capacity, err := f.requireBag(ctx, bag)
	if err != nil {
		return err
	}

	count, err := f.MessageCount(ctx, bag)
	if err != nil {
		return err
	}
	if count >= capacity {
		return apperr.New("facade", "AddMessage", apperr.KindBagFull, map[string]string{"bag": bag.Tag}, nil)
	}

	availKey := digest.MessageKey(bag, digest.Available, msg.Citation)
	procKey := digest.MessageKey(bag, digest.Processing, msg.Citation)

	for _, key := range []string{availKey, procKey} {
		exists, err := f.driver.Exists(ctx, driver.Messages, key, msg.Citation.Digest)
		if err != nil {
			return err
		}
		if exists {
			return apperr.New("facade", "AddMessage", apperr.KindConflict, map[string]string{"bag": bag.Tag, "message": msg.Citation.Tag}, nil)
		}
	}

	return f.driver.Write(ctx, driver.Messages, availKey, msg.Citation.Digest, msg.Content, true)
}

// BorrowMessage is the core concurrency primitive: it produces at-most-once
// delivery under concurrent borrowers by racing Read+Delete against other
// borrowers and retrying only on a lost race, never on I/O failure. It
// returns (nil, nil) when the bag is empty. This only delivers at-most-once
// if the underlying driver's Delete truly reports existed=true for exactly
// one racing caller; a backend that cannot provide that (see
// driver.ErrUnsupportedBackend) must reject Delete on the messages
// namespace rather than fake the guarantee.
func (f *Facade) BorrowMessage(ctx context.Context, bag digest.Citation) (*Message, error) {
	if _, err := f.requireBag(ctx, bag); err != nil {
		return nil, err
	}

	availPrefix := digest.BagPrefix(bag, digest.Available)
	procPrefix := digest.BagPrefix(bag, digest.Processing)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		candidates, err := f.driver.List(ctx, driver.Messages, availPrefix, listPageSize)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, nil
		}

		i := rand.Intn(len(candidates))
		relKey := candidates[i]
		availKey := availPrefix + "/" + relKey
		procKey := procPrefix + "/" + relKey

		content, err := f.driver.Read(ctx, driver.Messages, availKey, "")
		if err != nil {
			if driver.IsNotFound(err) {
				metrics.BorrowRetries.WithLabelValues(bag.Tag).Inc()
				continue // lost race: another borrower already took it
			}
			return nil, err
		}

		existed, err := f.driver.Delete(ctx, driver.Messages, availKey, "")
		if err != nil {
			return nil, err
		}
		if !existed {
			metrics.BorrowRetries.WithLabelValues(bag.Tag).Inc()
			continue // lost race on delete
		}

		msgDigest := f.notary.Digest(content)
		if err := f.driver.Write(ctx, driver.Messages, procKey, msgDigest, content, true); err != nil {
			return nil, err
		}

		citation, ok := citationFromRelKey(bag, relKey)
		if !ok {
			return nil, apperr.New("facade", "BorrowMessage", apperr.KindMalformedRequest, map[string]string{"bag": bag.Tag, "key": relKey}, nil)
		}
		citation.Digest = msgDigest
		return &Message{Citation: citation, Content: content}, nil
	}
}

// citationFromRelKey parses a message's "<tag>/<version>" relative key
// (the format DocKey produces) back into a Citation carrying only tag and
// version — the digest is not recoverable from the key alone. Callers that
// have the message content in hand (BorrowMessage) fill Digest in
// separately via notary.Digest; ReturnMessage/DeleteMessage never need it,
// since they key purely on tag+version.
func citationFromRelKey(_ digest.Citation, relKey string) (digest.Citation, bool) {
	idx := strings.LastIndex(relKey, "/")
	if idx < 0 {
		return digest.Citation{}, false
	}
	return digest.Citation{Tag: "#" + relKey[:idx], Version: relKey[idx+1:]}, true
}

// ReturnMessage moves msg from processing back to available under a bumped
// version. If msg's processing key no longer exists — reclaimed by a lease
// sweeper or another party — it fails with an apperr.KindLeaseExpired error.
func (f *Facade) ReturnMessage(ctx context.Context, bag digest.Citation, msg Message) (Message, error) {
	procKey := digest.MessageKey(bag, digest.Processing, msg.Citation)

	existed, err := f.driver.Delete(ctx, driver.Messages, procKey, msg.Citation.Digest)
	if err != nil {
		return Message{}, err
	}
	if !existed {
		return Message{}, apperr.New("facade", "ReturnMessage", apperr.KindLeaseExpired, map[string]string{"bag": bag.Tag, "message": msg.Citation.Tag}, nil)
	}

	next := msg.Citation
	next.Version = f.notary.NextVersion(next.Version)
	next.Digest = f.notary.Digest(msg.Content)

	availKey := digest.MessageKey(bag, digest.Available, next)
	if err := f.driver.Write(ctx, driver.Messages, availKey, next.Digest, msg.Content, true); err != nil {
		return Message{}, err
	}

	return Message{Citation: next, Content: msg.Content}, nil
}

// DeleteMessage acknowledges msg: it is read then deleted from processing.
// If absent, the lease has already expired and DeleteMessage fails with an
// apperr.KindLeaseExpired error rather than silently succeeding.
func (f *Facade) DeleteMessage(ctx context.Context, bag, msgCitation digest.Citation) ([]byte, error) {
	procKey := digest.MessageKey(bag, digest.Processing, msgCitation)

	content, err := f.driver.Read(ctx, driver.Messages, procKey, msgCitation.Digest)
	if err != nil {
		if driver.IsNotFound(err) {
			return nil, apperr.New("facade", "DeleteMessage", apperr.KindLeaseExpired, map[string]string{"bag": bag.Tag, "message": msgCitation.Tag}, err)
		}
		return nil, err
	}

	existed, err := f.driver.Delete(ctx, driver.Messages, procKey, msgCitation.Digest)
	if err != nil {
		return nil, err
	}
	if !existed {
		return nil, apperr.New("facade", "DeleteMessage", apperr.KindLeaseExpired, map[string]string{"bag": bag.Tag, "message": msgCitation.Tag}, nil)
	}
	return content, nil
}

// ProcessingKeys lists the keys, relative to the processing prefix and in
// the "<tag>/<version>" form citationFromRelKey parses, of every message
// currently in bag's processing subtree. Used by the lease sweeper to find reclaim candidates; it carries
// no notion of age itself, since the driver interface exposes no
// modification timestamps — the sweeper tracks age on its own.
func (f *Facade) ProcessingKeys(ctx context.Context, bag digest.Citation) ([]string, error) {
	if _, err := f.requireBag(ctx, bag); err != nil {
		return nil, err
	}
	return f.driver.List(ctx, driver.Messages, digest.BagPrefix(bag, digest.Processing), listPageSize)
}

// Reclaim moves the message at processing relative key relKey back to
// available under a bumped version, the same transition ReturnMessage
// performs, but driven by the sweeper instead of the borrower. It is a
// no-op returning (false, nil) if relKey no longer exists in processing —
// another party already reclaimed or acknowledged it.
func (f *Facade) Reclaim(ctx context.Context, bag digest.Citation, relKey string) (bool, error) {
	procPrefix := digest.BagPrefix(bag, digest.Processing)
	procKey := procPrefix + "/" + relKey

	content, err := f.driver.Read(ctx, driver.Messages, procKey, "")
	if err != nil {
		if driver.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	existed, err := f.driver.Delete(ctx, driver.Messages, procKey, "")
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}

	citation, ok := citationFromRelKey(bag, relKey)
	if !ok {
		return false, apperr.New("facade", "Reclaim", apperr.KindMalformedRequest, map[string]string{"bag": bag.Tag, "key": relKey}, nil)
	}
	citation.Version = f.notary.NextVersion(citation.Version)
	citation.Digest = f.notary.Digest(content)

	availKey := digest.MessageKey(bag, digest.Available, citation)
	if err := f.driver.Write(ctx, driver.Messages, availKey, citation.Digest, content, true); err != nil {
		return false, err
	}
	return true, nil
}
