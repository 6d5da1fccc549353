package facade

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/docrepo/internal/digest"
	"github.com/cuemby/docrepo/internal/driver"
	"github.com/cuemby/docrepo/internal/notary"
)

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	d := driver.NewFSDriver(t.TempDir())
	n := notary.New([]byte("test-key"), "docrepo-test")
	return New(d, n, 64)
}

func mustBag(t *testing.T, f *Facade, tag string, capacity int) digest.Citation {
	t.Helper()
	ctx := context.Background()
	bag := digest.Citation{Tag: tag, Version: "v1"}
	content := []byte(fmt.Sprintf("$capacity: %d\n", capacity))
	require.NoError(t, f.WriteContract(ctx, bag, content))
	return bag
}

func TestNameWriteReadExists(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	name := digest.Name("/docs/readme")
	citation := digest.Citation{Tag: "#ABC", Version: "v1", Digest: "sha256:aaaa"}

	ok, err := f.NameExists(ctx, name)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, f.WriteName(ctx, name, citation))

	ok, err = f.NameExists(ctx, name)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := f.ReadName(ctx, name)
	require.NoError(t, err)
	require.Equal(t, citation, got)
}

func TestWriteNameConflictsOnSecondBind(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	name := digest.Name("/docs/readme")
	c1 := digest.Citation{Tag: "#ABC", Version: "v1", Digest: "sha256:aaaa"}
	c2 := digest.Citation{Tag: "#DEF", Version: "v1", Digest: "sha256:bbbb"}

	require.NoError(t, f.WriteName(ctx, name, c1))
	err := f.WriteName(ctx, name, c2)
	require.Error(t, err)
}

func TestDraftLifecycle(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	citation := digest.Citation{Tag: "#ABC", Version: "v1"}

	require.NoError(t, f.WriteDraft(ctx, citation, []byte("first")))
	require.NoError(t, f.WriteDraft(ctx, citation, []byte("second"))) // drafts allow overwrite

	data, err := f.ReadDraft(ctx, citation)
	require.NoError(t, err)
	require.Equal(t, "second", string(data))

	existed, err := f.DeleteDraft(ctx, citation)
	require.NoError(t, err)
	require.True(t, existed)

	existed, err = f.DeleteDraft(ctx, citation)
	require.NoError(t, err)
	require.False(t, existed)
}

func TestDocumentWriteRejectsChangedContentOnRewrite(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	citation := digest.Citation{Tag: "#ABC", Version: "v1"}

	require.NoError(t, f.WriteDocument(ctx, citation, []byte("content")))
	require.NoError(t, f.WriteDocument(ctx, citation, []byte("content"))) // idempotent retry, same bytes

	err := f.WriteDocument(ctx, citation, []byte("different"))
	require.Error(t, err)
}

func TestWriteContractPromotesAndClearsStaging(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	citation := digest.Citation{Tag: "#ABC", Version: "v1"}

	require.NoError(t, f.WriteDocument(ctx, citation, []byte("content")))
	require.NoError(t, f.WriteContract(ctx, citation, []byte("content")))

	ok, err := f.ContractExists(ctx, citation)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.DocumentExists(ctx, citation)
	require.NoError(t, err)
	require.False(t, ok, "staging document should be cleared after promotion")

	// A second promotion attempt at the same key conflicts.
	err = f.WriteContract(ctx, citation, []byte("content"))
	require.Error(t, err)
}

func TestBorrowMessageEmptyBagReturnsNil(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	bag := mustBag(t, f, "#BAG", 4)

	msg, err := f.BorrowMessage(ctx, bag)
	require.NoError(t, err)
	require.Nil(t, msg)
}

func TestAddBorrowDeleteMessage(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	bag := mustBag(t, f, "#BAG", 4)

	msgCitation := digest.Citation{Tag: "#MSG1", Version: "v1"}
	require.NoError(t, f.AddMessage(ctx, bag, Message{Citation: msgCitation, Content: []byte("payload")}))

	count, err := f.MessageCount(ctx, bag)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	borrowed, err := f.BorrowMessage(ctx, bag)
	require.NoError(t, err)
	require.NotNil(t, borrowed)
	require.Equal(t, "payload", string(borrowed.Content))

	count, err = f.MessageCount(ctx, bag)
	require.NoError(t, err)
	require.Equal(t, 0, count, "borrowed message should no longer be available")

	content, err := f.DeleteMessage(ctx, bag, borrowed.Citation)
	require.NoError(t, err)
	require.Equal(t, "payload", string(content))

	_, err = f.DeleteMessage(ctx, bag, borrowed.Citation)
	require.Error(t, err, "deleting an already-acked message should fail lease-expired")
}

func TestReturnMessageRecitesAndRestoresAvailability(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	bag := mustBag(t, f, "#BAG", 4)

	msgCitation := digest.Citation{Tag: "#MSG1", Version: "v1"}
	require.NoError(t, f.AddMessage(ctx, bag, Message{Citation: msgCitation, Content: []byte("payload")}))

	borrowed, err := f.BorrowMessage(ctx, bag)
	require.NoError(t, err)
	require.NotNil(t, borrowed)

	returned, err := f.ReturnMessage(ctx, bag, *borrowed)
	require.NoError(t, err)
	require.Equal(t, "v2", returned.Citation.Version)

	count, err := f.MessageCount(ctx, bag)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestAddMessageRejectsWhenBagFull(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	bag := mustBag(t, f, "#BAG", 1)

	require.NoError(t, f.AddMessage(ctx, bag, Message{Citation: digest.Citation{Tag: "#MSG1", Version: "v1"}, Content: []byte("a")}))
	err := f.AddMessage(ctx, bag, Message{Citation: digest.Citation{Tag: "#MSG2", Version: "v1"}, Content: []byte("b")})
	require.Error(t, err)
}

// TestBorrowMessageAtMostOnceUnderConcurrency is the core concurrency
// property: N borrowers racing M messages must deliver each message to
// exactly one borrower, with no duplicates and no losses.
func TestBorrowMessageAtMostOnceUnderConcurrency(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	const messageCount = 40
	const borrowerCount = 8
	bag := mustBag(t, f, "#BAG", messageCount)

	for i := 0; i < messageCount; i++ {
		citation := digest.Citation{Tag: fmt.Sprintf("#MSG%d", i), Version: "v1"}
		require.NoError(t, f.AddMessage(ctx, bag, Message{Citation: citation, Content: []byte(fmt.Sprintf("payload-%d", i))}))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup

	for w := 0; w < borrowerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				msg, err := f.BorrowMessage(ctx, bag)
				require.NoError(t, err)
				if msg == nil {
					return
				}
				mu.Lock()
				seen[digest.Fingerprint(msg.Citation)]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, messageCount, "every message should have been borrowed exactly once")
	for key, n := range seen {
		require.Equal(t, 1, n, "message %s borrowed %d times, want 1", key, n)
	}
}
