package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperdrive/paperdrive-go/internal/objstore"
)

// flakyStore wraps a MemoryStore with injectable failures: keys listed in
// failDeletes/failPuts fail once (or always, with sticky), and failList
// fails the next List calls.
type flakyStore struct {
	*objstore.MemoryStore

	mu          sync.Mutex
	failDeletes map[string]error
	failPuts    map[string]error
	failLists   int
	deletes     []string
}

func newFlakyStore() *flakyStore {
	return &flakyStore{
		MemoryStore: objstore.NewMemoryStore(),
		failDeletes: make(map[string]error),
		failPuts:    make(map[string]error),
	}
}

func (f *flakyStore) List(ctx context.Context, prefix string) ([]objstore.Record, error) {
	f.mu.Lock()
	if f.failLists > 0 {
		f.failLists--
		f.mu.Unlock()

		return nil, errors.New("store unreachable")
	}
	f.mu.Unlock()

	return f.MemoryStore.List(ctx, prefix)
}

func (f *flakyStore) Put(ctx context.Context, key string, payload []byte, contentType string, meta map[string]string) error {
	f.mu.Lock()
	err, ok := f.failPuts[key]
	f.mu.Unlock()

	if ok {
		return err
	}

	return f.MemoryStore.Put(ctx, key, payload, contentType, meta)
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	err, ok := f.failDeletes[key]
	f.deletes = append(f.deletes, key)
	f.mu.Unlock()

	if ok {
		return err
	}

	return f.MemoryStore.Delete(ctx, key)
}

func (f *flakyStore) deleteCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.deletes))
	copy(out, f.deletes)

	return out
}

func newTestSession(t *testing.T, store objstore.Store) *Session {
	t.Helper()

	s := New(store, testScope(t), WithLogger(discardLogger()))
	t.Cleanup(s.Close)

	return s
}

func seed(t *testing.T, store objstore.Store, keys ...string) {
	t.Helper()

	for _, key := range keys {
		require.NoError(t, store.Put(context.Background(), key, []byte("abc"), "text/plain", nil))
	}
}

func TestSession_CreateFolderCycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := objstore.NewMemoryStore()
	s := newTestSession(t, store)
	require.NoError(t, s.Refresh(ctx))

	update, err := s.Run(ctx, CreateFolder(nil, "docs"))
	require.NoError(t, err)
	assert.True(t, update.Terminal())
	assert.Equal(t, []string{"u1/docs/.folder"}, update.AppliedKeys)
	assert.False(t, update.Stale)

	// Placeholder object physically exists.
	assert.Equal(t, []string{"u1/docs/.folder"}, store.Keys())

	// The authoritative rebuild surfaces the empty folder.
	tr, stale := s.Tree()
	assert.False(t, stale)

	docs, ok := tr.Find([]string{"docs"})
	require.True(t, ok)
	assert.True(t, docs.IsEmpty())
	assert.True(t, docs.HasMarker)
}

func TestSession_DeletesObjectsStoredInDecomposedForm(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := objstore.NewMemoryStore()
	seed(t, store, "u1/café.txt")
	require.NoError(t, store.Put(ctx, "u1/résumé/.folder", nil, objstore.DirectoryContentType, nil))

	s := newTestSession(t, store)
	require.NoError(t, s.Refresh(ctx))

	// Keys written by another tool in decomposed form must be deletable
	// through the composed spelling the tree presents.
	update, err := s.Run(ctx, DeleteFile(nil, "café.txt"))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1/café.txt"}, update.AppliedKeys)

	// The decomposed spelling normalizes to the same node.
	update, err = s.Run(ctx, DeleteFolder(nil, "résumé"))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1/résumé/.folder"}, update.AppliedKeys)

	assert.Empty(t, store.Keys())
}

func TestSession_PlanErrorProducesZeroStoreOps(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := objstore.NewMemoryStore()
	seed(t, store, "u1/docs")
	s := newTestSession(t, store)
	require.NoError(t, s.Refresh(ctx))

	_, err := s.Run(ctx, CreateFolder(nil, "docs"))
	assert.ErrorIs(t, err, ErrNameConflict)

	// Nothing changed in the store.
	assert.Equal(t, []string{"u1/docs"}, store.Keys())
}

func TestSession_OptimisticVisibility(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	// Block the resync listing so the optimistic window stays open.
	store := newFlakyStore()
	s := newTestSession(t, store)
	require.NoError(t, s.Refresh(ctx))

	var sawOptimistic bool

	done := make(chan struct{})

	go func() {
		defer close(done)

		for update := range s.Updates() {
			if update.State != StatePlanned {
				continue
			}

			// Reader observes the new folder before the store confirms.
			tr, _ := s.Tree()
			_, sawOptimistic = tr.Find([]string{"docs"})

			return
		}
	}()

	_, err := s.Run(ctx, CreateFolder(nil, "docs"))
	require.NoError(t, err)

	<-done
	assert.True(t, sawOptimistic, "optimistic tree must show the folder at StatePlanned")
}

// Partial failure isolation: the 2nd of 3 deletes fails; exactly one failed
// key is reported, and the two successful deletes are neither retried nor
// reversed.
func TestSession_PartialFailureIsolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFlakyStore()
	seed(t, store, "u1/A/x.txt", "u1/A/y.txt", "u1/A/z.txt")
	store.failDeletes["u1/A/y.txt"] = errors.New("injected")

	s := newTestSession(t, store)
	require.NoError(t, s.Refresh(ctx))

	update, err := s.Run(ctx, DeleteFolder(nil, "A"))

	var partial *PartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{"u1/A/y.txt"}, partial.FailedKeys)
	assert.ElementsMatch(t, []string{"u1/A/x.txt", "u1/A/z.txt"}, update.AppliedKeys)

	// Each key was attempted exactly once: no retries, no rollback puts.
	assert.ElementsMatch(t, []string{"u1/A/x.txt", "u1/A/y.txt", "u1/A/z.txt"}, store.deleteCalls())
	assert.Equal(t, []string{"u1/A/y.txt"}, store.Keys())

	// The resync that follows reflects reality: only the failed file remains.
	tr, stale := s.Tree()
	assert.False(t, stale)

	folderA, ok := tr.Find([]string{"A"})
	require.True(t, ok)
	assert.Equal(t, []string{"y.txt"}, folderA.FileNames())
}

func TestSession_ResyncFailureMarksStale(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFlakyStore()
	s := newTestSession(t, store)
	require.NoError(t, s.Refresh(ctx))

	store.mu.Lock()
	store.failLists = 1
	store.mu.Unlock()

	update, err := s.Run(ctx, CreateFolder(nil, "docs"))

	var resyncErr *ResyncError
	require.ErrorAs(t, err, &resyncErr)
	assert.True(t, update.Stale)

	// Optimistic tree is retained: the folder is still visible.
	tr, stale := s.Tree()
	assert.True(t, stale)

	_, ok := tr.Find([]string{"docs"})
	assert.True(t, ok)

	// The next successful refresh clears staleness.
	require.NoError(t, s.Refresh(ctx))

	_, stale = s.Tree()
	assert.False(t, stale)
}

func TestSession_MutationsSerializeFIFO(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := objstore.NewMemoryStore()
	s := newTestSession(t, store)
	require.NoError(t, s.Refresh(ctx))

	// Second mutation depends on the first having landed: uploading into a
	// folder created by the previous cycle only works if cycles are serial
	// and each plans against the resynced tree.
	_, err := s.Run(ctx, CreateFolder(nil, "docs"))
	require.NoError(t, err)

	_, err = s.Run(ctx, UploadFile([]string{"docs"}, "a.txt", []byte("hi"), "text/plain"))
	require.NoError(t, err)

	assert.Equal(t, []string{"u1/docs/.folder", "u1/docs/a.txt"}, store.Keys())
}

func TestSession_UpdateStreamStates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := objstore.NewMemoryStore()
	s := newTestSession(t, store)
	require.NoError(t, s.Refresh(ctx))

	id, err := s.Request(CreateFolder(nil, "docs"))
	require.NoError(t, err)

	var states []State

	deadline := time.After(5 * time.Second)

	for len(states) == 0 || states[len(states)-1] != StateDone {
		select {
		case update := <-s.Updates():
			if update.MutationID != id {
				continue
			}

			states = append(states, update.State)
		case <-deadline:
			t.Fatalf("timed out waiting for terminal update, states so far: %v", states)
		}
	}

	assert.Equal(t, []State{StatePlanned, StateSubmitting, StateConfirmed, StateResyncing, StateDone}, states)
}

func TestSession_RunAbandonmentDoesNotAbortOps(t *testing.T) {
	t.Parallel()

	store := objstore.NewMemoryStore()
	s := newTestSession(t, store)
	require.NoError(t, s.Refresh(context.Background()))

	// Cancel the wait immediately; the cycle still runs to completion.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Run(cancelled, CreateFolder(nil, "docs"))
	assert.ErrorIs(t, err, context.Canceled)

	// Wait for the terminal update on the stream instead.
	deadline := time.After(5 * time.Second)

	for {
		select {
		case update := <-s.Updates():
			if update.Terminal() && update.Kind == MutationCreateFolder {
				assert.Equal(t, []string{"u1/docs/.folder"}, store.Keys())
				return
			}
		case <-deadline:
			t.Fatal("mutation never completed after caller abandonment")
		}
	}
}

func TestSession_RequestAfterCloseFails(t *testing.T) {
	t.Parallel()

	s := New(objstore.NewMemoryStore(), testScope(t), WithLogger(discardLogger()))
	s.Close()

	_, err := s.Request(CreateFolder(nil, "docs"))
	assert.Error(t, err)
}
