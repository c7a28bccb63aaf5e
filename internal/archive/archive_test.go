package archive

import (
	stdzip "archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visualbatch/internal/domain"
	"visualbatch/internal/storage"
)

func newStore(t *testing.T) *storage.FileStore {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir(), "http://localhost/static")
	require.NoError(t, err)
	return store
}

// sixVisuals stores images for every COMPLETED status and returns the generation.
func sixVisuals(t *testing.T, store *storage.FileStore, statuses ...domain.Status) *domain.Generation {
	t.Helper()
	now := time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)
	gen := &domain.Generation{
		ID:             "11111111-2222-3333-4444-555555555555",
		ProductRef:     "prod-9",
		ProductName:    "Crème Tote Bag",
		CollectionName: "Été 2026",
	}
	for i, st := range statuses {
		v := domain.Visual{Index: i, Type: fmt.Sprintf("shot-%d", i+1), Status: st}
		if st == domain.StatusCompleted {
			url, err := store.Store(context.Background(), storage.VisualKey(gen.ID, i, v.Type, "image/png"), []byte(fmt.Sprintf("img-%d", i)), "image/png")
			require.NoError(t, err)
			v.ImageURL = url
			v.MimeType = "image/png"
			v.GeneratedAt = &now
		}
		gen.Visuals = append(gen.Visuals, v)
	}
	return gen
}

func readNames(t *testing.T, path string) []string {
	t.Helper()
	r, err := stdzip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "ete-2026", Slug("Été 2026"))
	assert.Equal(t, "creme-tote-bag", Slug("  Crème Tote   Bag!! "))
	assert.Equal(t, "", Slug("***"))
}

func TestArchiveContainsOnlyCompletedVisuals(t *testing.T) {
	store := newStore(t)
	c, f := domain.StatusCompleted, domain.StatusFailed
	gen := sixVisuals(t, store, c, c, f, c, c, c)

	b, err := NewBuilder(store, t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	arc, err := b.Build(context.Background(), gen)
	require.NoError(t, err)

	assert.Equal(t, 5, arc.Entries)
	names := readNames(t, arc.Path)
	assert.Len(t, names, 5)
	assert.Equal(t, "ete-2026/creme-tote-bag/shot-1.png", names[0])
	assert.NotContains(t, names, "ete-2026/creme-tote-bag/shot-3.png")
	assert.Equal(t, "creme-tote-bag-visuals.zip", arc.Filename)
}

func TestArchiveForAllFailedIsEmpty(t *testing.T) {
	store := newStore(t)
	f := domain.StatusFailed
	gen := sixVisuals(t, store, f, f, f, f, f, f)

	b, err := NewBuilder(store, t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	arc, err := b.Build(context.Background(), gen)
	require.NoError(t, err)
	assert.Empty(t, readNames(t, arc.Path))
}

func TestDuplicateTypesGetIndexSuffix(t *testing.T) {
	gen := &domain.Generation{ProductRef: "p", CollectionRef: "c", Visuals: []domain.Visual{
		{Index: 0, Type: "hero", Status: domain.StatusCompleted, ImageURL: "a", MimeType: "image/jpeg"},
		{Index: 1, Type: "hero", Status: domain.StatusCompleted, ImageURL: "b", MimeType: "image/png"},
		{Index: 2, Type: "side", Status: domain.StatusPending},
	}}
	items := Plan(gen)
	require.Len(t, items, 2)
	assert.Equal(t, "c/p/hero-1.jpg", items[0].Name)
	assert.Equal(t, "c/p/hero-2.png", items[1].Name)
}

func TestExistingArchiveIsReused(t *testing.T) {
	store := newStore(t)
	c := domain.StatusCompleted
	gen := sixVisuals(t, store, c, c)
	dir := t.TempDir()

	b, err := NewBuilder(store, dir, zerolog.Nop())
	require.NoError(t, err)
	first, err := b.Build(context.Background(), gen)
	require.NoError(t, err)
	info, err := os.Stat(first.Path)
	require.NoError(t, err)

	fresh, err := NewBuilder(store, dir, zerolog.Nop())
	require.NoError(t, err)
	second, err := fresh.Build(context.Background(), gen)
	require.NoError(t, err)
	assert.Equal(t, first.Path, second.Path)
	again, err := os.Stat(second.Path)
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), again.ModTime(), "archive must not be rebuilt")

	gen.Visuals[1].Status = domain.StatusFailed
	third, err := b.Build(context.Background(), gen)
	require.NoError(t, err)
	assert.NotEqual(t, first.Path, third.Path)
	assert.Equal(t, 1, third.Entries)
}

func TestConcurrentBuildsShareOneFile(t *testing.T) {
	store := newStore(t)
	c := domain.StatusCompleted
	gen := sixVisuals(t, store, c, c, c)
	b, err := NewBuilder(store, t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	paths := make([]string, 6)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			arc, err := b.Build(context.Background(), gen)
			if err == nil {
				paths[i] = arc.Path
			}
		}(i)
	}
	wg.Wait()
	for _, p := range paths {
		assert.Equal(t, paths[0], p)
	}
	assert.Len(t, readNames(t, paths[0]), 3)
}

func TestMissingBlobFailsBuild(t *testing.T) {
	store := newStore(t)
	gen := &domain.Generation{ID: "g", ProductRef: "p", Visuals: []domain.Visual{
		{Index: 0, Type: "hero", Status: domain.StatusCompleted, ImageURL: "http://localhost/static/nope.png", MimeType: "image/png"},
	}}
	b, err := NewBuilder(store, t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	_, err = b.Build(context.Background(), gen)
	assert.ErrorIs(t, err, domain.ErrInfrastructure)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NotErrorIs(t, err, domain.ErrNotFound, "a lost blob is not a missing generation")
}

// gatedStore holds every Open until release is closed, or until the caller's
// context ends.
type gatedStore struct {
	*storage.FileStore
	started chan struct{}
	once    sync.Once
	release chan struct{}
}

func (g *gatedStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return g.FileStore.Open(ctx, ref)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestAbandonedRequestDoesNotFailSharedBuild(t *testing.T) {
	files := newStore(t)
	gen := sixVisuals(t, files, domain.StatusCompleted, domain.StatusCompleted)
	store := &gatedStore{FileStore: files, started: make(chan struct{}), release: make(chan struct{})}
	b, err := NewBuilder(store, t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := b.Build(first, gen)
		firstErr <- err
	}()
	<-store.started

	second := make(chan *Archive, 1)
	go func() {
		a, err := b.Build(context.Background(), gen)
		assert.NoError(t, err)
		second <- a
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	close(store.release)

	select {
	case a := <-second:
		require.NotNil(t, a)
		assert.Len(t, readNames(t, a.Path), 2)
	case <-time.After(5 * time.Second):
		t.Fatal("shared build did not finish")
	}
}
