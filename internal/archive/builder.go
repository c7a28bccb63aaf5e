// Package archive bundles the completed visuals of a generation into a zip
// file that is built once per distinct set of results and then reused.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"visualbatch/internal/domain"
	"visualbatch/internal/infra"
	"visualbatch/internal/storage"
	"visualbatch/pkg/zip"
)

// buildTimeout bounds a shared build once it is detached from its requester.
const buildTimeout = 5 * time.Minute

// Item is one planned archive entry.
type Item struct {
	Name        string
	Ref         string
	GeneratedAt time.Time
}

// Archive describes a built zip on disk.
type Archive struct {
	Path        string
	Filename    string
	Fingerprint string
	Entries     int
}

type Builder struct {
	store  storage.BlobStore
	dir    string
	logger infra.Logger
	group  singleflight.Group
	paths  *cache.Cache
}

func NewBuilder(store storage.BlobStore, dir string, logger infra.Logger) (*Builder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: ensure dir: %w", err)
	}
	return &Builder{
		store:  store,
		dir:    dir,
		logger: infra.Component(logger, "archive"),
		paths:  cache.New(30*time.Minute, time.Hour),
	}, nil
}

// Plan lists one entry per COMPLETED visual, named
// <collection>/<product>/<type><ext>. A type used more than once gets the
// visual's 1-based position appended.
func Plan(gen *domain.Generation) []Item {
	collection := Slug(firstNonEmpty(gen.CollectionName, gen.CollectionRef))
	if collection == "" {
		collection = "collection"
	}
	product := Slug(firstNonEmpty(gen.ProductName, gen.ProductRef))
	if product == "" {
		product = "product"
	}

	typeCount := make(map[string]int)
	for _, v := range gen.Visuals {
		if v.Status == domain.StatusCompleted {
			typeCount[typeSlug(v)]++
		}
	}

	var items []Item
	for _, v := range gen.Visuals {
		if v.Status != domain.StatusCompleted || v.ImageURL == "" {
			continue
		}
		base := typeSlug(v)
		if typeCount[base] > 1 {
			base += "-" + strconv.Itoa(v.Index+1)
		}
		item := Item{
			Name: collection + "/" + product + "/" + base + storage.ExtensionFor(v.MimeType),
			Ref:  v.ImageURL,
		}
		if v.GeneratedAt != nil {
			item.GeneratedAt = *v.GeneratedAt
		}
		items = append(items, item)
	}
	return items
}

// Filename is the download name offered to clients.
func Filename(gen *domain.Generation) string {
	name := Slug(firstNonEmpty(gen.ProductName, gen.ProductRef))
	if name == "" {
		name = "generation"
	}
	return name + "-visuals.zip"
}

// Fingerprint identifies the archive content of a generation.
func Fingerprint(gen *domain.Generation, items []Item) string {
	h := sha256.New()
	h.Write([]byte(gen.ID))
	for _, it := range items {
		fmt.Fprintf(h, "|%s|%s|%d", it.Name, it.Ref, it.GeneratedAt.UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Build returns the archive for gen, streaming a new one to disk only when no
// archive with the same fingerprint exists yet.
func (b *Builder) Build(ctx context.Context, gen *domain.Generation) (*Archive, error) {
	items := Plan(gen)
	fp := Fingerprint(gen, items)
	result := &Archive{Filename: Filename(gen), Fingerprint: fp, Entries: len(items)}

	if cached, ok := b.paths.Get(fp); ok {
		if path := cached.(string); fileExists(path) {
			result.Path = path
			return result, nil
		}
		b.paths.Delete(fp)
	}

	// The build is shared by every caller waiting on fp, so it must not die
	// with the request that happened to start it.
	ch := b.group.DoChan(fp, func() (any, error) {
		path := filepath.Join(b.dir, gen.ID+"-"+fp[:16]+".zip")
		if fileExists(path) {
			return path, nil
		}
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), buildTimeout)
		defer cancel()
		if err := b.write(buildCtx, path, items); err != nil {
			return nil, err
		}
		b.logger.Info().Str("generation_id", gen.ID).Int("entries", len(items)).Str("path", path).Msg("archive built")
		return path, nil
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	path, ok := res.Val.(string)
	if !ok {
		return nil, fmt.Errorf("archive: unexpected build result %T", res.Val)
	}
	b.paths.SetDefault(fp, path)
	result.Path = path
	return result, nil
}

func (b *Builder) write(ctx context.Context, path string, items []Item) error {
	tmp, err := os.CreateTemp(b.dir, ".build-*.zip")
	if err != nil {
		return domain.Infrastructure("create archive", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	entries := make([]zip.Entry, len(items))
	for i, it := range items {
		ref := it.Ref
		entries[i] = zip.Entry{
			Name:     it.Name,
			Modified: it.GeneratedAt,
			Open: func() (io.ReadCloser, error) {
				rc, err := b.store.Open(ctx, ref)
				if err != nil {
					return nil, fmt.Errorf("open %s: %w", ref, err)
				}
				return rc, nil
			},
		}
	}
	if err := zip.Stream(tmp, entries); err != nil {
		_ = tmp.Close()
		return domain.Infrastructure("write archive", err)
	}
	if err := tmp.Close(); err != nil {
		return domain.Infrastructure("close archive", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return domain.Infrastructure("commit archive", err)
	}
	return nil
}

func typeSlug(v domain.Visual) string {
	if s := Slug(v.Type); s != "" {
		return s
	}
	return "visual"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
