// Package storage fetches schema sources and moves payloads between the job
// runner and blob storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// BlobScheme prefixes schema and payload references held in blob storage
const BlobScheme = "blob://"

// ErrNotFound is returned when a reference does not resolve
var ErrNotFound = errors.New("not found")

// BlobStore stores opaque payloads
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string, metadata map[string]string) (string, error)
	Download(ctx context.Context, reference string) ([]byte, error)
}

// SchemaSource resolves a schema reference to its bytes
type SchemaSource interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// FileSource reads schema references from the local file system. Relative
// references are resolved against Root.
type FileSource struct {
	Root string
}

// Fetch implements SchemaSource
func (f FileSource) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimPrefix(ref, "file://")
	if !filepath.IsAbs(path) && f.Root != "" {
		path = filepath.Join(f.Root, path)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: schema %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", path, err)
	}
	return data, nil
}

// BlobSource reads schema references from a blob store
type BlobSource struct {
	Store BlobStore
}

// Fetch implements SchemaSource
func (b BlobSource) Fetch(ctx context.Context, ref string) ([]byte, error) {
	return b.Store.Download(ctx, ref)
}

// Resolver routes blob:// and http(s) references to the blob source and
// everything else to the file source.
type Resolver struct {
	Files FileSource
	Blobs SchemaSource
}

// Fetch implements SchemaSource
func (r Resolver) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, fmt.Errorf("schema reference is required")
	}
	lower := strings.ToLower(ref)
	if strings.HasPrefix(lower, BlobScheme) || strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		if r.Blobs == nil {
			return nil, fmt.Errorf("no blob storage configured for %s", ref)
		}
		return r.Blobs.Fetch(ctx, ref)
	}
	return r.Files.Fetch(ctx, ref)
}

// MemoryStore is an in-process BlobStore and SchemaSource
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	meta  map[string]map[string]string
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[string][]byte),
		meta:  make(map[string]map[string]string),
	}
}

// Upload implements BlobStore
func (m *MemoryStore) Upload(ctx context.Context, path string, data []byte, contentType string, metadata map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	md := maps.Clone(metadata)
	if md == nil {
		md = map[string]string{}
	}
	md["content_type"] = contentType

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[path] = append([]byte(nil), data...)
	m.meta[path] = md
	return BlobScheme + path, nil
}

// Download implements BlobStore
func (m *MemoryStore) Download(ctx context.Context, reference string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimPrefix(reference, BlobScheme)

	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, reference)
	}
	return append([]byte(nil), data...), nil
}

// Fetch implements SchemaSource
func (m *MemoryStore) Fetch(ctx context.Context, ref string) ([]byte, error) {
	return m.Download(ctx, ref)
}

// Metadata returns the metadata stored with a blob
func (m *MemoryStore) Metadata(path string) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.meta[strings.TrimPrefix(path, BlobScheme)])
}

var (
	_ BlobStore    = (*AzureBlobClient)(nil)
	_ BlobStore    = (*MemoryStore)(nil)
	_ SchemaSource = (*MemoryStore)(nil)
)
