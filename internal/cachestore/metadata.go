package cachestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Metadata is the process-wide sync metadata document. The cursor lives
// here and nowhere else.
type Metadata struct {
	LastUpdateTimestamp int64 `json:"last_update_timestamp"`
}

// MetadataBackend persists the Metadata document. Load returns (nil, nil)
// when no metadata has ever been saved; callers treat that as a first full
// sync, not an error.
type MetadataBackend interface {
	Load() (*Metadata, error)
	Save(*Metadata) error
}

type JSONFileMetadataBackend struct {
	path string
}

func NewJSONFileMetadataBackend(path string) *JSONFileMetadataBackend {
	return &JSONFileMetadataBackend{path: path}
}

func (b *JSONFileMetadataBackend) Load() (*Metadata, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (b *JSONFileMetadataBackend) Save(meta *Metadata) error {
	if meta == nil {
		return nil
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(b.path, append(data, '\n'), 0o644)
}

type InMemoryMetadataBackend struct {
	mu       sync.Mutex
	snapshot *Metadata
}

func NewInMemoryMetadataBackend() *InMemoryMetadataBackend {
	return &InMemoryMetadataBackend{}
}

func (b *InMemoryMetadataBackend) Load() (*Metadata, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return nil, nil
	}
	clone := *b.snapshot
	return &clone, nil
}

func (b *InMemoryMetadataBackend) Save(meta *Metadata) error {
	if meta == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	clone := *meta
	b.snapshot = &clone
	return nil
}

// BuildMetadataBackendFromDSN selects a metadata backend by DSN scheme:
// empty or file paths map to the JSON file backend, memory:// to the
// in-memory backend, postgres:// to the Postgres backend.
func BuildMetadataBackendFromDSN(dsn string) (MetadataBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "", "file":
		path := parsed.Path
		if path == "" {
			path = strings.TrimPrefix(dsn, "file://")
		}
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("%w: metadata file path is required", ErrInvalidInput)
		}
		return NewJSONFileMetadataBackend(filepath.Clean(path)), nil
	case "memory", "mem", "inmem":
		return NewInMemoryMetadataBackend(), nil
	case "postgres", "postgresql":
		return NewPostgresMetadataBackend(dsn)
	case "mysql", "sqlite":
		return nil, fmt.Errorf("%w: metadata backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported metadata backend scheme: %s", scheme)
	}
}
