package workspace

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loam-mem/loam/internal/docstore"
)

// Document keys in the underlying blob store.
const (
	CollectionKey = "workspaces.json"
	IndexKey      = "workspace-index.json"
)

// DocumentVersion is the current collection document format version.
const DocumentVersion = 1

// Metadata describes a persisted document.
type Metadata struct {
	Version     int   `json:"version"`
	LastUpdated int64 `json:"lastUpdated"`
}

// Collection is the authoritative document: every workspace with its full
// nested tree of sessions, traces, and states.
type Collection struct {
	Workspaces map[string]*Workspace `json:"workspaces"`
	Metadata   Metadata              `json:"metadata"`
}

// CollectionStore mediates all access to the collection document. There is
// no field-level persistence: any mutation of a nested entity rewrites the
// entire document. A single mutex serializes in-process writers, so two
// concurrent mutations in the same process cannot lose updates; concurrent
// writers in other processes remain last-write-wins.
type CollectionStore struct {
	docs   docstore.Store
	logger *slog.Logger

	mu sync.RWMutex
}

// NewCollectionStore creates a collection store over the given document store.
func NewCollectionStore(docs docstore.Store, logger *slog.Logger) *CollectionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollectionStore{docs: docs, logger: logger}
}

// Load reads and decodes the whole collection document. A missing document
// decodes as an empty collection; "absent" is only meaningful per workspace,
// not for the collection itself.
func (s *CollectionStore) Load(ctx context.Context) (*Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(ctx)
}

// load reads the document without locking. Callers hold s.mu.
func (s *CollectionStore) load(ctx context.Context) (*Collection, error) {
	data, err := s.docs.Read(ctx, CollectionKey)
	if stderrors.Is(err, docstore.ErrNotExist) {
		return &Collection{
			Workspaces: make(map[string]*Workspace),
			Metadata:   Metadata{Version: DocumentVersion},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load collection: %w", err)
	}

	col := &Collection{}
	if err := json.Unmarshal(data, col); err != nil {
		return nil, fmt.Errorf("decode collection: %w", err)
	}
	if col.Workspaces == nil {
		col.Workspaces = make(map[string]*Workspace)
	}
	return col, nil
}

// Mutate runs fn against the current collection under the write lock, then
// persists the whole document and refreshes the index. If fn returns an
// error nothing is written. Index refresh failures are logged and swallowed:
// the index is a derived convenience and must never fail the primary write.
func (s *CollectionStore) Mutate(ctx context.Context, fn func(*Collection) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.load(ctx)
	if err != nil {
		return err
	}

	if err := fn(col); err != nil {
		return err
	}

	col.Metadata.Version = DocumentVersion
	col.Metadata.LastUpdated = time.Now().Unix()

	data, err := json.Marshal(col)
	if err != nil {
		return fmt.Errorf("encode collection: %w", err)
	}
	if err := s.docs.Write(ctx, CollectionKey, data); err != nil {
		return fmt.Errorf("write collection: %w", err)
	}

	if err := s.writeIndex(ctx, col); err != nil {
		s.logger.Warn("index refresh failed", "error", err)
	}
	return nil
}
