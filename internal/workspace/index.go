package workspace

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/loam-mem/loam/internal/docstore"
)

// IndexEntry is the browse projection of a workspace: listing and search
// read only these fields, never the full tree.
type IndexEntry struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Created      int64  `json:"created"`
	LastAccessed int64  `json:"lastAccessed"`
}

// Index is the parallel listing document. It is rewritten on every mutating
// call and may be momentarily stale relative to the authoritative document
// between writes.
type Index struct {
	Workspaces map[string]IndexEntry `json:"workspaces"`
	Metadata   Metadata              `json:"metadata"`
}

// toIndexEntry strips a workspace down to its browse projection.
func toIndexEntry(w *Workspace) IndexEntry {
	return IndexEntry{
		ID:           w.ID,
		Name:         w.Name,
		Created:      w.Created,
		LastAccessed: w.LastAccessed,
	}
}

// LoadIndex reads the index document. A missing index decodes as empty.
func (s *CollectionStore) LoadIndex(ctx context.Context) (*Index, error) {
	data, err := s.docs.Read(ctx, IndexKey)
	if stderrors.Is(err, docstore.ErrNotExist) {
		return &Index{
			Workspaces: make(map[string]IndexEntry),
			Metadata:   Metadata{Version: DocumentVersion},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}

	idx := &Index{}
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	if idx.Workspaces == nil {
		idx.Workspaces = make(map[string]IndexEntry)
	}
	return idx, nil
}

// writeIndex derives the index from the collection and rewrites it whole.
func (s *CollectionStore) writeIndex(ctx context.Context, col *Collection) error {
	idx := &Index{
		Workspaces: make(map[string]IndexEntry, len(col.Workspaces)),
		Metadata: Metadata{
			Version:     DocumentVersion,
			LastUpdated: time.Now().Unix(),
		},
	}
	for id, w := range col.Workspaces {
		idx.Workspaces[id] = toIndexEntry(w)
	}

	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := s.docs.Write(ctx, IndexKey, data); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}
