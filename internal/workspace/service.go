package workspace

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/loam-mem/loam/internal/errors"
)

// Service provides CRUD over workspaces; it owns the top of the hierarchy.
type Service struct {
	col    *CollectionStore
	logger *slog.Logger
}

// NewService creates a workspace service.
func NewService(col *CollectionStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{col: col, logger: logger}
}

// CreateInput contains parameters for creating a workspace.
type CreateInput struct {
	Name        string
	Description string
	RootFolder  string
	Context     Context
}

// Create assigns an id and timestamps, persists the full document, and
// refreshes the index. All validation problems are returned at once.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Workspace, error) {
	var fields []errors.FieldError
	if strings.TrimSpace(input.Name) == "" {
		fields = append(fields, errors.FieldError{
			Field: "name", Value: input.Name, Requirement: "must not be empty",
		})
	}
	if strings.TrimSpace(input.RootFolder) == "" {
		fields = append(fields, errors.FieldError{
			Field: "rootFolder", Value: input.RootFolder, Requirement: "must not be empty",
		})
	}
	if len(fields) > 0 {
		return nil, errors.NewValidationFailed(fields)
	}

	id, err := NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	now := time.Now().Unix()
	w := &Workspace{
		ID:           id,
		Name:         input.Name,
		Description:  input.Description,
		RootFolder:   input.RootFolder,
		Created:      now,
		LastAccessed: now,
		IsActive:     true,
		Context:      input.Context,
		Sessions:     make(map[string]*Session),
	}

	err = s.col.Mutate(ctx, func(col *Collection) error {
		col.Workspaces[id] = w
		return nil
	})
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return w, nil
}

// Get returns the workspace with the given id, or NotFound. A missing
// workspace is never defaulted to a placeholder.
func (s *Service) Get(ctx context.Context, id string) (*Workspace, error) {
	col, err := s.col.Load(ctx)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	w, ok := col.Workspaces[id]
	if !ok {
		return nil, errors.NewNotFound("workspace", id)
	}
	return w, nil
}

// UpdateInput contains the partial fields for updating a workspace.
// Nil pointers leave the current value unchanged.
type UpdateInput struct {
	Name        *string
	Description *string
	RootFolder  *string
	IsActive    *bool
	Context     *Context
}

// Update merges the given fields into the workspace and rewrites the whole
// document. Any update bumps lastAccessed.
func (s *Service) Update(ctx context.Context, id string, input UpdateInput) (*Workspace, error) {
	var updated *Workspace
	err := s.col.Mutate(ctx, func(col *Collection) error {
		w, ok := col.Workspaces[id]
		if !ok {
			return errors.NewNotFound("workspace", id)
		}
		if input.Name != nil {
			if strings.TrimSpace(*input.Name) == "" {
				return errors.NewValidationFailed([]errors.FieldError{
					{Field: "name", Value: *input.Name, Requirement: "must not be empty"},
				})
			}
			w.Name = *input.Name
		}
		if input.Description != nil {
			w.Description = *input.Description
		}
		if input.RootFolder != nil {
			w.RootFolder = *input.RootFolder
		}
		if input.IsActive != nil {
			w.IsActive = *input.IsActive
		}
		if input.Context != nil {
			w.Context = *input.Context
		}
		w.LastAccessed = time.Now().Unix()
		updated = w
		return nil
	})
	if err != nil {
		if _, ok := err.(*errors.LoamError); ok {
			return nil, err
		}
		return nil, errors.NewInternal(err)
	}
	return updated, nil
}

// Delete removes the workspace from the document and its index entry. The
// cascade to nested sessions, traces, and states is implicit: they have no
// existence outside the workspace document.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.col.Mutate(ctx, func(col *Collection) error {
		if _, ok := col.Workspaces[id]; !ok {
			return errors.NewNotFound("workspace", id)
		}
		delete(col.Workspaces, id)
		return nil
	})
	if err != nil {
		if _, ok := err.(*errors.LoamError); ok {
			return err
		}
		return errors.NewInternal(err)
	}
	return nil
}

// Sort keys accepted by List.
const (
	SortByName         = "name"
	SortByCreated      = "created"
	SortByLastAccessed = "lastAccessed"
)

// ListInput contains parameters for listing workspaces.
type ListInput struct {
	SortBy    string // name | created | lastAccessed (default)
	SortOrder string // asc | desc (default)
	Limit     int    // 0 means no limit
}

// List returns workspace index entries. It is served from the index document
// only, never the full collection, so browsing stays cheap regardless of how
// much activity the workspaces hold.
func (s *Service) List(ctx context.Context, input ListInput) ([]IndexEntry, error) {
	sortBy := input.SortBy
	switch sortBy {
	case "":
		sortBy = SortByLastAccessed
	case SortByName, SortByCreated, SortByLastAccessed:
	default:
		return nil, errors.NewInvalidRequest("sortBy must be one of: name, created, lastAccessed")
	}
	order := input.SortOrder
	switch order {
	case "":
		order = "desc"
	case "asc", "desc":
	default:
		return nil, errors.NewInvalidRequest("sortOrder must be one of: asc, desc")
	}

	idx, err := s.col.LoadIndex(ctx)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	entries := make([]IndexEntry, 0, len(idx.Workspaces))
	for _, e := range idx.Workspaces {
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if order == "desc" {
			a, b = b, a
		}
		switch sortBy {
		case SortByName:
			return strings.ToLower(a.Name) < strings.ToLower(b.Name)
		case SortByCreated:
			return a.Created < b.Created
		default:
			return a.LastAccessed < b.LastAccessed
		}
	})

	if input.Limit > 0 && len(entries) > input.Limit {
		entries = entries[:input.Limit]
	}
	return entries, nil
}

// BestForFile returns the workspace whose rootFolder is the most specific
// prefix of the given file path. Longest prefix wins; equal lengths fall
// back to the most recently accessed workspace. No match is NotFound.
func (s *Service) BestForFile(ctx context.Context, path string) (*Workspace, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.NewInvalidRequest("path is required")
	}

	col, err := s.col.Load(ctx)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	var best *Workspace
	for _, w := range col.Workspaces {
		root := strings.TrimSuffix(w.RootFolder, "/")
		if root == "" {
			continue
		}
		if path != root && !strings.HasPrefix(path, root+"/") {
			continue
		}
		if best == nil {
			best = w
			continue
		}
		bestRoot := strings.TrimSuffix(best.RootFolder, "/")
		if len(root) > len(bestRoot) ||
			(len(root) == len(bestRoot) && w.LastAccessed > best.LastAccessed) {
			best = w
		}
	}
	if best == nil {
		return nil, errors.NewNotFound("workspace", "for file "+path)
	}
	return best, nil
}
