package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/loam-mem/loam/internal/errors"
	"github.com/loam-mem/loam/internal/workspace"
)

// StateRef addresses a state entry by exactly one of its generated id or its
// human-readable name. The overloaded id-or-name string of older call sites
// is replaced by this explicit tagged reference.
type StateRef struct {
	ID   string
	Name string
}

// Validate enforces the one-reference-mode rule.
func (r StateRef) Validate() error {
	hasID := strings.TrimSpace(r.ID) != ""
	hasName := strings.TrimSpace(r.Name) != ""
	if hasID && hasName {
		return errors.NewAmbiguousReference()
	}
	if !hasID && !hasName {
		return errors.NewInvalidRequest("must specify either id or name")
	}
	return nil
}

func (r StateRef) String() string {
	if r.ID != "" {
		return r.ID
	}
	return r.Name
}

// StateRecord is a state entry decorated with its structural position.
type StateRecord struct {
	workspace.StateEntry
	WorkspaceID string `json:"workspaceId"`
	SessionID   string `json:"sessionId"`
}

// PutState stores a state entry under an existing session. Entries are
// frozen once written; PutState never overwrites an existing id.
func (s *Service) PutState(ctx context.Context, workspaceID, sessionID string, entry *workspace.StateEntry) error {
	err := s.col.Mutate(ctx, func(col *workspace.Collection) error {
		wsID, sess, ok := findSession(col, workspaceID, sessionID)
		if !ok {
			return errors.NewNotFound("session", sessionID)
		}
		if sess.States == nil {
			sess.States = make(map[string]*workspace.StateEntry)
		}
		if _, exists := sess.States[entry.ID]; exists {
			return errors.NewConflict("state already exists: " + entry.ID)
		}
		sess.States[entry.ID] = entry
		col.Workspaces[wsID].LastAccessed = time.Now().Unix()
		return nil
	})
	return asLoamError(err)
}

// GetState resolves a state entry by tagged reference. An id resolves
// globally when no scope is given; a name resolves within the caller's
// (workspaceID, sessionID) scope, and across all sessions when the scope is
// partial. Multiple name matches resolve to the most recently created entry.
func (s *Service) GetState(ctx context.Context, workspaceID, sessionID string, ref StateRef) (*StateRecord, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	col, err := s.col.Load(ctx)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	var matches []StateRecord
	forEachSession(col, workspaceID, sessionID, func(wsID string, sess *workspace.Session) {
		for _, entry := range sess.States {
			if (ref.ID != "" && entry.ID == ref.ID) ||
				(ref.Name != "" && entry.Name == ref.Name) {
				matches = append(matches, StateRecord{
					StateEntry:  *entry,
					WorkspaceID: wsID,
					SessionID:   sess.ID,
				})
			}
		}
	})

	if len(matches) == 0 {
		return nil, errors.NewNotFound("state", ref.String())
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Created > matches[j].Created
	})
	return &matches[0], nil
}

// ListStates returns state records within the given scope, newest first.
func (s *Service) ListStates(ctx context.Context, workspaceID, sessionID string) ([]StateRecord, error) {
	col, err := s.col.Load(ctx)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if workspaceID != "" {
		if _, ok := col.Workspaces[workspaceID]; !ok {
			return nil, errors.NewNotFound("workspace", workspaceID)
		}
	}

	var records []StateRecord
	forEachSession(col, workspaceID, sessionID, func(wsID string, sess *workspace.Session) {
		for _, entry := range sess.States {
			records = append(records, StateRecord{
				StateEntry:  *entry,
				WorkspaceID: wsID,
				SessionID:   sess.ID,
			})
		}
	})

	sort.Slice(records, func(i, j int) bool {
		if records[i].Created != records[j].Created {
			return records[i].Created > records[j].Created
		}
		return records[i].ID > records[j].ID
	})
	return records, nil
}

// DeleteState removes a state entry. Snapshots are never auto-deleted; this
// is the only way one goes away short of deleting its session or workspace.
func (s *Service) DeleteState(ctx context.Context, workspaceID, sessionID string, ref StateRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	record, err := s.GetState(ctx, workspaceID, sessionID, ref)
	if err != nil {
		return err
	}

	err = s.col.Mutate(ctx, func(col *workspace.Collection) error {
		_, sess, ok := findSession(col, record.WorkspaceID, record.SessionID)
		if !ok {
			return errors.NewNotFound("session", record.SessionID)
		}
		if _, ok := sess.States[record.ID]; !ok {
			return errors.NewNotFound("state", record.ID)
		}
		delete(sess.States, record.ID)
		return nil
	})
	return asLoamError(err)
}

// forEachSession visits sessions matching the given scope. Empty workspaceID
// means every workspace; empty sessionID means every session.
func forEachSession(col *workspace.Collection, workspaceID, sessionID string, fn func(string, *workspace.Session)) {
	for wsID, w := range col.Workspaces {
		if workspaceID != "" && wsID != workspaceID {
			continue
		}
		for _, sess := range w.Sessions {
			if sessionID != "" && sess.ID != sessionID {
				continue
			}
			fn(wsID, sess)
		}
	}
}
