// Package memory is the session/trace facade: CRUD over sessions and memory
// traces nested within workspaces, plus state-entry access for the snapshot
// engine. All mutations go through whole-document rewrites of the enclosing
// workspace collection.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/loam-mem/loam/internal/errors"
	"github.com/loam-mem/loam/internal/workspace"
)

// DefaultSessionID is the session auto-created when activity is recorded
// against a workspace with no live target session. Addressable by this fixed
// id so that bootstrap never loses a trace.
const DefaultSessionID = "default-session"

// DefaultImportance is assigned to traces recorded without an explicit
// importance. Auto-recorded restoration and batch events use RestorationImportance
// to rank above routine activity but below user-authored events.
const (
	DefaultImportance     = 0.5
	RestorationImportance = 0.6
)

// Search limits, shared with trace listing.
const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// Service provides session and trace operations over the workspace collection.
type Service struct {
	col    *workspace.CollectionStore
	logger *slog.Logger
}

// NewService creates a memory service.
func NewService(col *workspace.CollectionStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{col: col, logger: logger}
}

// SessionRecord is a session decorated with its owning workspace id. The
// workspace id is derived from the session's position in the tree, attached
// only for caller convenience and never persisted on the session itself.
type SessionRecord struct {
	workspace.Session
	WorkspaceID string `json:"workspaceId"`
}

// TraceRecord is a memory trace decorated with its inferred workspace and
// session ids at read time.
type TraceRecord struct {
	workspace.MemoryTrace
	WorkspaceID string `json:"workspaceId"`
	SessionID   string `json:"sessionId"`
}

// CreateSessionInput contains parameters for creating a session.
type CreateSessionInput struct {
	Name        string
	Description string
}

// CreateSession creates a session nested under an existing workspace.
// The workspace must already exist; sessions are never created against a
// placeholder.
func (s *Service) CreateSession(ctx context.Context, workspaceID string, input CreateSessionInput) (*SessionRecord, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return nil, errors.NewInvalidRequest("workspaceId is required")
	}

	id, err := workspace.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	now := time.Now().Unix()
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = "Session " + time.Unix(now, 0).Format("2006-01-02 15:04")
	}
	sess := &workspace.Session{
		ID:           id,
		Name:         name,
		Description:  input.Description,
		StartTime:    now,
		IsActive:     true,
		MemoryTraces: make(map[string]*workspace.MemoryTrace),
		States:       make(map[string]*workspace.StateEntry),
	}

	err = s.col.Mutate(ctx, func(col *workspace.Collection) error {
		w, ok := col.Workspaces[workspaceID]
		if !ok {
			return errors.NewNotFound("workspace", workspaceID)
		}
		if w.Sessions == nil {
			w.Sessions = make(map[string]*workspace.Session)
		}
		w.Sessions[id] = sess
		w.LastAccessed = now
		return nil
	})
	if err != nil {
		return nil, asLoamError(err)
	}
	return &SessionRecord{Session: *sess, WorkspaceID: workspaceID}, nil
}

// GetSession returns a session. With an empty workspaceID it falls back to
// scanning every workspace's sessions map, an O(total sessions)
// compatibility path for callers that only hold a bare session id.
func (s *Service) GetSession(ctx context.Context, workspaceID, sessionID string) (*SessionRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.NewInvalidRequest("sessionId is required")
	}

	col, err := s.col.Load(ctx)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	wsID, sess, ok := findSession(col, workspaceID, sessionID)
	if !ok {
		return nil, errors.NewNotFound("session", sessionID)
	}
	return &SessionRecord{Session: *sess, WorkspaceID: wsID}, nil
}

// UpdateSessionInput contains the partial fields for updating a session.
type UpdateSessionInput struct {
	Name        *string
	Description *string
	IsActive    *bool
}

// UpdateSession merges the given fields and rewrites the workspace document.
func (s *Service) UpdateSession(ctx context.Context, workspaceID, sessionID string, input UpdateSessionInput) (*SessionRecord, error) {
	var updated *SessionRecord
	err := s.col.Mutate(ctx, func(col *workspace.Collection) error {
		wsID, sess, ok := findSession(col, workspaceID, sessionID)
		if !ok {
			return errors.NewNotFound("session", sessionID)
		}
		if input.Name != nil {
			sess.Name = *input.Name
		}
		if input.Description != nil {
			sess.Description = *input.Description
		}
		if input.IsActive != nil {
			sess.IsActive = *input.IsActive
		}
		col.Workspaces[wsID].LastAccessed = time.Now().Unix()
		updated = &SessionRecord{Session: *sess, WorkspaceID: wsID}
		return nil
	})
	if err != nil {
		return nil, asLoamError(err)
	}
	return updated, nil
}

// EndSession closes a session: isActive false, endTime set. Ending an
// already-ended session just refreshes endTime.
func (s *Service) EndSession(ctx context.Context, workspaceID, sessionID string) (*SessionRecord, error) {
	var ended *SessionRecord
	err := s.col.Mutate(ctx, func(col *workspace.Collection) error {
		wsID, sess, ok := findSession(col, workspaceID, sessionID)
		if !ok {
			return errors.NewNotFound("session", sessionID)
		}
		now := time.Now().Unix()
		sess.IsActive = false
		sess.EndTime = &now
		ended = &SessionRecord{Session: *sess, WorkspaceID: wsID}
		return nil
	})
	if err != nil {
		return nil, asLoamError(err)
	}
	return ended, nil
}

// DeleteSessionInput contains parameters for deleting a session. Cascade
// defaults to off: deleting a session that still holds traces or states is a
// conflict unless the matching cascade flag is set.
type DeleteSessionInput struct {
	WorkspaceID   string
	SessionID     string
	CascadeTraces bool
	CascadeStates bool
}

// DeleteSession removes a session from its workspace.
func (s *Service) DeleteSession(ctx context.Context, input DeleteSessionInput) error {
	err := s.col.Mutate(ctx, func(col *workspace.Collection) error {
		wsID, sess, ok := findSession(col, input.WorkspaceID, input.SessionID)
		if !ok {
			return errors.NewNotFound("session", input.SessionID)
		}
		if len(sess.MemoryTraces) > 0 && !input.CascadeTraces {
			return errors.NewConflict(fmt.Sprintf(
				"session %s still holds %d traces; set cascadeTraces to delete them",
				input.SessionID, len(sess.MemoryTraces)))
		}
		if len(sess.States) > 0 && !input.CascadeStates {
			return errors.NewConflict(fmt.Sprintf(
				"session %s still holds %d states; set cascadeStates to delete them",
				input.SessionID, len(sess.States)))
		}
		delete(col.Workspaces[wsID].Sessions, sess.ID)
		return nil
	})
	return asLoamError(err)
}

// TraceInput contains parameters for recording a memory trace.
type TraceInput struct {
	WorkspaceID string
	SessionID   string // empty targets the default session
	Type        string
	Content     string
	Metadata    workspace.TraceMetadata
	Importance  *float64 // nil applies DefaultImportance
	Tags        []string
}

// RecordTrace appends an immutable trace to a session. When the target
// session does not exist, a default session is auto-created inside the
// target workspace so that activity is never lost to a missing bootstrap
// step. The enclosing workspace must exist.
func (s *Service) RecordTrace(ctx context.Context, input TraceInput) (*TraceRecord, error) {
	var fields []errors.FieldError
	if strings.TrimSpace(input.WorkspaceID) == "" {
		fields = append(fields, errors.FieldError{
			Field: "workspaceId", Value: input.WorkspaceID, Requirement: "must not be empty",
		})
	}
	if strings.TrimSpace(input.Type) == "" {
		fields = append(fields, errors.FieldError{
			Field: "type", Value: input.Type, Requirement: "must not be empty",
		})
	}
	if strings.TrimSpace(input.Content) == "" {
		fields = append(fields, errors.FieldError{
			Field: "content", Value: input.Content, Requirement: "must not be empty",
		})
	}
	importance := DefaultImportance
	if input.Importance != nil {
		importance = *input.Importance
		if importance < 0 || importance > 1 {
			fields = append(fields, errors.FieldError{
				Field: "importance", Value: importance, Requirement: "must be within [0,1]",
			})
		}
	}
	if len(fields) > 0 {
		return nil, errors.NewValidationFailed(fields)
	}

	id, err := workspace.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	trace := &workspace.MemoryTrace{
		ID:         id,
		Timestamp:  time.Now().Unix(),
		Type:       input.Type,
		Content:    input.Content,
		Metadata:   input.Metadata,
		Importance: importance,
		Tags:       input.Tags,
	}

	var sessionID string
	err = s.col.Mutate(ctx, func(col *workspace.Collection) error {
		w, ok := col.Workspaces[input.WorkspaceID]
		if !ok {
			return errors.NewNotFound("workspace", input.WorkspaceID)
		}
		if w.Sessions == nil {
			w.Sessions = make(map[string]*workspace.Session)
		}

		target := input.SessionID
		if target == "" {
			target = DefaultSessionID
		}
		sess, ok := w.Sessions[target]
		if !ok {
			if target != DefaultSessionID {
				s.logger.Warn("session not found, recording into default session",
					"workspaceId", input.WorkspaceID, "sessionId", target)
			}
			sess, ok = w.Sessions[DefaultSessionID]
			if !ok {
				sess = defaultSession(trace.Timestamp)
				w.Sessions[DefaultSessionID] = sess
			}
		}
		sess.MemoryTraces[trace.ID] = trace
		sessionID = sess.ID
		w.LastAccessed = trace.Timestamp
		return nil
	})
	if err != nil {
		return nil, asLoamError(err)
	}
	return &TraceRecord{MemoryTrace: *trace, WorkspaceID: input.WorkspaceID, SessionID: sessionID}, nil
}

// ListTraces returns traces within a workspace. With a sessionID, only that
// session's traces; without one, all sessions' traces are flattened, each
// decorated with its inferred workspaceId and sessionId. Results are sorted
// by timestamp, oldest first.
func (s *Service) ListTraces(ctx context.Context, workspaceID, sessionID string) ([]TraceRecord, error) {
	col, err := s.col.Load(ctx)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	w, ok := col.Workspaces[workspaceID]
	if !ok {
		return nil, errors.NewNotFound("workspace", workspaceID)
	}

	var records []TraceRecord
	if sessionID != "" {
		sess, ok := w.Sessions[sessionID]
		if !ok {
			return nil, errors.NewNotFound("session", sessionID)
		}
		records = collectTraces(workspaceID, sess)
	} else {
		for _, sess := range w.Sessions {
			records = append(records, collectTraces(workspaceID, sess)...)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Timestamp != records[j].Timestamp {
			return records[i].Timestamp < records[j].Timestamp
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

// SearchTracesInput contains parameters for the trace search.
type SearchTracesInput struct {
	WorkspaceID string
	Query       string // empty matches everything
	Limit       int    // default 20, max 100
}

// SearchTraces performs a case-insensitive substring match over trace
// content and type. No index is kept: linear scan is acceptable at
// personal-vault scale (hundreds of traces, not millions).
func (s *Service) SearchTraces(ctx context.Context, input SearchTracesInput) ([]TraceRecord, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	records, err := s.ListTraces(ctx, input.WorkspaceID, "")
	if err != nil {
		return nil, err
	}

	query := strings.ToLower(strings.TrimSpace(input.Query))
	matched := make([]TraceRecord, 0, limit)
	// Newest first: the caller is looking for recent activity.
	for i := len(records) - 1; i >= 0 && len(matched) < limit; i-- {
		r := records[i]
		if query == "" ||
			strings.Contains(strings.ToLower(r.Content), query) ||
			strings.Contains(strings.ToLower(r.Type), query) {
			matched = append(matched, r)
		}
	}
	return matched, nil
}

// defaultSession builds the bootstrap session for auto-recorded activity.
func defaultSession(now int64) *workspace.Session {
	return &workspace.Session{
		ID:           DefaultSessionID,
		Name:         "Default Session",
		Description:  "Auto-created to capture activity recorded without a session",
		StartTime:    now,
		IsActive:     true,
		MemoryTraces: make(map[string]*workspace.MemoryTrace),
		States:       make(map[string]*workspace.StateEntry),
	}
}

// collectTraces decorates a session's traces with their structural position.
func collectTraces(workspaceID string, sess *workspace.Session) []TraceRecord {
	records := make([]TraceRecord, 0, len(sess.MemoryTraces))
	for _, tr := range sess.MemoryTraces {
		records = append(records, TraceRecord{
			MemoryTrace: *tr,
			WorkspaceID: workspaceID,
			SessionID:   sess.ID,
		})
	}
	return records
}

// findSession locates a session. With a workspaceID the lookup is direct;
// without one every workspace is scanned.
func findSession(col *workspace.Collection, workspaceID, sessionID string) (string, *workspace.Session, bool) {
	if workspaceID != "" {
		w, ok := col.Workspaces[workspaceID]
		if !ok {
			return "", nil, false
		}
		sess, ok := w.Sessions[sessionID]
		if !ok {
			return "", nil, false
		}
		return workspaceID, sess, true
	}
	for wsID, w := range col.Workspaces {
		if sess, ok := w.Sessions[sessionID]; ok {
			return wsID, sess, true
		}
	}
	return "", nil, false
}

// asLoamError passes structured errors through and wraps anything else.
func asLoamError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*errors.LoamError); ok {
		return err
	}
	return errors.NewInternal(err)
}
