// Package snapshot implements the state save/restore pipeline: explicit
// point-in-time captures of task context nested under sessions, and the
// multi-phase restoration that turns one back into a working context with
// graceful degradation.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loam-mem/loam/internal/config"
	"github.com/loam-mem/loam/internal/errors"
	"github.com/loam-mem/loam/internal/locator"
	"github.com/loam-mem/loam/internal/memory"
	"github.com/loam-mem/loam/internal/workspace"
)

// Service names the engine resolves through the locator. Registered by the
// host during startup wiring.
const (
	WorkspaceServiceName = "workspace"
	MemoryServiceName    = "memory"
)

// Engine composes the workspace and memory services (reached through the
// locator, since they may still be starting) with the context builder.
type Engine struct {
	loc    *locator.Locator
	cfg    *config.Config
	logger *slog.Logger
}

// NewEngine creates a snapshot engine.
func NewEngine(loc *locator.Locator, cfg *config.Config, logger *slog.Logger) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{loc: loc, cfg: cfg, logger: logger}
}

// SaveInput contains parameters for saving a state snapshot.
type SaveInput struct {
	WorkspaceID string
	SessionID   string
	Name        string

	ConversationContext string
	ActiveTask          string
	ActiveFiles         []string
	NextSteps           []string
	Reasoning           string

	// RecentTraces freezes activity lines into the snapshot. When empty,
	// the session's most recent traces are copied in automatically.
	RecentTraces []string
}

// SaveOutput identifies the stored snapshot.
type SaveOutput struct {
	StateID     string `json:"stateId"`
	Name        string `json:"name"`
	WorkspaceID string `json:"workspaceId"`
	SessionID   string `json:"sessionId"`
	Created     int64  `json:"created"`
}

// SaveState writes a new snapshot nested under the given session. Workspace
// metadata is gathered best-effort: if the workspace service cannot supply
// it, a minimal synthesized workspace context is frozen instead, so saving
// never depends on that lookup succeeding.
func (e *Engine) SaveState(ctx context.Context, input SaveInput) (*SaveOutput, error) {
	var fields []errors.FieldError
	if strings.TrimSpace(input.WorkspaceID) == "" {
		fields = append(fields, errors.FieldError{
			Field: "workspaceId", Value: input.WorkspaceID, Requirement: "must not be empty",
		})
	}
	if strings.TrimSpace(input.SessionID) == "" {
		fields = append(fields, errors.FieldError{
			Field: "sessionId", Value: input.SessionID, Requirement: "must not be empty",
		})
	}
	if strings.TrimSpace(input.Name) == "" {
		fields = append(fields, errors.FieldError{
			Field: "name", Value: input.Name, Requirement: "must not be empty",
		})
	}
	if len(fields) > 0 {
		return nil, errors.NewValidationFailed(fields)
	}

	mem, err := locator.Resolve[*memory.Service](ctx, e.loc, MemoryServiceName)
	if err != nil {
		return nil, err
	}

	wsContext := e.gatherWorkspaceContext(ctx, input.WorkspaceID)

	recent := input.RecentTraces
	if len(recent) == 0 {
		recent = e.backfillTraces(ctx, mem, input.WorkspaceID, input.SessionID)
	}

	id, err := workspace.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	now := time.Now().Unix()
	entry := &workspace.StateEntry{
		ID:      id,
		Name:    input.Name,
		Created: now,
		Snapshot: workspace.StateSnapshot{
			WorkspaceContext:    wsContext,
			ConversationContext: input.ConversationContext,
			ActiveTask:          input.ActiveTask,
			ActiveFiles:         input.ActiveFiles,
			NextSteps:           input.NextSteps,
			RecentTraces:        recent,
			Reasoning:           input.Reasoning,
		},
	}

	if err := mem.PutState(ctx, input.WorkspaceID, input.SessionID, entry); err != nil {
		return nil, err
	}

	return &SaveOutput{
		StateID:     id,
		Name:        input.Name,
		WorkspaceID: input.WorkspaceID,
		SessionID:   input.SessionID,
		Created:     now,
	}, nil
}

// gatherWorkspaceContext freezes workspace metadata into a snapshot,
// synthesizing a minimal version when the real workspace is unreachable.
// Saving must not circularly depend on the workspace service being up.
func (e *Engine) gatherWorkspaceContext(ctx context.Context, workspaceID string) workspace.SnapshotWorkspaceContext {
	minimal := workspace.SnapshotWorkspaceContext{WorkspaceID: workspaceID}

	ws, err := locator.Resolve[*workspace.Service](ctx, e.loc, WorkspaceServiceName)
	if err != nil {
		e.logger.Warn("workspace service unavailable during save, using minimal context",
			"workspaceId", workspaceID, "error", err)
		return minimal
	}
	w, err := ws.Get(ctx, workspaceID)
	if err != nil {
		e.logger.Warn("workspace lookup failed during save, using minimal context",
			"workspaceId", workspaceID, "error", err)
		return minimal
	}
	return workspace.SnapshotWorkspaceContext{
		WorkspaceID:   w.ID,
		WorkspaceName: w.Name,
		Purpose:       w.Context.Purpose,
		CurrentGoal:   w.Context.CurrentGoal,
	}
}

// backfillTraces copies the session's most recent trace lines for freezing
// into a snapshot. Best-effort: an error just means no backfill.
func (e *Engine) backfillTraces(ctx context.Context, mem *memory.Service, workspaceID, sessionID string) []string {
	traces, err := mem.ListTraces(ctx, workspaceID, sessionID)
	if err != nil {
		e.logger.Warn("trace backfill failed during save",
			"workspaceId", workspaceID, "sessionId", sessionID, "error", err)
		return nil
	}
	n := e.cfg.TraceBackfill
	if len(traces) < n {
		n = len(traces)
	}
	lines := make([]string, 0, n)
	for _, tr := range traces[len(traces)-n:] {
		lines = append(lines, truncate(formatTraceLine(tr.MemoryTrace), e.cfg.TracePreviewChars))
	}
	return lines
}

// LoadOptions scopes snapshot resolution and controls session continuation.
type LoadOptions struct {
	// WorkspaceID and SessionID scope a by-name lookup; empty values widen
	// the scan.
	WorkspaceID string
	SessionID   string

	// NewSession opts out of the default behavior of continuing the
	// snapshot's original session: when true, a fresh continuation session
	// is created instead.
	NewSession bool
}

// LoadOutput is the restoration result: snapshot identity, the restored
// context bundle, and the continuation session id.
type LoadOutput struct {
	StateID   string `json:"stateId"`
	StateName string `json:"stateName"`

	WorkspaceID string `json:"workspaceId"`

	// SessionID is the continuation session: the original session by
	// default, a newly created one when NewSession was set.
	SessionID string `json:"sessionId"`

	// PreviousSessionID is the session the snapshot was saved under.
	PreviousSessionID string `json:"previousSessionId"`

	RestoredContext RestoredContext `json:"restoredContext"`
}

// LoadState restores a snapshot. Phases 1–2 (service resolution, snapshot
// lookup) fail hard; everything after degrades: a restore attempt that gets
// past lookup always returns something usable.
func (e *Engine) LoadState(ctx context.Context, ref memory.StateRef, opts LoadOptions) (*LoadOutput, error) {
	// Phase 1: resolve services. Hard failure.
	mem, err := locator.Resolve[*memory.Service](ctx, e.loc, MemoryServiceName)
	if err != nil {
		return nil, err
	}
	ws, err := locator.Resolve[*workspace.Service](ctx, e.loc, WorkspaceServiceName)
	if err != nil {
		return nil, err
	}

	// Phase 2: resolve the snapshot by id or name within scope. Hard failure.
	record, err := mem.GetState(ctx, opts.WorkspaceID, opts.SessionID, ref)
	if err != nil {
		return nil, err
	}

	// Phase 3: best-effort fetch of the original session's traces.
	traces, err := mem.ListTraces(ctx, record.WorkspaceID, record.SessionID)
	if err != nil {
		e.logger.Warn("trace fetch failed during restore, continuing without",
			"stateId", record.ID, "error", err)
		traces = nil
	}

	// The workspace name is narration only; its lookup never blocks restore.
	workspaceName := record.Snapshot.WorkspaceContext.WorkspaceName
	if w, err := ws.Get(ctx, record.WorkspaceID); err == nil {
		workspaceName = w.Name
	} else {
		e.logger.Warn("workspace lookup failed during restore",
			"workspaceId", record.WorkspaceID, "error", err)
	}

	// Phase 4: build the restored context, falling back to a minimal
	// generic summary rather than aborting.
	now := time.Now().Unix()
	restored := e.buildContext(record, workspaceName, traces, now)

	// Phase 5: session continuation.
	sessionID := record.SessionID
	if opts.NewSession {
		if contID, err := e.createContinuationSession(ctx, mem, record); err == nil {
			sessionID = contID
		} else {
			e.logger.Warn("continuation session creation failed, reusing original",
				"sessionId", record.SessionID, "error", err)
		}
	}

	// Phase 6: self-documenting restoration trace. Logged and swallowed on
	// failure; it must never abort the restore it describes.
	importance := memory.RestorationImportance
	if _, err := mem.RecordTrace(ctx, memory.TraceInput{
		WorkspaceID: record.WorkspaceID,
		SessionID:   sessionID,
		Type:        workspace.TraceRestoration,
		Content:     restored.Summary,
		Importance:  &importance,
		Metadata: workspace.TraceMetadata{
			Tool: "loadState",
			Params: map[string]any{
				"stateId":           record.ID,
				"previousSessionId": record.SessionID,
				"sessionId":         sessionID,
			},
		},
	}); err != nil {
		e.logger.Warn("restoration trace recording failed",
			"stateId", record.ID, "error", err)
	}

	return &LoadOutput{
		StateID:           record.ID,
		StateName:         record.Name,
		WorkspaceID:       record.WorkspaceID,
		SessionID:         sessionID,
		PreviousSessionID: record.SessionID,
		RestoredContext:   restored,
	}, nil
}

// buildContext wraps the context builder with the degradation fallback.
func (e *Engine) buildContext(record *memory.StateRecord, workspaceName string, traces []memory.TraceRecord, now int64) (rc RestoredContext) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("context build failed during restore, using minimal summary",
				"stateId", record.ID, "panic", r)
			rc = minimalContext(record, now)
		}
	}()
	return buildRestoredContext(record, workspaceName, traces, now, contextCaps{
		activeFiles:  e.cfg.ActiveFileCap,
		recentTraces: e.cfg.RecentTraceCap,
		previewChars: e.cfg.TracePreviewChars,
	})
}

// createContinuationSession starts a fresh session to resume work from a
// snapshot. The original session is referenced narratively in the
// description, never through a structural parent/child pointer.
func (e *Engine) createContinuationSession(ctx context.Context, mem *memory.Service, record *memory.StateRecord) (string, error) {
	goal := record.Snapshot.WorkspaceContext.CurrentGoal
	desc := fmt.Sprintf("Continuing from state %q (previousSessionId: %s)", record.Name, record.SessionID)
	if goal != "" {
		desc += ". Goal: " + goal
	}
	sess, err := mem.CreateSession(ctx, record.WorkspaceID, memory.CreateSessionInput{
		Name:        "Continuation: " + record.Name,
		Description: desc,
	})
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}
