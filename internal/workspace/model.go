// Package workspace defines the persistence hierarchy: workspaces own
// sessions, sessions own memory traces and state entries. The whole tree for
// all workspaces lives in one JSON collection document; a parallel index
// document carries just enough metadata for cheap browsing.
package workspace

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Workspace is the top-level organizational unit, bound to a vault folder.
// It exclusively owns its sessions; deleting a workspace deletes everything
// beneath it.
type Workspace struct {
	// ID is a ULID that uniquely identifies this workspace
	ID string `json:"id"`

	// Name is the human-readable workspace name
	Name string `json:"name"`

	// Description is an optional free-form description
	Description string `json:"description,omitempty"`

	// RootFolder is the vault folder this workspace is bound to
	RootFolder string `json:"rootFolder"`

	// Created is the Unix timestamp when the workspace was created
	Created int64 `json:"created"`

	// LastAccessed is the Unix timestamp of the last mutating access
	LastAccessed int64 `json:"lastAccessed"`

	// IsActive marks the workspace as currently in use
	IsActive bool `json:"isActive"`

	// Context captures what the workspace is for
	Context Context `json:"context"`

	// Sessions holds all sessions nested under this workspace, keyed by id
	Sessions map[string]*Session `json:"sessions"`
}

// Context captures the purpose and working set of a workspace.
type Context struct {
	Purpose     string   `json:"purpose,omitempty"`
	CurrentGoal string   `json:"currentGoal,omitempty"`
	Workflows   []string `json:"workflows,omitempty"`
	KeyFiles    []string `json:"keyFiles,omitempty"`
}

// Session is a bounded unit of assistant activity inside a workspace.
// Session, trace, and state ids are globally unique ULIDs even though stored
// in nested maps, because some call sites address them by bare id without
// workspace context.
type Session struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// StartTime is the Unix timestamp when the session began
	StartTime int64 `json:"startTime"`

	// EndTime is set when the session is closed (nullable)
	EndTime *int64 `json:"endTime,omitempty"`

	IsActive bool `json:"isActive"`

	// MemoryTraces holds this session's append-only activity log, keyed by id
	MemoryTraces map[string]*MemoryTrace `json:"memoryTraces"`

	// States holds named snapshots saved during this session, keyed by id
	States map[string]*StateEntry `json:"states"`
}

// Trace types for recordable activity. The set is open: validation only
// rejects an empty type.
const (
	TraceQuestion    = "question"
	TraceResearch    = "research"
	TraceToolCall    = "tool_call"
	TraceCommand     = "command"
	TraceRestoration = "state_restoration"
	TraceCheckpoint  = "checkpoint"
	TraceCompletion  = "completion"
)

// MemoryTrace is an immutable record of one activity within a session.
// The owning workspace and session ids are structural (the trace's position
// in the tree) and are attached by readers, never stored here.
type MemoryTrace struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`

	// Type classifies the activity (question, research, tool_call, ...)
	Type string `json:"type"`

	// Content is a text summary of the activity
	Content string `json:"content"`

	Metadata TraceMetadata `json:"metadata"`

	// Importance ranks the trace in [0,1]. Auto-recorded restoration and
	// batch events default to 0.6, above routine activity but below explicit
	// user-authored events.
	Importance float64 `json:"importance"`

	Tags []string `json:"tags,omitempty"`
}

// TraceMetadata carries structured detail about the recorded activity.
type TraceMetadata struct {
	Tool         string         `json:"tool,omitempty"`
	Params       map[string]any `json:"params,omitempty"`
	Result       any            `json:"result,omitempty"`
	RelatedFiles []string       `json:"relatedFiles,omitempty"`
}

// StateEntry wraps a named snapshot as stored under a session.
type StateEntry struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Created  int64         `json:"created"`
	Snapshot StateSnapshot `json:"snapshot"`
}

// StateSnapshot is a frozen capture of task context, created explicitly to
// pause work and consumed later by restoration. Never mutated after creation.
type StateSnapshot struct {
	WorkspaceContext    SnapshotWorkspaceContext `json:"workspaceContext"`
	ConversationContext string                   `json:"conversationContext,omitempty"`
	ActiveTask          string                   `json:"activeTask,omitempty"`
	ActiveFiles         []string                 `json:"activeFiles,omitempty"`
	NextSteps           []string                 `json:"nextSteps,omitempty"`
	RecentTraces        []string                 `json:"recentTraces,omitempty"`
	Reasoning           string                   `json:"reasoning,omitempty"`
}

// SnapshotWorkspaceContext is the workspace metadata frozen into a snapshot.
// When the real workspace is unreachable at save time a minimal synthesized
// version is stored instead, so saving never depends on the workspace
// service being up.
type SnapshotWorkspaceContext struct {
	WorkspaceID   string `json:"workspaceId"`
	WorkspaceName string `json:"workspaceName,omitempty"`
	Purpose       string `json:"purpose,omitempty"`
	CurrentGoal   string `json:"currentGoal,omitempty"`
}

// NewID generates a ULID: millisecond timestamp prefix plus random suffix,
// monotonic within the process.
func NewID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
