package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loam-mem/loam/internal/config"
	"github.com/loam-mem/loam/internal/docstore"
	"github.com/loam-mem/loam/internal/errors"
	"github.com/loam-mem/loam/internal/locator"
	"github.com/loam-mem/loam/internal/memory"
	"github.com/loam-mem/loam/internal/workspace"
)

type fixture struct {
	engine *Engine
	ws     *workspace.Service
	mem    *memory.Service
	loc    *locator.Locator

	workspaceID string
	sessionID   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := docstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	col := workspace.NewCollectionStore(store, nil)
	ws := workspace.NewService(col, nil)
	mem := memory.NewService(col, nil)

	loc := locator.New(locator.Options{
		Timeout:    50 * time.Millisecond,
		MaxRetries: 0,
		RetryDelay: 5 * time.Millisecond,
		FailureTTL: 50 * time.Millisecond,
		Fallback:   config.FallbackSilent,
	}, nil)
	loc.Register(WorkspaceServiceName, ws)
	loc.Register(MemoryServiceName, mem)

	ctx := context.Background()
	w, err := ws.Create(ctx, workspace.CreateInput{
		Name:       "thesis",
		RootFolder: "/vault/thesis",
		Context:    workspace.Context{Purpose: "write it", CurrentGoal: "chapter 3"},
	})
	require.NoError(t, err)
	sess, err := mem.CreateSession(ctx, w.ID, memory.CreateSessionInput{Name: "evening"})
	require.NoError(t, err)

	return &fixture{
		engine:      NewEngine(loc, config.DefaultConfig(), nil),
		ws:          ws,
		mem:         mem,
		loc:         loc,
		workspaceID: w.ID,
		sessionID:   sess.ID,
	}
}

func TestSaveLoad_RoundTripContinuesOriginalSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	saved, err := f.engine.SaveState(ctx, SaveInput{
		WorkspaceID:         f.workspaceID,
		SessionID:           f.sessionID,
		Name:                "Before refactor",
		ActiveTask:          "restructure section 3.2",
		ConversationContext: "decided to merge the two methods chapters",
		ActiveFiles:         []string{"ch3.md", "outline.md"},
		NextSteps:           []string{"rewrite intro"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, saved.StateID)

	loaded, err := f.engine.LoadState(ctx, memory.StateRef{Name: "Before refactor"}, LoadOptions{})
	require.NoError(t, err)

	require.Equal(t, saved.StateID, loaded.StateID)
	require.Equal(t, "restructure section 3.2", loaded.RestoredContext.ActiveTask)
	// Default behavior continues the original session.
	require.Equal(t, f.sessionID, loaded.SessionID)
	require.Equal(t, f.sessionID, loaded.PreviousSessionID)
}

func TestLoad_ByIDAndByNameResolveSameSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	saved, err := f.engine.SaveState(ctx, SaveInput{
		WorkspaceID: f.workspaceID,
		SessionID:   f.sessionID,
		Name:        "checkpoint-a",
		ActiveTask:  "task-a",
	})
	require.NoError(t, err)

	byID, err := f.engine.LoadState(ctx, memory.StateRef{ID: saved.StateID}, LoadOptions{})
	require.NoError(t, err)
	byName, err := f.engine.LoadState(ctx, memory.StateRef{Name: "checkpoint-a"},
		LoadOptions{WorkspaceID: f.workspaceID, SessionID: f.sessionID})
	require.NoError(t, err)

	require.Equal(t, byID.StateID, byName.StateID)
	require.Equal(t, byID.RestoredContext.ActiveTask, byName.RestoredContext.ActiveTask)
}

func TestLoad_NewSessionRecordsRestorationTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.SaveState(ctx, SaveInput{
		WorkspaceID: f.workspaceID,
		SessionID:   f.sessionID,
		Name:        "pause point",
		ActiveTask:  "write conclusion",
	})
	require.NoError(t, err)

	loaded, err := f.engine.LoadState(ctx, memory.StateRef{Name: "pause point"},
		LoadOptions{NewSession: true})
	require.NoError(t, err)

	// A fresh continuation session, distinct from the original.
	require.NotEqual(t, f.sessionID, loaded.SessionID)
	require.Equal(t, f.sessionID, loaded.PreviousSessionID)

	cont, err := f.mem.GetSession(ctx, f.workspaceID, loaded.SessionID)
	require.NoError(t, err)
	// Narrative link only: the description mentions the original session.
	require.Contains(t, cont.Description, f.sessionID)

	traces, err := f.mem.ListTraces(ctx, f.workspaceID, loaded.SessionID)
	require.NoError(t, err)
	require.Len(t, traces, 1)
	require.Equal(t, workspace.TraceRestoration, traces[0].Type)
	require.Equal(t, memory.RestorationImportance, traces[0].Importance)
	require.Equal(t, f.sessionID, traces[0].Metadata.Params["previousSessionId"])
}

func TestLoad_RestorationTraceInContinuedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.SaveState(ctx, SaveInput{
		WorkspaceID: f.workspaceID,
		SessionID:   f.sessionID,
		Name:        "cp",
	})
	require.NoError(t, err)

	_, err = f.engine.LoadState(ctx, memory.StateRef{Name: "cp"}, LoadOptions{})
	require.NoError(t, err)

	traces, err := f.mem.ListTraces(ctx, f.workspaceID, f.sessionID)
	require.NoError(t, err)
	require.Len(t, traces, 1)
	require.Equal(t, workspace.TraceRestoration, traces[0].Type)
}

func TestSave_BackfillsRecentTraces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, content := range []string{"first step", "second step", "third step"} {
		_, err := f.mem.RecordTrace(ctx, memory.TraceInput{
			WorkspaceID: f.workspaceID,
			SessionID:   f.sessionID,
			Type:        workspace.TraceCommand,
			Content:     content,
		})
		require.NoError(t, err)
	}

	saved, err := f.engine.SaveState(ctx, SaveInput{
		WorkspaceID: f.workspaceID,
		SessionID:   f.sessionID,
		Name:        "with backfill",
	})
	require.NoError(t, err)

	record, err := f.mem.GetState(ctx, f.workspaceID, f.sessionID, memory.StateRef{ID: saved.StateID})
	require.NoError(t, err)
	require.Len(t, record.Snapshot.RecentTraces, 3)
	require.Contains(t, record.Snapshot.RecentTraces[2], "third step")
}

func TestSave_CallerTracesNotOverwritten(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	saved, err := f.engine.SaveState(ctx, SaveInput{
		WorkspaceID:  f.workspaceID,
		SessionID:    f.sessionID,
		Name:         "explicit traces",
		RecentTraces: []string{"caller supplied"},
	})
	require.NoError(t, err)

	record, err := f.mem.GetState(ctx, f.workspaceID, f.sessionID, memory.StateRef{ID: saved.StateID})
	require.NoError(t, err)
	require.Equal(t, []string{"caller supplied"}, record.Snapshot.RecentTraces)
}

func TestSave_MinimalWorkspaceContextWhenServiceMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Rebuild the locator without the workspace service: saving degrades to
	// a synthesized minimal workspace context instead of failing.
	loc := locator.New(locator.Options{
		Timeout:    20 * time.Millisecond,
		RetryDelay: 5 * time.Millisecond,
		FailureTTL: 50 * time.Millisecond,
		Fallback:   config.FallbackSilent,
	}, nil)
	loc.Register(MemoryServiceName, f.mem)
	engine := NewEngine(loc, config.DefaultConfig(), nil)

	saved, err := engine.SaveState(ctx, SaveInput{
		WorkspaceID: f.workspaceID,
		SessionID:   f.sessionID,
		Name:        "degraded save",
	})
	require.NoError(t, err)

	record, err := f.mem.GetState(ctx, f.workspaceID, f.sessionID, memory.StateRef{ID: saved.StateID})
	require.NoError(t, err)
	require.Equal(t, f.workspaceID, record.Snapshot.WorkspaceContext.WorkspaceID)
	require.Empty(t, record.Snapshot.WorkspaceContext.WorkspaceName)
}

func TestSave_ValidationCollectsAllFields(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.SaveState(context.Background(), SaveInput{})
	require.True(t, errors.Is(err, errors.ErrValidationFailed))
	require.Len(t, errors.Fields(err), 3)
}

func TestLoad_MissingSnapshotIsHardFailure(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.LoadState(context.Background(),
		memory.StateRef{Name: "never saved"}, LoadOptions{})
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestLoad_NoServicesIsHardFailure(t *testing.T) {
	loc := locator.New(locator.Options{
		Timeout:    20 * time.Millisecond,
		RetryDelay: 5 * time.Millisecond,
		FailureTTL: 50 * time.Millisecond,
		Fallback:   config.FallbackSilent,
	}, nil)
	engine := NewEngine(loc, config.DefaultConfig(), nil)

	_, err := engine.LoadState(context.Background(),
		memory.StateRef{ID: "whatever"}, LoadOptions{})
	require.True(t, errors.Is(err, errors.ErrServiceUnavailable))
}
