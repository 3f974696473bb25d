package web

import (
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loam-mem/loam/internal/docstore"
	"github.com/loam-mem/loam/internal/memory"
	"github.com/loam-mem/loam/internal/workspace"
)

func setupTest(t *testing.T) *Handlers {
	t.Helper()
	store, err := docstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("docstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	col := workspace.NewCollectionStore(store, nil)

	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		t.Fatalf("template sub-FS: %v", err)
	}
	renderer := NewRenderer(templateSub, "test")

	return &Handlers{
		ws:       workspace.NewService(col, nil),
		mem:      memory.NewService(col, nil),
		renderer: renderer,
	}
}

// seedWorkspace creates a workspace and returns it.
func seedWorkspace(t *testing.T, h *Handlers, name string) *workspace.Workspace {
	t.Helper()
	w, err := h.ws.Create(context.Background(), workspace.CreateInput{
		Name:       name,
		RootFolder: "/vault/" + name,
	})
	if err != nil {
		t.Fatalf("seed workspace %q: %v", name, err)
	}
	return w
}

// --- HandleWorkspaces ---

func TestHandleWorkspaces_ListsAll(t *testing.T) {
	h := setupTest(t)
	seedWorkspace(t, h, "thesis")
	seedWorkspace(t, h, "novel")

	req := httptest.NewRequest("GET", "/workspaces", nil)
	rec := httptest.NewRecorder()
	h.HandleWorkspaces(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "thesis") || !strings.Contains(body, "novel") {
		t.Error("expected both workspace names in response")
	}
	if !strings.Contains(body, "Workspaces") {
		t.Error("expected page title 'Workspaces' in response")
	}
}

func TestHandleWorkspaces_Empty(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/workspaces", nil)
	rec := httptest.NewRecorder()
	h.HandleWorkspaces(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No workspaces yet") {
		t.Error("expected empty state message")
	}
}

func TestHandleWorkspaces_InvalidLimitFallsBack(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/workspaces?limit=notanumber", nil)
	rec := httptest.NewRecorder()
	h.HandleWorkspaces(rec, req)

	// Should not error — falls back to no limit
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

// --- HandleWorkspace ---

func TestHandleWorkspace_ShowsSessions(t *testing.T) {
	h := setupTest(t)
	w := seedWorkspace(t, h, "thesis")
	sess, err := h.mem.CreateSession(context.Background(), w.ID, memory.CreateSessionInput{Name: "Chapter review"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	req := httptest.NewRequest("GET", "/workspaces/"+w.ID, nil)
	req.SetPathValue("id", w.ID)
	rec := httptest.NewRecorder()
	h.HandleWorkspace(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Chapter review") {
		t.Error("expected session name in workspace page")
	}
	if !strings.Contains(body, sess.ID) {
		t.Error("expected session link in workspace page")
	}
}

func TestHandleWorkspace_NotFound(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/workspaces/missing", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()
	h.HandleWorkspace(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleWorkspace_NotFoundJSON(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/workspaces/missing", nil)
	req.SetPathValue("id", "missing")
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleWorkspace(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var payload struct {
		Error struct {
			Code   string `json:"code"`
			Status int    `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if payload.Error.Code != "NOT_FOUND" {
		t.Errorf("error code = %q, want NOT_FOUND", payload.Error.Code)
	}
}

// --- HandleSession ---

func TestHandleSession_ShowsTraces(t *testing.T) {
	h := setupTest(t)
	w := seedWorkspace(t, h, "thesis")
	sess, err := h.mem.CreateSession(context.Background(), w.ID, memory.CreateSessionInput{Name: "Research"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := h.mem.RecordTrace(context.Background(), memory.TraceInput{
		WorkspaceID: w.ID,
		SessionID:   sess.ID,
		Type:        workspace.TraceQuestion,
		Content:     "What sources cover the 1930s drought?",
	}); err != nil {
		t.Fatalf("RecordTrace: %v", err)
	}

	req := httptest.NewRequest("GET", "/workspaces/"+w.ID+"/sessions/"+sess.ID, nil)
	req.SetPathValue("id", w.ID)
	req.SetPathValue("sid", sess.ID)
	rec := httptest.NewRecorder()
	h.HandleSession(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "1930s drought") {
		t.Error("expected trace content in session page")
	}
	if !strings.Contains(body, "question") {
		t.Error("expected trace type label in session page")
	}
}

func TestHandleSession_MissingSession(t *testing.T) {
	h := setupTest(t)
	w := seedWorkspace(t, h, "thesis")

	req := httptest.NewRequest("GET", "/workspaces/"+w.ID+"/sessions/nope", nil)
	req.SetPathValue("id", w.ID)
	req.SetPathValue("sid", "nope")
	rec := httptest.NewRecorder()
	h.HandleSession(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

// --- HandleState ---

func TestHandleState_RendersSnapshot(t *testing.T) {
	h := setupTest(t)
	w := seedWorkspace(t, h, "thesis")
	sess, err := h.mem.CreateSession(context.Background(), w.ID, memory.CreateSessionInput{Name: "Drafting"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	entryID, err := workspace.NewID()
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	entry := &workspace.StateEntry{
		ID:      entryID,
		Name:    "before-lunch",
		Created: 1700000000,
		Snapshot: workspace.StateSnapshot{
			WorkspaceContext:    workspace.SnapshotWorkspaceContext{WorkspaceID: w.ID},
			ActiveTask:          "Revise chapter 3",
			ConversationContext: "We were **tightening** the opening paragraph.",
			NextSteps:           []string{"Cut the second anecdote"},
		},
	}
	if err := h.mem.PutState(context.Background(), w.ID, sess.ID, entry); err != nil {
		t.Fatalf("PutState: %v", err)
	}

	req := httptest.NewRequest("GET", "/workspaces/"+w.ID+"/states/"+entry.ID, nil)
	req.SetPathValue("id", w.ID)
	req.SetPathValue("stateID", entry.ID)
	rec := httptest.NewRecorder()
	h.HandleState(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "before-lunch") {
		t.Error("expected state name in page")
	}
	if !strings.Contains(body, "<strong>tightening</strong>") {
		t.Error("expected conversation context rendered as markdown")
	}
	if !strings.Contains(body, "Cut the second anecdote") {
		t.Error("expected next steps in page")
	}
}

func TestHandleState_NotFound(t *testing.T) {
	h := setupTest(t)
	w := seedWorkspace(t, h, "thesis")

	req := httptest.NewRequest("GET", "/workspaces/"+w.ID+"/states/nope", nil)
	req.SetPathValue("id", w.ID)
	req.SetPathValue("stateID", "nope")
	rec := httptest.NewRecorder()
	h.HandleState(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

// --- securityHeaders ---

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	securityHeaders(inner).ServeHTTP(rec, req)

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected X-Content-Type-Options header")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("expected X-Frame-Options header")
	}
}
