package web

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/loam-mem/loam/internal/memory"
	"github.com/loam-mem/loam/internal/workspace"
)

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	ws       *workspace.Service
	mem      *memory.Service
	renderer *Renderer
}

// HandleWorkspaces handles GET /workspaces — list all workspaces.
func (h *Handlers) HandleWorkspaces(w http.ResponseWriter, r *http.Request) {
	input := workspace.ListInput{
		SortBy:    r.URL.Query().Get("sort"),
		SortOrder: r.URL.Query().Get("order"),
		Limit:     parseIntParam(r, "limit", 0),
	}

	items, err := h.ws.List(r.Context(), input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, r, "workspaces", WorkspacesPageData{
		PageData: PageData{
			Title:   "Workspaces",
			Version: h.renderer.version,
			Nav:     "workspaces",
		},
		Items:     items,
		SortBy:    input.SortBy,
		SortOrder: input.SortOrder,
	})
}

// HandleWorkspace handles GET /workspaces/{id} — workspace detail with sessions.
func (h *Handlers) HandleWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := h.ws.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	sessions := make([]sessionSummary, 0, len(ws.Sessions))
	for _, sess := range ws.Sessions {
		sessions = append(sessions, sessionSummary{
			ID:         sess.ID,
			Name:       sess.Name,
			StartTime:  sess.StartTime,
			EndTime:    sess.EndTime,
			IsActive:   sess.IsActive,
			TraceCount: len(sess.MemoryTraces),
			StateCount: len(sess.States),
		})
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].StartTime != sessions[j].StartTime {
			return sessions[i].StartTime > sessions[j].StartTime
		}
		return sessions[i].ID > sessions[j].ID
	})

	h.renderer.renderPage(w, r, "workspace", WorkspacePageData{
		PageData: PageData{
			Title:   ws.Name,
			Version: h.renderer.version,
			Nav:     "workspaces",
		},
		Workspace: ws,
		Sessions:  sessions,
	})
}

// HandleSession handles GET /workspaces/{id}/sessions/{sid} — session detail
// with the full trace log and saved states.
func (h *Handlers) HandleSession(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("id")
	sessionID := r.PathValue("sid")

	ws, err := h.ws.Get(r.Context(), workspaceID)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	sess, err := h.mem.GetSession(r.Context(), workspaceID, sessionID)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	traces, err := h.mem.ListTraces(r.Context(), workspaceID, sessionID)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	states, err := h.mem.ListStates(r.Context(), workspaceID, sessionID)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, r, "session", SessionPageData{
		PageData: PageData{
			Title:   sess.Name,
			Version: h.renderer.version,
			Nav:     "workspaces",
		},
		WorkspaceID:   workspaceID,
		WorkspaceName: ws.Name,
		Session:       sess,
		Traces:        traces,
		States:        states,
	})
}

// HandleState handles GET /workspaces/{id}/states/{stateID} — saved-state
// detail with the snapshot rendered as markdown.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("id")

	ws, err := h.ws.Get(r.Context(), workspaceID)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	state, err := h.mem.GetState(r.Context(), workspaceID, "", memory.StateRef{ID: r.PathValue("stateID")})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, r, "state", StatePageData{
		PageData: PageData{
			Title:   state.Name,
			Version: h.renderer.version,
			Nav:     "workspaces",
		},
		WorkspaceID:   workspaceID,
		WorkspaceName: ws.Name,
		State:         state,
		RenderedHTML:  renderMarkdown(state.Snapshot.ConversationContext),
	})
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
