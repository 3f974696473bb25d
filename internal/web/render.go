package web

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"

	"github.com/loam-mem/loam/internal/errors"
	"github.com/loam-mem/loam/internal/memory"
	"github.com/loam-mem/loam/internal/workspace"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
	Nav     string // active nav item: "workspaces"
}

// WorkspacesPageData is the template data for the workspace list page.
type WorkspacesPageData struct {
	PageData
	Items     []workspace.IndexEntry
	SortBy    string
	SortOrder string
}

// WorkspacePageData is the template data for the workspace detail page.
type WorkspacePageData struct {
	PageData
	Workspace *workspace.Workspace
	Sessions  []sessionSummary
}

// sessionSummary is a session row on the workspace detail page.
type sessionSummary struct {
	ID         string
	Name       string
	StartTime  int64
	EndTime    *int64
	IsActive   bool
	TraceCount int
	StateCount int
}

// SessionPageData is the template data for the session detail page.
type SessionPageData struct {
	PageData
	WorkspaceID   string
	WorkspaceName string
	Session       *memory.SessionRecord
	Traces        []memory.TraceRecord
	States        []memory.StateRecord
}

// StatePageData is the template data for the saved-state detail page.
type StatePageData struct {
	PageData
	WorkspaceID   string
	WorkspaceName string
	State         *memory.StateRecord
	RenderedHTML  template.HTML
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
}

// NewRenderer creates a Renderer by parsing templates from the given FS.
func NewRenderer(templateFS fs.FS, version string) *Renderer {
	funcMap := template.FuncMap{
		"formatTime": formatTime,
		"relTime":    relTime,
		"traceLabel": traceLabel,
		"importancePct": func(v float64) int {
			return int(v * 100)
		},
		"markdown": renderMarkdown,
		"deref": func(p *int64) int64 {
			if p == nil {
				return 0
			}
			return *p
		},
	}

	// Parse layout as the base template
	layoutTmpl := template.Must(template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html"))

	pages := map[string]string{
		"workspaces": "workspaces.html",
		"workspace":  "workspace.html",
		"session":    "session.html",
		"state":      "state.html",
		"error":      "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t := template.Must(layoutTmpl.Clone())
		template.Must(t.ParseFS(templateFS, file))
		templates[name] = t
	}

	return &Renderer{
		templates: templates,
		version:   version,
	}
}

// renderPage renders a named page template with the given data and HTTP 200 status.
func (r *Renderer) renderPage(w http.ResponseWriter, req *http.Request, name string, data any) {
	r.renderPageStatus(w, req, http.StatusOK, name, data)
}

// renderPageStatus renders a named page template with the given data and HTTP status code.
func (r *Renderer) renderPageStatus(w http.ResponseWriter, req *http.Request, status int, name string, data any) {
	t, ok := r.templates[name]
	if !ok {
		log.Printf("template %q not found", name)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		log.Printf("template execution error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError renders an error response with content negotiation.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, err error) {
	var lErr *errors.LoamError
	if !stderrors.As(err, &lErr) {
		lErr = errors.NewInternal(err)
	}

	status := lErr.Status
	message := lErr.Message

	// JSON request
	if strings.Contains(req.Header.Get("Accept"), "application/json") {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"code":    string(lErr.Code),
				"message": message,
				"status":  status,
			},
		})
		return
	}

	// Full error page
	r.renderPageStatus(w, req, status, "error", ErrorPageData{
		PageData: PageData{
			Title:   fmt.Sprintf("Error %d", status),
			Version: r.version,
		},
		StatusCode: status,
		Message:    message,
	})
}

// renderMarkdown converts markdown text to HTML using goldmark.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

// formatTime formats a Unix timestamp as "2006-01-02 15:04" UTC.
func formatTime(unix int64) string {
	return time.Unix(unix, 0).UTC().Format("2006-01-02 15:04")
}

// relTime formats a Unix timestamp as a relative phrase ("3 hours ago").
func relTime(unix int64) string {
	return humanize.Time(time.Unix(unix, 0))
}

// traceLabel maps a trace type to its display label.
func traceLabel(traceType string) string {
	switch traceType {
	case workspace.TraceRestoration:
		return "restoration"
	case workspace.TraceToolCall:
		return "tool call"
	default:
		return strings.ReplaceAll(traceType, "_", " ")
	}
}
