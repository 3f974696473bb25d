package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/loam-mem/loam/internal/errors"
	"github.com/loam-mem/loam/internal/memory"
	"github.com/loam-mem/loam/internal/snapshot"
	"github.com/loam-mem/loam/internal/web"
	"github.com/loam-mem/loam/internal/workspace"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(svc *services) *cli.App {
	app := &cli.App{
		Name:    "loam",
		Usage:   "Durable structured memory for editing assistants",
		Version: Version,
		Commands: []*cli.Command{
			workspaceCmd(svc),
			sessionCmd(svc),
			traceCmd(svc),
			stateCmd(svc),
			webCmd(svc),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// workspaceCmd groups workspace management commands.
func workspaceCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "workspace",
		Usage: "Manage workspaces",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a workspace bound to a vault folder",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true, Usage: "Workspace name"},
					&cli.StringFlag{Name: "root", Aliases: []string{"r"}, Required: true, Usage: "Vault root folder"},
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Free-form description"},
					&cli.StringFlag{Name: "purpose", Usage: "What the workspace is for"},
					&cli.StringFlag{Name: "goal", Usage: "Current goal"},
					&cli.StringFlag{Name: "key-files", Usage: "Comma-separated key file paths"},
				},
				Action: func(c *cli.Context) error {
					out, err := svc.ws.Create(c.Context, workspace.CreateInput{
						Name:        c.String("name"),
						Description: c.String("description"),
						RootFolder:  c.String("root"),
						Context: workspace.Context{
							Purpose:     c.String("purpose"),
							CurrentGoal: c.String("goal"),
							KeyFiles:    parseList(c.String("key-files")),
						},
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(out)
				},
			},
			{
				Name:      "get",
				Usage:     "Fetch a workspace by id",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return outputError(errors.NewInvalidRequest("workspace id is required"))
					}
					out, err := svc.ws.Get(c.Context, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(out)
				},
			},
			{
				Name:      "update",
				Usage:     "Update workspace fields",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "New name"},
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "New description"},
					&cli.StringFlag{Name: "root", Aliases: []string{"r"}, Usage: "New root folder"},
					&cli.BoolFlag{Name: "active", Usage: "Mark workspace active"},
					&cli.BoolFlag{Name: "inactive", Usage: "Mark workspace inactive"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return outputError(errors.NewInvalidRequest("workspace id is required"))
					}
					input := workspace.UpdateInput{}
					if c.IsSet("name") {
						v := c.String("name")
						input.Name = &v
					}
					if c.IsSet("description") {
						v := c.String("description")
						input.Description = &v
					}
					if c.IsSet("root") {
						v := c.String("root")
						input.RootFolder = &v
					}
					if c.Bool("active") {
						v := true
						input.IsActive = &v
					}
					if c.Bool("inactive") {
						v := false
						input.IsActive = &v
					}
					out, err := svc.ws.Update(c.Context, c.Args().First(), input)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(out)
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a workspace and everything nested under it",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return outputError(errors.NewInvalidRequest("workspace id is required"))
					}
					id := c.Args().First()
					if err := svc.ws.Delete(c.Context, id); err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]any{"deleted": true, "id": id})
				},
			},
			{
				Name:  "list",
				Usage: "List workspaces",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "sort", Value: "lastAccessed", Usage: "Sort key: name|created|lastAccessed"},
					&cli.StringFlag{Name: "order", Value: "desc", Usage: "Sort order: asc|desc"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum items to return"},
				},
				Action: func(c *cli.Context) error {
					out, err := svc.ws.List(c.Context, workspace.ListInput{
						SortBy:    c.String("sort"),
						SortOrder: c.String("order"),
						Limit:     c.Int("limit"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(out)
				},
			},
			{
				Name:      "best",
				Usage:     "Find the workspace whose root folder best matches a file path",
				ArgsUsage: "<path>",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return outputError(errors.NewInvalidRequest("file path is required"))
					}
					out, err := svc.ws.BestForFile(c.Context, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(out)
				},
			},
		},
	}
}

// sessionCmd groups session management commands.
func sessionCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Manage sessions inside a workspace",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Start a new session",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Required: true, Usage: "Workspace id"},
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Session name (defaults to a timestamped name)"},
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Free-form description"},
				},
				Action: func(c *cli.Context) error {
					out, err := svc.mem.CreateSession(c.Context, c.String("workspace"), memory.CreateSessionInput{
						Name:        c.String("name"),
						Description: c.String("description"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(out)
				},
			},
			{
				Name:      "get",
				Usage:     "Fetch a session by id",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Usage: "Workspace id (searched across workspaces when omitted)"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return outputError(errors.NewInvalidRequest("session id is required"))
					}
					out, err := svc.mem.GetSession(c.Context, c.String("workspace"), c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(out)
				},
			},
			{
				Name:  "list",
				Usage: "List sessions in a workspace",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Required: true, Usage: "Workspace id"},
				},
				Action: func(c *cli.Context) error {
					w, err := svc.ws.Get(c.Context, c.String("workspace"))
					if err != nil {
						return outputError(err)
					}
					sessions := make([]*workspace.Session, 0, len(w.Sessions))
					for _, s := range w.Sessions {
						sessions = append(sessions, s)
					}
					sort.Slice(sessions, func(i, j int) bool {
						if sessions[i].StartTime != sessions[j].StartTime {
							return sessions[i].StartTime > sessions[j].StartTime
						}
						return sessions[i].ID > sessions[j].ID
					})
					return outputJSON(sessions)
				},
			},
			{
				Name:      "update",
				Usage:     "Update session fields",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Usage: "Workspace id (searched across workspaces when omitted)"},
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "New name"},
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "New description"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return outputError(errors.NewInvalidRequest("session id is required"))
					}
					input := memory.UpdateSessionInput{}
					if c.IsSet("name") {
						v := c.String("name")
						input.Name = &v
					}
					if c.IsSet("description") {
						v := c.String("description")
						input.Description = &v
					}
					out, err := svc.mem.UpdateSession(c.Context, c.String("workspace"), c.Args().First(), input)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(out)
				},
			},
			{
				Name:      "end",
				Usage:     "Close a session",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Usage: "Workspace id (searched across workspaces when omitted)"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return outputError(errors.NewInvalidRequest("session id is required"))
					}
					out, err := svc.mem.EndSession(c.Context, c.String("workspace"), c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(out)
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a session (refuses when it holds traces or states unless cascaded)",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Usage: "Workspace id (searched across workspaces when omitted)"},
					&cli.BoolFlag{Name: "cascade-traces", Usage: "Also delete the session's traces"},
					&cli.BoolFlag{Name: "cascade-states", Usage: "Also delete the session's saved states"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return outputError(errors.NewInvalidRequest("session id is required"))
					}
					id := c.Args().First()
					err := svc.mem.DeleteSession(c.Context, memory.DeleteSessionInput{
						WorkspaceID:   c.String("workspace"),
						SessionID:     id,
						CascadeTraces: c.Bool("cascade-traces"),
						CascadeStates: c.Bool("cascade-states"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]any{"deleted": true, "id": id})
				},
			},
		},
	}
}

// traceCmd groups memory-trace commands.
func traceCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "trace",
		Usage: "Record and inspect memory traces",
		Subcommands: []*cli.Command{
			{
				Name:  "record",
				Usage: "Append a trace to a session",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Required: true, Usage: "Workspace id"},
					&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Session id (defaults to the default session)"},
					&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Required: true, Usage: "Trace type: question|research|tool_call|..."},
					&cli.StringFlag{Name: "content", Aliases: []string{"c"}, Required: true, Usage: "Trace content"},
					&cli.Float64Flag{Name: "importance", Usage: "Importance in [0,1]"},
					&cli.StringFlag{Name: "tags", Usage: "Comma-separated tags"},
					&cli.StringFlag{Name: "files", Usage: "Comma-separated related file paths"},
				},
				Action: func(c *cli.Context) error {
					input := memory.TraceInput{
						WorkspaceID: c.String("workspace"),
						SessionID:   c.String("session"),
						Type:        c.String("type"),
						Content:     c.String("content"),
						Tags:        parseList(c.String("tags")),
						Metadata: workspace.TraceMetadata{
							RelatedFiles: parseList(c.String("files")),
						},
					}
					if c.IsSet("importance") {
						v := c.Float64("importance")
						input.Importance = &v
					}
					out, err := svc.mem.RecordTrace(c.Context, input)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(out)
				},
			},
			{
				Name:  "list",
				Usage: "List traces in a session or across a workspace",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Required: true, Usage: "Workspace id"},
					&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Session id (all sessions when omitted)"},
				},
				Action: func(c *cli.Context) error {
					out, err := svc.mem.ListTraces(c.Context, c.String("workspace"), c.String("session"))
					if err != nil {
						return outputError(err)
					}
					return outputJSON(out)
				},
			},
			{
				Name:      "search",
				Usage:     "Search traces by substring over content and type",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Required: true, Usage: "Workspace id"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum results (default 20, max 100)"},
				},
				Action: func(c *cli.Context) error {
					out, err := svc.mem.SearchTraces(c.Context, memory.SearchTracesInput{
						WorkspaceID: c.String("workspace"),
						Query:       c.Args().First(),
						Limit:       c.Int("limit"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(out)
				},
			},
		},
	}
}

// stateCmd groups save/restore commands.
func stateCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "state",
		Usage: "Save and restore task snapshots",
		Subcommands: []*cli.Command{
			{
				Name:  "save",
				Usage: "Freeze the current task context into a named snapshot",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Required: true, Usage: "Workspace id"},
					&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Required: true, Usage: "Session id"},
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true, Usage: "Snapshot name"},
					&cli.StringFlag{Name: "task", Usage: "Active task description"},
					&cli.StringFlag{Name: "context", Usage: "Conversation context"},
					&cli.StringFlag{Name: "files", Usage: "Comma-separated active file paths"},
					&cli.StringFlag{Name: "next", Usage: "Comma-separated next steps"},
					&cli.StringFlag{Name: "reasoning", Usage: "Reasoning behind the pause"},
				},
				Action: func(c *cli.Context) error {
					out, err := svc.eng.SaveState(c.Context, snapshot.SaveInput{
						WorkspaceID:         c.String("workspace"),
						SessionID:           c.String("session"),
						Name:                c.String("name"),
						ActiveTask:          c.String("task"),
						ConversationContext: c.String("context"),
						ActiveFiles:         parseList(c.String("files")),
						NextSteps:           parseList(c.String("next")),
						Reasoning:           c.String("reasoning"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(out)
				},
			},
			{
				Name:      "load",
				Usage:     "Restore a snapshot by id or name",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Snapshot name (alternative to the positional id)"},
					&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Usage: "Scope a by-name lookup to a workspace"},
					&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Scope a by-name lookup to a session"},
					&cli.BoolFlag{Name: "new-session", Usage: "Continue in a fresh session instead of the original"},
				},
				Action: func(c *cli.Context) error {
					ref := memory.StateRef{Name: c.String("name")}
					if c.NArg() > 0 {
						ref = memory.StateRef{ID: c.Args().First()}
					}
					out, err := svc.eng.LoadState(c.Context, ref, snapshot.LoadOptions{
						WorkspaceID: c.String("workspace"),
						SessionID:   c.String("session"),
						NewSession:  c.Bool("new-session"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(out)
				},
			},
			{
				Name:  "list",
				Usage: "List saved snapshots",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Usage: "Workspace id (all when omitted)"},
					&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Session id (all when omitted)"},
				},
				Action: func(c *cli.Context) error {
					out, err := svc.mem.ListStates(c.Context, c.String("workspace"), c.String("session"))
					if err != nil {
						return outputError(err)
					}
					return outputJSON(out)
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a saved snapshot by id or name",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Snapshot name (alternative to the positional id)"},
					&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Usage: "Scope a by-name lookup to a workspace"},
					&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Scope a by-name lookup to a session"},
				},
				Action: func(c *cli.Context) error {
					ref := memory.StateRef{Name: c.String("name")}
					if c.NArg() > 0 {
						ref = memory.StateRef{ID: c.Args().First()}
					}
					err := svc.mem.DeleteState(c.Context, c.String("workspace"), c.String("session"), ref)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]any{"deleted": true, "ref": ref.String()})
				},
			},
		},
	}
}

// webCmd starts the local browse UI.
func webCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "web",
		Usage: "Start the local browse UI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Bind address (overrides config)"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Port (overrides config)"},
		},
		Action: func(c *cli.Context) error {
			bind := svc.cfg.WebBind
			if c.IsSet("bind") {
				bind = c.String("bind")
			}
			port := svc.cfg.WebPort
			if c.IsSet("port") {
				port = c.Int("port")
			}
			srv := web.NewServer(svc.ws, svc.mem, Version, bind, port)
			return web.Run(srv)
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if lErr, ok := err.(*errors.LoamError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", lErr.Code, lErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// parseList splits a comma-separated string into a slice.
func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
