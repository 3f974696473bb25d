package snapshot

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/loam-mem/loam/internal/memory"
	"github.com/loam-mem/loam/internal/workspace"
)

// RestoredContext is the bundle handed back to a caller resuming work: a
// human-readable narrative plus capped raw lists.
type RestoredContext struct {
	// Summary is the narrative rendering of the snapshot
	Summary string `json:"summary"`

	// Age is the snapshot's age in coarse buckets ("2 days ago",
	// "3 hours ago", "recently"); readability over precision
	Age string `json:"age"`

	ActiveTask          string   `json:"activeTask,omitempty"`
	ConversationContext string   `json:"conversationContext,omitempty"`
	ActiveFiles         []string `json:"activeFiles,omitempty"`
	NextSteps           []string `json:"nextSteps,omitempty"`
	RecentTraces        []string `json:"recentTraces,omitempty"`
	Reasoning           string   `json:"reasoning,omitempty"`
}

// contextCaps bounds the restored-context lists.
type contextCaps struct {
	activeFiles  int
	recentTraces int
	previewChars int
}

// buildRestoredContext derives the restoration bundle from a state record,
// the workspace name (may be empty when the lookup degraded), and the
// original session's traces (may be nil when the fetch degraded).
func buildRestoredContext(record *memory.StateRecord, workspaceName string, traces []memory.TraceRecord, now int64, caps contextCaps) RestoredContext {
	snap := record.Snapshot

	rc := RestoredContext{
		Age:                 formatAge(record.Created, now),
		ActiveTask:          snap.ActiveTask,
		ConversationContext: snap.ConversationContext,
		Reasoning:           snap.Reasoning,
		NextSteps:           snap.NextSteps,
	}

	rc.ActiveFiles = snap.ActiveFiles
	if len(rc.ActiveFiles) > caps.activeFiles {
		rc.ActiveFiles = rc.ActiveFiles[:caps.activeFiles]
	}

	// Prefer the live session traces over the ones frozen at save time.
	if len(traces) > 0 {
		for i := len(traces) - 1; i >= 0 && len(rc.RecentTraces) < caps.recentTraces; i-- {
			rc.RecentTraces = append(rc.RecentTraces,
				truncate(formatTraceLine(traces[i].MemoryTrace), caps.previewChars))
		}
	} else {
		for _, line := range snap.RecentTraces {
			if len(rc.RecentTraces) >= caps.recentTraces {
				break
			}
			rc.RecentTraces = append(rc.RecentTraces, truncate(line, caps.previewChars))
		}
	}

	rc.Summary = narrative(record, workspaceName, rc)
	return rc
}

// minimalContext is the degradation fallback: a restore attempt should
// always return something usable.
func minimalContext(record *memory.StateRecord, now int64) RestoredContext {
	return RestoredContext{
		Summary: fmt.Sprintf("Restored state %q (saved %s). Full context was not available.",
			record.Name, formatAge(record.Created, now)),
		Age:        formatAge(record.Created, now),
		ActiveTask: record.Snapshot.ActiveTask,
	}
}

// narrative renders the one-paragraph summary shown to the resuming caller.
func narrative(record *memory.StateRecord, workspaceName string, rc RestoredContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Restored state %q (saved %s)", record.Name, rc.Age)
	if workspaceName != "" {
		fmt.Fprintf(&b, " in workspace %q", workspaceName)
	}
	b.WriteString(".")

	if rc.ActiveTask != "" {
		fmt.Fprintf(&b, " Active task: %s.", rc.ActiveTask)
	}
	if rc.ConversationContext != "" {
		fmt.Fprintf(&b, " Conversation: %s.", truncate(rc.ConversationContext, 200))
	}

	var counts []string
	if n := len(rc.ActiveFiles); n > 0 {
		counts = append(counts, fmt.Sprintf("%d active %s", n, plural(n, "file")))
	}
	if n := len(rc.NextSteps); n > 0 {
		counts = append(counts, fmt.Sprintf("%d next %s", n, plural(n, "step")))
	}
	if n := len(rc.RecentTraces); n > 0 {
		counts = append(counts, fmt.Sprintf("%d recent %s", n, plural(n, "trace")))
	}
	if len(counts) > 0 {
		fmt.Fprintf(&b, " Carrying %s.", strings.Join(counts, ", "))
	}
	return b.String()
}

// formatTraceLine renders a trace for preview lists.
func formatTraceLine(tr workspace.MemoryTrace) string {
	return fmt.Sprintf("[%s] %s", tr.Type, tr.Content)
}

// formatAge renders age in day, then hour, then "recently" buckets.
func formatAge(created, now int64) string {
	elapsed := now - created
	switch {
	case elapsed >= 86400:
		days := elapsed / 86400
		return fmt.Sprintf("%d %s ago", days, plural(int(days), "day"))
	case elapsed >= 3600:
		hours := elapsed / 3600
		return fmt.Sprintf("%d %s ago", hours, plural(int(hours), "hour"))
	default:
		return "recently"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}

// truncate cuts s to at most max runes, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
