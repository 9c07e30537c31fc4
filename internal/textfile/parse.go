// Package textfile is the text collaborator: it parses markdown task
// lines into signatures, watches the task file for edits, and writes
// remote changes back without clobbering unsynced local intent.
package textfile

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/taskmirror/taskmirror/internal/task"
)

// Line is one parsed markdown task line.
type Line struct {
	// ID is the task id carried by a trailing ^id anchor, empty for a
	// line that has never been synced.
	ID          string
	Content     string
	IsCompleted bool
	// ProjectName is the raw #tag; resolving it to a project id is the
	// document's job, since only the store knows the projects.
	ProjectName string
	DueDate     string
}

var (
	taskLineRe = regexp.MustCompile(`^(\s*)[-*] \[([ xX])\]\s+(.*)$`)
	anchorRe   = regexp.MustCompile(`\s*\^(\S+)\s*$`)
	projectRe  = regexp.MustCompile(`\s*#([^\s#]+)`)
	dueRe      = regexp.MustCompile(`\s*📅\s*(\d{4}-\d{2}-\d{2})`)
)

// ParseLine parses one line of the task file. Returns false when the
// line is not a task line (prose, headings, blanks). Malformed fields
// inside a task line are dropped rather than failing the line.
func ParseLine(raw string) (Line, bool) {
	m := taskLineRe.FindStringSubmatch(raw)
	if m == nil {
		return Line{}, false
	}

	var ln Line
	ln.IsCompleted = m[2] == "x" || m[2] == "X"
	rest := m[3]

	if am := anchorRe.FindStringSubmatch(rest); am != nil {
		ln.ID = am[1]
		rest = anchorRe.ReplaceAllString(rest, "")
	}
	if dm := dueRe.FindStringSubmatch(rest); dm != nil {
		ln.DueDate = task.NormalizeDueDate(dm[1])
		rest = dueRe.ReplaceAllString(rest, " ")
	}
	if pm := projectRe.FindStringSubmatch(rest); pm != nil {
		ln.ProjectName = pm[1]
		rest = projectRe.ReplaceAllString(rest, " ")
	}

	ln.Content = strings.Join(strings.Fields(rest), " ")
	return ln, true
}

// RenderLine formats a task as a markdown line. projectName may be
// empty for inbox tasks.
func RenderLine(content string, isCompleted bool, dueDate, projectName, id string) string {
	var b strings.Builder
	if isCompleted {
		b.WriteString("- [x] ")
	} else {
		b.WriteString("- [ ] ")
	}
	b.WriteString(content)
	if dueDate != "" {
		fmt.Fprintf(&b, " 📅%s", dueDate)
	}
	if projectName != "" {
		fmt.Fprintf(&b, " #%s", projectName)
	}
	if id != "" {
		fmt.Fprintf(&b, " ^%s", id)
	}
	return b.String()
}
