package textfile

import (
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/taskmirror/taskmirror/internal/task"
)

// ParseDueDate turns a due-date argument into the canonical
// YYYY-MM-DD form. Exact dates pass through; anything else is tried as
// a natural-language phrase ("tomorrow", "next friday"). Unparseable
// input yields the empty string.
func ParseDueDate(s string, now time.Time) string {
	if d := task.NormalizeDueDate(s); d != "" {
		return d
	}
	if s == "" {
		return ""
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(s, now)
	if err != nil || r == nil {
		return ""
	}
	return r.Time.Format(task.DueDateLayout)
}
