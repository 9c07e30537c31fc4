package textfile

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/taskmirror/taskmirror/internal/reconcile"
	"github.com/taskmirror/taskmirror/internal/store"
	"github.com/taskmirror/taskmirror/internal/task"
)

// Document binds one markdown task file to the sync engine. All scans
// and write-backs for the file are serialized on its mutex, so a sync
// cycle and an editor-triggered scan can never interleave their writes.
//
// Document implements the engine observer interface: Remapped rewrites
// id anchors in place, Refresh applies pending remote state.
type Document struct {
	path   string
	store  *store.Store
	rec    *reconcile.Reconciler
	logger *log.Logger

	mu sync.Mutex
}

// NewDocument creates a document bound to the task file at path.
// If logger is nil, a default logger writing to stderr is used.
func NewDocument(path string, st *store.Store, rec *reconcile.Reconciler, logger *log.Logger) *Document {
	if logger == nil {
		logger = log.New(os.Stderr, "[textfile] ", log.LstdFlags)
	}
	return &Document{path: path, store: st, rec: rec, logger: logger}
}

// Path returns the document's file path.
func (d *Document) Path() string {
	return d.path
}

// Scan parses the file and feeds every task line to the reconciler.
// Lines without an id anchor are new local tasks: they get a temporary
// id written back immediately so later scans recognize them. A missing
// file is not an error; there is simply nothing to observe.
func (d *Document) Scan() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	lines, err := d.read()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	changed := false
	for i, raw := range lines {
		ln, ok := ParseLine(raw)
		if !ok {
			continue
		}
		sig := d.signature(ln)

		if ln.ID == "" {
			localID := d.rec.CreateFromText(sig)
			lines[i] = RenderLine(ln.Content, ln.IsCompleted, ln.DueDate, ln.ProjectName, localID)
			changed = true
			d.logger.Printf("New task line anchored as %s", localID)
			continue
		}
		d.rec.ObserveLine(ln.ID, sig)
	}

	if changed {
		return d.write(lines)
	}
	return nil
}

// ApplyRemote writes remote task state into the file for every
// anchored line the reconciler allows, and retires lines whose tasks
// the remote has deleted. Canonical ids also replace stale temporary
// anchors here.
func (d *Document) ApplyRemote() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	lines, err := d.read()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	changed := false
	out := lines[:0]
	for _, raw := range lines {
		ln, ok := ParseLine(raw)
		if !ok || ln.ID == "" {
			out = append(out, raw)
			continue
		}

		canonical := d.store.Resolve(ln.ID)
		t, found := d.store.Task(canonical)
		if !found {
			out = append(out, raw)
			continue
		}

		if t.IsDeleted {
			d.rec.Forget(canonical)
			changed = true
			d.logger.Printf("Dropped line for remotely deleted task %s", canonical)
			continue
		}

		live := d.signature(ln)
		remote := t.Signature()
		if live.Equal(remote) && ln.ID == canonical {
			out = append(out, raw)
			continue
		}
		if !d.rec.ShouldApplyRemote(canonical, live) {
			// Unsynced local intent; the remote value waits for the
			// queue to drain.
			out = append(out, raw)
			continue
		}

		out = append(out, RenderLine(remote.Content, remote.IsCompleted, remote.DueDate,
			d.projectName(remote.ProjectID), canonical))
		d.rec.RemoteApplied(canonical, remote)
		changed = true
	}

	if changed {
		return d.write(out)
	}
	return nil
}

// Remapped rewrites a temporary id anchor to its canonical id.
func (d *Document) Remapped(tempID, canonicalID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	lines, err := d.read()
	if err != nil {
		if !os.IsNotExist(err) {
			d.logger.Printf("Failed to read %s for id rewrite: %v", d.path, err)
		}
		return
	}

	needle := "^" + tempID
	changed := false
	for i, raw := range lines {
		if strings.Contains(raw, needle) {
			lines[i] = strings.Replace(raw, needle, "^"+canonicalID, 1)
			changed = true
		}
	}
	if !changed {
		return
	}
	if err := d.write(lines); err != nil {
		d.logger.Printf("Failed to rewrite id %s -> %s: %v", tempID, canonicalID, err)
	}
}

// Refresh applies remote state after a sync cycle.
func (d *Document) Refresh() {
	if err := d.ApplyRemote(); err != nil {
		d.logger.Printf("Failed to apply remote state to %s: %v", d.path, err)
	}
}

// signature resolves a parsed line to a comparable task signature,
// mapping the #project tag to a project id through the store. An
// unknown project name resolves to empty; the reconciler will not
// queue a move for it.
func (d *Document) signature(ln Line) task.Signature {
	sig := task.Signature{
		Content:     ln.Content,
		IsCompleted: ln.IsCompleted,
		DueDate:     ln.DueDate,
	}
	if ln.ProjectName != "" {
		if id, ok := d.store.ProjectIDByName(ln.ProjectName); ok {
			sig.ProjectID = id
		} else if id, ok := d.store.ProjectIDByName(strings.ReplaceAll(ln.ProjectName, "-", " ")); ok {
			// Rendered tags dash-join multi-word project names.
			sig.ProjectID = id
		}
	}
	return sig
}

func (d *Document) projectName(projectID string) string {
	if projectID == "" {
		return ""
	}
	p, ok := d.store.Project(projectID)
	if !ok {
		return ""
	}
	// Spaces would break the #tag on re-parse.
	return strings.ReplaceAll(p.Name, " ", "-")
}

func (d *Document) read() ([]string, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return nil, err
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n"), nil
}

func (d *Document) write(lines []string) error {
	data := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(d.path, []byte(data), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", d.path, err)
	}
	return nil
}
