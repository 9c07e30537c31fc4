// Package testutil provides testing utilities, most notably an
// in-memory implementation of the remote sync service.
package testutil

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/taskmirror/taskmirror/internal/remote"
)

type fakeItem struct {
	remote.Item
	seq    int
	origin string // idempotency key of the create that made it
}

type fakeProject struct {
	remote.Project
	seq int
}

// FakeRemote is an in-memory remote.Service. It implements the
// incremental protocol faithfully enough for engine tests: sequence
// numbers double as sync cursors, commands are deduplicated by
// idempotency key, and temp-id mappings are issued for creates.
type FakeRemote struct {
	mu sync.Mutex

	items    map[string]*fakeItem
	projects map[string]*fakeProject
	nextID   int
	seq      int

	seenKeys map[string]bool

	// Applied counts how many times each idempotency key actually
	// mutated state. A retried command must leave its count at 1.
	Applied map[string]int

	syncCalls int

	// Error injection.
	TransportErr error                           // fail the whole request
	FailByType   map[string]remote.CommandStatus // force a status per command type
	SuppressEcho bool                            // omit entities from push responses

	// Gate, if set, is invoked at the start of every Sync before any
	// state is touched. Tests use it to hold a request open.
	Gate func()
}

// NewFakeRemote creates an empty fake service.
func NewFakeRemote() *FakeRemote {
	return &FakeRemote{
		items:      make(map[string]*fakeItem),
		projects:   make(map[string]*fakeProject),
		nextID:     41, // first assigned id is 42
		seenKeys:   make(map[string]bool),
		Applied:    make(map[string]int),
		FailByType: make(map[string]remote.CommandStatus),
	}
}

// AddProject seeds a project server-side.
func (f *FakeRemote) AddProject(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.projects[id] = &fakeProject{
		Project: remote.Project{ID: id, Name: name},
		seq:     f.seq,
	}
}

// AddItem seeds an item server-side and returns its id.
func (f *FakeRemote) AddItem(content, projectID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addItemLocked(content, projectID, "").ID
}

// DeleteItem marks an item deleted server-side (tombstone).
func (f *FakeRemote) DeleteItem(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if it, ok := f.items[id]; ok {
		f.seq++
		it.IsDeleted = true
		it.seq = f.seq
	}
}

// SetCompleted flips an item's completion state server-side.
func (f *FakeRemote) SetCompleted(id string, completed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if it, ok := f.items[id]; ok {
		f.seq++
		it.IsCompleted = completed
		it.seq = f.seq
	}
}

// Item returns a copy of the item with the given id.
func (f *FakeRemote) Item(id string) (remote.Item, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[id]
	if !ok {
		return remote.Item{}, false
	}
	return it.Item, true
}

func (f *FakeRemote) addItemLocked(content, projectID, dueDate string) *fakeItem {
	f.nextID++
	f.seq++
	it := &fakeItem{
		Item: remote.Item{
			ID:        strconv.Itoa(f.nextID),
			Content:   content,
			ProjectID: projectID,
			DueDate:   dueDate,
		},
		seq: f.seq,
	}
	f.items[it.ID] = it
	return it
}

// SyncCalls reports how many Sync requests have been received.
func (f *FakeRemote) SyncCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncCalls
}

// Sync implements remote.Service.
func (f *FakeRemote) Sync(_ context.Context, req *remote.Request) (*remote.Response, error) {
	f.mu.Lock()
	f.syncCalls++
	gate := f.Gate
	f.mu.Unlock()
	if gate != nil {
		gate()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.TransportErr != nil {
		return nil, f.TransportErr
	}

	since := 0
	if req.Cursor != "" && req.Cursor != remote.InitialCursor {
		since, _ = strconv.Atoi(req.Cursor)
	}

	resp := &remote.Response{
		FullSync:      since == 0,
		TempIDMapping: make(map[string]string),
		CommandStatus: make(map[string]remote.CommandStatus),
	}

	for _, cmd := range req.Commands {
		resp.CommandStatus[cmd.IdempotencyKey] = f.applyCommand(cmd, resp)
	}

	if !f.SuppressEcho {
		f.deliver(req, since, resp)
	}

	resp.NewCursor = strconv.Itoa(f.seq)
	return resp, nil
}

func (f *FakeRemote) applyCommand(cmd remote.Command, resp *remote.Response) remote.CommandStatus {
	if st, ok := f.FailByType[cmd.Type]; ok {
		return st
	}
	if f.seenKeys[cmd.IdempotencyKey] {
		// Idempotency-key dedup: a retransmission reports success
		// without applying the effect again, but the affected entity
		// is still echoed so the caller can observe its current state.
		if cmd.Type == remote.CmdItemAdd {
			if id, ok := f.tempMappingFor(cmd); ok {
				resp.TempIDMapping[cmd.TempID] = id
			}
		} else if it, ok := f.items[cmd.Args.ID]; ok {
			f.seq++
			it.seq = f.seq
		}
		return remote.CommandStatus{OK: true}
	}

	switch cmd.Type {
	case remote.CmdItemAdd:
		it := f.addItemLocked(cmd.Args.Content, cmd.Args.ProjectID, cmd.Args.DueDate)
		it.origin = cmd.IdempotencyKey
		if cmd.TempID != "" {
			resp.TempIDMapping[cmd.TempID] = it.ID
		}

	case remote.CmdItemUpdate:
		it, ok := f.items[cmd.Args.ID]
		if !ok || it.IsDeleted {
			return remote.CommandStatus{Error: "item not found", ErrorCode: 404}
		}
		f.seq++
		it.Content = cmd.Args.Content
		it.DueDate = cmd.Args.DueDate
		it.seq = f.seq

	case remote.CmdItemMove:
		it, ok := f.items[cmd.Args.ID]
		if !ok || it.IsDeleted {
			return remote.CommandStatus{Error: "item not found", ErrorCode: 404}
		}
		f.seq++
		it.ProjectID = cmd.Args.ProjectID
		it.seq = f.seq

	case remote.CmdItemComplete, remote.CmdItemUncomplete:
		it, ok := f.items[cmd.Args.ID]
		if !ok || it.IsDeleted {
			return remote.CommandStatus{Error: "item not found", ErrorCode: 404}
		}
		f.seq++
		it.IsCompleted = cmd.Type == remote.CmdItemComplete
		it.seq = f.seq

	default:
		return remote.CommandStatus{Error: "unknown command type", ErrorCode: 400}
	}

	f.seenKeys[cmd.IdempotencyKey] = true
	f.Applied[cmd.IdempotencyKey]++
	return remote.CommandStatus{OK: true}
}

// tempMappingFor re-derives the mapping for a deduplicated create.
func (f *FakeRemote) tempMappingFor(cmd remote.Command) (string, bool) {
	for _, it := range f.items {
		if it.origin == cmd.IdempotencyKey {
			return it.ID, true
		}
	}
	return "", false
}

func (f *FakeRemote) deliver(req *remote.Request, since int, resp *remote.Response) {
	wantItems, wantProjects := false, false
	for _, kind := range req.ResourceKinds {
		switch kind {
		case remote.ResourceItems:
			wantItems = true
		case remote.ResourceProjects:
			wantProjects = true
		}
	}

	if wantProjects {
		for _, p := range f.projects {
			if p.seq > since {
				resp.Projects = append(resp.Projects, p.Project)
			}
		}
		sort.Slice(resp.Projects, func(i, j int) bool { return resp.Projects[i].ID < resp.Projects[j].ID })
	}

	if wantItems {
		if req.Filter != "" {
			// Filter queries are snapshots of matching open items; the
			// fake treats every open item as a match.
			for _, it := range f.items {
				if !it.IsDeleted && !it.IsCompleted {
					resp.Items = append(resp.Items, it.Item)
				}
			}
		} else {
			for _, it := range f.items {
				if it.seq > since {
					resp.Items = append(resp.Items, it.Item)
				}
			}
		}
		sort.Slice(resp.Items, func(i, j int) bool { return resp.Items[i].ID < resp.Items[j].ID })
	}
}
