package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskmirror/taskmirror/internal/config"
	"github.com/taskmirror/taskmirror/internal/db"
	"github.com/taskmirror/taskmirror/internal/engine"
	"github.com/taskmirror/taskmirror/internal/queue"
	"github.com/taskmirror/taskmirror/internal/reconcile"
	"github.com/taskmirror/taskmirror/internal/remote"
	"github.com/taskmirror/taskmirror/internal/store"
	"github.com/taskmirror/taskmirror/internal/textfile"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tm",
	Short: "Mirror a markdown task list against a remote task service",
	Long: `tm keeps a markdown task file and a remote task service in sync.

Local edits to the file queue as idempotent commands and flush on the
next sync; remote changes pull back into the file, deferring to any
unsynced local edit. State persists in a local SQLite database, so
pending work survives restarts and offline periods.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default "+config.DefaultPath()+")")
}

// app wires the engine together for one command invocation.
type app struct {
	cfg     *config.Config
	db      *db.DB
	store   *store.Store
	queue   *queue.Manager
	rec     *reconcile.Reconciler
	engine  *engine.Engine
	doc     *textfile.Document
	emitter *engine.Emitter
	logger  *log.Logger
}

// newApp loads config, opens the state database, and builds the
// component stack. logOut overrides the log destination; nil means
// stderr for daemon-ish commands and discard for one-shot ones.
func newApp(logOut io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if logOut == nil {
		logOut = io.Discard
	}
	logger := log.New(logOut, "[tm] ", log.LstdFlags)

	database, err := db.Open(cfg.State.Path)
	if err != nil {
		return nil, err
	}

	snap, err := database.Load()
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	st := store.New()
	st.Restore(snap)

	qm := queue.New(st, logger)
	rec := reconcile.New(st, qm, logger)
	emitter := &engine.Emitter{}

	client := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Token, logger)
	adapter := remote.NewAdapter(client, st, qm, emitter, logger)

	eng := engine.New(st, adapter, database, emitter, engine.Options{
		FilterRetention: cfg.Sync.FilterRetention(),
		MaxFilters:      cfg.Sync.MaxFilters,
	}, logger)

	a := &app{
		cfg:     cfg,
		db:      database,
		store:   st,
		queue:   qm,
		rec:     rec,
		engine:  eng,
		emitter: emitter,
		logger:  logger,
	}

	if cfg.Text.File != "" {
		a.doc = textfile.NewDocument(cfg.Text.File, st, rec, logger)
		emitter.Subscribe(a.doc)
	}
	return a, nil
}

// save persists the store if any command mutated it.
func (a *app) save() error {
	if !a.store.Dirty() {
		return nil
	}
	if err := a.db.Save(a.store.Snapshot()); err != nil {
		return fmt.Errorf("failed to persist state: %w", err)
	}
	a.store.MarkClean()
	return nil
}

func (a *app) close() {
	if err := a.save(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	if err := a.db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

// projectID resolves a project name argument, accepting an id as-is.
func (a *app) projectID(nameOrID string) string {
	if nameOrID == "" {
		return ""
	}
	if _, ok := a.store.Project(nameOrID); ok {
		return nameOrID
	}
	if id, ok := a.store.ProjectIDByName(nameOrID); ok {
		return id
	}
	return ""
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%s ago", time.Since(t).Round(time.Second))
}
