// Package vdirsync keeps an in-memory view of vdir calendar collections in
// step with the filesystem.
//
// An Engine loads every enabled collection once, then watches each
// collection directory and folds add/change/unlink notifications into an
// event index (keyed "collection:filename") and a metadata index (keyed by
// collection name). All index mutations happen on one loop goroutine per
// session; readers get copies.
package vdirsync

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"vdircal/internal/ics"
	appLog "vdircal/internal/log"
	"vdircal/internal/model"
	"vdircal/internal/vdir"
)

// State is the lifecycle of one managed collection.
type State int

const (
	StateUnwatched State = iota
	StateLoading
	StateWatching
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnwatched:
		return "unwatched"
	case StateLoading:
		return "loading"
	case StateWatching:
		return "watching"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const changeBuffer = 256

// collection is a managed collection of the current session.
type collection struct {
	cfg   model.VdirCollectionConfig
	state State
}

// session is the loop of one Init..Stop cycle.
type session struct {
	changes chan change
	cancel  context.CancelFunc
	done    chan struct{}
}

// Engine is the live vdir synchronization engine. Construct one per host
// process (or per test) with NewEngine and pass it to consumers.
//
// Init, Load, Stop, Restart and StopCollection must not be called
// concurrently with each other. None of them, nor OnEventsChanged, may be
// called from inside a listener.
type Engine struct {
	settings SettingsFunc
	fs       afero.Fs

	mu          sync.RWMutex
	events      map[string]model.CalendarEvent
	metadata    map[string]model.VdirMetadata
	collections map[string]*collection
	watches     map[string]*collectionWatch
	session     *session

	// notifyMu orders snapshot pushes and subscription replays, so a
	// listener never sees an older snapshot after a newer one.
	notifyMu       sync.Mutex
	eventListeners *listenerSet[[]model.CalendarEvent]
	fileListeners  *listenerSet[model.FileWatcherEvent]
}

// NewEngine creates an idle engine. Nothing is read until Init.
func NewEngine(settings SettingsFunc) *Engine {
	return &Engine{
		settings:       settings,
		fs:             afero.NewOsFs(),
		events:         make(map[string]model.CalendarEvent),
		metadata:       make(map[string]model.VdirMetadata),
		collections:    make(map[string]*collection),
		watches:        make(map[string]*collectionWatch),
		eventListeners: newListenerSet[[]model.CalendarEvent]("events"),
		fileListeners:  newListenerSet[model.FileWatcherEvent]("files"),
	}
}

// EventKey is the event index key of a vdir item.
func EventKey(collection, filePath string) string {
	return collection + ":" + filepath.Base(filePath)
}

// Init tears down any previous session, loads every enabled collection and
// then attaches the watches. It returns only after the initial load is
// complete. Per-collection failures are logged and skipped; only a failure
// to obtain settings is returned, in which case nothing is watched.
func (e *Engine) Init(ctx context.Context) error {
	loaded, settings, err := e.load(ctx)
	if err != nil || !settings.WatchFiles {
		return err
	}

	ignore := compileIgnore(settings.IgnorePattern)
	depth := max(settings.Depth, 0)

	s := e.startSession()

	watching := 0
	for _, col := range loaded {
		cw, err := newCollectionWatch(col, depth, ignore)
		if err != nil {
			appLog.Error("vdir sync: watch failed", err, "collection", col.Name, "path", col.Path)
			e.setState(col.Name, StateStopped)
			continue
		}
		e.mu.Lock()
		e.watches[col.Name] = cw
		e.collections[col.Name].state = StateWatching
		e.mu.Unlock()
		cw.start(s.changes)
		watching++
		appLog.Info("watching vdir collection", "collection", col.Name, "path", col.Path)
	}

	appLog.Info("vdir sync initialized", "collections", watching, "events", len(e.Events()))
	return nil
}

// Load is Init without the watches: every enabled collection is read once
// and left Unwatched. Later filesystem changes are not picked up.
func (e *Engine) Load(ctx context.Context) error {
	loaded, _, err := e.load(ctx)
	if err != nil {
		return err
	}
	for _, col := range loaded {
		e.setState(col.Name, StateUnwatched)
	}
	return nil
}

// load stops the previous session, obtains settings and reads every enabled
// collection. It returns the collections that loaded.
func (e *Engine) load(ctx context.Context) ([]model.VdirCollectionConfig, Settings, error) {
	e.Stop()

	settings, err := e.settings(ctx)
	if err != nil {
		appLog.Error("vdir sync: settings unavailable; not watching", err)
		return nil, settings, fmt.Errorf("vdirsync: obtain settings: %w", err)
	}
	if !settings.WatchFiles {
		appLog.Info("vdir sync: file watching disabled in config")
		return nil, settings, nil
	}

	ignore := compileIgnore(settings.IgnorePattern)
	depth := max(settings.Depth, 0)

	cols := e.register(settings.Collections)

	loaded := make([]model.VdirCollectionConfig, 0, len(cols))
	for _, col := range cols {
		if err := ctx.Err(); err != nil {
			e.Stop()
			return nil, settings, err
		}
		if err := e.loadCollection(col, depth, ignore); err != nil {
			appLog.Error("vdir sync: collection load failed", err, "collection", col.Name, "path", col.Path)
			e.setState(col.Name, StateStopped)
			continue
		}
		loaded = append(loaded, col)
	}
	e.notifyEvents()
	return loaded, settings, nil
}

// register records the enabled collections of a new session with absolute
// paths. Duplicate names keep the first entry.
func (e *Engine) register(configs []model.VdirCollectionConfig) []model.VdirCollectionConfig {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.collections = make(map[string]*collection, len(configs))
	out := make([]model.VdirCollectionConfig, 0, len(configs))
	for _, col := range configs {
		if !col.Enabled {
			continue
		}
		if _, dup := e.collections[col.Name]; dup {
			appLog.Warn("vdir sync: duplicate collection name ignored", "collection", col.Name, "path", col.Path)
			continue
		}
		if abs, err := filepath.Abs(col.Path); err == nil {
			col.Path = abs
		}
		e.collections[col.Name] = &collection{cfg: col, state: StateUnwatched}
		out = append(out, col)
	}
	return out
}

// loadCollection reads metadata and parses every item of one collection.
func (e *Engine) loadCollection(col model.VdirCollectionConfig, depth int, ignore *regexp.Regexp) error {
	e.setState(col.Name, StateLoading)

	files, err := listItems(e.fs, col.Path, depth, ignore)
	if err != nil {
		return err
	}

	meta := vdir.ReadMetadata(e.fs, col.Path)

	parsed := make(map[string]model.CalendarEvent, len(files))
	for _, path := range files {
		if ev, ok := e.parseItem(path, col.Name); ok {
			parsed[EventKey(col.Name, path)] = ev
		}
	}

	e.mu.Lock()
	e.metadata[col.Name] = meta
	maps.Copy(e.events, parsed)
	e.mu.Unlock()

	appLog.Info("vdir collection loaded", "collection", col.Name, "items", len(files), "events", len(parsed))
	return nil
}

// listItems returns the vdir items in root and in subdirectories up to
// depth. Every item file is listed; the ignore pattern, matched against
// paths relative to root, only prunes subdirectories.
func listItems(fsys afero.Fs, root string, depth int, ignore *regexp.Regexp) ([]string, error) {
	return walkItems(fsys, root, "", depth, ignore)
}

func walkItems(fsys afero.Fs, root, rel string, depth int, ignore *regexp.Regexp) ([]string, error) {
	entries, err := afero.ReadDir(fsys, filepath.Join(root, rel))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, ent := range entries {
		entRel := filepath.Join(rel, ent.Name())
		if ent.IsDir() {
			if depth > 0 && !ignore.MatchString(entRel) {
				sub, err := walkItems(fsys, root, entRel, depth-1, ignore)
				if err != nil {
					appLog.Warn("vdir sync: subdirectory unreadable", "path", filepath.Join(root, entRel), "err", err)
					continue
				}
				out = append(out, sub...)
			}
			continue
		}
		if vdir.IsItem(ent.Name()) {
			out = append(out, filepath.Join(root, entRel))
		}
	}
	return out, nil
}

// parseItem gates on the structural check, then returns the first event.
// A file holding several events only contributes its first one.
func (e *Engine) parseItem(path, collection string) (model.CalendarEvent, bool) {
	if !ics.IsValidItem(e.fs, path) {
		appLog.Debug("vdir item failed structural check", "path", path, "collection", collection)
		return model.CalendarEvent{}, false
	}
	events := ics.ParseFile(e.fs, path, collection)
	if len(events) == 0 {
		return model.CalendarEvent{}, false
	}
	return events[0], true
}

func (e *Engine) startSession() *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		changes: make(chan change, changeBuffer),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	e.mu.Lock()
	e.session = s
	e.mu.Unlock()

	go e.loop(ctx, s)
	return s
}

// loop applies changes one at a time; it is the only writer after Init.
func (e *Engine) loop(ctx context.Context, s *session) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-s.changes:
			e.apply(c)
		}
	}
}

// apply forwards c to file listeners and then runs its transition.
func (e *Engine) apply(c change) {
	e.mu.RLock()
	col, ok := e.collections[c.collection]
	active := ok && col.state == StateWatching
	e.mu.RUnlock()
	if !active {
		return
	}

	e.fileListeners.notify(model.FileWatcherEvent{
		Type:       c.typ,
		FilePath:   c.path,
		Collection: c.collection,
	})

	act := transitionFor(classify(c.path), c.typ)
	if act == nil {
		return
	}
	if act(e, c, col.cfg) {
		e.notifyEvents()
	}
}

// Stop closes every watch and clears both indexes. Calling it again is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	watches := e.watches
	e.watches = make(map[string]*collectionWatch)
	s := e.session
	e.session = nil
	e.mu.Unlock()

	var closeErrs []error
	for name, cw := range watches {
		if err := cw.close(); err != nil {
			closeErrs = append(closeErrs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if err := errors.Join(closeErrs...); err != nil {
		appLog.Error("vdir sync: closing watches failed", err)
	}
	if s != nil {
		s.cancel()
		<-s.done
	}

	e.mu.Lock()
	clear(e.events)
	clear(e.metadata)
	for _, col := range e.collections {
		col.state = StateStopped
	}
	e.mu.Unlock()

	if len(watches) > 0 || s != nil {
		appLog.Info("vdir sync stopped", "watches", len(watches))
	}
}

// Restart is Stop followed by Init, used after a configuration change.
func (e *Engine) Restart(ctx context.Context) error {
	e.Stop()
	return e.Init(ctx)
}

// StopCollection stops watching one collection and drops its events and
// metadata. It reports whether the collection was being watched.
func (e *Engine) StopCollection(name string) bool {
	e.mu.Lock()
	cw, ok := e.watches[name]
	delete(e.watches, name)
	if col, known := e.collections[name]; known {
		col.state = StateStopped
	}
	e.mu.Unlock()
	if !ok {
		return false
	}

	if err := cw.close(); err != nil {
		appLog.Error("vdir sync: closing watch failed", err, "collection", name)
	}

	e.mu.Lock()
	removed := 0
	prefix := name + ":"
	for key := range e.events {
		if strings.HasPrefix(key, prefix) {
			delete(e.events, key)
			removed++
		}
	}
	delete(e.metadata, name)
	e.mu.Unlock()

	appLog.Info("vdir collection stopped", "collection", name, "events_removed", removed)
	if removed > 0 {
		e.notifyEvents()
	}
	return true
}

// States returns the lifecycle state of every collection of the current
// or last session.
func (e *Engine) States() map[string]State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]State, len(e.collections))
	for name, col := range e.collections {
		out[name] = col.state
	}
	return out
}

func (e *Engine) setState(name string, st State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if col, ok := e.collections[name]; ok {
		col.state = st
	}
}

// Events returns a copy of the current event snapshot, ordered by index key.
func (e *Engine) Events() []model.CalendarEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	keys := slices.Sorted(maps.Keys(e.events))
	out := make([]model.CalendarEvent, 0, len(keys))
	for _, k := range keys {
		out = append(out, e.events[k])
	}
	return out
}

// CollectionMetadata returns the metadata of one collection.
func (e *Engine) CollectionMetadata(name string) (model.VdirMetadata, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.metadata[name]
	return m, ok
}

// AllCollectionMetadata returns a copy of the metadata index.
func (e *Engine) AllCollectionMetadata() map[string]model.VdirMetadata {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.metadata)
}

// OnEventsChanged registers fn for full-snapshot pushes. fn is also called
// once right away with the current snapshot; the replay and later pushes are
// delivered in order. Listeners run on the engine loop and must not block.
func (e *Engine) OnEventsChanged(fn func([]model.CalendarEvent)) (unsubscribe func()) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	unsubscribe = e.eventListeners.add(fn)
	call("events", fn, e.Events())
	return unsubscribe
}

// OnFileChanged registers fn for every watch notification that passed the
// ignore pattern, whatever the file kind.
func (e *Engine) OnFileChanged(fn func(model.FileWatcherEvent)) (unsubscribe func()) {
	return e.fileListeners.add(fn)
}

func (e *Engine) notifyEvents() {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	if e.eventListeners.len() == 0 {
		return
	}
	e.eventListeners.notify(e.Events())
}
