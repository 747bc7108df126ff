package vdirsync

import (
	appLog "vdircal/internal/log"
	"vdircal/internal/model"
	"vdircal/internal/vdir"
)

// itemKind is how a changed path is classified.
type itemKind int

const (
	kindOther itemKind = iota
	kindItem
	kindMetadata
)

func classify(path string) itemKind {
	switch {
	case vdir.IsItem(path):
		return kindItem
	case vdir.IsMetadata(path):
		return kindMetadata
	default:
		return kindOther
	}
}

// action mutates the indexes for one change and reports whether the event
// index changed.
type action func(e *Engine, c change, col model.VdirCollectionConfig) bool

// transitions is the dispatch table from (kind, change type) to action.
// Missing entries are ignored.
var transitions = map[itemKind]map[model.ChangeType]action{
	kindItem: {
		model.ChangeAdd:    upsertItem,
		model.ChangeModify: upsertItem,
		model.ChangeUnlink: removeItem,
	},
	kindMetadata: {
		model.ChangeAdd:    reloadMetadata,
		model.ChangeModify: reloadMetadata,
		model.ChangeUnlink: reloadMetadata,
	},
}

func transitionFor(kind itemKind, typ model.ChangeType) action {
	return transitions[kind][typ]
}

// upsertItem re-parses the file and replaces the indexed event. A file that
// fails to parse leaves the previous event in place.
func upsertItem(e *Engine, c change, _ model.VdirCollectionConfig) bool {
	ev, ok := e.parseItem(c.path, c.collection)
	if !ok {
		return false
	}
	e.mu.Lock()
	e.events[EventKey(c.collection, c.path)] = ev
	e.mu.Unlock()
	appLog.Debug("vdir item indexed", "collection", c.collection, "path", c.path, "change", c.typ.String())
	return true
}

func removeItem(e *Engine, c change, _ model.VdirCollectionConfig) bool {
	key := EventKey(c.collection, c.path)
	e.mu.Lock()
	_, ok := e.events[key]
	delete(e.events, key)
	e.mu.Unlock()
	if ok {
		appLog.Debug("vdir item removed", "collection", c.collection, "path", c.path)
	}
	return ok
}

// reloadMetadata re-reads all four metadata files of the collection and
// swaps the record in one step.
func reloadMetadata(e *Engine, c change, col model.VdirCollectionConfig) bool {
	meta := vdir.ReadMetadata(e.fs, col.Path)
	e.mu.Lock()
	e.metadata[c.collection] = meta
	e.mu.Unlock()
	appLog.Info("vdir metadata updated", "collection", c.collection, "file", c.path)
	return false
}
