package vdirsync

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	appLog "vdircal/internal/log"
	"vdircal/internal/model"
)

// change is one filtered watch notification routed to the engine loop.
type change struct {
	typ        model.ChangeType
	path       string
	collection string
}

// opTable maps fsnotify operations to change types, first match wins.
// Chmod carries no content change and is dropped.
var opTable = []struct {
	op  fsnotify.Op
	typ model.ChangeType
}{
	{fsnotify.Create, model.ChangeAdd},
	{fsnotify.Write, model.ChangeModify},
	{fsnotify.Remove, model.ChangeUnlink},
	{fsnotify.Rename, model.ChangeUnlink},
}

func changeTypeOf(op fsnotify.Op) (model.ChangeType, bool) {
	for _, row := range opTable {
		if op.Has(row.op) {
			return row.typ, true
		}
	}
	return 0, false
}

// collectionWatch is the watch handle of one collection.
type collectionWatch struct {
	name   string
	root   string
	depth  int
	ignore *regexp.Regexp

	w    *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// newCollectionWatch creates the watcher and registers the collection
// directory plus subdirectories up to depth. It does not deliver anything
// until start is called, and never replays existing files.
func newCollectionWatch(col model.VdirCollectionConfig, depth int, ignore *regexp.Regexp) (*collectionWatch, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	cw := &collectionWatch{
		name:   col.Name,
		root:   col.Path,
		depth:  depth,
		ignore: ignore,
		w:      w,
		done:   make(chan struct{}),
	}
	if err := cw.addTree(col.Path); err != nil {
		w.Close()
		return nil, err
	}
	return cw, nil
}

// start forwards notifications to out until close is called.
func (cw *collectionWatch) start(out chan<- change) {
	cw.wg.Add(1)
	go cw.run(out)
}

func (cw *collectionWatch) run(out chan<- change) {
	defer cw.wg.Done()
	for {
		select {
		case <-cw.done:
			return
		case ev, ok := <-cw.w.Events:
			if !ok {
				return
			}
			c, ok := cw.translate(ev)
			if !ok {
				continue
			}
			select {
			case out <- c:
			case <-cw.done:
				return
			}
		case err, ok := <-cw.w.Errors:
			if !ok {
				return
			}
			appLog.Error("watcher error", err, "collection", cw.name)
		}
	}
}

// translate filters one raw notification. Newly created directories within
// depth are added to the watch and not reported.
func (cw *collectionWatch) translate(ev fsnotify.Event) (change, bool) {
	typ, ok := changeTypeOf(ev.Op)
	if !ok || cw.ignored(ev.Name) {
		return change{}, false
	}
	if typ == model.ChangeAdd {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if cw.level(ev.Name) <= cw.depth {
				if err := cw.addTree(ev.Name); err != nil {
					appLog.Error("watch new directory failed", err, "collection", cw.name, "path", ev.Name)
				}
			}
			return change{}, false
		}
	}
	return change{typ: typ, path: ev.Name, collection: cw.name}, true
}

// addTree watches dir and its subdirectories whose level is within depth.
func (cw *collectionWatch) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			appLog.Warn("skipping unreadable directory", "collection", cw.name, "path", path, "err", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != cw.root && (cw.ignored(path) || cw.level(path) > cw.depth) {
			return filepath.SkipDir
		}
		if err := cw.w.Add(path); err != nil {
			if path == dir {
				return err
			}
			appLog.Error("watch directory failed", err, "collection", cw.name, "path", path)
		}
		return nil
	})
}

// ignored matches the ignore pattern against the path relative to the
// collection, so a collection stored under a dot-directory still works.
func (cw *collectionWatch) ignored(path string) bool {
	rel, err := filepath.Rel(cw.root, path)
	if err != nil || rel == "." {
		return false
	}
	return cw.ignore.MatchString(rel)
}

// level is the directory depth of path below the collection root (root = 0).
func (cw *collectionWatch) level(path string) int {
	rel, err := filepath.Rel(cw.root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

// close stops forwarding and releases the OS watch. Safe to call twice.
func (cw *collectionWatch) close() error {
	var err error
	cw.once.Do(func() {
		close(cw.done)
		err = cw.w.Close()
		cw.wg.Wait()
		if errors.Is(err, fsnotify.ErrClosed) {
			err = nil
		}
	})
	return err
}
