// Package watcher watches tagged directories with fsnotify and reports file
// changes, debounced, together with the tag of the directory they live in.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/geodex/internal/config"
)

const defaultDebounce = 400 * time.Millisecond

// IndexFunc is called for a created or modified file under a root with that root's tag.
type IndexFunc func(path, tag string)

// RemoveFunc is called for a file removed or renamed away from a root.
type RemoveFunc func(path string)

type root struct {
	tag  string
	dirs []string // directories registered with fsnotify for this root
}

// Watcher watches root directories and invokes callbacks on file changes.
type Watcher struct {
	roots      map[string]*root
	order      []string // roots in insertion order
	extensions []string
	recursive  bool
	onIndex    IndexFunc
	onRemove   RemoveFunc
	debounce   time.Duration
	watcher    *fsnotify.Watcher
	mu         sync.Mutex
	pending    map[string]*time.Timer
	done       chan struct{}
	started    bool
	stopOnce   sync.Once
	logger     *zap.Logger // optional; when set, logs debug events
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output (directory changes, file events, etc.).
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a file must be quiet before onIndex fires.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// New creates a watcher for dirs. extensions filter which files are reported (empty = all).
func New(dirs []config.WatchDirectory, extensions []string, recursive bool, onIndex IndexFunc, onRemove RemoveFunc, opts ...Option) *Watcher {
	w := &Watcher{
		roots:      make(map[string]*root),
		extensions: extensions,
		recursive:  recursive,
		onIndex:    onIndex,
		onRemove:   onRemove,
		debounce:   defaultDebounce,
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
	for _, d := range dirs {
		abs, err := filepath.Abs(d.Path)
		if err != nil {
			abs = d.Path
		}
		abs = filepath.Clean(abs)
		if _, dup := w.roots[abs]; dup {
			continue
		}
		w.roots[abs] = &root{tag: d.Tag}
		w.order = append(w.order, abs)
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start registers the roots and runs until ctx is cancelled or Stop is called.
// Missing root directories are created.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = fw
	w.started = true
	if w.logger != nil {
		w.logger.Debug("watcher starting", zap.Strings("roots", w.order), zap.Strings("extensions", w.extensions), zap.Bool("recursive", w.recursive))
	}
	for _, path := range w.order {
		if err := w.registerLocked(path); err != nil {
			_ = fw.Close()
			w.watcher = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	w.mu.Unlock()
	go w.run(ctx, fw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	tag, ok := w.tagFor(path)
	if !ok {
		return
	}
	if w.logger != nil {
		w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	}
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if ev.Has(fsnotify.Create) {
				w.handleNewDirectory(path, tag)
			}
			return
		}
		if matchExtension(path, w.extensions) {
			w.schedule(path, tag)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancel(path)
		if matchExtension(path, w.extensions) && w.onRemove != nil {
			w.onRemove(path)
		}
	}
}

// handleNewDirectory watches a directory created (or moved) under a root and
// reports the files already inside it.
func (w *Watcher) handleNewDirectory(dir, tag string) {
	w.mu.Lock()
	fw := w.watcher
	recursive := w.recursive
	w.mu.Unlock()
	if fw == nil || !recursive {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if addErr := fw.Add(path); addErr != nil {
			if w.logger != nil {
				w.logger.Debug("watcher failed to add directory", zap.String("path", path), zap.Error(addErr))
			}
			return nil
		}
		w.mu.Lock()
		if r := w.rootOfLocked(path); r != nil {
			r.dirs = append(r.dirs, path)
		}
		w.mu.Unlock()
		return nil
	})
	w.syncDirectory(dir, tag)
}

// tagFor returns the tag of the innermost root containing path.
func (w *Watcher) tagFor(path string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if r := w.rootOfLocked(path); r != nil {
		return r.tag, true
	}
	return "", false
}

func (w *Watcher) rootOfLocked(path string) *root {
	var best *root
	bestLen := -1
	for p, r := range w.roots {
		if inDir(p, path) && len(p) > bestLen {
			best, bestLen = r, len(p)
		}
	}
	return best
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func (w *Watcher) schedule(path, tag string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		if w.logger != nil {
			w.logger.Debug("watcher indexing file", zap.String("path", path), zap.String("tag", tag))
		}
		if w.onIndex != nil {
			w.onIndex(path, tag)
		}
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

// AddDirectory starts watching dir under tag and optionally reports the files
// already in it. Adding a watched root again only updates its tag.
func (w *Watcher) AddDirectory(dir config.WatchDirectory, syncExisting bool) error {
	abs, err := filepath.Abs(dir.Path)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	if r, ok := w.roots[abs]; ok {
		r.tag = dir.Tag
		w.mu.Unlock()
		return nil
	}
	w.roots[abs] = &root{tag: dir.Tag}
	w.order = append(w.order, abs)
	if w.watcher != nil {
		if err := w.registerLocked(abs); err != nil {
			delete(w.roots, abs)
			w.order = w.order[:len(w.order)-1]
			w.mu.Unlock()
			return err
		}
	}
	w.mu.Unlock()
	if w.logger != nil {
		w.logger.Debug("watcher directory added", zap.String("path", abs), zap.String("tag", dir.Tag), zap.Bool("sync_existing", syncExisting))
	}
	if syncExisting {
		go w.syncDirectory(abs, dir.Tag)
	}
	return nil
}

func (w *Watcher) registerLocked(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return err
	}
	r := w.roots[path]
	if !w.recursive {
		if err := w.watcher.Add(path); err != nil {
			return err
		}
		r.dirs = []string{path}
		return nil
	}
	var dirs []string
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(p); err != nil {
			return err
		}
		dirs = append(dirs, p)
		return nil
	})
	if err != nil {
		for _, d := range dirs {
			_ = w.watcher.Remove(d)
		}
		return err
	}
	r.dirs = dirs
	return nil
}

func (w *Watcher) syncDirectory(dir, tag string) {
	if w.onIndex == nil {
		return
	}
	if w.logger != nil {
		w.logger.Debug("watcher syncing directory", zap.String("path", dir), zap.String("tag", tag))
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if matchExtension(path, w.extensions) {
			w.onIndex(path, tag)
		}
		return nil
	})
}

// RemoveDirectory stops watching dir. Chunks already ingested from it are kept.
func (w *Watcher) RemoveDirectory(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.roots[abs]
	if !ok {
		return nil
	}
	if w.watcher != nil {
		for _, d := range r.dirs {
			if w.rootOwnsElsewhereLocked(abs, d) {
				continue
			}
			_ = w.watcher.Remove(d)
		}
	}
	delete(w.roots, abs)
	for i, p := range w.order {
		if p == abs {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	if w.logger != nil {
		w.logger.Debug("watcher directory removed", zap.String("path", abs))
	}
	return nil
}

// rootOwnsElsewhereLocked reports whether another root also watches dir.
func (w *Watcher) rootOwnsElsewhereLocked(except, dir string) bool {
	for p, r := range w.roots {
		if p == except {
			continue
		}
		for _, d := range r.dirs {
			if d == dir {
				return true
			}
		}
	}
	return false
}

// Directories returns the watched roots in the order they were added.
func (w *Watcher) Directories() []config.WatchDirectory {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]config.WatchDirectory, 0, len(w.order))
	for _, p := range w.order {
		out = append(out, config.WatchDirectory{Path: p, Tag: w.roots[p].tag})
	}
	return out
}

// SyncExistingFiles reports every matching file already present under each root.
// Call it after Start to ingest files that existed before the watcher ran.
func (w *Watcher) SyncExistingFiles() {
	dirs := w.Directories()
	sort.SliceStable(dirs, func(i, j int) bool { return len(dirs[i].Path) < len(dirs[j].Path) })
	for _, d := range dirs {
		w.syncDirectory(d.Path, d.Tag)
	}
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
