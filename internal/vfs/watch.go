package vfs

import (
	"strings"
	"sync"
)

// EventType distinguishes structural changes from content writes.
type EventType string

const (
	// EventRename covers create, delete and move.
	EventRename EventType = "rename"
	// EventChange covers content writes to an existing file.
	EventChange EventType = "change"
)

// Event is delivered to watch listeners.
type Event struct {
	Type EventType
	Path string
	Name string
}

// Options configures a watcher. IgnoreInitial defaults to false, so
// existing entries under the watched path are replayed as rename events
// when the watcher is registered.
type Options struct {
	Recursive     bool
	IgnoreInitial bool
}

// Listener receives watch events synchronously, in mutation order.
type Listener func(Event)

// Watcher is a registered watch on a path. Its lifecycle is tied to
// explicit Watch/Close calls, not to the watched node.
type Watcher struct {
	fs        *FS
	path      string
	recursive bool
	listener  Listener

	mu     sync.Mutex
	closed bool
}

// Watch registers a listener on path. Direct watchers fire for
// mutations of the path's immediate children (and the path itself);
// recursive watchers fire for mutations at any depth below the path.
func (fs *FS) Watch(path string, opts Options, listener Listener) *Watcher {
	path = Normalize(path)
	w := &Watcher{
		fs:        fs,
		path:      path,
		recursive: opts.Recursive,
		listener:  listener,
	}

	fs.mu.Lock()
	fs.watchers[path] = append(fs.watchers[path], w)

	var initial []Event
	if !opts.IgnoreInitial {
		if n, err := fs.lookup(path, "watch"); err == nil && n.typ == nodeDir {
			fs.walk(path, n, func(p string, _ *node) {
				if p == path {
					return
				}
				if !opts.Recursive && Dir(p) != path {
					return
				}
				initial = append(initial, Event{Type: EventRename, Path: p, Name: Base(p)})
			})
		}
	}
	fs.mu.Unlock()

	for _, ev := range initial {
		w.emit(ev)
	}
	return w
}

// Close detaches the watcher. Further events are not delivered.
func (w *Watcher) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	w.fs.mu.Lock()
	defer w.fs.mu.Unlock()
	list := w.fs.watchers[w.path]
	for i, other := range list {
		if other == w {
			w.fs.watchers[w.path] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(w.fs.watchers[w.path]) == 0 {
		delete(w.fs.watchers, w.path)
	}
}

func (w *Watcher) emit(ev Event) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if !closed {
		w.listener(ev)
	}
}

// watchDelivery pairs a watcher with the event it should receive.
type watchDelivery struct {
	watcher *Watcher
	event   Event
}

// collectWatchEvents gathers deliveries for a mutation at path. Caller
// holds the write lock; delivery happens after it is released so
// listeners may call back into the filesystem.
func (fs *FS) collectWatchEvents(path string, typ EventType) []watchDelivery {
	name := Base(path)
	parent := Dir(path)

	var out []watchDelivery
	for watchPath, list := range fs.watchers {
		direct := watchPath == path || watchPath == parent
		ancestor := watchPath == "/" || strings.HasPrefix(path, watchPath+"/")
		for _, w := range list {
			if direct || (w.recursive && ancestor) {
				out = append(out, watchDelivery{
					watcher: w,
					event:   Event{Type: typ, Path: path, Name: name},
				})
			}
		}
	}
	return out
}

func (fs *FS) deliver(deliveries []watchDelivery) {
	for _, d := range deliveries {
		d.watcher.emit(d.event)
	}
}

// changeEntry and deleteEntry tag mirror listeners with an id so a
// cancel func can detach exactly its own registration.
type changeEntry struct {
	id int
	fn func(path string, dir bool, content []byte)
}

type deleteEntry struct {
	id int
	fn func(path string)
}

// OnChange registers a mirror listener invoked after every write or
// directory creation. This channel is separate from Watch and exists
// to keep a sandbox mirror in sync; propagation is one-directional.
// The returned cancel func detaches the listener.
func (fs *FS) OnChange(fn func(path string, dir bool, content []byte)) (cancel func()) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.mirrorSeq++
	id := fs.mirrorSeq
	fs.changeFns = append(fs.changeFns, changeEntry{id: id, fn: fn})
	return func() {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		for i, e := range fs.changeFns {
			if e.id == id {
				fs.changeFns = append(fs.changeFns[:i], fs.changeFns[i+1:]...)
				return
			}
		}
	}
}

// OnDelete registers a mirror listener invoked after every removal.
// The returned cancel func detaches the listener.
func (fs *FS) OnDelete(fn func(path string)) (cancel func()) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.mirrorSeq++
	id := fs.mirrorSeq
	fs.deleteFns = append(fs.deleteFns, deleteEntry{id: id, fn: fn})
	return func() {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		for i, e := range fs.deleteFns {
			if e.id == id {
				fs.deleteFns = append(fs.deleteFns[:i], fs.deleteFns[i+1:]...)
				return
			}
		}
	}
}

// MirrorListeners reports how many mirror listeners are attached.
func (fs *FS) MirrorListeners() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.changeFns) + len(fs.deleteFns)
}

// collectChange snapshots the change listeners under the lock and
// returns a closure that invokes them outside it.
func (fs *FS) collectChange(path string, dir bool, content []byte) func() {
	entries := make([]changeEntry, len(fs.changeFns))
	copy(entries, fs.changeFns)
	return func() {
		for _, e := range entries {
			e.fn(path, dir, content)
		}
	}
}

func (fs *FS) collectDelete(path string) func() {
	entries := make([]deleteEntry, len(fs.deleteFns))
	copy(entries, fs.deleteFns)
	return func() {
		for _, e := range entries {
			e.fn(path)
		}
	}
}

// collectSubtreeChanges emits change notifications for every node under
// path, shallowest first. Used by Rename, where a whole subtree arrives
// at a new location.
func (fs *FS) collectSubtreeChanges(path string, n *node) []func() {
	var out []func()
	fs.walk(path, n, func(p string, child *node) {
		if child.typ == nodeDir {
			out = append(out, fs.collectChange(p, true, nil))
		} else {
			content := make([]byte, len(child.content))
			copy(content, child.content)
			out = append(out, fs.collectChange(p, false, content))
		}
	})
	return out
}
