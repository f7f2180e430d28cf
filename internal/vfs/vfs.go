package vfs

import (
	"sort"
	"strings"
	"sync"
	"time"
)

type nodeType uint8

const (
	nodeFile nodeType = iota
	nodeDir
)

// node is a single entry in the tree. Files carry content, directories
// carry children. Every node except the root has exactly one parent.
type node struct {
	typ      nodeType
	content  []byte
	children map[string]*node
	mtime    time.Time
}

func newDir() *node {
	return &node{typ: nodeDir, children: make(map[string]*node), mtime: time.Now()}
}

func newFile(content []byte) *node {
	return &node{typ: nodeFile, content: content, mtime: time.Now()}
}

// Info describes a single node, in the shape callers expect from stat.
type Info struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Dir      bool      `json:"is_dir"`
	Modified time.Time `json:"modified"`
}

// IsDir reports whether the entry is a directory.
func (i Info) IsDir() bool { return i.Dir }

// FS is an in-memory filesystem. All operations are synchronous; a
// single mutex serializes mutation so watcher delivery happens in
// mutation order.
type FS struct {
	mu       sync.RWMutex
	root     *node
	watchers map[string][]*Watcher

	mirrorSeq int
	changeFns []changeEntry
	deleteFns []deleteEntry
}

// New creates an empty filesystem containing only the root directory.
func New() *FS {
	return &FS{
		root:     newDir(),
		watchers: make(map[string][]*Watcher),
	}
}

// Normalize resolves a path to its absolute canonical form: empty and
// "." segments are dropped, ".." pops the previous segment, and popping
// past the root is a no-op. Normalizing an already-normalized path is a
// fixed point.
func Normalize(path string) string {
	segments := strings.Split(path, "/")
	stack := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, seg)
		}
	}
	return "/" + strings.Join(stack, "/")
}

// Base returns the final segment of a normalized path.
func Base(path string) string {
	path = Normalize(path)
	if path == "/" {
		return "/"
	}
	return path[strings.LastIndex(path, "/")+1:]
}

// Dir returns the parent of a normalized path.
func Dir(path string) string {
	path = Normalize(path)
	if path == "/" {
		return "/"
	}
	idx := strings.LastIndex(path, "/")
	if idx == 0 {
		return "/"
	}
	return path[:idx]
}

// Join joins segments and normalizes the result.
func Join(parts ...string) string {
	return Normalize(strings.Join(parts, "/"))
}

// segmentsOf splits a normalized path into its segments. The root path
// yields an empty slice.
func segmentsOf(path string) []string {
	if path == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(path, "/"), "/")
}

// lookup walks the tree to the node at path. syscall names the
// operation for error reporting.
func (fs *FS) lookup(path, syscall string) (*node, error) {
	cur := fs.root
	for _, seg := range segmentsOf(path) {
		if cur.typ != nodeDir {
			return nil, newError(CodeNotDir, syscall, path)
		}
		next, ok := cur.children[seg]
		if !ok {
			return nil, newError(CodeNoEnt, syscall, path)
		}
		cur = next
	}
	return cur, nil
}

// ReadFile returns the content of the file at path.
func (fs *FS) ReadFile(path string) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	path = Normalize(path)
	n, err := fs.lookup(path, "open")
	if err != nil {
		return nil, err
	}
	if n.typ == nodeDir {
		return nil, newError(CodeIsDir, "read", path)
	}
	out := make([]byte, len(n.content))
	copy(out, n.content)
	return out, nil
}

// WriteFile writes content to path, creating missing intermediate
// directories implicitly. Writing through an existing file segment
// fails with ENOTDIR; writing onto a directory fails with EISDIR.
func (fs *FS) WriteFile(path string, content []byte) error {
	fs.mu.Lock()

	path = Normalize(path)
	if path == "/" {
		fs.mu.Unlock()
		return newError(CodeIsDir, "open", path)
	}

	segments := segmentsOf(path)
	cur := fs.root
	for _, seg := range segments[:len(segments)-1] {
		next, ok := cur.children[seg]
		if !ok {
			next = newDir()
			cur.children[seg] = next
		} else if next.typ != nodeDir {
			fs.mu.Unlock()
			return newError(CodeNotDir, "open", path)
		}
		cur = next
	}

	name := segments[len(segments)-1]
	existing, existed := cur.children[name]
	if existed && existing.typ == nodeDir {
		fs.mu.Unlock()
		return newError(CodeIsDir, "open", path)
	}

	stored := make([]byte, len(content))
	copy(stored, content)
	cur.children[name] = newFile(stored)

	eventType := EventRename
	if existed {
		eventType = EventChange
	}
	events := fs.collectWatchEvents(path, eventType)
	change := fs.collectChange(path, false, stored)
	fs.mu.Unlock()

	fs.deliver(events)
	change()
	return nil
}

// Mkdir creates a directory. With recursive set, missing parents are
// created and an existing directory is not an error; without it, a
// missing parent fails ENOENT and an existing node fails EEXIST.
func (fs *FS) Mkdir(path string, recursive bool) error {
	fs.mu.Lock()

	path = Normalize(path)
	if path == "/" {
		if recursive {
			fs.mu.Unlock()
			return nil
		}
		fs.mu.Unlock()
		return newError(CodeExist, "mkdir", path)
	}

	segments := segmentsOf(path)
	cur := fs.root
	var created []string
	prefix := ""

	for i, seg := range segments {
		prefix += "/" + seg
		last := i == len(segments)-1
		next, ok := cur.children[seg]
		switch {
		case !ok:
			if !recursive && !last {
				fs.mu.Unlock()
				return newError(CodeNoEnt, "mkdir", path)
			}
			next = newDir()
			cur.children[seg] = next
			created = append(created, prefix)
		case next.typ != nodeDir:
			fs.mu.Unlock()
			if last {
				return newError(CodeExist, "mkdir", path)
			}
			return newError(CodeNotDir, "mkdir", path)
		case last && !recursive:
			fs.mu.Unlock()
			return newError(CodeExist, "mkdir", path)
		}
		cur = next
	}

	var events []watchDelivery
	var changes []func()
	for _, p := range created {
		events = append(events, fs.collectWatchEvents(p, EventRename)...)
		changes = append(changes, fs.collectChange(p, true, nil))
	}
	fs.mu.Unlock()

	fs.deliver(events)
	for _, fn := range changes {
		fn()
	}
	return nil
}

// Stat returns metadata for the node at path.
func (fs *FS) Stat(path string) (Info, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	path = Normalize(path)
	n, err := fs.lookup(path, "stat")
	if err != nil {
		return Info{}, err
	}
	return fs.infoFor(path, n), nil
}

func (fs *FS) infoFor(path string, n *node) Info {
	return Info{
		Name:     Base(path),
		Path:     path,
		Size:     int64(len(n.content)),
		Dir:      n.typ == nodeDir,
		Modified: n.mtime,
	}
}

// ReadDir lists the entries of the directory at path, sorted by name.
func (fs *FS) ReadDir(path string) ([]Info, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	path = Normalize(path)
	n, err := fs.lookup(path, "scandir")
	if err != nil {
		return nil, err
	}
	if n.typ != nodeDir {
		return nil, newError(CodeNotDir, "scandir", path)
	}

	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Info, 0, len(names))
	for _, name := range names {
		out = append(out, fs.infoFor(Join(path, name), n.children[name]))
	}
	return out, nil
}

// Unlink removes the file at path. Directories fail with EISDIR.
func (fs *FS) Unlink(path string) error {
	fs.mu.Lock()

	path = Normalize(path)
	parent, name, err := fs.lookupParent(path, "unlink")
	if err != nil {
		fs.mu.Unlock()
		return err
	}
	n, ok := parent.children[name]
	if !ok {
		fs.mu.Unlock()
		return newError(CodeNoEnt, "unlink", path)
	}
	if n.typ == nodeDir {
		fs.mu.Unlock()
		return newError(CodeIsDir, "unlink", path)
	}
	delete(parent.children, name)

	events := fs.collectWatchEvents(path, EventRename)
	del := fs.collectDelete(path)
	fs.mu.Unlock()

	fs.deliver(events)
	del()
	return nil
}

// Rmdir removes the directory at path. Non-empty directories fail with
// ENOTEMPTY, files with ENOTDIR.
func (fs *FS) Rmdir(path string) error {
	fs.mu.Lock()

	path = Normalize(path)
	if path == "/" {
		fs.mu.Unlock()
		return newError(CodeInval, "rmdir", path)
	}
	parent, name, err := fs.lookupParent(path, "rmdir")
	if err != nil {
		fs.mu.Unlock()
		return err
	}
	n, ok := parent.children[name]
	if !ok {
		fs.mu.Unlock()
		return newError(CodeNoEnt, "rmdir", path)
	}
	if n.typ != nodeDir {
		fs.mu.Unlock()
		return newError(CodeNotDir, "rmdir", path)
	}
	if len(n.children) > 0 {
		fs.mu.Unlock()
		return newError(CodeNotEmpty, "rmdir", path)
	}
	delete(parent.children, name)

	events := fs.collectWatchEvents(path, EventRename)
	del := fs.collectDelete(path)
	fs.mu.Unlock()

	fs.deliver(events)
	del()
	return nil
}

// RemoveAll removes path and everything under it. Missing paths are not
// an error.
func (fs *FS) RemoveAll(path string) error {
	fs.mu.Lock()

	path = Normalize(path)
	if path == "/" {
		fs.root = newDir()
		fs.mu.Unlock()
		return nil
	}
	parent, name, err := fs.lookupParent(path, "rm")
	if err != nil {
		fs.mu.Unlock()
		if IsNotExist(err) {
			return nil
		}
		return err
	}
	if _, ok := parent.children[name]; !ok {
		fs.mu.Unlock()
		return nil
	}
	delete(parent.children, name)

	events := fs.collectWatchEvents(path, EventRename)
	del := fs.collectDelete(path)
	fs.mu.Unlock()

	fs.deliver(events)
	del()
	return nil
}

// Rename moves the node at oldPath to newPath without copying content.
// An existing destination is silently overwritten; the destination
// parent must exist.
func (fs *FS) Rename(oldPath, newPath string) error {
	fs.mu.Lock()

	oldPath = Normalize(oldPath)
	newPath = Normalize(newPath)
	if oldPath == "/" || newPath == "/" {
		fs.mu.Unlock()
		return newError(CodeInval, "rename", oldPath)
	}

	oldParent, oldName, err := fs.lookupParent(oldPath, "rename")
	if err != nil {
		fs.mu.Unlock()
		return err
	}
	n, ok := oldParent.children[oldName]
	if !ok {
		fs.mu.Unlock()
		return newError(CodeNoEnt, "rename", oldPath)
	}

	newParentNode, err := fs.lookup(Dir(newPath), "rename")
	if err != nil {
		fs.mu.Unlock()
		return err
	}
	if newParentNode.typ != nodeDir {
		fs.mu.Unlock()
		return newError(CodeNotDir, "rename", newPath)
	}

	delete(oldParent.children, oldName)
	newParentNode.children[Base(newPath)] = n
	n.mtime = time.Now()

	events := fs.collectWatchEvents(oldPath, EventRename)
	events = append(events, fs.collectWatchEvents(newPath, EventRename)...)
	del := fs.collectDelete(oldPath)
	changes := fs.collectSubtreeChanges(newPath, n)
	fs.mu.Unlock()

	fs.deliver(events)
	del()
	for _, fn := range changes {
		fn()
	}
	return nil
}

// Exists reports whether a node exists at path.
func (fs *FS) Exists(path string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, err := fs.lookup(Normalize(path), "stat")
	return err == nil
}

// lookupParent resolves the parent directory of path, returning the
// parent node and the final segment name.
func (fs *FS) lookupParent(path, syscall string) (*node, string, error) {
	parent, err := fs.lookup(Dir(path), syscall)
	if err != nil {
		return nil, "", err
	}
	if parent.typ != nodeDir {
		return nil, "", newError(CodeNotDir, syscall, path)
	}
	return parent, Base(path), nil
}

// walk visits every node under path in depth-first order. Caller must
// hold at least a read lock.
func (fs *FS) walk(path string, n *node, fn func(path string, n *node)) {
	fn(path, n)
	if n.typ != nodeDir {
		return
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fs.walk(Join(path, name), n.children[name], fn)
	}
}
