package vfs

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
)

// SnapshotEntry is one node in a serialized tree. File content is
// base64-encoded; zero-length files omit the field entirely.
type SnapshotEntry struct {
	Path    string `json:"path"`
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// Snapshot is a full-tree representation used to cross the sandbox
// boundary. Entries are ordered shallowest-first so directories can be
// created before their descendants during replay.
type Snapshot struct {
	Files []SnapshotEntry `json:"files"`
}

// Snapshot serializes the entire tree. The root directory itself is
// not included.
func (fs *FS) Snapshot() *Snapshot {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	snap := &Snapshot{}
	fs.walk("/", fs.root, func(path string, n *node) {
		if path == "/" {
			return
		}
		entry := SnapshotEntry{Path: path}
		if n.typ == nodeDir {
			entry.Type = "directory"
		} else {
			entry.Type = "file"
			if len(n.content) > 0 {
				entry.Content = base64.StdEncoding.EncodeToString(n.content)
			}
		}
		snap.Files = append(snap.Files, entry)
	})

	sort.SliceStable(snap.Files, func(i, j int) bool {
		di := strings.Count(snap.Files[i].Path, "/")
		dj := strings.Count(snap.Files[j].Path, "/")
		if di != dj {
			return di < dj
		}
		return snap.Files[i].Path < snap.Files[j].Path
	})
	return snap
}

// Restore replaces the entire tree with the snapshot's contents.
// Mirror and watch listeners are not notified; a restore establishes
// baseline state rather than mutating it.
func (fs *FS) Restore(snap *Snapshot) error {
	entries := make([]SnapshotEntry, len(snap.Files))
	copy(entries, snap.Files)
	sort.SliceStable(entries, func(i, j int) bool {
		return strings.Count(entries[i].Path, "/") < strings.Count(entries[j].Path, "/")
	})

	fs.mu.Lock()
	defer fs.mu.Unlock()

	root := newDir()
	for _, entry := range entries {
		path := Normalize(entry.Path)
		if path == "/" {
			continue
		}
		segments := segmentsOf(path)
		cur := root
		for _, seg := range segments[:len(segments)-1] {
			next, ok := cur.children[seg]
			if !ok {
				next = newDir()
				cur.children[seg] = next
			} else if next.typ != nodeDir {
				return newError(CodeNotDir, "restore", path)
			}
			cur = next
		}
		name := segments[len(segments)-1]
		switch entry.Type {
		case "directory":
			if _, ok := cur.children[name]; !ok {
				cur.children[name] = newDir()
			}
		case "file":
			var content []byte
			if entry.Content != "" {
				decoded, err := base64.StdEncoding.DecodeString(entry.Content)
				if err != nil {
					return fmt.Errorf("decode snapshot entry %s: %w", path, err)
				}
				content = decoded
			}
			cur.children[name] = newFile(content)
		default:
			return fmt.Errorf("unknown snapshot entry type %q for %s", entry.Type, path)
		}
	}

	fs.root = root
	return nil
}
