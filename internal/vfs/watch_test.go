package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectEvents(events *[]Event) Listener {
	return func(ev Event) {
		*events = append(*events, ev)
	}
}

func TestWatchDirectVsRecursive(t *testing.T) {
	fs := New()
	require.NoError(t, fs.Mkdir("/app/sub", true))

	var direct, recursive []Event
	dw := fs.Watch("/app", Options{IgnoreInitial: true}, collectEvents(&direct))
	defer dw.Close()
	rw := fs.Watch("/app", Options{Recursive: true, IgnoreInitial: true}, collectEvents(&recursive))
	defer rw.Close()

	require.NoError(t, fs.WriteFile("/app/x.txt", []byte("1")))
	require.NoError(t, fs.WriteFile("/app/sub/y.txt", []byte("2")))

	// The direct watcher sees only the immediate child.
	require.Len(t, direct, 1)
	assert.Equal(t, "/app/x.txt", direct[0].Path)
	assert.Equal(t, "x.txt", direct[0].Name)

	// The recursive watcher sees both.
	require.Len(t, recursive, 2)
	assert.Equal(t, "/app/x.txt", recursive[0].Path)
	assert.Equal(t, "/app/sub/y.txt", recursive[1].Path)
}

func TestWatchEventTypes(t *testing.T) {
	fs := New()
	require.NoError(t, fs.Mkdir("/app", false))

	var events []Event
	w := fs.Watch("/app", Options{IgnoreInitial: true}, collectEvents(&events))
	defer w.Close()

	require.NoError(t, fs.WriteFile("/app/a.txt", []byte("1"))) // create -> rename
	require.NoError(t, fs.WriteFile("/app/a.txt", []byte("2"))) // overwrite -> change
	require.NoError(t, fs.Unlink("/app/a.txt"))                 // delete -> rename

	require.Len(t, events, 3)
	assert.Equal(t, EventRename, events[0].Type)
	assert.Equal(t, EventChange, events[1].Type)
	assert.Equal(t, EventRename, events[2].Type)
}

func TestWatchReplaysInitialEntries(t *testing.T) {
	fs := New()
	require.NoError(t, fs.WriteFile("/app/x.txt", []byte("pre-existing")))

	var events []Event
	w := fs.Watch("/app", Options{IgnoreInitial: false}, collectEvents(&events))
	defer w.Close()

	require.Len(t, events, 1)
	assert.Equal(t, EventRename, events[0].Type)
	assert.Equal(t, "/app/x.txt", events[0].Path)
}

func TestWatchInitialRecursive(t *testing.T) {
	fs := New()
	require.NoError(t, fs.WriteFile("/app/a.txt", nil))
	require.NoError(t, fs.WriteFile("/app/sub/b.txt", nil))

	var events []Event
	w := fs.Watch("/app", Options{Recursive: true}, collectEvents(&events))
	defer w.Close()

	paths := make([]string, 0, len(events))
	for _, ev := range events {
		paths = append(paths, ev.Path)
	}
	assert.ElementsMatch(t, []string{"/app/a.txt", "/app/sub", "/app/sub/b.txt"}, paths)
}

func TestWatchClosedDeliversNothing(t *testing.T) {
	fs := New()
	require.NoError(t, fs.Mkdir("/app", false))

	var events []Event
	w := fs.Watch("/app", Options{IgnoreInitial: true}, collectEvents(&events))
	w.Close()

	require.NoError(t, fs.WriteFile("/app/x.txt", []byte("1")))
	assert.Empty(t, events)
}

func TestWatchRenameFiresBothEnds(t *testing.T) {
	fs := New()
	require.NoError(t, fs.Mkdir("/a", false))
	require.NoError(t, fs.Mkdir("/b", false))
	require.NoError(t, fs.WriteFile("/a/f.txt", []byte("x")))

	var events []Event
	w := fs.Watch("/", Options{Recursive: true, IgnoreInitial: true}, collectEvents(&events))
	defer w.Close()

	require.NoError(t, fs.Rename("/a/f.txt", "/b/f.txt"))

	require.Len(t, events, 2)
	assert.Equal(t, "/a/f.txt", events[0].Path)
	assert.Equal(t, "/b/f.txt", events[1].Path)
	for _, ev := range events {
		assert.Equal(t, EventRename, ev.Type)
	}
}

func TestMirrorChannel(t *testing.T) {
	fs := New()

	type change struct {
		path    string
		dir     bool
		content string
	}
	var changes []change
	var deletes []string

	fs.OnChange(func(path string, dir bool, content []byte) {
		changes = append(changes, change{path, dir, string(content)})
	})
	fs.OnDelete(func(path string) {
		deletes = append(deletes, path)
	})

	require.NoError(t, fs.Mkdir("/pkg", false))
	require.NoError(t, fs.WriteFile("/pkg/index.js", []byte("exports.ok = true")))
	require.NoError(t, fs.Unlink("/pkg/index.js"))

	require.Len(t, changes, 2)
	assert.Equal(t, change{"/pkg", true, ""}, changes[0])
	assert.Equal(t, change{"/pkg/index.js", false, "exports.ok = true"}, changes[1])
	assert.Equal(t, []string{"/pkg/index.js"}, deletes)
}

func TestMirrorChannelCancel(t *testing.T) {
	fs := New()

	var first, second []string
	cancelFirst := fs.OnChange(func(path string, dir bool, content []byte) {
		first = append(first, path)
	})
	fs.OnChange(func(path string, dir bool, content []byte) {
		second = append(second, path)
	})
	cancelDelete := fs.OnDelete(func(path string) {
		t.Errorf("detached delete listener fired for %s", path)
	})
	require.Equal(t, 3, fs.MirrorListeners())

	require.NoError(t, fs.WriteFile("/a.txt", []byte("1")))

	cancelFirst()
	cancelDelete()
	require.Equal(t, 1, fs.MirrorListeners())

	require.NoError(t, fs.WriteFile("/b.txt", []byte("2")))
	require.NoError(t, fs.Unlink("/a.txt"))

	// The detached listener saw only the first write; the survivor saw
	// both. Cancelling twice is harmless.
	cancelFirst()
	assert.Equal(t, []string{"/a.txt"}, first)
	assert.Equal(t, []string{"/a.txt", "/b.txt"}, second)
}

// Listeners may call back into the filesystem without deadlocking;
// delivery happens after the mutation lock is released.
func TestListenerReentrancy(t *testing.T) {
	fs := New()
	require.NoError(t, fs.Mkdir("/app", false))

	var sawContent string
	w := fs.Watch("/app", Options{IgnoreInitial: true}, func(ev Event) {
		if ev.Type == EventRename {
			content, err := fs.ReadFile(ev.Path)
			require.NoError(t, err)
			sawContent = string(content)
		}
	})
	defer w.Close()

	require.NoError(t, fs.WriteFile("/app/new.txt", []byte("visible")))
	assert.Equal(t, "visible", sawContent)
}
