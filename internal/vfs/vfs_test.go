package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"root", "/", "/"},
		{"empty", "", "/"},
		{"simple", "/a/b/c", "/a/b/c"},
		{"relative treated as absolute", "a/b", "/a/b"},
		{"trailing slash", "/a/b/", "/a/b"},
		{"double slash", "/a//b", "/a/b"},
		{"dot segments", "/a/./b/.", "/a/b"},
		{"dotdot folds", "/a/b/../c", "/a/c"},
		{"dotdot past root", "/../../a", "/a"},
		{"only dotdot", "/..", "/"},
		{"mixed", "/a/b/./../c//d/..", "/a/c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
			// Normalization is a fixed point.
			if again := Normalize(got); again != got {
				t.Errorf("Normalize not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestWriteReadFile(t *testing.T) {
	fs := New()

	require.NoError(t, fs.WriteFile("/app/src/index.js", []byte("module.exports = 1")))

	content, err := fs.ReadFile("/app/src/index.js")
	require.NoError(t, err)
	assert.Equal(t, "module.exports = 1", string(content))

	// Intermediate directories were created implicitly.
	info, err := fs.Stat("/app/src")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestReadFileErrors(t *testing.T) {
	fs := New()
	require.NoError(t, fs.Mkdir("/dir", false))

	_, err := fs.ReadFile("/missing")
	var fsErr *Error
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, CodeNoEnt, fsErr.Code)
	assert.Equal(t, -2, fsErr.Errno)
	assert.Equal(t, "/missing", fsErr.Path)

	_, err = fs.ReadFile("/dir")
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, CodeIsDir, fsErr.Code)
}

func TestWriteThroughFileSegment(t *testing.T) {
	fs := New()
	require.NoError(t, fs.WriteFile("/a", []byte("x")))

	err := fs.WriteFile("/a/b", []byte("y"))
	var fsErr *Error
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, CodeNotDir, fsErr.Code)
}

func TestMkdir(t *testing.T) {
	fs := New()

	// Non-recursive mkdir with missing parent fails ENOENT.
	err := fs.Mkdir("/a/b/c", false)
	var fsErr *Error
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, CodeNoEnt, fsErr.Code)

	require.NoError(t, fs.Mkdir("/a/b/c", true))
	assert.True(t, fs.Exists("/a/b"))

	// Recursive mkdir on an existing directory is not an error.
	require.NoError(t, fs.Mkdir("/a/b/c", true))

	// Non-recursive mkdir on an existing path fails EEXIST.
	err = fs.Mkdir("/a/b/c", false)
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, CodeExist, fsErr.Code)
}

func TestReadDirSorted(t *testing.T) {
	fs := New()
	require.NoError(t, fs.WriteFile("/app/c.js", nil))
	require.NoError(t, fs.WriteFile("/app/a.js", nil))
	require.NoError(t, fs.WriteFile("/app/b.js", nil))

	entries, err := fs.ReadDir("/app")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a.js", entries[0].Name)
	assert.Equal(t, "b.js", entries[1].Name)
	assert.Equal(t, "c.js", entries[2].Name)
}

func TestRmdirNotEmpty(t *testing.T) {
	fs := New()
	require.NoError(t, fs.WriteFile("/dir/file.txt", []byte("x")))

	err := fs.Rmdir("/dir")
	var fsErr *Error
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, CodeNotEmpty, fsErr.Code)

	require.NoError(t, fs.Unlink("/dir/file.txt"))
	require.NoError(t, fs.Rmdir("/dir"))
	assert.False(t, fs.Exists("/dir"))
}

func TestUnlinkDirectory(t *testing.T) {
	fs := New()
	require.NoError(t, fs.Mkdir("/dir", false))

	err := fs.Unlink("/dir")
	var fsErr *Error
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, CodeIsDir, fsErr.Code)
}

func TestRenameMovesSubtree(t *testing.T) {
	fs := New()
	require.NoError(t, fs.WriteFile("/src/a/deep.txt", []byte("payload")))

	require.NoError(t, fs.Rename("/src", "/dst"))

	assert.False(t, fs.Exists("/src"))
	content, err := fs.ReadFile("/dst/a/deep.txt")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))
}

// Rename onto an existing destination overwrites silently. Pinned here
// so the behavior stays deliberate.
func TestRenameOverwritesDestination(t *testing.T) {
	fs := New()
	require.NoError(t, fs.WriteFile("/a.txt", []byte("new")))
	require.NoError(t, fs.WriteFile("/b.txt", []byte("old")))

	require.NoError(t, fs.Rename("/a.txt", "/b.txt"))

	content, err := fs.ReadFile("/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "new", string(content))
	assert.False(t, fs.Exists("/a.txt"))
}

func TestRenameMissingSource(t *testing.T) {
	fs := New()
	err := fs.Rename("/nope", "/dst")
	var fsErr *Error
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, CodeNoEnt, fsErr.Code)
}

func TestRemoveAll(t *testing.T) {
	fs := New()
	require.NoError(t, fs.WriteFile("/tree/a/b.txt", []byte("x")))
	require.NoError(t, fs.RemoveAll("/tree"))
	assert.False(t, fs.Exists("/tree"))

	// Missing paths are fine.
	require.NoError(t, fs.RemoveAll("/tree"))
}

func TestGlob(t *testing.T) {
	fs := New()
	require.NoError(t, fs.WriteFile("/app/index.js", nil))
	require.NoError(t, fs.WriteFile("/app/lib/util.js", nil))
	require.NoError(t, fs.WriteFile("/app/lib/data.json", nil))

	matches, err := fs.Glob("/app/**/*.js")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/app/index.js", "/app/lib/util.js"}, matches)

	matches, err = fs.Glob("/app/*.js")
	require.NoError(t, err)
	assert.Equal(t, []string{"/app/index.js"}, matches)
}
