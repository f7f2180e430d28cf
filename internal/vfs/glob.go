package vfs

import (
	"github.com/bmatcuk/doublestar/v4"
)

// Glob returns the normalized paths of all nodes matching pattern.
// Patterns use doublestar syntax, so "/app/**/*.js" matches at any
// depth. Results are in walk order (parents before children).
func (fs *FS) Glob(pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, newError(CodeInval, "glob", pattern)
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var matches []string
	fs.walk("/", fs.root, func(path string, _ *node) {
		if path == "/" {
			return
		}
		if ok, _ := doublestar.Match(pattern, path); ok {
			matches = append(matches, path)
		}
	})
	return matches, nil
}
