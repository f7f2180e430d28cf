package runtime

import (
	"strings"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/webnode/internal/vfs"
)

// extensions tried, in order, when a specifier has no exact match.
var extensions = []string{".js", ".mjs", ".cjs", ".jsx", ".ts", ".tsx", ".json"}

type resolveKey struct {
	dir       string
	specifier string
}

// resolveEntry caches a resolution outcome. Negative entries keep
// repeated failing requires from re-walking the tree.
type resolveEntry struct {
	path string
	ok   bool
}

// resolve maps (requesting dir, specifier) to a resolved absolute path,
// consulting and populating the resolution cache.
func (l *Loader) resolve(dir, specifier string) (string, error) {
	key := resolveKey{dir: dir, specifier: specifier}
	if entry, ok := l.resolutions[key]; ok {
		if !entry.ok {
			return "", &ResolutionError{Specifier: specifier, Requester: dir}
		}
		return entry.path, nil
	}

	path, err := l.resolveUncached(dir, specifier)
	if err != nil {
		l.resolutions[key] = resolveEntry{}
		return "", err
	}
	l.resolutions[key] = resolveEntry{path: path, ok: true}
	return path, nil
}

func (l *Loader) resolveUncached(dir, specifier string) (string, error) {
	if strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../") || strings.HasPrefix(specifier, "/") {
		var base string
		if strings.HasPrefix(specifier, "/") {
			base = vfs.Normalize(specifier)
		} else {
			base = vfs.Join(dir, specifier)
		}
		if path, err := l.resolveAsFileOrDir(base); err == nil {
			return path, nil
		}
		return "", &ResolutionError{Specifier: specifier, Requester: dir}
	}
	return l.resolveBare(dir, specifier)
}

// resolveAsFileOrDir tries the exact path, the path with each known
// extension appended, then the path as a directory holding an index
// file. First hit wins.
func (l *Loader) resolveAsFileOrDir(base string) (string, error) {
	if info, err := l.fs.Stat(base); err == nil && !info.IsDir() {
		return base, nil
	}
	for _, ext := range extensions {
		candidate := base + ext
		if info, err := l.fs.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	if info, err := l.fs.Stat(base); err == nil && info.IsDir() {
		for _, ext := range extensions {
			candidate := vfs.Join(base, "index"+ext)
			if info, err := l.fs.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
	}
	return "", &ResolutionError{Specifier: base, Requester: base}
}

// resolveBare walks upward from dir looking for node_modules/<name>,
// then picks the package entry point.
func (l *Loader) resolveBare(dir, specifier string) (string, error) {
	name, subpath := splitBareSpecifier(specifier)

	for d := vfs.Normalize(dir); ; d = vfs.Dir(d) {
		pkgDir := vfs.Join(d, "node_modules", name)
		if info, err := l.fs.Stat(pkgDir); err == nil && info.IsDir() {
			if subpath != "" {
				if path, err := l.resolveAsFileOrDir(vfs.Join(pkgDir, subpath)); err == nil {
					return path, nil
				}
				return "", &ResolutionError{Specifier: specifier, Requester: dir}
			}
			if path, err := l.resolvePackageEntry(pkgDir); err == nil {
				return path, nil
			}
			return "", &ResolutionError{Specifier: specifier, Requester: dir}
		}
		if d == "/" {
			break
		}
	}
	return "", &ResolutionError{Specifier: specifier, Requester: dir}
}

// splitBareSpecifier separates the package name from a subpath.
// Scoped packages keep both segments of the name.
func splitBareSpecifier(specifier string) (name, subpath string) {
	parts := strings.SplitN(specifier, "/", 3)
	if strings.HasPrefix(specifier, "@") {
		if len(parts) < 2 {
			return specifier, ""
		}
		name = parts[0] + "/" + parts[1]
		if len(parts) == 3 {
			subpath = parts[2]
		}
		return name, subpath
	}
	name = parts[0]
	return name, strings.TrimPrefix(strings.TrimPrefix(specifier, name), "/")
}

// resolvePackageEntry reads package.json and picks the entry point,
// preferring a string browser field, then main, then index.js.
func (l *Loader) resolvePackageEntry(pkgDir string) (string, error) {
	entry := "index.js"
	if content, err := l.fs.ReadFile(vfs.Join(pkgDir, "package.json")); err == nil {
		if manifest := l.parseManifest(string(content)); manifest != nil {
			if browser, ok := manifest["browser"].(string); ok && browser != "" {
				entry = browser
			} else if main, ok := manifest["main"].(string); ok && main != "" {
				entry = main
			}
		}
	}
	return l.resolveAsFileOrDir(vfs.Join(pkgDir, entry))
}

// parseManifest parses package.json content, returning nil on malformed
// input rather than failing resolution.
func (l *Loader) parseManifest(content string) map[string]interface{} {
	val, err := l.jsonParse(goja.Undefined(), l.vm.ToValue(content))
	if err != nil {
		return nil
	}
	out, _ := val.Export().(map[string]interface{})
	return out
}
