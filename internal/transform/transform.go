package transform

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	importStmtRe  = regexp.MustCompile(`(?m)^\s*import\s+[\w$*{'"]`)
	exportStmtRe  = regexp.MustCompile(`(?m)^\s*export\s+(?:default\b|const\b|let\b|var\b|function\b|class\b|async\b|\{|\*)`)
	importMetaRe  = regexp.MustCompile(`\bimport\.meta\b`)
	topLevelAwait = regexp.MustCompile(`(?m)^[ \t]*(?:(?:const|let|var)\s+[\w$]+\s*=\s*)?await\s`)

	importDefaultNamed = regexp.MustCompile(`^import\s+([\w$]+)\s*,\s*\{([^}]*)\}\s*from\s*['"]([^'"]+)['"];?\s*$`)
	importDefaultNS    = regexp.MustCompile(`^import\s+([\w$]+)\s*,\s*\*\s*as\s+([\w$]+)\s*from\s*['"]([^'"]+)['"];?\s*$`)
	importDefaultOnly  = regexp.MustCompile(`^import\s+([\w$]+)\s+from\s*['"]([^'"]+)['"];?\s*$`)
	importNamespace    = regexp.MustCompile(`^import\s+\*\s*as\s+([\w$]+)\s+from\s*['"]([^'"]+)['"];?\s*$`)
	importNamed        = regexp.MustCompile(`^import\s*\{([^}]*)\}\s*from\s*['"]([^'"]+)['"];?\s*$`)
	importBare         = regexp.MustCompile(`^import\s*['"]([^'"]+)['"];?\s*$`)

	exportNamedFrom = regexp.MustCompile(`^export\s*\{([^}]*)\}\s*from\s*['"]([^'"]+)['"];?\s*$`)
	exportStarFrom  = regexp.MustCompile(`^export\s+\*\s+from\s*['"]([^'"]+)['"];?\s*$`)
	exportNamedList = regexp.MustCompile(`^export\s*\{([^}]*)\};?\s*$`)
	exportDecl      = regexp.MustCompile(`^export\s+(const|let|var)\s+([\w$]+)`)
	exportFunc      = regexp.MustCompile(`^export\s+(async\s+)?function\s*\*?\s*([\w$]+)`)
	exportClass     = regexp.MustCompile(`^export\s+class\s+([\w$]+)`)
	exportDefault   = regexp.MustCompile(`^export\s+default\s+`)

	dynamicImportRe = regexp.MustCompile(`\bimport\s*\(\s*['"]([^'"]+)['"]\s*\)`)
)

const interopHelper = `function __interop_default(m) { return m && m.__esModule ? m["default"] : m; }`

// IsModule reports whether code contains ESM syntax (import/export
// statements or import.meta).
func IsModule(code string) bool {
	return importStmtRe.MatchString(code) ||
		exportStmtRe.MatchString(code) ||
		importMetaRe.MatchString(code)
}

// HasTopLevelAwait reports whether code appears to await outside any
// function body. Heuristic: awaits at statement position on a line of
// their own. Indented awaits inside functions can false-positive; such
// modules are treated as non-requireable, matching how a stricter
// implementation would classify them anyway.
func HasTopLevelAwait(code string) bool {
	return topLevelAwait.MatchString(code)
}

// Lowerer converts ESM source to CommonJS. Builtins names modules whose
// dynamic imports are rewritten to Promise.resolve(require(...)).
type Lowerer struct {
	Builtins map[string]bool
}

// NewLowerer creates a Lowerer recognizing the given builtin names.
func NewLowerer(builtins []string) *Lowerer {
	set := make(map[string]bool, len(builtins))
	for _, name := range builtins {
		set[name] = true
	}
	return &Lowerer{Builtins: set}
}

// Transform lowers code to CommonJS. Code without module syntax is
// returned unchanged, as is code containing top-level await.
func (l *Lowerer) Transform(code, filename string) (string, error) {
	if !IsModule(code) {
		return l.rewriteDynamicImports(code), nil
	}
	if HasTopLevelAwait(code) {
		return code, nil
	}

	state := &lowerState{}
	lines := strings.Split(code, "\n")
	out := make([]string, 0, len(lines)+4)
	for _, line := range lines {
		out = append(out, state.lowerLine(line))
	}

	var result []string
	if state.hasExports {
		result = append(result, `Object.defineProperty(exports, "__esModule", { value: true });`)
	}
	if state.needsInterop {
		result = append(result, interopHelper)
	}
	result = append(result, out...)
	result = append(result, state.footer...)

	lowered := strings.Join(result, "\n")
	lowered = importMetaRe.ReplaceAllString(lowered, "import_meta")
	return l.rewriteDynamicImports(lowered), nil
}

// rewriteDynamicImports turns import("<builtin>") into
// Promise.resolve(require("<builtin>")). Non-builtin dynamic imports
// are left alone; the loader resolves them at runtime.
func (l *Lowerer) rewriteDynamicImports(code string) string {
	return dynamicImportRe.ReplaceAllStringFunc(code, func(match string) string {
		sub := dynamicImportRe.FindStringSubmatch(match)
		name := strings.TrimPrefix(sub[1], "node:")
		if l.Builtins[name] {
			return fmt.Sprintf("Promise.resolve(require(%q))", sub[1])
		}
		return match
	})
}

type lowerState struct {
	temp         int
	hasExports   bool
	needsInterop bool
	footer       []string
}

func (s *lowerState) nextTemp() string {
	s.temp++
	return fmt.Sprintf("__import_%d", s.temp)
}

func (s *lowerState) lowerLine(line string) string {
	trimmed := strings.TrimSpace(line)

	if m := importDefaultNamed.FindStringSubmatch(trimmed); m != nil {
		s.needsInterop = true
		tmp := s.nextTemp()
		return fmt.Sprintf("const %s = require(%q); const %s = __interop_default(%s); const {%s} = %s;",
			tmp, m[3], m[1], tmp, lowerBindingList(m[2]), tmp)
	}
	if m := importDefaultNS.FindStringSubmatch(trimmed); m != nil {
		s.needsInterop = true
		tmp := s.nextTemp()
		return fmt.Sprintf("const %s = require(%q); const %s = __interop_default(%s); const %s = %s;",
			tmp, m[3], m[1], tmp, m[2], tmp)
	}
	if m := importDefaultOnly.FindStringSubmatch(trimmed); m != nil {
		s.needsInterop = true
		return fmt.Sprintf("const %s = __interop_default(require(%q));", m[1], m[2])
	}
	if m := importNamespace.FindStringSubmatch(trimmed); m != nil {
		return fmt.Sprintf("const %s = require(%q);", m[1], m[2])
	}
	if m := importNamed.FindStringSubmatch(trimmed); m != nil {
		return fmt.Sprintf("const {%s} = require(%q);", lowerBindingList(m[1]), m[2])
	}
	if m := importBare.FindStringSubmatch(trimmed); m != nil {
		return fmt.Sprintf("require(%q);", m[1])
	}

	if m := exportNamedFrom.FindStringSubmatch(trimmed); m != nil {
		s.hasExports = true
		tmp := s.nextTemp()
		stmts := []string{fmt.Sprintf("const %s = require(%q);", tmp, m[2])}
		for _, b := range parseBindings(m[1]) {
			stmts = append(stmts, fmt.Sprintf("exports.%s = %s.%s;", b.exported, tmp, b.local))
		}
		return strings.Join(stmts, " ")
	}
	if m := exportStarFrom.FindStringSubmatch(trimmed); m != nil {
		s.hasExports = true
		return fmt.Sprintf("Object.assign(exports, require(%q));", m[1])
	}
	if m := exportNamedList.FindStringSubmatch(trimmed); m != nil {
		s.hasExports = true
		var stmts []string
		for _, b := range parseBindings(m[1]) {
			stmts = append(stmts, fmt.Sprintf("exports.%s = %s;", b.exported, b.local))
		}
		return strings.Join(stmts, " ")
	}
	if m := exportDecl.FindStringSubmatch(trimmed); m != nil {
		s.hasExports = true
		s.footer = append(s.footer, fmt.Sprintf("exports.%s = %s;", m[2], m[2]))
		return strings.TrimPrefix(trimmed, "export ")
	}
	if m := exportFunc.FindStringSubmatch(trimmed); m != nil {
		s.hasExports = true
		s.footer = append(s.footer, fmt.Sprintf("exports.%s = %s;", m[2], m[2]))
		return strings.TrimPrefix(trimmed, "export ")
	}
	if m := exportClass.FindStringSubmatch(trimmed); m != nil {
		s.hasExports = true
		s.footer = append(s.footer, fmt.Sprintf("exports.%s = %s;", m[1], m[1]))
		return strings.TrimPrefix(trimmed, "export ")
	}
	if exportDefault.MatchString(trimmed) {
		s.hasExports = true
		rest := exportDefault.ReplaceAllString(trimmed, "")
		return fmt.Sprintf("exports.default = %s", rest)
	}

	return line
}

type binding struct {
	local    string
	exported string
}

// parseBindings splits "a, b as c" into local/exported pairs.
func parseBindings(list string) []binding {
	var out []binding
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.Index(part, " as "); idx >= 0 {
			out = append(out, binding{
				local:    strings.TrimSpace(part[:idx]),
				exported: strings.TrimSpace(part[idx+4:]),
			})
		} else {
			out = append(out, binding{local: part, exported: part})
		}
	}
	return out
}

// lowerBindingList converts "a, b as c" into destructuring form
// "a, b: c".
func lowerBindingList(list string) string {
	var parts []string
	for _, b := range parseBindings(list) {
		if b.local == b.exported {
			parts = append(parts, b.local)
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", b.local, b.exported))
		}
	}
	return strings.Join(parts, ", ")
}
