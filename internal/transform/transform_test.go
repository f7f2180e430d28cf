package transform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsModule(t *testing.T) {
	tests := []struct {
		name string
		code string
		want bool
	}{
		{"default import", `import x from 'y'`, true},
		{"named import", `import { a } from 'y'`, true},
		{"bare import", `import 'side-effect'`, true},
		{"export const", `export const x = 1`, true},
		{"export default", `export default function () {}`, true},
		{"import meta", `console.log(import.meta.url)`, true},
		{"plain cjs", `const x = require('y'); module.exports = x`, false},
		{"word importance", `const importance = 5`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsModule(tt.code); got != tt.want {
				t.Errorf("IsModule(%q) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestLowerImports(t *testing.T) {
	l := NewLowerer([]string{"fs", "path"})

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			"default import",
			`import lib from 'lib'`,
			[]string{`const lib = __interop_default(require("lib"));`},
		},
		{
			"named import",
			`import { readFile, join } from 'helpers'`,
			[]string{`const {readFile, join} = require("helpers");`},
		},
		{
			"renamed import",
			`import { join as pathJoin } from 'path'`,
			[]string{`const {join: pathJoin} = require("path");`},
		},
		{
			"namespace import",
			`import * as fs from 'fs'`,
			[]string{`const fs = require("fs");`},
		},
		{
			"side effect import",
			`import 'polyfill'`,
			[]string{`require("polyfill");`},
		},
		{
			"default plus named",
			`import def, { named } from 'mixed'`,
			[]string{`require("mixed")`, `__interop_default`, `{named}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.Transform(tt.in, "/mod.js")
			require.NoError(t, err)
			for _, fragment := range tt.want {
				assert.Contains(t, got, fragment)
			}
		})
	}
}

func TestLowerExports(t *testing.T) {
	l := NewLowerer(nil)

	got, err := l.Transform("export const answer = 42\nexport function greet() { return 'hi' }", "/mod.js")
	require.NoError(t, err)
	assert.Contains(t, got, "const answer = 42")
	assert.Contains(t, got, "exports.answer = answer;")
	assert.Contains(t, got, "function greet()")
	assert.Contains(t, got, "exports.greet = greet;")
	assert.Contains(t, got, `__esModule`)

	got, err = l.Transform(`export default { a: 1 }`, "/mod.js")
	require.NoError(t, err)
	assert.Contains(t, got, "exports.default = { a: 1 }")

	got, err = l.Transform(`export { x as y } from 'dep'`, "/mod.js")
	require.NoError(t, err)
	assert.Contains(t, got, `require("dep")`)
	assert.Contains(t, got, ".x;")
	assert.Contains(t, got, "exports.y")
}

func TestImportMetaRewrite(t *testing.T) {
	l := NewLowerer(nil)

	got, err := l.Transform(`export const here = import.meta.url`, "/mod.js")
	require.NoError(t, err)
	assert.Contains(t, got, "import_meta.url")
	assert.NotContains(t, got, "import.meta")
}

func TestDynamicBuiltinImport(t *testing.T) {
	l := NewLowerer([]string{"fs"})

	got, err := l.Transform(`export const p = import('fs')`, "/mod.js")
	require.NoError(t, err)
	assert.Contains(t, got, `Promise.resolve(require("fs"))`)

	// node: prefix resolves to the same builtin.
	got, err = l.Transform(`export const p = import('node:fs')`, "/mod.js")
	require.NoError(t, err)
	assert.Contains(t, got, `Promise.resolve(require("node:fs"))`)

	// Non-builtin dynamic imports stay untouched.
	got, err = l.Transform(`export const p = import('lodash')`, "/mod.js")
	require.NoError(t, err)
	assert.Contains(t, got, `import('lodash')`)
}

func TestTopLevelAwaitPassesThrough(t *testing.T) {
	code := "import x from 'y'\nconst data = await x.load()\nexport default data"

	assert.True(t, HasTopLevelAwait(code))

	l := NewLowerer(nil)
	got, err := l.Transform(code, "/mod.mjs")
	require.NoError(t, err)
	assert.Equal(t, code, got)
}

func TestPlainCJSUnchanged(t *testing.T) {
	l := NewLowerer([]string{"fs"})
	code := "const fs = require('fs');\nmodule.exports = fs.readFileSync;"

	got, err := l.Transform(code, "/mod.js")
	require.NoError(t, err)
	assert.Equal(t, code, got)
}

func TestLoweredOutputHasNoImportStatements(t *testing.T) {
	l := NewLowerer(nil)
	code := strings.Join([]string{
		`import a from 'a'`,
		`import { b } from 'b'`,
		`export const c = a + b`,
	}, "\n")

	got, err := l.Transform(code, "/mod.js")
	require.NoError(t, err)
	assert.False(t, IsModule(got), "lowered output still contains module syntax: %s", got)
}
