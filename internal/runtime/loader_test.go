package runtime

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/webnode/internal/transform"
	"github.com/GriffinCanCode/webnode/internal/vfs"
)

func newTestLoader(t *testing.T) (*Loader, *vfs.FS) {
	t.Helper()
	fsys := vfs.New()
	l := New(fsys, Config{
		Transformer: transform.NewLowerer([]string{"fs", "path", "os", "events", "util", "buffer", "process"}),
	})
	return l, fsys
}

func TestRequireSingleton(t *testing.T) {
	l, fsys := newTestLoader(t)
	require.NoError(t, fsys.WriteFile("/x.js", []byte("module.exports = { n: Math.random() }")))
	require.NoError(t, fsys.WriteFile("/one.js", []byte("module.exports = require('./x')")))
	require.NoError(t, fsys.WriteFile("/two.js", []byte("module.exports = require('./x')")))

	first, err := l.Require("./x")
	require.NoError(t, err)
	second, err := l.Require("./x")
	require.NoError(t, err)
	assert.True(t, first == second, "same specifier must return the identical exports reference")

	// Two different requesting files resolving to the same path share
	// the same exports object.
	viaOne, err := l.Require("./one")
	require.NoError(t, err)
	viaTwo, err := l.Require("./two")
	require.NoError(t, err)
	assert.True(t, viaOne == viaTwo)
}

func TestClearCacheReloads(t *testing.T) {
	l, fsys := newTestLoader(t)
	require.NoError(t, fsys.WriteFile("/mod.js", []byte("module.exports = 'first'")))

	val, err := l.Require("./mod")
	require.NoError(t, err)
	assert.Equal(t, "first", val.Export())

	require.NoError(t, fsys.WriteFile("/mod.js", []byte("module.exports = 'second'")))

	// Without a cache clear the old exports stay visible.
	val, err = l.Require("./mod")
	require.NoError(t, err)
	assert.Equal(t, "first", val.Export())

	l.ClearCache()
	val, err = l.Require("./mod")
	require.NoError(t, err)
	assert.Equal(t, "second", val.Export())
}

func TestCircularRequire(t *testing.T) {
	l, fsys := newTestLoader(t)
	require.NoError(t, fsys.WriteFile("/a.js", []byte("exports.val = 1; module.exports.b = require('./b').val + 1")))
	require.NoError(t, fsys.WriteFile("/b.js", []byte("exports.val = 1; module.exports.a = require('./a').val + 1")))

	val, err := l.Require("./a")
	require.NoError(t, err, "circular require must terminate")

	exports, ok := val.Export().(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, exports["val"])
	// b saw a's partial exports {val: 1} mid-evaluation.
	assert.EqualValues(t, 2, exports["b"])

	bVal, err := l.Require("./b")
	require.NoError(t, err)
	bExports := bVal.Export().(map[string]interface{})
	assert.EqualValues(t, 1, bExports["val"])
	assert.EqualValues(t, 2, bExports["a"])
}

func TestRequireJSON(t *testing.T) {
	l, fsys := newTestLoader(t)
	require.NoError(t, fsys.WriteFile("/data.json", []byte(`{"name":"webnode","count":3}`)))

	val, err := l.Require("./data.json")
	require.NoError(t, err)
	data := val.Export().(map[string]interface{})
	assert.Equal(t, "webnode", data["name"])
	assert.EqualValues(t, 3, data["count"])
}

func TestRequireUnresolvable(t *testing.T) {
	l, _ := newTestLoader(t)

	_, err := l.Require("./ghost")
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "./ghost", resErr.Specifier)
	assert.Contains(t, err.Error(), "Cannot find module")
}

func TestVarRedeclarationOfInjected(t *testing.T) {
	l, fsys := newTestLoader(t)
	require.NoError(t, fsys.WriteFile("/shadow.js", []byte(
		"var __filename = 'custom';\nvar __dirname = 'also custom';\nmodule.exports = __filename",
	)))

	val, err := l.Require("./shadow")
	require.NoError(t, err)
	assert.Equal(t, "custom", val.Export())
}

func TestInjectedModuleContext(t *testing.T) {
	l, fsys := newTestLoader(t)
	require.NoError(t, fsys.WriteFile("/app/info.js", []byte(
		"module.exports = { file: __filename, dir: __dirname }",
	)))

	val, err := l.Require("./app/info.js")
	require.NoError(t, err)
	exports := val.Export().(map[string]interface{})
	assert.Equal(t, "/app/info.js", exports["file"])
	assert.Equal(t, "/app", exports["dir"])
}

func TestESMInterop(t *testing.T) {
	l, fsys := newTestLoader(t)
	require.NoError(t, fsys.WriteFile("/lib.mjs", []byte(
		"export const answer = 42\nexport default function () { return 'dflt' }",
	)))
	require.NoError(t, fsys.WriteFile("/consumer.js", []byte(
		"const lib = require('./lib.mjs');\nmodule.exports = { answer: lib.answer, viaDefault: lib.default() }",
	)))

	val, err := l.Require("./consumer")
	require.NoError(t, err)
	exports := val.Export().(map[string]interface{})
	assert.EqualValues(t, 42, exports["answer"])
	assert.Equal(t, "dflt", exports["viaDefault"])
}

func TestESMImportMeta(t *testing.T) {
	l, fsys := newTestLoader(t)
	require.NoError(t, fsys.WriteFile("/meta.mjs", []byte("export const url = import.meta.url")))

	val, err := l.Require("./meta.mjs")
	require.NoError(t, err)
	exports := val.Export().(map[string]interface{})
	assert.Equal(t, "file:///meta.mjs", exports["url"])
}

func TestTopLevelAwaitNotRequireable(t *testing.T) {
	l, fsys := newTestLoader(t)
	require.NoError(t, fsys.WriteFile("/tla.mjs", []byte("export default 1\nconst x = await Promise.resolve(2)")))

	_, err := l.Require("./tla.mjs")
	var tlaErr *ErrTopLevelAwait
	require.ErrorAs(t, err, &tlaErr)
	assert.Equal(t, "/tla.mjs", tlaErr.Filename)
}

func TestEvaluationErrorPropagates(t *testing.T) {
	l, fsys := newTestLoader(t)
	require.NoError(t, fsys.WriteFile("/boom.js", []byte("throw new Error('kaput')")))

	_, err := l.Require("./boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaput")

	// A failed module is not cached; a later require re-evaluates.
	require.NoError(t, fsys.WriteFile("/boom.js", []byte("module.exports = 'fixed'")))
	l.ClearCache()
	val, err := l.Require("./boom")
	require.NoError(t, err)
	assert.Equal(t, "fixed", val.Export())
}

func TestExecuteCompletionValue(t *testing.T) {
	l, _ := newTestLoader(t)

	val, err := l.Execute("1 + 1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, val)

	_, err = l.Execute("undefinedFunction()")
	assert.Error(t, err)
}

func TestRunFile(t *testing.T) {
	l, fsys := newTestLoader(t)
	require.NoError(t, fsys.WriteFile("/entry.js", []byte("module.exports = { started: true }")))

	val, err := l.RunFile("/entry.js")
	require.NoError(t, err)
	exports := val.(map[string]interface{})
	assert.Equal(t, true, exports["started"])

	// Extension resolution applies to run targets too.
	val, err = l.RunFile("/entry")
	require.NoError(t, err)
	assert.NotNil(t, val)
}

func TestConsoleCapture(t *testing.T) {
	fsys := vfs.New()
	var lines []string
	l := New(fsys, Config{Console: func(level, message string) {
		lines = append(lines, level+": "+message)
	}})

	_, err := l.Execute("console.log('hello', 42); console.error('bad')")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "log: hello 42", lines[0])
	assert.Equal(t, "error: bad", lines[1])
}

func TestTickQueueOrdering(t *testing.T) {
	l, _ := newTestLoader(t)

	_, err := l.Execute("var order = []; setTimeout(function() { order.push('timer') }, 0); order.push('sync')")
	require.NoError(t, err)

	val, err := l.Execute("order.join(',')")
	require.NoError(t, err)
	assert.Equal(t, "sync,timer", val)
}

func TestProcessNextTick(t *testing.T) {
	l, _ := newTestLoader(t)

	_, err := l.Execute("var ticks = []; process.nextTick(function(v) { ticks.push(v) }, 'a')")
	require.NoError(t, err)

	val, err := l.Execute("ticks.join('')")
	require.NoError(t, err)
	assert.Equal(t, "a", val)
}

func TestFSBuiltin(t *testing.T) {
	l, fsys := newTestLoader(t)

	_, err := l.Execute(`
		const fs = require('fs');
		fs.mkdirSync('/out', { recursive: true });
		fs.writeFileSync('/out/greeting.txt', 'hi from js');
	`)
	require.NoError(t, err)

	content, err := fsys.ReadFile("/out/greeting.txt")
	require.NoError(t, err)
	assert.Equal(t, "hi from js", string(content))

	val, err := l.Execute(`require('node:fs').readFileSync('/out/greeting.txt', 'utf8')`)
	require.NoError(t, err)
	assert.Equal(t, "hi from js", val)
}

func TestFSBuiltinErrorShape(t *testing.T) {
	l, _ := newTestLoader(t)

	val, err := l.Execute(`
		(function() {
			try {
				require('fs').readFileSync('/missing.txt');
				return 'no error';
			} catch (err) {
				return err.code + '|' + err.syscall + '|' + err.path;
			}
		})()
	`)
	require.NoError(t, err)
	assert.Equal(t, "ENOENT|open|/missing.txt", val)
}

func TestFSCallbackDeferred(t *testing.T) {
	l, fsys := newTestLoader(t)
	require.NoError(t, fsys.WriteFile("/f.txt", []byte("data")))

	_, err := l.Execute(`
		var seen = [];
		require('fs').readFile('/f.txt', 'utf8', function(err, content) {
			seen.push('cb:' + content);
		});
		seen.push('after-call');
	`)
	require.NoError(t, err)

	// The callback ran after the synchronous code, not during the call.
	val, err := l.Execute("seen.join(',')")
	require.NoError(t, err)
	assert.Equal(t, "after-call,cb:data", val)
}

func TestPathBuiltin(t *testing.T) {
	l, _ := newTestLoader(t)

	tests := []struct {
		name string
		expr string
		want interface{}
	}{
		{"join", `require('path').join('/a', 'b', '../c')`, "/a/c"},
		{"dirname", `require('path').dirname('/a/b/c.js')`, "/a/b"},
		{"basename", `require('path').basename('/a/b/c.js')`, "c.js"},
		{"basename ext", `require('path').basename('/a/b/c.js', '.js')`, "c"},
		{"extname", `require('path').extname('/a/b/c.min.js')`, ".js"},
		{"extname none", `require('path').extname('/a/b/Makefile')`, ""},
		{"resolve", `require('path').resolve('/a', 'b', '/c', 'd')`, "/c/d"},
		{"isAbsolute", `require('path').isAbsolute('./x')`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val, err := l.Execute(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, val)
		})
	}
}

func TestBufferBuiltin(t *testing.T) {
	l, _ := newTestLoader(t)

	val, err := l.Execute(`Buffer.from('hello').toString('base64')`)
	require.NoError(t, err)
	assert.Equal(t, "aGVsbG8=", val)

	val, err = l.Execute(`Buffer.from('aGVsbG8=', 'base64').toString()`)
	require.NoError(t, err)
	assert.Equal(t, "hello", val)

	val, err = l.Execute(`Buffer.concat([Buffer.from('a'), Buffer.from('b')]).toString()`)
	require.NoError(t, err)
	assert.Equal(t, "ab", val)

	val, err = l.Execute(`Buffer.isBuffer(Buffer.alloc(4)) && Buffer.alloc(4).length === 4`)
	require.NoError(t, err)
	assert.Equal(t, true, val)
}

func TestEventsBuiltin(t *testing.T) {
	l, _ := newTestLoader(t)

	val, err := l.Execute(`
		const EventEmitter = require('events');
		const em = new EventEmitter();
		var got = [];
		em.on('data', function(v) { got.push(v) });
		em.once('data', function(v) { got.push('once:' + v) });
		em.emit('data', 1);
		em.emit('data', 2);
		got.join(',');
	`)
	require.NoError(t, err)
	assert.Equal(t, "1,once:1,2", val)
}

func TestCustomBuiltinRegistration(t *testing.T) {
	l, _ := newTestLoader(t)
	l.RegisterBuiltin("answers", func(l *Loader) goja.Value {
		mod := l.VM().NewObject()
		mod.Set("ultimate", 42)
		return mod
	})

	val, err := l.Execute(`require('answers').ultimate`)
	require.NoError(t, err)
	assert.EqualValues(t, 42, val)

	// node: prefix resolves to the same capability object.
	val, err = l.Execute(`require('node:answers') === require('answers')`)
	require.NoError(t, err)
	assert.Equal(t, true, val)
}
