package runtime

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/zeebo/blake3"

	"github.com/GriffinCanCode/webnode/internal/transform"
	"github.com/GriffinCanCode/webnode/internal/vfs"
)

// Loader implements require() over a virtual filesystem. All state
// (module cache, resolution cache, transform cache, builtin table) is
// owned by the instance so multiple isolated runtimes can coexist.
type Loader struct {
	fs  *vfs.FS
	vm  *goja.Runtime
	cfg Config

	modules      map[string]*Module
	resolutions  map[resolveKey]resolveEntry
	transforms   map[[32]byte]string
	builtins     map[string]BuiltinFactory
	builtinCache map[string]goja.Value

	process   goja.Value
	buffer    goja.Value
	jsonParse goja.Callable

	ticks    []func()
	draining bool
}

// New creates a Loader over fs. Default builtins (fs, path, process,
// buffer, events, util, os) are registered; more can be added with
// RegisterBuiltin before code runs.
func New(fsys *vfs.FS, cfg Config) *Loader {
	l := &Loader{
		fs:           fsys,
		vm:           goja.New(),
		cfg:          cfg,
		modules:      make(map[string]*Module),
		resolutions:  make(map[resolveKey]resolveEntry),
		transforms:   make(map[[32]byte]string),
		builtins:     make(map[string]BuiltinFactory),
		builtinCache: make(map[string]goja.Value),
	}
	l.registerDefaultBuiltins()
	l.installGlobals()
	return l
}

// FS returns the filesystem the loader reads from.
func (l *Loader) FS() *vfs.FS { return l.fs }

// VM exposes the underlying goja runtime for embedding surfaces that
// need to convert values.
func (l *Loader) VM() *goja.Runtime { return l.vm }

// RegisterBuiltin adds a builtin capability under name, resolvable with
// or without the node: prefix. Replacing an existing name drops its
// cached instance.
func (l *Loader) RegisterBuiltin(name string, factory BuiltinFactory) {
	l.builtins[name] = factory
	delete(l.builtinCache, name)
}

// Builtins lists the registered builtin names.
func (l *Loader) Builtins() []string {
	names := make([]string, 0, len(l.builtins))
	for name := range l.builtins {
		names = append(names, name)
	}
	return names
}

// installGlobals sets up console, process, Buffer, require and timer
// shims. Guarded so constructing twice over a shared VM cannot double
// install.
func (l *Loader) installGlobals() {
	if l.vm.Get("__webnode__") != nil {
		return
	}

	parseVal := l.vm.Get("JSON").ToObject(l.vm).Get("parse")
	l.jsonParse, _ = goja.AssertFunction(parseVal)

	l.process = l.buildProcess()
	l.buffer = l.buildBuffer()

	console := l.vm.NewObject()
	for _, level := range []string{"log", "warn", "error", "info", "debug"} {
		console.Set(level, l.makeConsoleFunc(level))
	}
	l.vm.Set("console", console)
	l.vm.Set("process", l.process)
	l.vm.Set("Buffer", l.buffer)
	l.vm.Set("global", l.vm.GlobalObject())
	l.vm.Set("require", l.makeRequire("/"))

	// One-tick timer shims: delays are not honored, ordering is.
	l.vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		if fn, ok := goja.AssertFunction(call.Argument(0)); ok {
			l.enqueue(func() { fn(goja.Undefined()) })
		}
		return l.vm.ToValue(0)
	})
	l.vm.Set("setInterval", func(call goja.FunctionCall) goja.Value {
		return l.vm.ToValue(0)
	})
	l.vm.Set("clearTimeout", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
	l.vm.Set("clearInterval", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
	l.vm.Set("queueMicrotask", func(call goja.FunctionCall) goja.Value {
		if fn, ok := goja.AssertFunction(call.Argument(0)); ok {
			l.enqueue(func() { fn(goja.Undefined()) })
		}
		return goja.Undefined()
	})

	l.vm.RunString(`Error.stackTraceLimit = 100;`)
	l.vm.Set("__webnode__", true)
}

func (l *Loader) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if l.cfg.Console == nil {
			return goja.Undefined()
		}
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, formatValue(l.vm, arg))
		}
		l.cfg.Console(level, strings.Join(parts, " "))
		return goja.Undefined()
	}
}

// formatValue renders a value the way console output reads in Node:
// strings bare, objects as JSON, everything else via toString.
func formatValue(vm *goja.Runtime, v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if obj, ok := v.(*goja.Object); ok {
		if stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify")); ok {
			if out, err := stringify(goja.Undefined(), obj); err == nil && !goja.IsUndefined(out) {
				return out.String()
			}
		}
	}
	return v.String()
}

// Require resolves and loads specifier from the filesystem root.
func (l *Loader) Require(specifier string) (goja.Value, error) {
	val, err := l.requireFrom("/", specifier)
	if err != nil {
		return nil, err
	}
	l.drainTicks()
	return val, nil
}

// RunFile loads the module at path and returns its exports as a Go
// value. Evaluation errors propagate unchanged.
func (l *Loader) RunFile(path string) (interface{}, error) {
	resolved, err := l.resolveAsFileOrDir(vfs.Normalize(path))
	if err != nil {
		return nil, &ResolutionError{Specifier: path, Requester: "/"}
	}
	exports, err := l.loadModule(resolved)
	if err != nil {
		return nil, err
	}
	l.drainTicks()
	return exports.Export(), nil
}

// Execute evaluates code in the loader's global scope, where require,
// process and Buffer are available, and returns the completion value.
func (l *Loader) Execute(code string) (interface{}, error) {
	val, err := l.vm.RunScript("/<anonymous>", code)
	if err != nil {
		return nil, err
	}
	l.drainTicks()
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, nil
	}
	return val.Export(), nil
}

// ClearCache drops the module and resolution caches. The transform
// cache survives: it is keyed by content, so unchanged files skip
// re-lowering. Builtin instances are capabilities, not modules, and
// also survive.
func (l *Loader) ClearCache() {
	l.modules = make(map[string]*Module)
	l.resolutions = make(map[resolveKey]resolveEntry)
}

// CachedModules returns the resolved paths currently in the module
// cache, for diagnostics.
func (l *Loader) CachedModules() []string {
	out := make([]string, 0, len(l.modules))
	for path := range l.modules {
		out = append(out, path)
	}
	return out
}

// requireFrom implements require() for code whose module lives in dir.
func (l *Loader) requireFrom(dir, specifier string) (goja.Value, error) {
	if exports, ok := l.requireBuiltin(specifier); ok {
		return exports, nil
	}
	resolved, err := l.resolve(dir, specifier)
	if err != nil {
		return nil, err
	}
	return l.loadModule(resolved)
}

func (l *Loader) requireBuiltin(specifier string) (goja.Value, bool) {
	name := strings.TrimPrefix(specifier, "node:")
	if cached, ok := l.builtinCache[name]; ok {
		return cached, true
	}
	factory, ok := l.builtins[name]
	if !ok {
		return nil, false
	}
	exports := factory(l)
	l.builtinCache[name] = exports
	return exports, true
}

// loadModule evaluates the module at the resolved path, registering its
// record before evaluation so circular requires observe partial
// exports.
func (l *Loader) loadModule(path string) (goja.Value, error) {
	if mod, ok := l.modules[path]; ok {
		return mod.Exports, nil
	}

	content, err := l.fs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	source := string(content)

	if strings.HasSuffix(path, ".json") {
		return l.loadJSON(path, source)
	}

	if transform.IsModule(source) {
		if transform.HasTopLevelAwait(source) {
			return nil, &ErrTopLevelAwait{Filename: path}
		}
		if l.cfg.Transformer == nil {
			return nil, fmt.Errorf("module '%s' requires ESM lowering but no transformer is configured", path)
		}
		source, err = l.transformCached(path, source)
		if err != nil {
			return nil, fmt.Errorf("transform %s: %w", path, err)
		}
	}

	exportsObj := l.vm.NewObject()
	moduleObj := l.vm.NewObject()
	moduleObj.Set("exports", exportsObj)
	moduleObj.Set("id", path)
	moduleObj.Set("filename", path)
	moduleObj.Set("loaded", false)

	mod := &Module{ID: path, Exports: exportsObj, Filename: path}
	l.modules[path] = mod

	fn, err := l.compileWrapper(path, source)
	if err != nil {
		delete(l.modules, path)
		return nil, err
	}

	dir := vfs.Dir(path)
	_, err = fn(goja.Undefined(),
		moduleObj,
		exportsObj,
		l.makeRequire(dir),
		l.vm.ToValue(path),
		l.vm.ToValue(dir),
		l.process,
		l.buffer,
		l.importMeta(path),
	)
	if err != nil {
		delete(l.modules, path)
		return nil, err
	}

	mod.Exports = moduleObj.Get("exports")
	mod.Loaded = true
	moduleObj.Set("loaded", true)
	return mod.Exports, nil
}

func (l *Loader) loadJSON(path, source string) (goja.Value, error) {
	val, err := l.jsonParse(goja.Undefined(), l.vm.ToValue(source))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	l.modules[path] = &Module{ID: path, Exports: val, Filename: path, Loaded: true}
	return val, nil
}

// compileWrapper compiles the module body inside the injection wrapper.
// Parameters are shadowable, so a module re-declaring __filename or
// __dirname with var does not throw.
func (l *Loader) compileWrapper(path, source string) (goja.Callable, error) {
	wrapped := "(function(module, exports, require, __filename, __dirname, process, Buffer, import_meta) {\n" +
		source + "\n})"
	prog, err := goja.Compile(path, wrapped, false)
	if err != nil {
		return nil, err
	}
	val, err := l.vm.RunProgram(prog)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(val)
	if !ok {
		return nil, fmt.Errorf("wrapper for %s did not compile to a function", path)
	}
	return fn, nil
}

func (l *Loader) makeRequire(dir string) goja.Value {
	return l.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		specifier := call.Argument(0).String()
		exports, err := l.requireFrom(dir, specifier)
		if err != nil {
			panic(l.jsError(err))
		}
		return exports
	})
}

// importMeta builds the import_meta binding the transformer rewrites
// import.meta references to.
func (l *Loader) importMeta(path string) goja.Value {
	meta := l.vm.NewObject()
	meta.Set("url", "file://"+path)
	meta.Set("filename", path)
	meta.Set("dirname", vfs.Dir(path))
	return meta
}

func (l *Loader) transformCached(path, source string) (string, error) {
	key := blake3.Sum256([]byte(path + "\x00" + source))
	if cached, ok := l.transforms[key]; ok {
		return cached, nil
	}
	lowered, err := l.cfg.Transformer.Transform(source, path)
	if err != nil {
		return "", err
	}
	l.transforms[key] = lowered
	return lowered, nil
}

// jsError converts a Go error into a throwable JS value, preserving
// Node-style code/errno/syscall/path fields for filesystem errors.
func (l *Loader) jsError(err error) goja.Value {
	var fsErr *vfs.Error
	if errors.As(err, &fsErr) {
		if obj, cerr := l.vm.New(l.vm.Get("Error"), l.vm.ToValue(fsErr.Error())); cerr == nil {
			obj.Set("code", fsErr.Code)
			obj.Set("errno", fsErr.Errno)
			obj.Set("syscall", fsErr.Syscall)
			obj.Set("path", fsErr.Path)
			return obj
		}
	}
	return l.vm.NewGoError(err)
}

// enqueue schedules fn onto the tick queue, drained after the current
// top-level evaluation completes.
func (l *Loader) enqueue(fn func()) {
	l.ticks = append(l.ticks, fn)
}

// drainTicks runs queued callbacks in order. Callbacks may enqueue
// more work; nested drains are suppressed so ordering stays flat.
func (l *Loader) drainTicks() {
	if l.draining {
		return
	}
	l.draining = true
	defer func() { l.draining = false }()

	for len(l.ticks) > 0 {
		fn := l.ticks[0]
		l.ticks = l.ticks[1:]
		fn()
	}
}
