package runtime

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/webnode/internal/vfs"
)

// registerDefaultBuiltins installs the default capability table. Names
// resolve with or without the node: prefix.
func (l *Loader) registerDefaultBuiltins() {
	l.RegisterBuiltin("fs", builtinFS)
	l.RegisterBuiltin("path", builtinPath)
	l.RegisterBuiltin("os", builtinOS)
	l.RegisterBuiltin("process", func(l *Loader) goja.Value { return l.process })
	l.RegisterBuiltin("buffer", builtinBufferModule)
	l.RegisterBuiltin("events", builtinEvents)
	l.RegisterBuiltin("util", builtinUtil)
}

func (l *Loader) buildProcess() goja.Value {
	proc := l.vm.NewObject()

	env := l.vm.NewObject()
	for k, v := range l.cfg.Env {
		env.Set(k, v)
	}
	proc.Set("env", env)
	proc.Set("argv", []string{"node"})
	proc.Set("platform", "linux")
	proc.Set("browser", true)
	proc.Set("version", "v18.0.0")
	proc.Set("pid", 1)
	proc.Set("exitCode", goja.Undefined())
	proc.Set("cwd", func(call goja.FunctionCall) goja.Value {
		return l.vm.ToValue("/")
	})
	proc.Set("nextTick", func(call goja.FunctionCall) goja.Value {
		if fn, ok := goja.AssertFunction(call.Argument(0)); ok {
			rest := make([]goja.Value, 0, len(call.Arguments)-1)
			if len(call.Arguments) > 1 {
				rest = append(rest, call.Arguments[1:]...)
			}
			l.enqueue(func() { fn(goja.Undefined(), rest...) })
		}
		return goja.Undefined()
	})
	proc.Set("exit", func(call goja.FunctionCall) goja.Value {
		proc.Set("exitCode", call.Argument(0))
		return goja.Undefined()
	})
	return proc
}

// buildBuffer evaluates the Buffer class once per Loader. Byte storage
// rides on Uint8Array; encoding conversions call back into Go.
func (l *Loader) buildBuffer() goja.Value {
	l.vm.Set("__buf_fromString", func(call goja.FunctionCall) goja.Value {
		data, err := decodeString(call.Argument(0).String(), encodingArg(call.Argument(1)))
		if err != nil {
			panic(l.vm.NewTypeError(err.Error()))
		}
		return l.newUint8Array(data)
	})
	l.vm.Set("__buf_toString", func(call goja.FunctionCall) goja.Value {
		ab, ok := call.Argument(0).Export().(goja.ArrayBuffer)
		if !ok {
			panic(l.vm.NewTypeError("expected ArrayBuffer"))
		}
		return l.vm.ToValue(encodeString(ab.Bytes(), encodingArg(call.Argument(1))))
	})

	val, err := l.vm.RunString(bufferJS)
	if err != nil {
		panic(fmt.Sprintf("buffer builtin failed to evaluate: %v", err))
	}
	return val
}

func encodingArg(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "utf8"
	}
	return strings.ToLower(v.String())
}

func decodeString(s, encoding string) ([]byte, error) {
	switch encoding {
	case "utf8", "utf-8", "":
		return []byte(s), nil
	case "base64":
		return base64.StdEncoding.DecodeString(s)
	case "hex":
		return hex.DecodeString(s)
	case "latin1", "binary":
		out := make([]byte, len(s))
		for i := 0; i < len(s); i++ {
			out[i] = s[i]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported encoding '%s'", encoding)
	}
}

func encodeString(data []byte, encoding string) string {
	switch encoding {
	case "base64":
		return base64.StdEncoding.EncodeToString(data)
	case "hex":
		return hex.EncodeToString(data)
	default:
		return string(data)
	}
}

// newUint8Array wraps bytes in a JS Uint8Array without re-encoding.
func (l *Loader) newUint8Array(data []byte) goja.Value {
	ab := l.vm.NewArrayBuffer(data)
	u8, err := l.vm.New(l.vm.Get("Uint8Array"), l.vm.ToValue(ab))
	if err != nil {
		panic(l.vm.NewGoError(err))
	}
	return u8
}

// newJSBuffer builds a Buffer instance from Go bytes.
func (l *Loader) newJSBuffer(data []byte) goja.Value {
	from, ok := goja.AssertFunction(l.buffer.ToObject(l.vm).Get("from"))
	if !ok {
		panic(l.vm.NewTypeError("Buffer.from is not callable"))
	}
	out, err := from(l.buffer, l.newUint8Array(data))
	if err != nil {
		panic(l.vm.NewGoError(err))
	}
	return out
}

const bufferJS = `(function() {
	class Buffer extends Uint8Array {
		toString(encoding) { return __buf_toString(this.buffer, encoding); }
		slice(start, end) { return Buffer.from(Uint8Array.prototype.slice.call(this, start, end)); }
		equals(other) {
			if (this.length !== other.length) return false;
			for (let i = 0; i < this.length; i++) if (this[i] !== other[i]) return false;
			return true;
		}
	}
	Buffer.from = function(input, encoding) {
		if (typeof input === 'string') return new Buffer(__buf_fromString(input, encoding));
		if (input instanceof Uint8Array || Array.isArray(input)) return new Buffer(input);
		throw new TypeError('unsupported Buffer source');
	};
	Buffer.alloc = function(size) { return new Buffer(size); };
	Buffer.isBuffer = function(value) { return value instanceof Buffer; };
	Buffer.byteLength = function(input, encoding) { return Buffer.from(input, encoding).length; };
	Buffer.concat = function(list) {
		let total = 0;
		for (const b of list) total += b.length;
		const out = new Buffer(total);
		let offset = 0;
		for (const b of list) { out.set(b, offset); offset += b.length; }
		return out;
	};
	return Buffer;
})()`

// builtinBufferModule exposes require('buffer') with the same Buffer
// the globals carry.
func builtinBufferModule(l *Loader) goja.Value {
	mod := l.vm.NewObject()
	mod.Set("Buffer", l.buffer)
	return mod
}

func builtinPath(l *Loader) goja.Value {
	vm := l.vm
	mod := vm.NewObject()

	mod.Set("sep", "/")
	mod.Set("delimiter", ":")
	mod.Set("normalize", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(vfs.Normalize(call.Argument(0).String()))
	})
	mod.Set("join", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			if !goja.IsUndefined(arg) && !goja.IsNull(arg) {
				parts = append(parts, arg.String())
			}
		}
		joined := strings.Join(parts, "/")
		if !strings.HasPrefix(joined, "/") {
			// Preserve relative joins the way Node does.
			normalized := vfs.Normalize(joined)
			return vm.ToValue(strings.TrimPrefix(normalized, "/"))
		}
		return vm.ToValue(vfs.Normalize(joined))
	})
	mod.Set("resolve", func(call goja.FunctionCall) goja.Value {
		resolved := "/"
		for _, arg := range call.Arguments {
			part := arg.String()
			if strings.HasPrefix(part, "/") {
				resolved = part
			} else {
				resolved = resolved + "/" + part
			}
		}
		return vm.ToValue(vfs.Normalize(resolved))
	})
	mod.Set("dirname", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(vfs.Dir(call.Argument(0).String()))
	})
	mod.Set("basename", func(call goja.FunctionCall) goja.Value {
		base := vfs.Base(call.Argument(0).String())
		if ext := call.Argument(1); !goja.IsUndefined(ext) {
			base = strings.TrimSuffix(base, ext.String())
		}
		return vm.ToValue(base)
	})
	mod.Set("extname", func(call goja.FunctionCall) goja.Value {
		base := vfs.Base(call.Argument(0).String())
		idx := strings.LastIndex(base, ".")
		if idx <= 0 {
			return vm.ToValue("")
		}
		return vm.ToValue(base[idx:])
	})
	mod.Set("isAbsolute", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(strings.HasPrefix(call.Argument(0).String(), "/"))
	})
	mod.Set("relative", func(call goja.FunctionCall) goja.Value {
		from := vfs.Normalize(call.Argument(0).String())
		to := vfs.Normalize(call.Argument(1).String())
		return vm.ToValue(relativePath(from, to))
	})
	mod.Set("parse", func(call goja.FunctionCall) goja.Value {
		p := vfs.Normalize(call.Argument(0).String())
		base := vfs.Base(p)
		ext := ""
		name := base
		if idx := strings.LastIndex(base, "."); idx > 0 {
			ext = base[idx:]
			name = base[:idx]
		}
		out := vm.NewObject()
		out.Set("root", "/")
		out.Set("dir", vfs.Dir(p))
		out.Set("base", base)
		out.Set("ext", ext)
		out.Set("name", name)
		return out
	})
	return mod
}

func relativePath(from, to string) string {
	if from == to {
		return ""
	}
	fromSegs := strings.Split(strings.TrimPrefix(from, "/"), "/")
	toSegs := strings.Split(strings.TrimPrefix(to, "/"), "/")
	common := 0
	for common < len(fromSegs) && common < len(toSegs) && fromSegs[common] == toSegs[common] {
		common++
	}
	var parts []string
	for i := common; i < len(fromSegs); i++ {
		if fromSegs[i] != "" {
			parts = append(parts, "..")
		}
	}
	for i := common; i < len(toSegs); i++ {
		if toSegs[i] != "" {
			parts = append(parts, toSegs[i])
		}
	}
	return strings.Join(parts, "/")
}

func builtinOS(l *Loader) goja.Value {
	vm := l.vm
	mod := vm.NewObject()
	mod.Set("EOL", "\n")
	mod.Set("platform", func(call goja.FunctionCall) goja.Value { return vm.ToValue("linux") })
	mod.Set("arch", func(call goja.FunctionCall) goja.Value { return vm.ToValue("x64") })
	mod.Set("homedir", func(call goja.FunctionCall) goja.Value { return vm.ToValue("/home") })
	mod.Set("tmpdir", func(call goja.FunctionCall) goja.Value { return vm.ToValue("/tmp") })
	mod.Set("hostname", func(call goja.FunctionCall) goja.Value { return vm.ToValue("webnode") })
	mod.Set("cpus", func(call goja.FunctionCall) goja.Value { return vm.NewArray() })
	return mod
}

const eventsJS = `(function() {
	class EventEmitter {
		constructor() { this._events = {}; }
		on(name, fn) {
			(this._events[name] = this._events[name] || []).push(fn);
			return this;
		}
		once(name, fn) {
			const self = this;
			function wrap() { self.off(name, wrap); fn.apply(self, arguments); }
			wrap.listener = fn;
			return this.on(name, wrap);
		}
		off(name, fn) {
			const list = this._events[name];
			if (!list) return this;
			const idx = list.findIndex(function(entry) { return entry === fn || entry.listener === fn; });
			if (idx >= 0) list.splice(idx, 1);
			return this;
		}
		removeAllListeners(name) {
			if (name === undefined) this._events = {};
			else delete this._events[name];
			return this;
		}
		emit(name) {
			const list = this._events[name];
			if (!list || list.length === 0) return false;
			const args = Array.prototype.slice.call(arguments, 1);
			for (const fn of list.slice()) fn.apply(this, args);
			return true;
		}
		listenerCount(name) { return (this._events[name] || []).length; }
		listeners(name) { return (this._events[name] || []).slice(); }
	}
	EventEmitter.prototype.addListener = EventEmitter.prototype.on;
	EventEmitter.prototype.removeListener = EventEmitter.prototype.off;

	const exports = EventEmitter;
	exports.EventEmitter = EventEmitter;
	exports.default = EventEmitter;
	return exports;
})()`

func builtinEvents(l *Loader) goja.Value {
	val, err := l.vm.RunString(eventsJS)
	if err != nil {
		panic(fmt.Sprintf("events builtin failed to evaluate: %v", err))
	}
	return val
}

const utilJS = `(function() {
	const util = {};
	util.format = function(fmt) {
		const args = Array.prototype.slice.call(arguments, 1);
		let i = 0;
		if (typeof fmt !== 'string') return [fmt].concat(args).map(String).join(' ');
		let out = fmt.replace(/%[sdj%]/g, function(m) {
			if (m === '%%') return '%';
			if (i >= args.length) return m;
			const arg = args[i++];
			if (m === '%j') { try { return JSON.stringify(arg); } catch (_) { return '[Circular]'; } }
			if (m === '%d') return Number(arg);
			return String(arg);
		});
		for (; i < args.length; i++) out += ' ' + String(args[i]);
		return out;
	};
	util.inherits = function(ctor, superCtor) {
		Object.setPrototypeOf(ctor.prototype, superCtor.prototype);
		ctor.super_ = superCtor;
	};
	util.promisify = function(fn) {
		return function() {
			const args = Array.prototype.slice.call(arguments);
			const self = this;
			return new Promise(function(resolve, reject) {
				args.push(function(err, value) { if (err) reject(err); else resolve(value); });
				fn.apply(self, args);
			});
		};
	};
	util.deprecate = function(fn) { return fn; };
	util.inspect = function(value) {
		try { return JSON.stringify(value); } catch (_) { return String(value); }
	};
	util.types = { isPromise: function(v) { return v instanceof Promise; } };
	return util;
})()`

func builtinUtil(l *Loader) goja.Value {
	val, err := l.vm.RunString(utilJS)
	if err != nil {
		panic(fmt.Sprintf("util builtin failed to evaluate: %v", err))
	}
	return val
}
