package runtime

import (
	"github.com/dop251/goja"

	"github.com/GriffinCanCode/webnode/internal/vfs"
)

// builtinFS exposes the virtual filesystem with Node fs shapes: sync
// methods, callback methods deferred by one tick, a promises namespace,
// and watch. Callback deferral mimics asynchronous ordering only; the
// underlying operations never block.
func builtinFS(l *Loader) goja.Value {
	vm := l.vm
	mod := vm.NewObject()

	// --- sync API ---

	mod.Set("readFileSync", func(call goja.FunctionCall) goja.Value {
		path := call.Argument(0).String()
		content, err := l.fs.ReadFile(path)
		if err != nil {
			panic(l.jsError(err))
		}
		if enc := readEncoding(call.Argument(1)); enc != "" {
			return vm.ToValue(encodeString(content, enc))
		}
		return l.newJSBuffer(content)
	})
	mod.Set("writeFileSync", func(call goja.FunctionCall) goja.Value {
		if err := l.fs.WriteFile(call.Argument(0).String(), l.valueBytes(call.Argument(1))); err != nil {
			panic(l.jsError(err))
		}
		return goja.Undefined()
	})
	mod.Set("appendFileSync", func(call goja.FunctionCall) goja.Value {
		path := call.Argument(0).String()
		existing, err := l.fs.ReadFile(path)
		if err != nil && !vfs.IsNotExist(err) {
			panic(l.jsError(err))
		}
		if err := l.fs.WriteFile(path, append(existing, l.valueBytes(call.Argument(1))...)); err != nil {
			panic(l.jsError(err))
		}
		return goja.Undefined()
	})
	mod.Set("existsSync", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(l.fs.Exists(call.Argument(0).String()))
	})
	mod.Set("mkdirSync", func(call goja.FunctionCall) goja.Value {
		if err := l.fs.Mkdir(call.Argument(0).String(), boolOption(call.Argument(1), "recursive")); err != nil {
			panic(l.jsError(err))
		}
		return goja.Undefined()
	})
	mod.Set("readdirSync", func(call goja.FunctionCall) goja.Value {
		entries, err := l.fs.ReadDir(call.Argument(0).String())
		if err != nil {
			panic(l.jsError(err))
		}
		names := make([]interface{}, len(entries))
		for i, entry := range entries {
			names[i] = entry.Name
		}
		return vm.NewArray(names...)
	})
	mod.Set("statSync", func(call goja.FunctionCall) goja.Value {
		info, err := l.fs.Stat(call.Argument(0).String())
		if err != nil {
			panic(l.jsError(err))
		}
		return l.statsObject(info)
	})
	mod.Set("lstatSync", mod.Get("statSync"))
	mod.Set("unlinkSync", func(call goja.FunctionCall) goja.Value {
		if err := l.fs.Unlink(call.Argument(0).String()); err != nil {
			panic(l.jsError(err))
		}
		return goja.Undefined()
	})
	mod.Set("rmdirSync", func(call goja.FunctionCall) goja.Value {
		if err := l.fs.Rmdir(call.Argument(0).String()); err != nil {
			panic(l.jsError(err))
		}
		return goja.Undefined()
	})
	mod.Set("rmSync", func(call goja.FunctionCall) goja.Value {
		path := call.Argument(0).String()
		if boolOption(call.Argument(1), "recursive") {
			if err := l.fs.RemoveAll(path); err != nil {
				panic(l.jsError(err))
			}
			return goja.Undefined()
		}
		if err := l.fs.Unlink(path); err != nil {
			panic(l.jsError(err))
		}
		return goja.Undefined()
	})
	mod.Set("renameSync", func(call goja.FunctionCall) goja.Value {
		if err := l.fs.Rename(call.Argument(0).String(), call.Argument(1).String()); err != nil {
			panic(l.jsError(err))
		}
		return goja.Undefined()
	})

	// --- callback API: same semantics, deferred one tick ---

	mod.Set("readFile", func(call goja.FunctionCall) goja.Value {
		path := call.Argument(0).String()
		enc, cb := callbackArgs(call)
		l.enqueue(func() {
			content, err := l.fs.ReadFile(path)
			if err != nil {
				cb(goja.Undefined(), l.jsError(err))
				return
			}
			if enc != "" {
				cb(goja.Undefined(), goja.Null(), vm.ToValue(encodeString(content, enc)))
			} else {
				cb(goja.Undefined(), goja.Null(), l.newJSBuffer(content))
			}
		})
		return goja.Undefined()
	})
	mod.Set("writeFile", func(call goja.FunctionCall) goja.Value {
		path := call.Argument(0).String()
		data := l.valueBytes(call.Argument(1))
		_, cb := callbackArgs(call)
		l.enqueue(func() {
			if err := l.fs.WriteFile(path, data); err != nil {
				cb(goja.Undefined(), l.jsError(err))
				return
			}
			cb(goja.Undefined(), goja.Null())
		})
		return goja.Undefined()
	})
	mod.Set("stat", func(call goja.FunctionCall) goja.Value {
		path := call.Argument(0).String()
		_, cb := callbackArgs(call)
		l.enqueue(func() {
			info, err := l.fs.Stat(path)
			if err != nil {
				cb(goja.Undefined(), l.jsError(err))
				return
			}
			cb(goja.Undefined(), goja.Null(), l.statsObject(info))
		})
		return goja.Undefined()
	})
	mod.Set("readdir", func(call goja.FunctionCall) goja.Value {
		path := call.Argument(0).String()
		_, cb := callbackArgs(call)
		l.enqueue(func() {
			entries, err := l.fs.ReadDir(path)
			if err != nil {
				cb(goja.Undefined(), l.jsError(err))
				return
			}
			names := make([]interface{}, len(entries))
			for i, entry := range entries {
				names[i] = entry.Name
			}
			cb(goja.Undefined(), goja.Null(), vm.NewArray(names...))
		})
		return goja.Undefined()
	})
	mod.Set("mkdir", func(call goja.FunctionCall) goja.Value {
		path := call.Argument(0).String()
		recursive := boolOption(call.Argument(1), "recursive")
		_, cb := callbackArgs(call)
		l.enqueue(func() {
			if err := l.fs.Mkdir(path, recursive); err != nil {
				cb(goja.Undefined(), l.jsError(err))
				return
			}
			cb(goja.Undefined(), goja.Null())
		})
		return goja.Undefined()
	})
	mod.Set("unlink", func(call goja.FunctionCall) goja.Value {
		path := call.Argument(0).String()
		_, cb := callbackArgs(call)
		l.enqueue(func() {
			if err := l.fs.Unlink(path); err != nil {
				cb(goja.Undefined(), l.jsError(err))
				return
			}
			cb(goja.Undefined(), goja.Null())
		})
		return goja.Undefined()
	})
	mod.Set("exists", func(call goja.FunctionCall) goja.Value {
		path := call.Argument(0).String()
		_, cb := callbackArgs(call)
		l.enqueue(func() {
			cb(goja.Undefined(), vm.ToValue(l.fs.Exists(path)))
		})
		return goja.Undefined()
	})

	// --- watch ---

	mod.Set("watch", func(call goja.FunctionCall) goja.Value {
		path := call.Argument(0).String()
		opts := vfs.Options{IgnoreInitial: true}
		listenerArg := call.Argument(1)
		if obj, ok := call.Argument(1).(*goja.Object); ok {
			if _, isFn := goja.AssertFunction(call.Argument(1)); !isFn {
				if rec := obj.Get("recursive"); rec != nil && rec.ToBoolean() {
					opts.Recursive = true
				}
				if ii := obj.Get("ignoreInitial"); ii != nil && !goja.IsUndefined(ii) {
					opts.IgnoreInitial = ii.ToBoolean()
				}
				listenerArg = call.Argument(2)
			}
		}
		listener, _ := goja.AssertFunction(listenerArg)

		watcher := l.fs.Watch(path, opts, func(ev vfs.Event) {
			if listener != nil {
				listener(goja.Undefined(), vm.ToValue(string(ev.Type)), vm.ToValue(ev.Name))
			}
		})

		handle := vm.NewObject()
		handle.Set("close", func(call goja.FunctionCall) goja.Value {
			watcher.Close()
			return goja.Undefined()
		})
		return handle
	})

	// --- promises namespace: immediate resolution, same semantics ---

	promises := vm.NewObject()
	promises.Set("readFile", l.promised(func(call goja.FunctionCall) (interface{}, error) {
		content, err := l.fs.ReadFile(call.Argument(0).String())
		if err != nil {
			return nil, err
		}
		if enc := readEncoding(call.Argument(1)); enc != "" {
			return encodeString(content, enc), nil
		}
		return l.newJSBuffer(content), nil
	}))
	promises.Set("writeFile", l.promised(func(call goja.FunctionCall) (interface{}, error) {
		return nil, l.fs.WriteFile(call.Argument(0).String(), l.valueBytes(call.Argument(1)))
	}))
	promises.Set("mkdir", l.promised(func(call goja.FunctionCall) (interface{}, error) {
		return nil, l.fs.Mkdir(call.Argument(0).String(), boolOption(call.Argument(1), "recursive"))
	}))
	promises.Set("readdir", l.promised(func(call goja.FunctionCall) (interface{}, error) {
		entries, err := l.fs.ReadDir(call.Argument(0).String())
		if err != nil {
			return nil, err
		}
		names := make([]interface{}, len(entries))
		for i, entry := range entries {
			names[i] = entry.Name
		}
		return vm.NewArray(names...), nil
	}))
	promises.Set("unlink", l.promised(func(call goja.FunctionCall) (interface{}, error) {
		return nil, l.fs.Unlink(call.Argument(0).String())
	}))
	promises.Set("stat", l.promised(func(call goja.FunctionCall) (interface{}, error) {
		info, err := l.fs.Stat(call.Argument(0).String())
		if err != nil {
			return nil, err
		}
		return l.statsObject(info), nil
	}))
	mod.Set("promises", promises)

	return mod
}

// statsObject shapes vfs.Info like fs.Stats.
func (l *Loader) statsObject(info vfs.Info) goja.Value {
	vm := l.vm
	stats := vm.NewObject()
	stats.Set("size", info.Size)
	stats.Set("mtimeMs", info.Modified.UnixMilli())
	isDir := info.IsDir()
	stats.Set("isDirectory", func(call goja.FunctionCall) goja.Value { return vm.ToValue(isDir) })
	stats.Set("isFile", func(call goja.FunctionCall) goja.Value { return vm.ToValue(!isDir) })
	stats.Set("isSymbolicLink", func(call goja.FunctionCall) goja.Value { return vm.ToValue(false) })
	return stats
}

// promised wraps a synchronous operation in an already-settled Promise.
func (l *Loader) promised(op func(goja.FunctionCall) (interface{}, error)) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		promise, resolve, reject := l.vm.NewPromise()
		result, err := op(call)
		if err != nil {
			reject(l.jsError(err))
		} else {
			resolve(result)
		}
		return l.vm.ToValue(promise)
	}
}

// valueBytes extracts bytes from a string, Buffer or typed array value.
func (l *Loader) valueBytes(v goja.Value) []byte {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	if obj, ok := v.(*goja.Object); ok {
		if buf := obj.Get("buffer"); buf != nil {
			if ab, ok := buf.Export().(goja.ArrayBuffer); ok {
				out := make([]byte, len(ab.Bytes()))
				copy(out, ab.Bytes())
				return out
			}
		}
		if ab, ok := obj.Export().(goja.ArrayBuffer); ok {
			out := make([]byte, len(ab.Bytes()))
			copy(out, ab.Bytes())
			return out
		}
	}
	return []byte(v.String())
}

// readEncoding interprets the second argument of read calls: either an
// encoding string or an options object with an encoding field. Empty
// means "return a Buffer".
func readEncoding(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	if obj, ok := v.(*goja.Object); ok {
		if _, isFn := goja.AssertFunction(v); isFn {
			return ""
		}
		if enc := obj.Get("encoding"); enc != nil && !goja.IsUndefined(enc) && !goja.IsNull(enc) {
			return enc.String()
		}
		return ""
	}
	return v.String()
}

// boolOption reads options[name], treating a bare boolean argument as
// the option itself.
func boolOption(v goja.Value, name string) bool {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return false
	}
	if obj, ok := v.(*goja.Object); ok {
		if opt := obj.Get(name); opt != nil {
			return opt.ToBoolean()
		}
		return false
	}
	return v.ToBoolean()
}

// callbackArgs finds the trailing callback and an optional encoding in
// a Node-style call.
func callbackArgs(call goja.FunctionCall) (encoding string, cb goja.Callable) {
	for i := len(call.Arguments) - 1; i >= 1; i-- {
		if fn, ok := goja.AssertFunction(call.Arguments[i]); ok {
			cb = fn
			break
		}
	}
	if len(call.Arguments) >= 3 {
		encoding = readEncoding(call.Argument(1))
	}
	if cb == nil {
		cb = func(this goja.Value, args ...goja.Value) (goja.Value, error) { return goja.Undefined(), nil }
	}
	return encoding, cb
}
