// Package runtime implements CommonJS require semantics over a virtual
// filesystem using the goja JavaScript engine.
//
// A Loader owns one goja VM plus three caches:
//   - module cache: resolved absolute path -> module record; two
//     requires that resolve to the same path share one exports object
//   - resolution cache: (requesting dir, specifier) -> resolved path or
//     a negative marker; cleared only by ClearCache
//   - transform cache: (path, content hash) -> lowered source, so a
//     cache clear that does not change file content skips re-lowering
//
// Module bodies run inside a wrapper function receiving module,
// exports, require, __filename, __dirname, process, Buffer and
// import_meta. A module record is registered before its body runs, so
// circular requires observe the partially-populated exports object
// instead of re-evaluating or deadlocking.
//
// Callback-style fs APIs and setTimeout defer work onto a tick queue
// drained after each top-level evaluation. This mimics asynchronous
// call ordering without introducing real concurrency; all JS execution
// on one Loader is serialized.
//
// Builtin modules are a pluggable capability table keyed by name, with
// and without the "node:" prefix. Defaults cover fs, path, process,
// buffer, events, util and os.
package runtime
