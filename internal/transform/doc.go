// Package transform lowers ECMAScript module syntax to CommonJS so the
// loader can evaluate everything through one require path.
//
// Detection and rewriting are regex-driven, not a full parse. This is a
// deliberate trade: it handles the import/export forms that published
// packages actually use, and it can misread exotic syntax (template
// literals containing "import ", conditional exports built with eval).
// Code containing top-level await is passed through unchanged and
// reported via HasTopLevelAwait so the loader can mark it
// non-requireable instead of failing the transform.
package transform
