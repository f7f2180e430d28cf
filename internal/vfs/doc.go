// Package vfs implements an in-memory hierarchical filesystem with
// POSIX-like semantics.
//
// The tree is a single root directory of nodes; files hold byte content,
// directories hold named children. There are no symlinks, hard links, or
// cycles. All operations normalize paths to an absolute, dot-resolved
// canonical form before lookup.
//
// Three notification surfaces exist:
//   - Watch: Node fs.watch-shaped listeners with rename/change events,
//     direct or recursive, delivered synchronously in mutation order
//   - OnChange/OnDelete: a separate one-way channel used to mirror state
//     across the sandbox boundary
//   - Snapshot/Restore: full-tree serialization for crossing process or
//     context boundaries
//
// Expected failures (missing path, wrong node type, non-empty directory)
// surface as *Error values carrying Node-style code/errno/syscall/path
// fields, never as bare errors.
package vfs
