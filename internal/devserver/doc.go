// Package devserver exposes the runtime over HTTP for development.
//
// It wires the virtual filesystem, module loader, package installer and
// REPL sessions behind a Gin router:
//
//	POST /execute         evaluate code, return completion value + console
//	POST /run             load a module by path, return its exports
//	POST /install         install a package graph into the filesystem
//	GET  /files/*path     serve filesystem content with sniffed types
//	PUT  /files/*path     write filesystem content
//	GET  /snapshot        export the filesystem
//	POST /snapshot        restore the filesystem
//	POST /sessions        create a REPL session
//	GET  /ws              WebSocket REPL with streamed console output
//	GET  /metrics         Prometheus exposition
//
// Execution results convert to the {statusCode, headers, body} shape so
// an embedding dev-server can forward them as HTTP responses directly.
// The loader is single-threaded; the server serializes evaluations.
package devserver
