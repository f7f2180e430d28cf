// Package sandbox isolates code execution behind a message-passing
// boundary, the way an embedding page isolates untrusted code in a
// cross-origin frame.
//
// The Host side owns the authoritative filesystem and a Transport to
// the worker. The Worker side owns its own filesystem mirror and the
// module loader that actually evaluates code; it never touches host
// state directly. Every interaction crosses the boundary as a typed
// envelope, and inbound frames from an unexpected origin are dropped
// before decoding.
//
// Bootstrap order: the worker announces ready, the host replies with an
// init envelope carrying a full filesystem snapshot, and from then on
// host-side writes stream to the worker as syncFile envelopes. The sync
// is one-directional; worker-side writes stay in the worker's mirror.
package sandbox
