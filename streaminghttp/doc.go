// Package streaminghttp exposes the broker over a Server-Sent Events stream
// paired with out-of-band JSON-RPC POSTs.
//
// A client opens GET /sse and receives a single "endpoint" event naming the
// POST address for its session, then issues JSON-RPC 2.0 frames (initialize,
// tools/list, tools/call) to that address. The stream carries periodic
// keepalive comments until the client disconnects, at which point the session
// and its lazily bound connection are torn down together, exactly once.
package streaminghttp
