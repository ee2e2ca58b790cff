// Package sessions defines the session abstraction shared by the MCP
// transports and the capability code in mcpservice.
//
// A session is the negotiated view of one connected client: its protocol
// version, client info, logging threshold and the sink used to push
// server-initiated messages (responses on SSE, notifications on both
// transports).
//
// Layers & Roles
//
//	Transport      -> owns the wire, creates the session and its MessageSink
//	Manager        -> process-local registry keyed by session id
//	Session object -> per-session view exposed to capability code
//
// The stdio transport hosts exactly one session for its lifetime. The SSE
// transport creates one session per GET /sse stream and deletes it when the
// stream closes.
package sessions
