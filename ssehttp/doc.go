// Package ssehttp implements the legacy HTTP+SSE MCP transport: a client opens
// a long-lived GET /sse stream, learns its per-session POST endpoint from the
// first "endpoint" event, and then POSTs JSON-RPC messages whose responses are
// delivered as "message" events on the stream.
//
// Routes
//
//	GET  /                     liveness text
//	GET  /sse                  open a session stream
//	POST /messages?sessionId=  deliver a client message (202 Accepted)
//
// Every other route answers 400. CORS is open to all origins.
package ssehttp
