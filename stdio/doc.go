// Package stdio implements a single-connection MCP transport over
// stdin/stdout. It is intended for embedding the server as a subprocess of an
// MCP client such as a desktop assistant.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Sessions         : exactly one, registered with a sessions.Manager
//	Framing          : newline-delimited JSON-RPC
//
// Nothing but protocol messages may be written to stdout; diagnostics belong
// on stderr.
//
// Example:
//
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcpservice.StaticServerInfo("my-stdio-server", "0.1.0")),
//	)
//	h := stdio.NewHandler(srv)
//	if err := h.Serve(ctx); err != nil { log.Fatal(err) }
package stdio
