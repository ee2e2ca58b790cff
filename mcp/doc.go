// Package mcp contains the Model Context Protocol data types and method
// constants shared by the engine, the transports and the toolkit.
//
// The package carries no transport logic. The stdio and SSE transports frame
// these types as JSON-RPC messages; mcpservice builds results from them.
//
// Example (tool result construction):
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: "hello"}},
//	}
//
// LoggingLevel values mirror the syslog severities used by logging/setLevel
// and notifications/message. Use IsValidLoggingLevel to validate client input
// and LoggingLevelRank to compare two levels.
package mcp
