// Package mcpservice exposes the building blocks used to describe an MCP
// server: server info, tools, resources, prompts and logging.
//
// Capabilities are surfaced through small provider interfaces returning
// (value, ok, error). ok == false means the capability is absent and will not
// be advertised during initialize; an empty value with ok == true is still
// advertised.
//
// Containers (*ToolsContainer, *ResourcesContainer, *PromptsContainer) act as
// their own providers so the common case reads naturally:
//
//	tools := mcpservice.NewToolsContainer(
//	    mcpservice.NewTool[EchoArgs]("echo", echo, mcpservice.WithToolDescription("Echo input")),
//	)
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcpservice.StaticServerInfo("example", "1.0.0")),
//	    mcpservice.WithToolsCapability(tools),
//	)
//
// Typed tools reflect their input schema from the argument struct with
// invopop/jsonschema. Field descriptions come from the jsonschema_description
// tag; fields without omitempty are required.
package mcpservice
