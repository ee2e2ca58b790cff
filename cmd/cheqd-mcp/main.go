// Command cheqd-mcp serves the cheqd SSI toolkit to MCP clients over stdio
// or HTTP+SSE.
package main

func main() {
	Execute()
}
