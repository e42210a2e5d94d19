// Package mcp provides the MCP (Model Context Protocol) client integration
// for the relaybridge agentic loop. It connects to external MCP servers,
// discovers their tools, and executes tool calls as part of the engine's
// tool execution pipeline.
//
// The package wraps the official MCP Go SDK (github.com/modelcontextprotocol/go-sdk)
// and implements the tools.ToolExecutor interface, allowing MCP server tools
// to be used seamlessly alongside function tools and sandbox tools.
//
// A Registry is materialized eagerly: Load connects to every configured
// server and discovers its tools before returning, so a bad server
// configuration fails startup instead of surfacing as a confusing runtime
// tool_result. Every discovered tool is exposed under a qualified name
// ("server_name::local_name"), which guarantees uniqueness across servers
// by construction; two tools from the same server sharing a local name
// fail the load outright.
//
// Server configuration can come from ServerConfig structs directly or be
// parsed from a tool-server manifest document (see ParseManifest), which
// supports ${VAR} substitution against the process environment. Transports
// include SSE, streamable-http, and stdio (a child process communicating
// over its own stdin/stdout).
package mcp
