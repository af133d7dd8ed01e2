// Package mcp exposes the crewgate scanners to agents as an MCP server.
//
// It uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp) and
// registers the read-only tools scan_content, compute_hash, vet_skill and
// scan_reply, plus tool_search and tool_list for discovery. Registry writes
// and installs are not exposed here; they stay behind the operator API.
package mcp
