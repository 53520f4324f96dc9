// Package mcp implements the Model Context Protocol surface of beacon.
//
// # Overview
//
// MCP is a JSON-RPC 2.0 dialect for exposing tools to AI clients. This package
// contains a transport-independent Handler plus two transports: HTTP (Server)
// and newline-delimited JSON over stdio (ServeStdio).
//
// # Methods
//
//   - initialize  - protocol version, capabilities, and server identity
//   - ping        - liveness check, returns {}
//   - tools/list  - every registered tool in registration order
//   - tools/call  - execute a tool by name with an arguments object
//
// # Tool Execution
//
//	{
//	  "jsonrpc": "2.0",
//	  "method": "tools/call",
//	  "params": {
//	    "name": "take_screenshot",
//	    "arguments": {"display": 0}
//	  },
//	  "id": 2
//	}
//
// Successful calls return {"content":[...], "isError": false}. Capability
// failures become JSON-RPC errors:
//
//	-32001  permission denied
//	-32002  element not found
//	-32003  action failed
//	-32004  timeout
//
// alongside the standard -32700, -32600, -32601, -32602 and -32603 codes. An
// unknown tool name is answered with -32601.
//
// # Identifiers
//
// The request id is echoed byte-for-byte, including null. Over HTTP a message
// without an id member is a notification and is acknowledged with HTTP 202.
//
// # Authentication
//
// The HTTP transport expects to be wrapped by auth.BearerAuth. The stdio
// transport is unauthenticated; it is only reachable by the local parent process.
package mcp
