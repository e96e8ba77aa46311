// Package server implements the MCP (Model Context Protocol) server for symbol
// counting.
//
// The server speaks JSON-RPC 2.0 over stdio:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Pages:
//   - page_load: Dimensions and format of a drawing, or page count of a PDF
//
// Symbol templates:
//   - symbol_register: Store a template, optionally cut from a drawing region
//   - symbol_list: Registered templates
//   - symbol_delete: Remove a template
//
// Detection:
//   - symbol_detect: Detections and counts on one drawing
//   - symbol_count: Per-page counts and totals over a document
//   - symbol_annotate: The drawing with every detection boxed
//   - run_summary: Counts of a saved run
//
// # Image Caching
//
// Drawings and template sources are cached by path for the lifetime of the
// process, so registering a template from a drawing and then detecting on
// the same drawing decodes it once. Documents passed to symbol_count are
// read page by page and not cached.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure), -32602 (malformed tools/call
//     params) or -32601 (unknown method)
//   - message: Human-readable error description
//   - data: The Go error string
//
// # Usage
//
//	srv := server.New(svc, logger)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
