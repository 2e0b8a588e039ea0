// Package mcp implements the Model Context Protocol (MCP) server for guidesearch.
//
// The server exposes two tools to assistants and voice front-ends:
//   - search_guidelines: rank maternal health guidelines for a query
//   - get_status: report AI_READY or BASIC_MODE and index statistics
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout carries protocol messages only, so all logging goes to stderr.
//
// # Tool: search_guidelines
//
//	Request:
//	{
//	  "name": "search_guidelines",
//	  "arguments": {"query": "রক্তপাত হচ্ছে", "top_k": 3}
//	}
//
//	Response (text content):
//	{
//	  "query": "রক্তপাত হচ্ছে",
//	  "mode": "AI_READY",
//	  "count": 3,
//	  "results": [
//	    {"rank": 1, "id": "vaginal_bleeding", "action_type": "emergency", "score": 0.41, ...}
//	  ]
//	}
//
// In BASIC_MODE results come from keyword matching, top_k is not applied
// and scores are the fraction of query terms found.
//
// # Tool: get_status
//
//	Response (text content):
//	{
//	  "mode": "BASIC_MODE",
//	  "status": "BASIC_MODE(model unavailable)",
//	  "reason": "model unavailable",
//	  "statistics": {"documents": 11, "vectors": 0}
//	}
//
// # Status notifications
//
// Every mode change is also pushed to clients as a
// notifications/guidesearch/status notification carrying the same fields.
//
// # Error Codes
//
//   - -32602: Invalid params (top_k out of range)
//   - -32603: Internal error
//   - -32004: Empty query
//   - -32005: Search still starting
package mcp
