package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool names
const (
	ToolSearchGuidelines = "search_guidelines"
	ToolGetStatus        = "get_status"
)

// Limits of the top_k parameter
const (
	DefaultTopK = 5
	MaxTopK     = 20
)

// searchGuidelinesTool returns the tool definition for search_guidelines
func searchGuidelinesTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolSearchGuidelines,
		Description: "Search maternal health guidelines with a natural language query in English or Bengali",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "What the user said or asked, e.g. 'রক্তপাত হচ্ছে' or 'severe headache'",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of guidelines to return when semantic search is available",
					"default":     DefaultTopK,
					"minimum":     1,
					"maximum":     MaxTopK,
				},
			},
			Required: []string{"query"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolGetStatus,
		Description: "Report whether semantic search is ready or the server is in keyword-only basic mode",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
