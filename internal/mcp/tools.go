package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeEmptyQuery    = -32004 // Query parameter is empty
	ErrorCodeNotReady      = -32005 // Search has not finished starting
)

// handleSearchGuidelines handles the search_guidelines tool invocation
func (s *Server) handleSearchGuidelines(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	topK := getIntDefault(args, "top_k", DefaultTopK)
	if topK < 1 || topK > MaxTopK {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("top_k must be between 1 and %d", MaxTopK), map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})
	}

	status := s.backend.Status()
	if !status.Mode.Ready() {
		return nil, newMCPError(ErrorCodeNotReady, "search is still starting", map[string]interface{}{
			"mode": status.Mode,
		})
	}

	start := time.Now()
	results, err := s.backend.Search(ctx, query, topK)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	items := make([]map[string]interface{}, len(results))
	for i, r := range results {
		item := map[string]interface{}{
			"rank":        r.Rank,
			"id":          r.ID,
			"title":       r.Title,
			"text":        r.Text,
			"tags":        r.Tags,
			"action_type": r.ActionType,
			"score":       r.Score,
		}
		if r.SpeechText != "" {
			item["speech_text"] = r.SpeechText
		}
		if len(r.NutritionTags) > 0 {
			item["nutrition_tags"] = r.NutritionTags
		}
		items[i] = item
	}

	// Status is read again: a timeout during this query may have switched modes
	response := map[string]interface{}{
		"query":       query,
		"mode":        s.backend.Status().Mode,
		"count":       len(items),
		"results":     items,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := s.backend.Status()

	response := map[string]interface{}{
		"mode":   status.Mode,
		"status": status.String(),
		"since":  status.At.Format(time.RFC3339),
	}
	if status.Reason != "" {
		response["reason"] = status.Reason
	}

	if info, ok := s.backend.Model(); ok {
		response["model"] = map[string]interface{}{
			"tag":       info.Tag,
			"provider":  info.Provider,
			"name":      info.Model,
			"dimension": info.Dimension,
		}
	}

	docs, vectors, err := s.backend.Counts(ctx)
	if err != nil {
		response["storage_error"] = err.Error()
	} else {
		response["statistics"] = map[string]interface{}{
			"documents": docs,
			"vectors":   vectors,
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}
