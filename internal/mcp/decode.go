package mcp

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// decode binds MCP request arguments into a typed struct. A call without
// arguments yields the zero value.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var result T
	if req.GetArguments() == nil {
		return result, nil
	}
	if err := req.BindArguments(&result); err != nil {
		return result, fmt.Errorf("invalid arguments: %w", err)
	}
	return result, nil
}
