package ports

import "context"

// ToolInfo describes a tool available to agents
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ToolInvoker is the hook agents use to call out to the tool system
type ToolInvoker interface {
	Invoke(ctx context.Context, tool string, params map[string]interface{}) (map[string]interface{}, error)
	Tools() []ToolInfo
}
