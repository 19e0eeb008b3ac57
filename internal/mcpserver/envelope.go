package mcpserver

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/schedule-task-mcp/internal/task"
)

// Every tool responds with one text content block holding a JSON envelope:
// {"success": true, ...} on success, {"success": false, "error": ...} on
// failure. Clients parse the text, so the encoding is stable two-space
// indented JSON.

type taskEnvelope struct {
	Success bool            `json:"success"`
	Task    *task.Described `json:"task"`
}

type listEnvelope struct {
	Success bool              `json:"success"`
	Count   int               `json:"count"`
	Tasks   []*task.Described `json:"tasks"`
}

type messageEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type timeEnvelope struct {
	Success  bool   `json:"success"`
	Time     string `json:"time"`
	Timezone string `json:"timezone"`
	Format   string `json:"format"`
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Stack   string `json:"stack,omitempty"`
}

func render(v any, isError bool) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		data = []byte(fmt.Sprintf("{\n  \"success\": false,\n  \"error\": %q\n}", err.Error()))
		isError = true
	}
	res := mcp.NewToolResultText(string(data))
	res.IsError = isError
	return res
}

func okResult(v any) *mcp.CallToolResult {
	return render(v, false)
}

func errResult(msg, stack string) *mcp.CallToolResult {
	return render(errorEnvelope{Error: msg, Stack: stack}, true)
}
