package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nextlevelbuilder/schedule-task-mcp/internal/scheduler"
)

const (
	samplingMaxTokens = 2000
	samplingContext   = "allServers"
)

// samplingClient satisfies scheduler.Sampler by issuing
// sampling/createMessage requests to the connected client session.
type samplingClient struct {
	srv      *server.MCPServer
	sessions *sessionRegistry
}

func (c *samplingClient) CreateMessage(ctx context.Context, prompt string) (string, error) {
	session, ok := c.sessions.active()
	if !ok {
		return "", scheduler.ErrNoSession
	}

	req := mcp.CreateMessageRequest{
		CreateMessageParams: mcp.CreateMessageParams{
			Messages: []mcp.SamplingMessage{
				{
					Role:    mcp.RoleUser,
					Content: mcp.TextContent{Type: "text", Text: prompt},
				},
			},
			IncludeContext: samplingContext,
			MaxTokens:      samplingMaxTokens,
		},
	}
	res, err := c.srv.RequestSampling(c.srv.WithContext(ctx, session), req)
	if err != nil {
		return "", err
	}
	return samplingText(res), nil
}

// samplingText digs the text block out of a sampling result. A result that
// crossed the stdio boundary decodes its content as a plain map rather
// than a typed block.
func samplingText(res *mcp.CreateMessageResult) string {
	if res == nil {
		return ""
	}
	switch c := res.Content.(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	case map[string]any:
		if text, ok := c["text"].(string); ok {
			return text
		}
	}
	return fmt.Sprintf("%v", res.Content)
}
