package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-nlq/pkg/logging"
	"github.com/ekaya-inc/ekaya-nlq/pkg/services"
)

// RegisterQueryTools adds every tool of the registry to the MCP server.
func RegisterQueryTools(s *server.MCPServer, reg *services.ToolRegistry, logger *zap.Logger) {
	for _, t := range reg.Tools() {
		def := t.Definition()
		s.AddTool(newTool(def), queryToolHandler(reg, def.Name, logger))
	}
}

func newTool(def services.ToolDefinition) mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription(def.Description),
		mcp.WithReadOnlyHintAnnotation(def.ReadOnly),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(def.ReadOnly),
	}
	for _, p := range def.Params {
		props := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			props = append(props, mcp.Required())
		}
		if len(p.Enum) > 0 {
			props = append(props, mcp.Enum(p.Enum...))
		}
		opts = append(opts, mcp.WithString(p.Name, props...))
	}
	return mcp.NewTool(def.Name, opts...)
}

func queryToolHandler(reg *services.ToolRegistry, name string, logger *zap.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := reg.Invoke(ctx, name, req.GetArguments())
		if err != nil {
			if IsInputError(err) {
				logger.Debug("Tool call rejected", zap.String("tool", name), zap.Error(err))
			} else {
				logger.Warn("Tool call failed",
					zap.String("tool", name),
					zap.String("code", apperrors.CodeOf(err)),
					zap.String("error", logging.SanitizeError(err)))
			}
			// A partial envelope still goes back to the agent as details.
			if IsToolError(err) || out != nil {
				return NewErrorResultFor(err, out), nil
			}
			return nil, fmt.Errorf("%s failed: %s", name, logging.SanitizeError(err))
		}

		jsonResult, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s result: %w", name, err)
		}
		return mcp.NewToolResultText(string(jsonResult)), nil
	}
}
