package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
	"github.com/ekaya-inc/ekaya-ledger/pkg/pipeline"
)

// QueryRunner answers one question turn.
type QueryRunner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
}

var validRoles = []string{string(models.RoleViewer), string(models.RoleAccountant), string(models.RoleAdmin)}

// RegisterAskRecordsTool adds ask_records, which runs a question through the
// pipeline and returns its response as JSON.
func RegisterAskRecordsTool(s *server.MCPServer, runner QueryRunner, logger *zap.Logger) {
	tool := mcp.NewTool(
		"ask_records",
		mcp.WithDescription("Answers a plain-language question about expense, cashflow, quotation and "+
			"other ledger records. Returns the answer text, the matching rows and a conversation_id "+
			"to pass back for follow-up questions."),
		mcp.WithString(
			"query",
			mcp.Required(),
			mcp.Description("The question, e.g. \"total diesel expenses for Tower A\""),
		),
		mcp.WithString(
			"conversation_id",
			mcp.Description("UUID from a previous answer to continue that conversation"),
		),
		mcp.WithString(
			"role",
			mcp.Description("Caller role; defaults to viewer"),
			mcp.Enum(validRoles...),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		resp, err := runner.Run(ctx, pipeline.Request{
			Query:          query,
			ConversationID: req.GetString("conversation_id", ""),
			Role:           req.GetString("role", ""),
		})
		if err != nil {
			if code := apperrors.InputErrorCode(err); code != "" {
				if code == "invalid_role" {
					return NewErrorResultWithDetails(code, err.Error(), map[string]any{"valid_roles": validRoles}), nil
				}
				return NewErrorResult(code, err.Error()), nil
			}
			logger.Error("ask_records failed", zap.Error(err))
			return nil, fmt.Errorf("ask_records: %w", err)
		}

		jsonResult, err := json.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response: %w", err)
		}

		result := mcp.NewToolResultText(string(jsonResult))
		result.IsError = resp.Stage == pipeline.StageFailed
		return result, nil
	})
}
