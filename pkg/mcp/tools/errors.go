package tools

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-nlq/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-nlq/pkg/logging"
)

// ErrorResponse represents a structured error in tool results.
// This is used to return actionable error information to the agent
// as a successful tool result, ensuring error details are visible
// rather than being swallowed by the MCP client.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for recoverable/actionable errors the agent should see and
// can potentially fix (e.g., invalid parameters, unsafe SQL).
//
// Do NOT use this for system failures that no rephrasing can fix; those
// should still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context,
// such as the result envelope of a query that failed part way.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// IsInputError reports whether err was caused by what the caller asked
// (a bad argument, unsafe SQL, an unanswerable question) rather than by a
// server failure. Input errors are logged at DEBUG, not ERROR.
func IsInputError(err error) bool {
	return errors.Is(err, apperrors.ErrInvalidArgument) ||
		errors.Is(err, apperrors.ErrUnsafeQuery) ||
		errors.Is(err, apperrors.ErrPlanningFailure)
}

// IsToolError reports whether err belongs in a tool result rather than a
// protocol error: every error of the taxonomy does, since the agent can act
// on it (rephrase, narrow, retry later).
func IsToolError(err error) bool {
	return apperrors.CodeOf(err) != "internal_error"
}

// NewErrorResultFor converts a taxonomy error into a tool result. details is
// attached when non-nil.
func NewErrorResultFor(err error, details any) *mcp.CallToolResult {
	code := apperrors.CodeOf(err)
	message := err.Error()
	if code == "internal_error" {
		message = logging.SanitizeError(err)
	}
	return NewErrorResultWithDetails(code, message, details)
}
