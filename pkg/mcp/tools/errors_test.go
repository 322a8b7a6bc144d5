package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-nlq/pkg/apperrors"
)

// getTextContent extracts the text string from the first text content item
func getTextContent(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return ""
	}
	// The Content slice contains mcp.Content interface types
	// We need to marshal and unmarshal to extract the text
	jsonBytes, _ := json.Marshal(result.Content[0])
	var textContent struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	json.Unmarshal(jsonBytes, &textContent)
	return textContent.Text
}

func TestNewErrorResult(t *testing.T) {
	result := NewErrorResult("test_error", "this is a test error")

	require.NotNil(t, result)
	require.Len(t, result.Content, 1)

	// Extract and parse the JSON content
	text := getTextContent(result)
	var errResp ErrorResponse
	err := json.Unmarshal([]byte(text), &errResp)
	require.NoError(t, err)

	// Verify the error response structure
	assert.True(t, errResp.Error, "error field should be true")
	assert.Equal(t, "test_error", errResp.Code)
	assert.Equal(t, "this is a test error", errResp.Message)
	assert.Nil(t, errResp.Details, "details should be nil when not provided")
}

func TestNewErrorResultWithDetails(t *testing.T) {
	details := map[string]any{
		"invalid_columns": []string{"foo", "bar"},
		"valid_columns":   []string{"order_id", "status", "order_date"},
		"count":           2,
	}

	result := NewErrorResultWithDetails("validation_error", "invalid columns provided", details)

	require.NotNil(t, result)
	require.Len(t, result.Content, 1)

	// Extract and parse the JSON content
	text := getTextContent(result)
	var errResp ErrorResponse
	err := json.Unmarshal([]byte(text), &errResp)
	require.NoError(t, err)

	// Verify the error response structure
	assert.True(t, errResp.Error, "error field should be true")
	assert.Equal(t, "validation_error", errResp.Code)
	assert.Equal(t, "invalid columns provided", errResp.Message)
	assert.NotNil(t, errResp.Details, "details should not be nil")

	// Verify the details content
	detailsMap, ok := errResp.Details.(map[string]any)
	require.True(t, ok, "details should be a map")
	assert.Contains(t, detailsMap, "invalid_columns")
	assert.Contains(t, detailsMap, "valid_columns")
	assert.Contains(t, detailsMap, "count")
	assert.Equal(t, float64(2), detailsMap["count"]) // JSON numbers are float64
}

func TestErrorResponse_JSONStructure(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		details  any
		wantJSON string
	}{
		{
			name:     "simple error without details",
			code:     "not_found",
			message:  "resource not found",
			details:  nil,
			wantJSON: `{"error":true,"code":"not_found","message":"resource not found"}`,
		},
		{
			name:     "error with string details",
			code:     "invalid_input",
			message:  "bad request",
			details:  "parameter 'question' is required",
			wantJSON: `{"error":true,"code":"invalid_input","message":"bad request","details":"parameter 'question' is required"}`,
		},
		{
			name:    "error with structured details",
			code:    "validation_error",
			message: "validation failed",
			details: map[string]any{
				"field": "hint",
				"issue": "unknown category",
			},
			wantJSON: `{"error":true,"code":"validation_error","message":"validation failed","details":{"field":"hint","issue":"unknown category"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var result *mcp.CallToolResult
			if tt.details == nil {
				result = NewErrorResult(tt.code, tt.message)
			} else {
				result = NewErrorResultWithDetails(tt.code, tt.message, tt.details)
			}

			text := getTextContent(result)

			// Verify JSON can be unmarshaled
			var got, want map[string]any
			require.NoError(t, json.Unmarshal([]byte(text), &got))
			require.NoError(t, json.Unmarshal([]byte(tt.wantJSON), &want))

			// Compare structures
			assert.Equal(t, want, got)
		})
	}
}

func TestIsInputError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "invalid argument", err: &apperrors.InvalidArgumentError{Param: "question", Reason: "cannot be empty"}, want: true},
		{name: "unsafe query", err: &apperrors.UnsafeQueryError{Reason: "statement is not read-only", Token: "drop"}, want: true},
		{name: "planning failure", err: &apperrors.PlanningFailure{Reason: "no join path"}, want: true},
		{name: "wrapped unsafe query", err: fmt.Errorf("validate: %w", &apperrors.UnsafeQueryError{Reason: "multiple statements"}), want: true},
		{name: "execution timeout", err: &apperrors.ExecutionTimeout{Timeout: time.Second}, want: false},
		{name: "schema not found", err: &apperrors.SchemaNotFoundError{Reason: "no catalog snapshot loaded"}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsInputError(tt.err))
		})
	}
}

func TestNewErrorResultFor(t *testing.T) {
	t.Run("taxonomy error keeps its message", func(t *testing.T) {
		err := &apperrors.UnsafeQueryError{Reason: "statement is not read-only", Token: "delete"}
		result := NewErrorResultFor(err, nil)
		assert.True(t, result.IsError)

		var errResp ErrorResponse
		require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &errResp))
		assert.Equal(t, apperrors.CodeUnsafeQuery, errResp.Code)
		assert.Equal(t, "unsafe query: statement is not read-only (DELETE)", errResp.Message)
		assert.True(t, IsToolError(err))
	})

	t.Run("details are attached", func(t *testing.T) {
		err := &apperrors.AdmissionTimeout{Waited: 5 * time.Second, Limit: 3}
		result := NewErrorResultFor(err, map[string]any{"status": "failed"})

		var errResp ErrorResponse
		require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &errResp))
		assert.Equal(t, apperrors.CodeAdmissionTimeout, errResp.Code)
		assert.Equal(t, map[string]any{"status": "failed"}, errResp.Details)
	})

	t.Run("internal errors are sanitized", func(t *testing.T) {
		err := errors.New("dial postgres://admin:hunter2@db:5432/wms failed")
		result := NewErrorResultFor(err, nil)

		var errResp ErrorResponse
		require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &errResp))
		assert.Equal(t, "internal_error", errResp.Code)
		assert.NotContains(t, errResp.Message, "hunter2")
		assert.False(t, IsToolError(err))
	})
}
