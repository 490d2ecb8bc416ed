// Package tool implements the tool calling subsystem: schema validated
// arguments, consistent error codes and an Executor that turns model tool
// calls into tool-result messages.
package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/memorymesh/internal/util"
)

// Tool is a capability the model may invoke.
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case).
	Name() string

	// Description is shown to the model to help it decide when to call the tool.
	Description() string

	// Parameters returns the JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with decoded arguments and returns the text
	// handed back to the model as the tool result.
	Call(ctx context.Context, args map[string]any) (string, error)
}

// Error codes carried by ToolError.
const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeExecution   = "EXECUTION_ERROR"
	CodeUnknownTool = "UNKNOWN_TOOL"
)

// ErrUnknownTool is wrapped by the ToolError produced for unregistered names.
var ErrUnknownTool = errors.New("unknown tool")

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details error  `json:"details,omitempty"` // Underlying cause
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *ToolError) Unwrap() error { return e.Details }

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

func validationError(tool string, err error) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: fmt.Sprintf("parameter validation failed: %v", err),
		Code:    CodeValidation,
		Details: err,
	}
}
