package tool

import (
	"context"
	"errors"

	"github.com/hupe1980/memorymesh/internal/util"
)

// FunctionTool exposes a typed Go function as a Tool.
//
// The parameter schema is derived from the argument struct T. Arguments are
// validated against it before being bound to T, so fn only ever sees
// well-formed input. Errors are normalized to *ToolError:
//
//	validation failure   -> VALIDATION_ERROR
//	other error          -> EXECUTION_ERROR
//	*ToolError from fn   -> forwarded unchanged
//
// A FunctionTool has no mutable state and is safe for concurrent use.
type FunctionTool[T any] struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(ctx context.Context, args T) (string, error)
}

// NewFunctionTool constructs a FunctionTool.
//
// Example:
//
//	type SumArgs struct {
//	  A float64 `json:"a" jsonschema_description:"First addend"`
//	  B float64 `json:"b" jsonschema_description:"Second addend"`
//	}
//
//	sum := NewFunctionTool("calculate_sum", "Calculate the sum of two numbers",
//	  func(ctx context.Context, in SumArgs) (string, error) {
//	    return fmt.Sprint(in.A + in.B), nil
//	  })
func NewFunctionTool[T any](name, description string, fn func(ctx context.Context, args T) (string, error)) *FunctionTool[T] {
	return &FunctionTool[T]{
		name:        name,
		description: description,
		parameters:  util.SchemaFor[T](),
		fn:          fn,
	}
}

// Name implements Tool.
func (t *FunctionTool[T]) Name() string { return t.name }

// Description implements Tool.
func (t *FunctionTool[T]) Description() string { return t.description }

// Parameters implements Tool.
func (t *FunctionTool[T]) Parameters() map[string]any { return t.parameters }

// Call implements Tool.
func (t *FunctionTool[T]) Call(ctx context.Context, args map[string]any) (string, error) {
	if err := util.ValidateParameters(args, t.parameters); err != nil {
		return "", validationError(t.name, err)
	}

	in, err := util.BindArguments[T](args)
	if err != nil {
		return "", validationError(t.name, err)
	}

	out, err := t.fn(ctx, in)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			return "", toolErr
		}
		return "", &ToolError{Tool: t.name, Message: err.Error(), Code: CodeExecution, Details: err}
	}
	return out, nil
}
