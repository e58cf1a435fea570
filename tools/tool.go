package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownTool is returned when a call names a tool that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Call is one model-initiated tool invocation. The acting user and agent are
// passed explicitly so tools never rely on ambient state.
type Call struct {
	ID      string
	Name    string
	UserID  string
	AgentID string
	Args    map[string]any
}

// Tool is a named function the model may call.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON Schema of the arguments object.
	Schema() map[string]any
	Call(ctx context.Context, call Call) (any, error)
}

// Func adapts a function into a Tool.
type Func struct {
	ToolName        string
	ToolDescription string
	InputSchema     map[string]any
	Handler         func(ctx context.Context, call Call) (any, error)
}

func (f *Func) Name() string        { return f.ToolName }
func (f *Func) Description() string { return f.ToolDescription }

func (f *Func) Schema() map[string]any {
	if f.InputSchema == nil {
		return ObjectSchema(map[string]interface{}{})
	}
	return f.InputSchema
}

func (f *Func) Call(ctx context.Context, call Call) (any, error) {
	return f.Handler(ctx, call)
}

// CallError wraps a failure raised by a tool.
type CallError struct {
	Tool string
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Decode converts call arguments into a typed input struct.
func Decode(args map[string]any, v any) error {
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// ResultString renders a tool outcome for the model. Errors become an
// "error: ..." string so one failing tool never ends a conversation.
func ResultString(result any, err error) string {
	if err != nil {
		return "error: " + err.Error()
	}
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// ResultMap wraps a tool outcome as a JSON object, the shape live model
// tool responses require.
func ResultMap(result any, err error) map[string]any {
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	if m, ok := result.(map[string]any); ok {
		return m
	}
	return map[string]any{"output": result}
}
