package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"google.golang.org/genai"
)

// Registry holds tools by exact name, in registration order.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates a registry holding tools. Later duplicates are ignored.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		_ = r.Register(t)
	}
	return r
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Name()]; ok {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Tools returns the tools in registration order.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Filter returns a registry holding only the named tools that exist here.
func (r *Registry) Filter(names ...string) *Registry {
	out := NewRegistry()
	for _, name := range names {
		if t, ok := r.Get(name); ok {
			_ = out.Register(t)
		}
	}
	return out
}

// Call dispatches by exact name. A panicking tool is reported as a
// *CallError like any other failure.
func (r *Registry) Call(ctx context.Context, call Call) (result any, err error) {
	t, ok := r.Get(call.Name)
	if !ok {
		return nil, &CallError{Tool: call.Name, Err: fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)}
	}

	defer func() {
		if p := recover(); p != nil {
			result, err = nil, &CallError{Tool: call.Name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	if call.Args == nil {
		call.Args = map[string]any{}
	}
	result, err = t.Call(ctx, call)
	if err != nil {
		return nil, &CallError{Tool: call.Name, Err: err}
	}
	return result, nil
}

// ToAnthropic converts the tools to Claude API tool definitions.
func (r *Registry) ToAnthropic() []anthropic.ToolUnionParam {
	tools := r.Tools()
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := t.Schema()
		param := anthropic.ToolInputSchemaParam{Properties: schema["properties"]}
		if req, ok := schema["required"].([]string); ok {
			param.Required = req
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name(),
				Description: anthropic.String(t.Description()),
				InputSchema: param,
			},
		})
	}
	return out
}

// ToGenai converts the tools to a single Gemini tool of function
// declarations, or nil when the registry is empty.
func (r *Registry) ToGenai() []*genai.Tool {
	tools := r.Tools()
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name(),
			Description:          t.Description(),
			ParametersJsonSchema: t.Schema(),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}
