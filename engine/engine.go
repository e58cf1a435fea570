package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/charmbracelet/log"

	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/tools"
)

// Defaults applied when an Option does not override them.
const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 1024
	DefaultMaxTurns  = 8
)

// ErrMaxTurns is returned when the model keeps calling tools past the turn limit.
var ErrMaxTurns = errors.New("exceeded maximum turns")

// Engine runs the Claude tool loop: send the conversation, execute any tool
// calls, feed the results back, and stop at the first text-only reply.
type Engine struct {
	client    anthropic.Client
	registry  *tools.Registry
	model     string
	maxTokens int64
	maxTurns  int
	logger    *log.Logger
}

// Option configures the engine.
type Option func(*Engine)

// WithModel sets the Claude model.
func WithModel(model string) Option {
	return func(e *Engine) {
		e.model = model
	}
}

// WithMaxTokens sets the maximum response tokens per API call.
func WithMaxTokens(n int64) Option {
	return func(e *Engine) {
		e.maxTokens = n
	}
}

// WithMaxTurns bounds the number of API calls made by one Run.
func WithMaxTurns(n int) Option {
	return func(e *Engine) {
		e.maxTurns = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an engine. A nil registry means the model gets no tools.
func New(client anthropic.Client, registry *tools.Registry, opts ...Option) *Engine {
	e := &Engine{
		client:    client,
		registry:  registry,
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
		maxTurns:  DefaultMaxTurns,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = tools.NewRegistry()
	}
	if e.logger == nil {
		e.logger = log.Default().WithPrefix("engine")
	}
	return e
}

// Registry returns the engine's tool registry.
func (e *Engine) Registry() *tools.Registry {
	return e.registry
}

// Input is one agent turn.
type Input struct {
	UserID  string
	AgentID core.AgentID
	Message string

	// SystemPrompt is sent as the system block. It carries the agent persona
	// and the rendered memory context.
	SystemPrompt string

	// AvailableTools restricts the registry to the named tools. Empty means all.
	AvailableTools []string
}

// Output is the result of a Run.
type Output struct {
	Text      string
	ToolsUsed []ToolExecution
	Usage     Usage
	Turns     int
}

// ToolExecution records one tool call made during a Run.
type ToolExecution struct {
	Tool       string         `json:"tool"`
	Thought    string         `json:"thought,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorType  string         `json:"error_type,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

// Usage tracks Claude API token consumption.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Run executes the tool loop until the model answers without tool calls.
func (e *Engine) Run(ctx context.Context, input *Input) (*Output, error) {
	registry := e.registry
	if len(input.AvailableTools) > 0 {
		registry = registry.Filter(input.AvailableTools...)
	}
	apiTools := registry.ToAnthropic()

	session := NewSession(input.UserID, input.AgentID)
	if input.Message != "" {
		session.AddUserMessage(input.Message)
	}

	out := &Output{}
	for {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("run cancelled: %w", err)
		}
		if session.TurnCount >= e.maxTurns {
			return out, fmt.Errorf("%w (%d)", ErrMaxTurns, e.maxTurns)
		}
		session.IncrementTurnCount()
		out.Turns = session.TurnCount

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(e.model),
			MaxTokens: e.maxTokens,
			Messages:  session.Messages(),
		}
		if input.SystemPrompt != "" {
			params.System = []anthropic.TextBlockParam{{Text: input.SystemPrompt}}
		}
		if len(apiTools) > 0 {
			params.Tools = apiTools
		}

		resp, err := e.client.Messages.New(ctx, params)
		if err != nil {
			return out, fmt.Errorf("claude API error: %w", err)
		}
		out.Usage.InputTokens += resp.Usage.InputTokens
		out.Usage.OutputTokens += resp.Usage.OutputTokens

		var text strings.Builder
		var results []anthropic.ContentBlockParamUnion
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				text.WriteString(block.Text)
			case "tool_use":
				content, isError, exec := e.execute(ctx, registry, session, block.ID, block.Name, block.Input)
				results = append(results, anthropic.NewToolResultBlock(block.ID, content, isError))
				out.ToolsUsed = append(out.ToolsUsed, exec)
			}
		}

		if len(results) == 0 {
			out.Text = text.String()
			return out, nil
		}

		session.AddAssistantResponse(resp)
		session.AddToolResults(results)
	}
}

// execute runs one tool_use block and returns the tool_result content.
func (e *Engine) execute(ctx context.Context, registry *tools.Registry, session *Session, id, name string, raw json.RawMessage) (string, bool, ToolExecution) {
	exec := ToolExecution{Tool: name}

	var args map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			exec.Error = err.Error()
			exec.ErrorType = "invalid_input"
			return fmt.Sprintf("invalid tool input JSON: %s", err.Error()), true, exec
		}
	}
	exec.Input = args

	var base core.BaseInput
	if err := tools.Decode(args, &base); err == nil {
		exec.Thought = strings.TrimSpace(base.Thought)
	}

	start := time.Now()
	result, err := registry.Call(ctx, tools.Call{
		ID:      id,
		Name:    name,
		UserID:  session.UserID,
		AgentID: string(session.AgentID),
		Args:    args,
	})
	exec.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		exec.Error = err.Error()
		exec.ErrorType = categorizeError(err)
		e.logger.Warn("tool failed", "tool", name, "user", session.UserID, "type", exec.ErrorType, "err", err)
		if errors.Is(err, tools.ErrUnknownTool) {
			return fmt.Sprintf("unknown tool: %s", name), true, exec
		}
		return err.Error(), true, exec
	}

	e.logger.Debug("tool call", "tool", name, "user", session.UserID, "thought", exec.Thought, "ms", exec.DurationMs)
	return tools.ResultString(result, nil), false, exec
}

// categorizeError maps a tool failure to a coarse error type for logs and
// ToolExecution records.
func categorizeError(err error) string {
	if errors.Is(err, tools.ErrUnknownTool) {
		return "unknown_tool"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not found"), strings.Contains(msg, "does not exist"):
		return "not_found"
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "required"), strings.Contains(msg, "unknown timezone"):
		return "invalid_input"
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many"):
		return "rate_limit"
	case strings.Contains(msg, "network"), strings.Contains(msg, "connection"):
		return "network_error"
	default:
		return "unknown"
	}
}
