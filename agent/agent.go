// Package agent implements the conversational agents behind the router. Each
// agent wraps the Claude tool loop with memory: context is read before the
// model runs and the exchange is written back afterwards.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/engine"
	"github.com/becomeliminal/nim-companion/memory"
)

// SearchLimit is the default number of memories retrieved per turn.
const SearchLimit = memory.MaxPromptMemories

// Runner runs one agent turn. *engine.Engine implements it.
type Runner interface {
	Run(ctx context.Context, input *engine.Input) (*engine.Output, error)
}

// LLMAgent is a memory-aware agent backed by a Runner.
type LLMAgent struct {
	id       core.AgentID
	prompt   string
	tools    []string
	runner   Runner
	memory   *memory.Coordinator
	logger   *log.Logger
	now      func() time.Time
	location *time.Location
	limit    int
}

// Option configures an LLMAgent.
type Option func(*LLMAgent)

// WithPrompt overrides the agent's system prompt.
func WithPrompt(prompt string) Option {
	return func(a *LLMAgent) {
		a.prompt = prompt
	}
}

// WithTools restricts the agent to the named tools.
func WithTools(names ...string) Option {
	return func(a *LLMAgent) {
		a.tools = names
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(a *LLMAgent) {
		a.logger = l
	}
}

// WithClock sets the time source and the location used in prompts.
func WithClock(now func() time.Time, loc *time.Location) Option {
	return func(a *LLMAgent) {
		a.now = now
		a.location = loc
	}
}

// WithSearchLimit sets how many memories are retrieved per turn.
func WithSearchLimit(n int) Option {
	return func(a *LLMAgent) {
		a.limit = n
	}
}

// New creates an agent.
func New(id core.AgentID, runner Runner, mem *memory.Coordinator, opts ...Option) *LLMAgent {
	a := &LLMAgent{
		id:       id,
		prompt:   PromptFor(id),
		runner:   runner,
		memory:   mem,
		now:      time.Now,
		location: time.UTC,
		limit:    SearchLimit,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = log.Default().WithPrefix(string(id))
	}
	return a
}

// ID returns the agent id.
func (a *LLMAgent) ID() core.AgentID {
	return a.id
}

// Respond answers a request. Memory is read before the model runs and the
// exchange is written to short-term and long-term memory afterwards.
func (a *LLMAgent) Respond(ctx context.Context, req core.Request) (*core.Response, error) {
	start := a.now()

	memories := a.memory.Retrieve(ctx, req.UserID, string(a.id), req.Message, a.limit)
	system := a.systemPrompt(req.UserID, a.memory.FullContext(ctx, req.UserID), memories)

	out, err := a.runner.Run(ctx, &engine.Input{
		UserID:         req.UserID,
		AgentID:        a.id,
		Message:        req.Message,
		SystemPrompt:   system,
		AvailableTools: a.tools,
	})
	if err != nil {
		return nil, fmt.Errorf("%s agent: %w", a.id, err)
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return nil, errors.New(string(a.id) + " agent: empty response")
	}

	a.memory.AppendShortTerm(req.UserID, core.RoleUser, req.Message)
	a.memory.AppendShortTerm(req.UserID, core.RoleModel, text)
	a.memory.Store(ctx, req.UserID, string(a.id), req.Message, text)

	toolsUsed := make([]string, 0, len(out.ToolsUsed))
	for _, t := range out.ToolsUsed {
		toolsUsed = append(toolsUsed, t.Tool)
	}
	latency := a.now().Sub(start)
	a.logger.Info("responded", "user", req.UserID, "memories", len(memories), "tools", len(toolsUsed), "latency", latency)

	return &core.Response{
		AgentType: a.id,
		Text:      text,
		Timestamp: a.now().UTC(),
		Metadata: map[string]any{
			"memories_used": len(memories),
			"tools_used":    toolsUsed,
			"latency_ms":    latency.Milliseconds(),
		},
	}, nil
}

// Proactive produces a check-in message from the user's most recent memories
// and personal context. It returns nil when there is nothing to check in about.
func (a *LLMAgent) Proactive(ctx context.Context, userID string) (*core.Response, error) {
	memories := a.memory.Retrieve(ctx, userID, string(a.id), "", a.limit)
	personal := a.memory.FullContext(ctx, userID)
	if len(memories) == 0 && personal == "" {
		return nil, nil
	}

	system := a.systemPrompt(userID, personal, memories) + "\n\n" + ProactivePrompt
	out, err := a.runner.Run(ctx, &engine.Input{
		UserID:         userID,
		AgentID:        a.id,
		Message:        "Check in with me.",
		SystemPrompt:   system,
		AvailableTools: a.tools,
	})
	if err != nil {
		return nil, fmt.Errorf("%s agent: proactive: %w", a.id, err)
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return nil, nil
	}
	a.memory.AppendShortTerm(userID, core.RoleModel, text)

	return &core.Response{
		AgentType: a.id,
		Text:      text,
		Timestamp: a.now().UTC(),
		Metadata:  map[string]any{"proactive": true, "memories_used": len(memories)},
	}, nil
}

// Health reports whether the agent can serve requests.
func (a *LLMAgent) Health(ctx context.Context) core.HealthStatus {
	if a.runner == nil {
		return core.HealthStatus{Healthy: false, Detail: "no model configured"}
	}
	if a.memory == nil {
		return core.HealthStatus{Healthy: false, Detail: "no memory configured"}
	}
	return core.HealthStatus{Healthy: true}
}

func (a *LLMAgent) systemPrompt(userID, personal string, memories []memory.Entry) string {
	pc := memory.BuildPromptContext(memory.PromptContext{
		UserID:    userID,
		Now:       a.now(),
		Location:  a.location,
		Personal:  personal,
		Memories:  memories,
		ShortTerm: a.memory.ShortTerm(userID),
	})
	return a.prompt + "\n\n" + pc
}
