package engine_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/engine"
	"github.com/becomeliminal/nim-companion/tools"
)

// fakeClaude replays canned Messages API replies in order and records the
// request bodies it received.
type fakeClaude struct {
	mu       sync.Mutex
	replies  []string
	requests []map[string]any
}

func (f *fakeClaude) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req map[string]any
	_ = json.Unmarshal(body, &req)

	f.mu.Lock()
	f.requests = append(f.requests, req)
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, reply)
}

func textReply(text string) string {
	return `{"id":"msg_text","type":"message","role":"assistant","model":"claude-test",` +
		`"content":[{"type":"text","text":` + quote(text) + `}],` +
		`"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5}}`
}

func toolReply(name string, input string) string {
	return `{"id":"msg_tool","type":"message","role":"assistant","model":"claude-test",` +
		`"content":[{"type":"tool_use","id":"toolu_1","name":"` + name + `","input":` + input + `}],` +
		`"stop_reason":"tool_use","usage":{"input_tokens":7,"output_tokens":3}}`
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func newEngine(t *testing.T, fake *fakeClaude, registry *tools.Registry, opts ...engine.Option) *engine.Engine {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client := anthropic.NewClient(
		option.WithBaseURL(srv.URL),
		option.WithAPIKey("test-key"),
		option.WithMaxRetries(0),
	)
	return engine.New(client, registry, opts...)
}

func TestRun_TextReply(t *testing.T) {
	fake := &fakeClaude{replies: []string{textReply("Take a deep breath.")}}
	e := newEngine(t, fake, nil)

	out, err := e.Run(context.Background(), &engine.Input{
		UserID:       "u1",
		AgentID:      core.AgentVibe,
		Message:      "I'm stressed",
		SystemPrompt: "You are calm.",
	})
	require.NoError(t, err)
	assert.Equal(t, "Take a deep breath.", out.Text)
	assert.Equal(t, 1, out.Turns)
	assert.Equal(t, int64(10), out.Usage.InputTokens)

	require.Len(t, fake.requests, 1)
	assert.NotContains(t, fake.requests[0], "tools")
	system := fake.requests[0]["system"].([]any)
	assert.Equal(t, "You are calm.", system[0].(map[string]any)["text"])
}

func TestRun_ToolLoop(t *testing.T) {
	var gotCall tools.Call
	registry := tools.NewRegistry(&tools.Func{
		ToolName:    "lookup",
		InputSchema: tools.ObjectSchema(map[string]interface{}{"q": tools.StringProperty("query")}),
		Handler: func(ctx context.Context, call tools.Call) (any, error) {
			gotCall = call
			return "found it", nil
		},
	})
	fake := &fakeClaude{replies: []string{
		toolReply("lookup", `{"q":"sleep","thought":"check notes"}`),
		textReply("Here is what I found."),
	}}
	e := newEngine(t, fake, registry)

	out, err := e.Run(context.Background(), &engine.Input{UserID: "u1", AgentID: core.AgentKnowledge, Message: "what did I say?"})
	require.NoError(t, err)
	assert.Equal(t, "Here is what I found.", out.Text)
	assert.Equal(t, 2, out.Turns)
	assert.Equal(t, int64(17), out.Usage.InputTokens)

	require.Len(t, out.ToolsUsed, 1)
	assert.Equal(t, "lookup", out.ToolsUsed[0].Tool)
	assert.Equal(t, "check notes", out.ToolsUsed[0].Thought)
	assert.Empty(t, out.ToolsUsed[0].Error)

	assert.Equal(t, "u1", gotCall.UserID)
	assert.Equal(t, "knowledge", gotCall.AgentID)
	assert.Equal(t, "sleep", gotCall.Args["q"])

	require.Len(t, fake.requests, 2)
	msgs := fake.requests[1]["messages"].([]any)
	require.Len(t, msgs, 3)
	last := msgs[2].(map[string]any)
	assert.Equal(t, "user", last["role"])
	block := last["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "tool_result", block["type"])
	assert.Equal(t, "toolu_1", block["tool_use_id"])
}

func TestRun_UnknownToolIsReportedToModel(t *testing.T) {
	fake := &fakeClaude{replies: []string{
		toolReply("does_not_exist", `{}`),
		textReply("Sorry about that."),
	}}
	e := newEngine(t, fake, tools.NewRegistry())

	out, err := e.Run(context.Background(), &engine.Input{UserID: "u1", AgentID: core.AgentVibe, Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Sorry about that.", out.Text)
	require.Len(t, out.ToolsUsed, 1)
	assert.Equal(t, "unknown_tool", out.ToolsUsed[0].ErrorType)

	msgs := fake.requests[1]["messages"].([]any)
	block := msgs[2].(map[string]any)["content"].([]any)[0].(map[string]any)
	assert.Equal(t, true, block["is_error"])
}

func TestRun_MaxTurns(t *testing.T) {
	registry := tools.NewRegistry(&tools.Func{
		ToolName: "loop",
		Handler:  func(ctx context.Context, call tools.Call) (any, error) { return "again", nil },
	})
	fake := &fakeClaude{replies: []string{toolReply("loop", `{}`)}}
	e := newEngine(t, fake, registry, engine.WithMaxTurns(2))

	_, err := e.Run(context.Background(), &engine.Input{UserID: "u1", Message: "go"})
	assert.ErrorIs(t, err, engine.ErrMaxTurns)
	assert.Len(t, fake.requests, 2)
}

func TestRun_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)
	}))
	defer srv.Close()

	client := anthropic.NewClient(option.WithBaseURL(srv.URL), option.WithAPIKey("k"), option.WithMaxRetries(0))
	e := engine.New(client, nil)

	_, err := e.Run(context.Background(), &engine.Input{UserID: "u1", Message: "hi"})
	assert.ErrorContains(t, err, "claude API error")
}

func TestRun_AvailableToolsFilter(t *testing.T) {
	noop := func(ctx context.Context, call tools.Call) (any, error) { return nil, nil }
	registry := tools.NewRegistry(
		&tools.Func{ToolName: "a", Handler: noop},
		&tools.Func{ToolName: "b", Handler: noop},
	)
	fake := &fakeClaude{replies: []string{textReply("ok")}}
	e := newEngine(t, fake, registry)

	_, err := e.Run(context.Background(), &engine.Input{UserID: "u1", Message: "hi", AvailableTools: []string{"b"}})
	require.NoError(t, err)

	sent := fake.requests[0]["tools"].([]any)
	require.Len(t, sent, 1)
	assert.Equal(t, "b", sent[0].(map[string]any)["name"])
}
