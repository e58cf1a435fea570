package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/memory"
)

// MemoryReader is the part of memory.Coordinator the memory tools use.
type MemoryReader interface {
	Retrieve(ctx context.Context, userID, agentID, query string, limit int) []memory.Entry
	FullContext(ctx context.Context, userID string) string
	ShortTerm(userID string) string
}

type recallInput struct {
	core.BaseInput
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type timeInput struct {
	core.BaseInput
	Timezone string `json:"timezone,omitempty"`
}

// MemoryTools returns the tools that let a model read the user's memory.
func MemoryTools(mem MemoryReader) []Tool {
	return []Tool{
		&Func{
			ToolName:        "recall_memories",
			ToolDescription: "Search past conversations with this user for anything related to the query.",
			InputSchema: BuildSchemaWithThought(map[string]interface{}{
				"query": StringProperty("What to look for in past conversations"),
				"limit": IntegerProperty("Maximum number of memories to return (default: 3)"),
			}, false, "query"),
			Handler: func(ctx context.Context, call Call) (any, error) {
				var in recallInput
				if err := Decode(call.Args, &in); err != nil {
					return nil, err
				}
				if in.Query == "" {
					return nil, fmt.Errorf("query is required")
				}
				if in.Limit <= 0 {
					in.Limit = 3
				}
				entries := mem.Retrieve(ctx, call.UserID, call.AgentID, in.Query, in.Limit)
				if len(entries) == 0 {
					return "No related memories found.", nil
				}
				return memory.FormatMemories(entries), nil
			},
		},
		&Func{
			ToolName:        "get_user_context",
			ToolDescription: "Get the user's known facts, preferences, medical profile, pending tasks and upcoming events.",
			InputSchema:     BuildSchemaWithThought(map[string]interface{}{}, false),
			Handler: func(ctx context.Context, call Call) (any, error) {
				if out := mem.FullContext(ctx, call.UserID); out != "" {
					return out, nil
				}
				return "No personal context stored yet.", nil
			},
		},
		&Func{
			ToolName:        "get_recent_conversation",
			ToolDescription: "Get a summary of the current conversation so far.",
			InputSchema:     BuildSchemaWithThought(map[string]interface{}{}, false),
			Handler: func(ctx context.Context, call Call) (any, error) {
				if out := mem.ShortTerm(call.UserID); out != "" {
					return out, nil
				}
				return "No conversation yet.", nil
			},
		},
		TimeTool(time.Now),
	}
}

// TimeTool reports the current time, optionally in an IANA timezone.
func TimeTool(now func() time.Time) Tool {
	return &Func{
		ToolName:        "get_current_time",
		ToolDescription: "Get the current date and time, optionally in a timezone such as Europe/London.",
		InputSchema: BuildSchemaWithThought(map[string]interface{}{
			"timezone": StringProperty("Optional IANA timezone name"),
		}, false),
		Handler: func(ctx context.Context, call Call) (any, error) {
			var in timeInput
			if err := Decode(call.Args, &in); err != nil {
				return nil, err
			}
			loc := time.UTC
			if in.Timezone != "" {
				l, err := time.LoadLocation(in.Timezone)
				if err != nil {
					return nil, fmt.Errorf("unknown timezone %q", in.Timezone)
				}
				loc = l
			}
			t := now().In(loc)
			return map[string]any{
				"time":     t.Format(time.RFC3339),
				"weekday":  t.Weekday().String(),
				"timezone": loc.String(),
			}, nil
		},
	}
}
