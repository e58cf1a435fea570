package gemini

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/becomeliminal/nim-companion/live"
)

func TestEventsFrom(t *testing.T) {
	msg := &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			ModelTurn: &genai.Content{Parts: []*genai.Part{
				{InlineData: &genai.Blob{MIMEType: "audio/pcm", Data: []byte{1, 2}}},
				{Text: "thinking", Thought: true},
			}},
			OutputTranscription: &genai.Transcription{Text: "Hello there"},
			TurnComplete:        true,
		},
	}

	events := eventsFrom(msg)
	require.Len(t, events, 3)
	assert.Equal(t, live.Event{Kind: live.EventAudio, Audio: []byte{1, 2}}, events[0])
	assert.Equal(t, live.Event{Kind: live.EventText, Text: "Hello there"}, events[1])
	assert.Equal(t, live.EventTurnComplete, events[2].Kind)
}

func TestEventsFrom_ToolCall(t *testing.T) {
	msg := &genai.LiveServerMessage{
		ToolCall: &genai.LiveServerToolCall{FunctionCalls: []*genai.FunctionCall{
			{ID: "c1", Name: "get_current_time", Args: map[string]any{"timezone": "UTC"}},
		}},
	}

	events := eventsFrom(msg)
	require.Len(t, events, 1)
	assert.Equal(t, live.EventToolCall, events[0].Kind)
	assert.Equal(t, []live.ToolCall{{ID: "c1", Name: "get_current_time", Args: map[string]any{"timezone": "UTC"}}}, events[0].Calls)

	assert.Empty(t, eventsFrom(nil))
	assert.Empty(t, eventsFrom(&genai.LiveServerMessage{}))
}

func TestAccumulator(t *testing.T) {
	var acc accumulator

	out := acc.handle(&genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		InputTranscription: &genai.Transcription{Text: "I slept "},
	}})
	assert.Equal(t, []live.Transcript{{Text: "I slept"}}, out)

	out = acc.handle(&genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		InputTranscription: &genai.Transcription{Text: "badly", Finished: true},
	}})
	assert.Equal(t, []live.Transcript{{Text: "I slept badly"}, {Text: "I slept badly", Final: true}}, out)

	out = acc.handle(&genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{TurnComplete: true}})
	assert.Empty(t, out)

	out = acc.handle(&genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		InputTranscription: &genai.Transcription{Text: "thanks"},
	}})
	require.Len(t, out, 1)
	out = acc.handle(&genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{TurnComplete: true}})
	assert.Equal(t, []live.Transcript{{Text: "thanks", Final: true}}, out)
}

func TestConnectConfig(t *testing.T) {
	d := NewDialerFromClient(nil, Config{
		Voice:        "Puck",
		Instructions: func(ctx context.Context) string { return "be kind" },
	})
	assert.Equal(t, DefaultModel, d.cfg.Model)

	cfg := d.connectConfig(context.Background())
	assert.Equal(t, []genai.Modality{genai.ModalityAudio}, cfg.ResponseModalities)
	require.NotNil(t, cfg.SpeechConfig)
	assert.Equal(t, "Puck", cfg.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "be kind", cfg.SystemInstruction.Parts[0].Text)
}
