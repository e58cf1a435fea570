// Package gemini connects live sessions to the Gemini Live API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/becomeliminal/nim-companion/live"
)

const (
	DefaultModel      = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultSampleRate = 16000
)

// Config configures a Dialer.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string

	// SampleRate of the PCM audio sent by clients.
	SampleRate int

	// Instructions builds the system instruction for each new connection, so
	// a reconnect picks up memories written since the last one.
	Instructions func(ctx context.Context) string

	Tools []*genai.Tool
}

// Dialer opens Gemini Live connections.
type Dialer struct {
	client *genai.Client
	cfg    Config
}

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, apiKey, baseURL string) (*genai.Client, error) {
	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return client, nil
}

// NewDialer creates a Dialer with its own client.
func NewDialer(ctx context.Context, cfg Config) (*Dialer, error) {
	client, err := NewClient(ctx, cfg.APIKey, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	return NewDialerFromClient(client, cfg), nil
}

// NewDialerFromClient creates a Dialer sharing an existing client.
func NewDialerFromClient(client *genai.Client, cfg Config) *Dialer {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	return &Dialer{client: client, cfg: cfg}
}

// Dial implements live.ModelDialer.
func (d *Dialer) Dial(ctx context.Context) (live.ModelConn, error) {
	session, err := d.client.Live.Connect(ctx, d.cfg.Model, d.connectConfig(ctx))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", d.cfg.Model, err)
	}
	return newConn(session, d.cfg.SampleRate, eventsFrom), nil
}

func (d *Dialer) connectConfig(ctx context.Context) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
		Tools:                    d.cfg.Tools,
	}
	if d.cfg.Voice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: d.cfg.Voice},
			},
		}
	}
	if d.cfg.Instructions != nil {
		if text := d.cfg.Instructions(ctx); text != "" {
			cfg.SystemInstruction = genai.NewContentFromText(text, genai.RoleUser)
		}
	}
	return cfg
}

// conn adapts a genai live session to live.ModelConn. A single reader
// goroutine owns Receive so that callers can give up on ctx.
type conn struct {
	session  *genai.Session
	mimeType string

	sendMu sync.Mutex

	startRead sync.Once
	events    chan live.Event
	readErr   error
	done      chan struct{}
	convert   func(*genai.LiveServerMessage) []live.Event
}

func newConn(session *genai.Session, sampleRate int, convert func(*genai.LiveServerMessage) []live.Event) *conn {
	return &conn{
		session:  session,
		mimeType: fmt.Sprintf("audio/pcm;rate=%d", sampleRate),
		events:   make(chan live.Event, 32),
		done:     make(chan struct{}),
		convert:  convert,
	}
}

func (c *conn) SendAudio(ctx context.Context, chunk []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{MIMEType: c.mimeType, Data: chunk},
	})
}

func (c *conn) SendToolResponses(ctx context.Context, responses []live.ToolResponse) error {
	out := make([]*genai.FunctionResponse, 0, len(responses))
	for _, r := range responses {
		out = append(out, &genai.FunctionResponse{ID: r.ID, Name: r.Name, Response: r.Response})
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.session.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: out})
}

func (c *conn) Receive(ctx context.Context) (live.Event, error) {
	c.startRead.Do(func() { go c.read() })
	select {
	case <-ctx.Done():
		return live.Event{}, ctx.Err()
	case ev, ok := <-c.events:
		if !ok {
			return live.Event{}, c.readErr
		}
		return ev, nil
	}
}

func (c *conn) read() {
	defer close(c.events)
	for {
		msg, err := c.session.Receive()
		if err != nil {
			c.readErr = err
			return
		}
		for _, ev := range c.convert(msg) {
			select {
			case c.events <- ev:
			case <-c.done:
				c.readErr = errClosed
				return
			}
		}
	}
}

var errClosed = errors.New("connection closed")

func (c *conn) Close() error {
	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
	}
	return c.session.Close()
}

// eventsFrom converts one server message into session events, in the order
// audio, text, tool calls, turn complete.
func eventsFrom(msg *genai.LiveServerMessage) []live.Event {
	if msg == nil {
		return nil
	}
	var events []live.Event

	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p == nil {
					continue
				}
				if p.InlineData != nil && len(p.InlineData.Data) > 0 {
					events = append(events, live.Event{Kind: live.EventAudio, Audio: p.InlineData.Data})
				}
				if p.Text != "" && !p.Thought {
					events = append(events, live.Event{Kind: live.EventText, Text: p.Text})
				}
			}
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			events = append(events, live.Event{Kind: live.EventText, Text: sc.OutputTranscription.Text})
		}
	}

	if tc := msg.ToolCall; tc != nil && len(tc.FunctionCalls) > 0 {
		calls := make([]live.ToolCall, 0, len(tc.FunctionCalls))
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			calls = append(calls, live.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		events = append(events, live.Event{Kind: live.EventToolCall, Calls: calls})
	}

	if msg.ServerContent != nil && msg.ServerContent.TurnComplete {
		events = append(events, live.Event{Kind: live.EventTurnComplete})
	}
	return events
}
