package live

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/tools"
)

// Defaults for session timing.
const (
	DefaultRecoveryDelay = time.Second
	DefaultDialTimeout   = 10 * time.Second
)

// transcriptBuffer is the number of audio chunks queued for the transcriber.
const transcriptBuffer = 64

// Session is one live voice conversation.
type Session struct {
	ID      string
	UserID  string
	AgentID string

	in          <-chan []byte
	out         Output
	dialer      ModelDialer
	memory      Memory
	transcriber Transcriber
	registry    *tools.Registry
	logger      *log.Logger

	recoveryDelay time.Duration
	dialTimeout   time.Duration
	onState       func(State)

	state atomic.Int32

	turnMu      sync.Mutex
	pendingUser strings.Builder
	pendingText strings.Builder

	transcriptCh    chan []byte
	closeTranscript sync.Once
	inputDone       atomic.Bool
}

// Option configures a Session.
type Option func(*Session)

// WithTranscriber sets the speech-to-text engine. Without one, no user
// transcript is produced and no turn is ever stored.
func WithTranscriber(t Transcriber) Option {
	return func(s *Session) {
		s.transcriber = t
	}
}

// WithTools sets the tools the model may call.
func WithTools(r *tools.Registry) Option {
	return func(s *Session) {
		s.registry = r
	}
}

// WithRecoveryDelay sets the wait before reconnecting after a model failure.
func WithRecoveryDelay(d time.Duration) Option {
	return func(s *Session) {
		s.recoveryDelay = d
	}
}

// WithDialTimeout bounds each model dial.
func WithDialTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.dialTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithStateHook registers a function called on every state change.
func WithStateHook(fn func(State)) Option {
	return func(s *Session) {
		s.onState = fn
	}
}

// NewSession creates a session reading user audio from in. The caller closes
// in when the user stops sending audio.
func NewSession(userID, agentID string, in <-chan []byte, out Output, dialer ModelDialer, mem Memory, opts ...Option) *Session {
	s := &Session{
		ID:            uuid.NewString(),
		UserID:        userID,
		AgentID:       agentID,
		in:            in,
		out:           out,
		dialer:        dialer,
		memory:        mem,
		recoveryDelay: DefaultRecoveryDelay,
		dialTimeout:   DefaultDialTimeout,
		transcriptCh:  make(chan []byte, transcriptBuffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = tools.NewRegistry()
	}
	if s.logger == nil {
		s.logger = log.Default().WithPrefix("live")
	}
	s.logger = s.logger.With("session", s.ID, "user", userID)
	return s
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// setState records a transition. Repeated transitions to the same state,
// such as failed redials while recovering, are reported once.
func (s *Session) setState(st State) {
	if State(s.state.Swap(int32(st))) == st {
		return
	}
	s.notify(st)
}

func (s *Session) notify(st State) {
	s.logger.Debug("state", "state", st)
	if s.onState != nil {
		s.onState(st)
	}
}

// Run drives the session until the input closes, the transport closes or
// ctx is cancelled. A closed input is a normal end and returns nil.
func (s *Session) Run(ctx context.Context) error {
	s.state.Store(int32(StateConnecting))
	s.notify(StateConnecting)
	defer s.setState(StateClosed)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.transcribe(gctx) })
	g.Go(func() error { return s.model(gctx) })

	err := g.Wait()
	if errors.Is(err, ErrInputClosed) {
		s.logger.Info("audio input closed")
		return nil
	}
	return err
}

// model keeps a model connection alive, reconnecting after receiver
// failures while the transport is open.
func (s *Session) model(ctx context.Context) error {
	for {
		err := s.connect(ctx)
		switch {
		case errors.Is(err, ErrInputClosed):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		case s.out.Closed():
			return ErrTransportClosed
		}

		s.setState(StateRecovering)
		s.logger.Warn("model connection failed, recovering", "err", err, "delay", s.recoveryDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.recoveryDelay):
		}
	}
}

// connect dials the model and runs a forwarder and a receiver on the new
// connection until one of them fails. The connection is closed only after
// both have returned.
func (s *Session) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, s.dialTimeout)
	conn, err := s.dialer.Dial(dialCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("dial model: %w", err)
	}

	s.setState(StateActive)
	s.logger.Info("model connected", "agent", s.AgentID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.forward(gctx, conn) })
	g.Go(func() error { return s.receive(gctx, conn) })
	err = g.Wait()

	if cerr := conn.Close(); cerr != nil {
		s.logger.Debug("close model connection", "err", cerr)
	}
	return err
}

// forward drains the inbound audio channel into the model and the
// transcriber.
func (s *Session) forward(ctx context.Context, conn ModelConn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-s.in:
			if !ok {
				s.closeTranscript.Do(func() {
					s.inputDone.Store(true)
					close(s.transcriptCh)
				})
				return ErrInputClosed
			}
			if err := conn.SendAudio(ctx, chunk); err != nil {
				return fmt.Errorf("send audio: %w", err)
			}
			if s.transcriber != nil {
				select {
				case s.transcriptCh <- chunk:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// transcribe feeds the transcription channel to the transcriber. A
// transcriber that stops while input is still flowing is restarted after the
// recovery delay; its failures never end the session.
func (s *Session) transcribe(ctx context.Context) error {
	if s.transcriber == nil {
		return nil
	}
	for {
		err := s.transcriber.Transcribe(ctx, s.transcriptCh, s.onTranscript)
		if ctx.Err() != nil || s.inputDone.Load() {
			return nil
		}
		s.logger.Warn("transcriber stopped, restarting", "err", err, "delay", s.recoveryDelay)

		// Drop audio while waiting so the forwarder never blocks.
		timer := time.NewTimer(s.recoveryDelay)
	wait:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case _, ok := <-s.transcriptCh:
				if !ok {
					timer.Stop()
					return nil
				}
			case <-timer.C:
				break wait
			}
		}
	}
}

func (s *Session) onTranscript(t Transcript) {
	text := strings.TrimSpace(t.Text)
	if !t.Final || text == "" {
		return
	}
	s.memory.AppendShortTerm(s.UserID, core.RoleUser, text)

	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	if s.pendingUser.Len() > 0 {
		s.pendingUser.WriteByte(' ')
	}
	s.pendingUser.WriteString(text)
}

// receive handles model events until the connection fails.
func (s *Session) receive(ctx context.Context, conn ModelConn) error {
	for {
		ev, err := conn.Receive(ctx)
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}

		switch ev.Kind {
		case EventAudio:
			if err := s.out.SendAudio(ctx, ev.Audio); err != nil {
				if s.out.Closed() {
					return ErrTransportClosed
				}
				return fmt.Errorf("send audio to client: %w", err)
			}
		case EventText:
			s.onModelText(ev.Text)
		case EventToolCall:
			if err := s.callTools(ctx, conn, ev.Calls); err != nil {
				return err
			}
		case EventTurnComplete:
			s.completeTurn(ctx)
		}
	}
}

// onModelText accumulates the reply. It reaches short-term memory as one
// message when the turn completes.
func (s *Session) onModelText(text string) {
	if text == "" {
		return
	}
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	s.pendingText.WriteString(text)
}

// callTools runs each call by exact name and sends all results back in one
// response. Tool failures are reported to the model as error strings.
func (s *Session) callTools(ctx context.Context, conn ModelConn, calls []ToolCall) error {
	if len(calls) == 0 {
		return nil
	}
	responses := make([]ToolResponse, 0, len(calls))
	for _, c := range calls {
		result, err := s.registry.Call(ctx, tools.Call{
			ID:      c.ID,
			Name:    c.Name,
			UserID:  s.UserID,
			AgentID: s.AgentID,
			Args:    c.Args,
		})
		resp := tools.ResultMap(result, nil)
		if err != nil {
			s.logger.Warn("tool failed", "tool", c.Name, "err", err)
			resp = map[string]any{"error": tools.ResultString(nil, err)}
		}
		responses = append(responses, ToolResponse{ID: c.ID, Name: c.Name, Response: resp})
	}
	if err := conn.SendToolResponses(ctx, responses); err != nil {
		return fmt.Errorf("send tool responses: %w", err)
	}
	return nil
}

// completeTurn records the agent reply in short-term memory and stores the
// finished exchange. A turn without a user transcript stores nothing; a turn
// without agent text keeps the transcript for the next turn.
func (s *Session) completeTurn(ctx context.Context) {
	s.turnMu.Lock()
	userText := s.pendingUser.String()
	agentText := s.pendingText.String()
	s.pendingText.Reset()
	if agentText != "" {
		s.pendingUser.Reset()
	}
	s.turnMu.Unlock()

	if agentText == "" {
		return
	}
	s.memory.AppendShortTerm(s.UserID, core.RoleModel, agentText)
	if userText == "" {
		return
	}
	summary := s.memory.Store(ctx, s.UserID, s.AgentID, userText, agentText)
	s.logger.Debug("turn stored", "summary", summary)
}
