package live_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/live"
)

type fakeConn struct {
	events chan live.Event
	fail   chan error

	mu        sync.Mutex
	audio     [][]byte
	responses [][]live.ToolResponse
	closed    bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan live.Event, 16), fail: make(chan error, 1)}
}

func (c *fakeConn) SendAudio(ctx context.Context, chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = append(c.audio, chunk)
	return nil
}

func (c *fakeConn) SendToolResponses(ctx context.Context, responses []live.ToolResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, responses)
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) (live.Event, error) {
	select {
	case <-ctx.Done():
		return live.Event{}, ctx.Err()
	case err := <-c.fail:
		return live.Event{}, err
	case ev := <-c.events:
		return ev, nil
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) sentAudio() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.audio)
}

func (c *fakeConn) toolResponses() [][]live.ToolResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]live.ToolResponse(nil), c.responses...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDialer hands out connections in order and fails once they run out.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) Dial(ctx context.Context) (live.ModelConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dials >= len(d.conns) {
		return nil, errors.New("no more connections")
	}
	c := d.conns[d.dials]
	d.dials++
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// fakeTranscriber drains audio and emits whatever the test pushes.
type fakeTranscriber struct {
	transcripts chan live.Transcript
}

func newFakeTranscriber() *fakeTranscriber {
	return &fakeTranscriber{transcripts: make(chan live.Transcript, 16)}
}

func (t *fakeTranscriber) Transcribe(ctx context.Context, audio <-chan []byte, emit func(live.Transcript)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-audio:
			if !ok {
				return nil
			}
		case tr := <-t.transcripts:
			emit(tr)
		}
	}
}

// flakyTranscriber fails its first call and then behaves like
// fakeTranscriber.
type flakyTranscriber struct {
	*fakeTranscriber
	calls atomic.Int32
}

func (t *flakyTranscriber) Transcribe(ctx context.Context, audio <-chan []byte, emit func(live.Transcript)) error {
	if t.calls.Add(1) == 1 {
		return errors.New("transcription stream closed")
	}
	return t.fakeTranscriber.Transcribe(ctx, audio, emit)
}

func (t *flakyTranscriber) callCount() int {
	return int(t.calls.Load())
}

type fakeOutput struct {
	mu     sync.Mutex
	audio  [][]byte
	closed atomic.Bool
}

func (o *fakeOutput) SendAudio(ctx context.Context, chunk []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.audio = append(o.audio, chunk)
	return nil
}

func (o *fakeOutput) Closed() bool { return o.closed.Load() }

func (o *fakeOutput) received() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([][]byte(nil), o.audio...)
}

type storedTurn struct {
	user, agent, userText, agentText string
}

type appended struct {
	role core.Role
	text string
}

type fakeMemory struct {
	mu      sync.Mutex
	appends []appended
	stored  []storedTurn
}

func (m *fakeMemory) AppendShortTerm(userID string, role core.Role, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends = append(m.appends, appended{role, text})
}

func (m *fakeMemory) Store(ctx context.Context, userID, agentID, userText, agentText string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored = append(m.stored, storedTurn{userID, agentID, userText, agentText})
	return "summary"
}

func (m *fakeMemory) appendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.appends)
}

func (m *fakeMemory) storedTurns() []storedTurn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storedTurn(nil), m.stored...)
}

// stateLog records state transitions.
type stateLog struct {
	mu     sync.Mutex
	states []live.State
}

func (l *stateLog) record(s live.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) all() []live.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]live.State(nil), l.states...)
}
