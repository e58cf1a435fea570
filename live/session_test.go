package live_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-companion/live"
	"github.com/becomeliminal/nim-companion/tools"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type harness struct {
	in          chan []byte
	out         *fakeOutput
	dialer      *fakeDialer
	mem         *fakeMemory
	transcriber *fakeTranscriber
	states      *stateLog
	session     *live.Session
	done        chan error
	cancel      context.CancelFunc
}

func start(t *testing.T, conns []*fakeConn, opts ...live.Option) *harness {
	t.Helper()
	h := &harness{
		in:          make(chan []byte),
		out:         &fakeOutput{},
		dialer:      &fakeDialer{conns: conns},
		mem:         &fakeMemory{},
		transcriber: newFakeTranscriber(),
		states:      &stateLog{},
		done:        make(chan error, 1),
	}
	opts = append([]live.Option{
		live.WithTranscriber(h.transcriber),
		live.WithRecoveryDelay(10 * time.Millisecond),
		live.WithStateHook(h.states.record),
	}, opts...)
	h.session = live.NewSession("u1", "vibe", h.in, h.out, h.dialer, h.mem, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.session.Run(ctx) }()
	t.Cleanup(cancel)

	require.Eventually(t, func() bool { return h.session.State() == live.StateActive }, waitFor, tick)
	return h
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(waitFor):
		t.Fatal("session did not stop")
		return nil
	}
}

func (h *harness) say(t *testing.T, text string) {
	t.Helper()
	before := h.mem.appendCount()
	h.transcriber.transcripts <- live.Transcript{Text: text + " (partial)", Final: false}
	h.transcriber.transcripts <- live.Transcript{Text: text, Final: true}
	require.Eventually(t, func() bool { return h.mem.appendCount() == before+1 }, waitFor, tick)
}

func TestSession_StoresCompletedTurnOnce(t *testing.T) {
	conn := newFakeConn()
	h := start(t, []*fakeConn{conn})

	h.say(t, "I slept badly")
	conn.events <- live.Event{Kind: live.EventText, Text: "Sorry to hear. "}
	conn.events <- live.Event{Kind: live.EventText, Text: "Try a nap."}
	conn.events <- live.Event{Kind: live.EventTurnComplete}
	conn.events <- live.Event{Kind: live.EventTurnComplete}

	require.Eventually(t, func() bool { return len(h.mem.storedTurns()) == 1 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)

	stored := h.mem.storedTurns()
	require.Len(t, stored, 1)
	assert.Equal(t, storedTurn{"u1", "vibe", "I slept badly", "Sorry to hear. Try a nap."}, stored[0])

	h.mem.mu.Lock()
	assert.Equal(t, []appended{
		{"user", "I slept badly"},
		{"model", "Sorry to hear. Try a nap."},
	}, h.mem.appends)
	h.mem.mu.Unlock()
}

func TestSession_UserOnlyTurnKeepsTranscript(t *testing.T) {
	conn := newFakeConn()
	h := start(t, []*fakeConn{conn})

	h.say(t, "remind me")
	conn.events <- live.Event{Kind: live.EventTurnComplete}
	h.say(t, "about the dentist")
	conn.events <- live.Event{Kind: live.EventText, Text: "Sure."}
	conn.events <- live.Event{Kind: live.EventTurnComplete}

	require.Eventually(t, func() bool { return len(h.mem.storedTurns()) == 1 }, waitFor, tick)
	assert.Equal(t, "remind me about the dentist", h.mem.storedTurns()[0].userText)
}

func TestSession_AgentOnlyTurnIsDropped(t *testing.T) {
	conn := newFakeConn()
	h := start(t, []*fakeConn{conn})

	conn.events <- live.Event{Kind: live.EventText, Text: "Good morning!"}
	conn.events <- live.Event{Kind: live.EventTurnComplete}
	// Events are handled in order, so this audio marks the turn as done.
	conn.events <- live.Event{Kind: live.EventAudio, Audio: []byte{1}}
	require.Eventually(t, func() bool { return len(h.out.received()) == 1 }, waitFor, tick)

	h.say(t, "hi")
	conn.events <- live.Event{Kind: live.EventText, Text: "Hello."}
	conn.events <- live.Event{Kind: live.EventTurnComplete}

	require.Eventually(t, func() bool { return len(h.mem.storedTurns()) == 1 }, waitFor, tick)
	assert.Equal(t, "Hello.", h.mem.storedTurns()[0].agentText)
}

func TestSession_AgentOnlyTurnReachesShortTerm(t *testing.T) {
	conn := newFakeConn()
	h := start(t, []*fakeConn{conn})

	conn.events <- live.Event{Kind: live.EventText, Text: "Good "}
	conn.events <- live.Event{Kind: live.EventText, Text: "morning!"}
	assert.Never(t, func() bool { return h.mem.appendCount() > 0 }, 30*time.Millisecond, tick)

	conn.events <- live.Event{Kind: live.EventTurnComplete}
	require.Eventually(t, func() bool { return h.mem.appendCount() == 1 }, waitFor, tick)

	h.mem.mu.Lock()
	assert.Equal(t, []appended{{"model", "Good morning!"}}, h.mem.appends)
	h.mem.mu.Unlock()
	assert.Empty(t, h.mem.storedTurns())
}

func TestSession_RestartsStoppedTranscriber(t *testing.T) {
	conn := newFakeConn()
	flaky := &flakyTranscriber{fakeTranscriber: newFakeTranscriber()}
	h := start(t, []*fakeConn{conn}, live.WithTranscriber(flaky))
	h.transcriber = flaky.fakeTranscriber

	require.Eventually(t, func() bool { return flaky.callCount() == 2 }, waitFor, tick)
	assert.Equal(t, live.StateActive, h.session.State())

	h.say(t, "I walked the dog")
	conn.events <- live.Event{Kind: live.EventText, Text: "Lovely."}
	conn.events <- live.Event{Kind: live.EventTurnComplete}

	require.Eventually(t, func() bool { return len(h.mem.storedTurns()) == 1 }, waitFor, tick)
	assert.Equal(t, "I walked the dog", h.mem.storedTurns()[0].userText)
}

func TestSession_ForwardsAudioBothWays(t *testing.T) {
	conn := newFakeConn()
	h := start(t, []*fakeConn{conn})

	h.in <- []byte{1, 2}
	h.in <- []byte{3, 4}
	require.Eventually(t, func() bool { return conn.sentAudio() == 2 }, waitFor, tick)

	conn.events <- live.Event{Kind: live.EventAudio, Audio: []byte{9}}
	require.Eventually(t, func() bool { return len(h.out.received()) == 1 }, waitFor, tick)
	assert.Equal(t, []byte{9}, h.out.received()[0])
}

func TestSession_UnknownToolKeepsSessionActive(t *testing.T) {
	conn := newFakeConn()
	registry := tools.NewRegistry(tools.TimeTool(func() time.Time { return time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC) }))
	h := start(t, []*fakeConn{conn}, live.WithTools(registry))

	conn.events <- live.Event{Kind: live.EventToolCall, Calls: []live.ToolCall{
		{ID: "c1", Name: "book_flight"},
		{ID: "c2", Name: "get_current_time"},
	}}

	require.Eventually(t, func() bool { return len(conn.toolResponses()) == 1 }, waitFor, tick)
	responses := conn.toolResponses()[0]
	require.Len(t, responses, 2)

	assert.Equal(t, "c1", responses[0].ID)
	assert.Contains(t, responses[0].Response["error"], "error: ")
	assert.Contains(t, responses[0].Response["error"], "unknown tool")

	assert.Equal(t, "c2", responses[1].ID)
	assert.Equal(t, "2025-01-01T08:00:00Z", responses[1].Response["time"])

	assert.Equal(t, live.StateActive, h.session.State())
	assert.Equal(t, 1, h.dialer.dialCount())
}

func TestSession_RecoversAfterReceiveFailure(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	h := start(t, []*fakeConn{first, second})

	first.fail <- errors.New("upstream reset")
	require.Eventually(t, func() bool { return h.dialer.dialCount() == 2 && h.session.State() == live.StateActive }, waitFor, tick)
	assert.True(t, first.isClosed())

	// The new forwarder reads from the same inbound channel.
	h.in <- []byte{7}
	require.Eventually(t, func() bool { return second.sentAudio() == 1 }, waitFor, tick)

	assert.Equal(t, []live.State{live.StateConnecting, live.StateActive, live.StateRecovering, live.StateActive}, h.states.all())
}

func TestSession_ClosesWhenTransportGone(t *testing.T) {
	conn := newFakeConn()
	h := start(t, []*fakeConn{conn, newFakeConn()})

	h.out.closed.Store(true)
	conn.fail <- errors.New("upstream reset")

	err := h.wait(t)
	assert.ErrorIs(t, err, live.ErrTransportClosed)
	assert.Equal(t, live.StateClosed, h.session.State())
	assert.Equal(t, 1, h.dialer.dialCount())
	assert.True(t, conn.isClosed())
}

func TestSession_InputCloseEndsSession(t *testing.T) {
	conn := newFakeConn()
	h := start(t, []*fakeConn{conn})

	h.say(t, "half a thought")
	close(h.in)

	require.NoError(t, h.wait(t))
	assert.Equal(t, live.StateClosed, h.session.State())
	assert.True(t, conn.isClosed())
	assert.Empty(t, h.mem.storedTurns())
}

func TestSession_CancelEndsSession(t *testing.T) {
	conn := newFakeConn()
	h := start(t, []*fakeConn{conn})

	h.cancel()
	assert.ErrorIs(t, h.wait(t), context.Canceled)
	assert.True(t, conn.isClosed())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "recovering", live.StateRecovering.String())
	assert.Equal(t, "State(9)", live.State(9).String())
}
