package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/becomeliminal/nim-companion/core"
)

// Websocket message types.
const (
	msgAudioChunk    = "audio_chunk"
	msgPing          = "ping"
	msgPong          = "pong"
	msgConnectionAck = "connection_ack"
	msgAudioResponse = "audio_response"
	msgError         = "error"
)

const (
	writeTimeout  = 5 * time.Second
	maxFrameBytes = 1 << 20
	inboundQueue  = 32
)

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsOutput writes session output to a websocket. Writes are serialised since
// the connection allows one writer at a time.
type wsOutput struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed atomic.Bool
}

func (o *wsOutput) send(msgType string, payload any) error {
	msg := wsMessage{Type: msgType}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		msg.Payload = b
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed.Load() {
		return websocket.ErrCloseSent
	}
	_ = o.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return o.conn.WriteJSON(msg)
}

// SendAudio implements live.Output.
func (o *wsOutput) SendAudio(ctx context.Context, chunk []byte) error {
	return o.send(msgAudioResponse, base64.StdEncoding.EncodeToString(chunk))
}

// Closed implements live.Output.
func (o *wsOutput) Closed() bool {
	return o.closed.Load()
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	agentID := core.AgentID(r.URL.Query().Get("agent"))
	if !agentID.Valid() {
		agentID = core.AgentVibe
	}

	if !s.track() {
		writeError(w, http.StatusServiceUnavailable, ErrShuttingDown.Error())
		return
	}
	defer s.sessions.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	out := &wsOutput{conn: conn}
	if err := out.send(msgConnectionAck, map[string]string{"status": "connected"}); err != nil {
		return
	}

	in := make(chan []byte, inboundQueue)
	session := s.newLive(userID, agentID, in, out)
	logger := s.logger.With("session", session.ID, "user", userID, "agent", agentID)
	logger.Info("live stream connected")

	ctx, cancel := context.WithCancel(s.base)
	defer cancel()

	done := make(chan struct{})
	var runErr error
	go func() {
		defer close(done)
		runErr = session.Run(ctx)
		// Unblock the read loop when the session ends on its own.
		_ = conn.Close()
	}()

	s.readLoop(conn, out, in, done, logger)
	out.closed.Store(true)
	close(in)

	select {
	case <-done:
	case <-time.After(writeTimeout):
		cancel()
		<-done
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Warn("live session ended", "err", runErr)
	}
	logger.Info("live stream disconnected")
}

// readLoop reads client frames until the websocket closes or the session
// ends.
func (s *Server) readLoop(conn *websocket.Conn, out *wsOutput, in chan<- []byte, done <-chan struct{}, logger *log.Logger) {
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case msgPing:
			if err := out.send(msgPong, nil); err != nil {
				return
			}
		case msgAudioChunk:
			var encoded string
			if err := json.Unmarshal(msg.Payload, &encoded); err != nil {
				_ = out.send(msgError, "audio_chunk payload must be a base64 string")
				continue
			}
			chunk, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				_ = out.send(msgError, "audio_chunk payload is not valid base64")
				continue
			}
			select {
			case in <- chunk:
			case <-done:
				return
			}
		default:
			logger.Debug("ignoring message", "type", msg.Type)
		}
	}
}
