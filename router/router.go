// Package router picks an agent for each text message, keeps a short history
// per session and turns every dispatch failure into a degraded reply.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/becomeliminal/nim-companion/core"
)

// MaxSessionHistory is the number of exchanges kept per session.
const MaxSessionHistory = 10

// DegradedText is returned to the user when dispatch fails.
const DegradedText = "I encountered an issue processing your request. Please try again."

// ErrUnknownAgent is returned when no agent is registered under an id.
var ErrUnknownAgent = errors.New("unknown agent")

// Agent answers text requests.
type Agent interface {
	ID() core.AgentID
	Respond(ctx context.Context, req core.Request) (*core.Response, error)
	Health(ctx context.Context) core.HealthStatus
}

// Proactive is implemented by agents that can start a conversation.
type Proactive interface {
	Proactive(ctx context.Context, userID string) (*core.Response, error)
}

// Exchange is one routed message and its reply.
type Exchange struct {
	Message   string       `json:"message"`
	Agent     core.AgentID `json:"agent"`
	Response  string       `json:"response"`
	Timestamp time.Time    `json:"timestamp"`
}

// Session is the routing state of one conversation.
type Session struct {
	ID           string       `json:"session_id"`
	UserID       string       `json:"user_id"`
	CurrentAgent core.AgentID `json:"current_agent,omitempty"`
	History      []Exchange   `json:"history"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Router dispatches requests to agents.
type Router struct {
	agents map[core.AgentID]Agent

	mu       sync.Mutex
	sessions map[string]*Session

	health *health.Server
	logger *log.Logger
	now    func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Router) {
		r.logger = l
	}
}

// WithHealthServer mirrors agent health into a grpc health server on every
// Status call.
func WithHealthServer(h *health.Server) Option {
	return func(r *Router) {
		r.health = h
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		r.now = now
	}
}

// New creates a router over agents.
func New(agents []Agent, opts ...Option) *Router {
	r := &Router{
		agents:   make(map[core.AgentID]Agent, len(agents)),
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
	for _, a := range agents {
		r.agents[a.ID()] = a
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.Default().WithPrefix("router")
	}
	return r
}

// Classify picks the agent for text. A preferred agent wins when it is
// registered; otherwise keyword tables are checked in priority order.
func (r *Router) Classify(text string, preferred core.AgentID) core.AgentID {
	if preferred != "" {
		if _, ok := r.agents[preferred]; ok {
			return preferred
		}
	}
	return classifyText(text)
}

// Route classifies req, dispatches it and records the exchange. It never
// fails: errors and panics become a degraded response.
func (r *Router) Route(ctx context.Context, req core.Request) (resp *core.Response) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("agent panicked", "user", req.UserID, "panic", p)
			resp = r.degraded(fmt.Errorf("panic: %v", p))
		}
	}()

	id := r.Classify(req.Message, req.Preference)
	a, ok := r.agents[id]
	if !ok {
		r.logger.Error("no agent registered", "agent", id)
		return r.degraded(fmt.Errorf("%w: %s", ErrUnknownAgent, id))
	}

	r.logger.Info("routing", "user", req.UserID, "session", req.SessionID, "agent", id)
	out, err := a.Respond(ctx, req)
	if err != nil {
		r.logger.Error("agent failed", "user", req.UserID, "agent", id, "err", err)
		return r.degraded(err)
	}
	if out == nil {
		return r.degraded(fmt.Errorf("%s agent returned no response", id))
	}

	r.record(req, id, out)
	return out
}

func (r *Router) degraded(err error) *core.Response {
	return &core.Response{
		AgentType: core.AgentError,
		Text:      DegradedText,
		Timestamp: r.now().UTC(),
		Metadata:  map[string]any{"error": err.Error()},
	}
}

// record appends an exchange to the request's session. Requests without a
// session id are not tracked.
func (r *Router) record(req core.Request, id core.AgentID, resp *core.Response) {
	if req.SessionID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[req.SessionID]
	if !ok {
		s = &Session{ID: req.SessionID, UserID: req.UserID}
		r.sessions[req.SessionID] = s
	}
	s.History = append(s.History, Exchange{
		Message:   req.Message,
		Agent:     id,
		Response:  resp.Text,
		Timestamp: resp.Timestamp,
	})
	if len(s.History) > MaxSessionHistory {
		s.History = append([]Exchange(nil), s.History[len(s.History)-MaxSessionHistory:]...)
	}
	s.CurrentAgent = id
	s.UpdatedAt = r.now().UTC()
}

// Session returns a copy of the session with the given id.
func (r *Router) Session(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	out := *s
	out.History = append([]Exchange(nil), s.History...)
	return out, true
}

// Proactive asks the wellbeing agent for a check-in message. A nil response
// means there is nothing to say.
func (r *Router) Proactive(ctx context.Context, userID string) (*core.Response, error) {
	a, ok := r.agents[DefaultAgent]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, DefaultAgent)
	}
	p, ok := a.(Proactive)
	if !ok {
		return nil, fmt.Errorf("%s agent cannot start conversations", DefaultAgent)
	}
	return p.Proactive(ctx, userID)
}

// StatusReport is the aggregated health of all agents.
type StatusReport struct {
	Healthy bool                               `json:"healthy"`
	Agents  map[core.AgentID]core.HealthStatus `json:"agents"`
}

// ServiceName is the grpc health service name for an agent.
func ServiceName(id core.AgentID) string {
	return "companion.agent." + string(id)
}

// Status checks every agent. The overall flag is true only when all agents
// are healthy.
func (r *Router) Status(ctx context.Context) StatusReport {
	report := StatusReport{Healthy: len(r.agents) > 0, Agents: make(map[core.AgentID]core.HealthStatus, len(r.agents))}

	ids := make([]core.AgentID, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		st := r.agents[id].Health(ctx)
		report.Agents[id] = st
		if !st.Healthy {
			report.Healthy = false
		}
		r.setServing(ServiceName(id), st.Healthy)
	}
	r.setServing("", report.Healthy)
	return report
}

func (r *Router) setServing(service string, ok bool) {
	if r.health == nil {
		return
	}
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	r.health.SetServingStatus(service, status)
}
