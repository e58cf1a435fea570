package core

import "time"

// Role identifies the speaker of a conversational message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// AgentID names one of the specialised agents.
type AgentID string

const (
	AgentVibe      AgentID = "vibe"
	AgentPlanner   AgentID = "planner"
	AgentKnowledge AgentID = "knowledge"

	// AgentError marks a degraded response produced after a routing fault.
	AgentError AgentID = "error"
)

// Agents lists the routable agents in their classification order.
var Agents = []AgentID{AgentPlanner, AgentKnowledge, AgentVibe}

// Valid reports whether id names a routable agent.
func (id AgentID) Valid() bool {
	for _, a := range Agents {
		if a == id {
			return true
		}
	}
	return false
}

// Request is a single text message addressed to the assistant.
type Request struct {
	UserID     string  `json:"user_id"`
	SessionID  string  `json:"session_id"`
	Message    string  `json:"message"`
	Preference AgentID `json:"agent_preference,omitempty"`
}

// Response is what an agent returns for a Request.
type Response struct {
	AgentType AgentID        `json:"agent_type"`
	Text      string         `json:"text"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// HealthStatus reports whether a component can serve requests.
type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}
