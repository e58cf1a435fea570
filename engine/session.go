package engine

import (
	"github.com/anthropics/anthropic-sdk-go"

	"github.com/becomeliminal/nim-companion/core"
)

// Session holds the Claude message list for a single Run.
type Session struct {
	UserID    string
	AgentID   core.AgentID
	TurnCount int

	messages []anthropic.MessageParam
}

// NewSession creates an empty session.
func NewSession(userID string, agentID core.AgentID) *Session {
	return &Session{UserID: userID, AgentID: agentID}
}

// AddUserMessage appends a user text turn.
func (s *Session) AddUserMessage(text string) {
	s.appendBlocks(anthropic.MessageParamRoleUser, anthropic.NewTextBlock(text))
}

// AddAssistantResponse appends a full model reply, tool_use blocks included.
func (s *Session) AddAssistantResponse(resp *anthropic.Message) {
	s.messages = append(s.messages, resp.ToParam())
}

// AddToolResults appends the tool_result blocks answering the last reply.
func (s *Session) AddToolResults(results []anthropic.ContentBlockParamUnion) {
	s.messages = append(s.messages, anthropic.NewUserMessage(results...))
}

// IncrementTurnCount records one more API call.
func (s *Session) IncrementTurnCount() {
	s.TurnCount++
}

// Messages returns the conversation so far.
func (s *Session) Messages() []anthropic.MessageParam {
	return s.messages
}

func (s *Session) appendBlocks(role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
	if n := len(s.messages); n > 0 && s.messages[n-1].Role == role {
		s.messages[n-1].Content = append(s.messages[n-1].Content, blocks...)
		return
	}
	s.messages = append(s.messages, anthropic.MessageParam{Role: role, Content: blocks})
}
