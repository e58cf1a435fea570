package router

import (
	"strings"

	"github.com/becomeliminal/nim-companion/core"
)

// keywordTable maps an agent to the phrases that select it.
type keywordTable struct {
	agent    core.AgentID
	keywords []string
}

// intents are checked in order; the first table with a match wins.
var intents = []keywordTable{
	{core.AgentPlanner, []string{"schedule", "calendar", "appointment", "book", "plan", "reminder", "doctor", "dentist", "checkup", "task", "todo"}},
	{core.AgentKnowledge, []string{"learn", "research", "find", "search", "digest", "article", "topic", "study", "read about"}},
	{core.AgentVibe, []string{"feel", "stressed", "tired", "sleep", "balance", "overwhelmed", "anxiety", "mood", "energy", "health"}},
}

// DefaultAgent handles messages that match no keyword table.
const DefaultAgent = core.AgentVibe

// classifyText returns the agent whose keywords first match text.
func classifyText(text string) core.AgentID {
	lower := strings.ToLower(text)
	for _, table := range intents {
		for _, kw := range table.keywords {
			if strings.Contains(lower, kw) {
				return table.agent
			}
		}
	}
	return DefaultAgent
}
