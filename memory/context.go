package memory

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Section limits for FullContext.
const (
	MaxContextTasks  = 5
	MaxContextEvents = 5
)

func renderFacts(facts []Fact) string {
	if len(facts) == 0 {
		return ""
	}
	lines := []string{"Known facts about the user:"}
	for _, f := range facts {
		lines = append(lines, fmt.Sprintf("- %s: %s", f.Key, f.Value))
	}
	return strings.Join(lines, "\n")
}

func renderPreferences(prefs []Preference) string {
	if len(prefs) == 0 {
		return ""
	}
	lines := []string{"User preferences:"}
	for _, p := range prefs {
		lines = append(lines, fmt.Sprintf("- %s/%s: %s", p.Category, p.Key, p.Value))
	}
	return strings.Join(lines, "\n")
}

func renderMedical(conditions []MedicalCondition) string {
	if len(conditions) == 0 {
		return ""
	}
	lines := []string{"Medical profile:"}
	for _, c := range conditions {
		line := "- " + c.Name
		if c.Status != "" {
			line += " (" + c.Status + ")"
		}
		if c.Medications != "" {
			line += "; medications: " + c.Medications
		}
		if c.Notes != "" {
			line += "; notes: " + c.Notes
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func renderTasks(tasks []Task) string {
	if len(tasks) == 0 {
		return ""
	}
	if len(tasks) > MaxContextTasks {
		tasks = tasks[:MaxContextTasks]
	}
	lines := []string{"Pending tasks:"}
	for _, t := range tasks {
		line := "- "
		if strings.EqualFold(t.Priority, PriorityHigh) {
			line += "[HIGH] "
		}
		line += t.Title
		if t.DueDate != nil {
			line += " (due " + t.DueDate.Format("2006-01-02") + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func renderEvents(events []Event) string {
	if len(events) == 0 {
		return ""
	}
	events = append([]Event(nil), events...)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	if len(events) > MaxContextEvents {
		events = events[:MaxContextEvents]
	}
	lines := []string{"Upcoming events:"}
	for _, e := range events {
		lines = append(lines, fmt.Sprintf("- %s at %s", e.Title, e.Start.Format("2006-01-02 15:04")))
	}
	return strings.Join(lines, "\n")
}

// joinSections joins the non-empty sections with a blank line.
func joinSections(sections ...string) string {
	var kept []string
	for _, s := range sections {
		if s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "\n\n")
}

// PromptContext is the material injected into an agent prompt.
type PromptContext struct {
	UserID    string
	Now       time.Time
	Location  *time.Location
	Personal  string
	Memories  []Entry
	ShortTerm string
}

// MaxPromptMemories caps the memories rendered by BuildPromptContext.
const MaxPromptMemories = 3

// BuildPromptContext renders time, personal context, memories, recent
// conversation and the user id. Empty parts are left out.
func BuildPromptContext(pc PromptContext) string {
	var parts []string

	if !pc.Now.IsZero() {
		loc := pc.Location
		if loc == nil {
			loc = time.UTC
		}
		parts = append(parts, fmt.Sprintf("Current User Time: %s (%s)", pc.Now.In(loc).Format("2006-01-02 15:04"), loc))
	}
	if pc.Personal != "" {
		parts = append(parts, "\n"+pc.Personal)
	}
	if len(pc.Memories) > 0 {
		mems := pc.Memories
		if len(mems) > MaxPromptMemories {
			mems = mems[:MaxPromptMemories]
		}
		lines := make([]string, 0, len(mems))
		for _, m := range mems {
			lines = append(lines, "- "+m.Summary)
		}
		parts = append(parts, "\nPrevious interactions/context:\n"+strings.Join(lines, "\n"))
	}
	if pc.ShortTerm != "" {
		parts = append(parts, "\nRecent Conversation History:\n"+pc.ShortTerm)
	}
	parts = append(parts, "\nUser ID: "+pc.UserID)

	return strings.Join(parts, "\n")
}

// FormatMemories renders entries as a numbered list within a 2000 character
// budget, or "" when there are none.
func FormatMemories(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}

	var parts []string
	parts = append(parts, "=== RELEVANT PAST CONVERSATIONS ===")

	maxLength := 2000 / len(entries)
	if maxLength < 100 {
		maxLength = 100
	}
	for i, e := range entries {
		parts = append(parts, fmt.Sprintf("%d. %s", i+1, e.Format(maxLength)))
	}
	return strings.Join(parts, "\n")
}
