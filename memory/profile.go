package memory

import "time"

// Fact is a declarative statement about the user, such as their job.
type Fact struct {
	Category string `json:"category"`
	Key      string `json:"fact_key"`
	Value    string `json:"fact_value"`
}

// Preference is a stated user preference.
type Preference struct {
	Category string `json:"category"`
	Key      string `json:"pref_key"`
	Value    string `json:"pref_value"`
}

// MedicalCondition is an active health constraint.
type MedicalCondition struct {
	Name        string `json:"condition_name"`
	Status      string `json:"status"`
	Notes       string `json:"notes,omitempty"`
	Medications string `json:"medications,omitempty"`
}

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Task is a pending to-do item.
type Task struct {
	Title    string     `json:"title"`
	Priority string     `json:"priority"`
	DueDate  *time.Time `json:"due_date,omitempty"`
	Status   string     `json:"status"`
}

// Event is a scheduled calendar item.
type Event struct {
	Title string    `json:"title"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
