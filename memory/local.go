package memory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// LocalStore is an in-process Journal and ProfileSource. It backs the
// "memory" backend and tests; nothing survives a restart.
type LocalStore struct {
	mu          sync.RWMutex
	entries     []Entry
	facts       map[string][]Fact
	preferences map[string][]Preference
	medical     map[string][]MedicalCondition
	tasks       map[string][]Task
	events      map[string][]Event
	now         func() time.Time
}

// NewLocalStore creates an empty LocalStore.
func NewLocalStore() *LocalStore {
	return &LocalStore{
		facts:       make(map[string][]Fact),
		preferences: make(map[string][]Preference),
		medical:     make(map[string][]MedicalCondition),
		tasks:       make(map[string][]Task),
		events:      make(map[string][]Event),
		now:         time.Now,
	}
}

// SaveMemory implements Journal.
func (s *LocalStore) SaveMemory(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// RecentMemories implements Journal.
func (s *LocalStore) RecentMemories(ctx context.Context, userID, agentID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	var out []Entry
	for _, e := range s.entries {
		if e.UserID == userID && e.AgentID == agentID {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	// Later appends win ties so equal timestamps still read newest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Facts implements ProfileSource.
func (s *LocalStore) Facts(ctx context.Context, userID string) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Fact(nil), s.facts[userID]...), nil
}

// Preferences implements ProfileSource.
func (s *LocalStore) Preferences(ctx context.Context, userID string) ([]Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Preference(nil), s.preferences[userID]...), nil
}

// MedicalConditions implements ProfileSource. Only active conditions are
// returned.
func (s *LocalStore) MedicalConditions(ctx context.Context, userID string) ([]MedicalCondition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []MedicalCondition
	for _, c := range s.medical[userID] {
		if c.Status == "" || c.Status == "active" {
			out = append(out, c)
		}
	}
	return out, nil
}

// PendingTasks implements ProfileSource.
func (s *LocalStore) PendingTasks(ctx context.Context, userID string, limit int) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Task
	for _, t := range s.tasks[userID] {
		if t.Status == "" || t.Status == "pending" {
			out = append(out, t)
		}
		if limit >= 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// UpcomingEvents implements ProfileSource. Events that already ended are
// skipped.
func (s *LocalStore) UpcomingEvents(ctx context.Context, userID string, limit int) ([]Event, error) {
	s.mu.RLock()
	now := s.now()
	var out []Event
	for _, e := range s.events[userID] {
		if e.End.IsZero() || e.End.After(now) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AddFact records a fact for the user.
func (s *LocalStore) AddFact(userID string, f Fact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts[userID] = append(s.facts[userID], f)
}

// AddPreference records a preference for the user.
func (s *LocalStore) AddPreference(userID string, p Preference) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferences[userID] = append(s.preferences[userID], p)
}

// AddMedicalCondition records a medical condition for the user.
func (s *LocalStore) AddMedicalCondition(userID string, c MedicalCondition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.medical[userID] = append(s.medical[userID], c)
}

// AddTask records a task for the user.
func (s *LocalStore) AddTask(userID string, t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[userID] = append(s.tasks[userID], t)
}

// AddEvent records an event for the user.
func (s *LocalStore) AddEvent(userID string, e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[userID] = append(s.events[userID], e)
}
