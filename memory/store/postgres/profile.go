package postgres

import (
	"context"
	"fmt"

	"github.com/becomeliminal/nim-companion/memory"
)

// Facts implements memory.ProfileSource.
func (s *Store) Facts(ctx context.Context, userID string) ([]memory.Fact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT category, fact_key, fact_value FROM user_facts
		WHERE user_id = $1 ORDER BY category, fact_key`, userID)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	var out []memory.Fact
	for rows.Next() {
		var f memory.Fact
		if err := rows.Scan(&f.Category, &f.Key, &f.Value); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Preferences implements memory.ProfileSource.
func (s *Store) Preferences(ctx context.Context, userID string) ([]memory.Preference, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT category, pref_key, pref_value FROM preferences
		WHERE user_id = $1 ORDER BY category, pref_key`, userID)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	var out []memory.Preference
	for rows.Next() {
		var p memory.Preference
		if err := rows.Scan(&p.Category, &p.Key, &p.Value); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MedicalConditions implements memory.ProfileSource.
func (s *Store) MedicalConditions(ctx context.Context, userID string) ([]memory.MedicalCondition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT condition_name, status, notes, medications FROM medical_profile
		WHERE user_id = $1 AND status = 'active' ORDER BY condition_name`, userID)
	if err != nil {
		return nil, fmt.Errorf("query medical profile: %w", err)
	}
	defer rows.Close()

	var out []memory.MedicalCondition
	for rows.Next() {
		var c memory.MedicalCondition
		if err := rows.Scan(&c.Name, &c.Status, &c.Notes, &c.Medications); err != nil {
			return nil, fmt.Errorf("scan medical condition: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PendingTasks implements memory.ProfileSource. High priority tasks come
// first, then by due date.
func (s *Store) PendingTasks(ctx context.Context, userID string, limit int) ([]memory.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT title, priority, due_date, status FROM tasks
		WHERE user_id = $1 AND status = 'pending'
		ORDER BY (priority = 'high') DESC, due_date ASC NULLS LAST, created_at
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []memory.Task
	for rows.Next() {
		var t memory.Task
		if err := rows.Scan(&t.Title, &t.Priority, &t.DueDate, &t.Status); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpcomingEvents implements memory.ProfileSource.
func (s *Store) UpcomingEvents(ctx context.Context, userID string, limit int) ([]memory.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT title, start_time, end_time FROM events
		WHERE user_id = $1 AND end_time > $2
		ORDER BY start_time
		LIMIT $3`, userID, s.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []memory.Event
	for rows.Next() {
		var e memory.Event
		if err := rows.Scan(&e.Title, &e.Start, &e.End); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
