package memory_test

import (
	"context"
	"errors"
	"math"

	"github.com/becomeliminal/nim-companion/memory"
)

// stubEmbedder returns fixed vectors per text and fails for unknown text.
type stubEmbedder map[string][]float32

func (s stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := s[text]; ok {
		return v, nil
	}
	return nil, errors.New("no vector for text")
}

func (s stubEmbedder) Dimensions() int { return 2 }

// unit returns a 2D unit vector whose cosine with (1, 0) is c.
func unit(c float64) []float32 {
	return []float32{float32(c), float32(math.Sqrt(1 - c*c))}
}

type failingJournal struct{}

func (failingJournal) SaveMemory(ctx context.Context, e memory.Entry) error {
	return errors.New("journal down")
}

func (failingJournal) RecentMemories(ctx context.Context, userID, agentID string, limit int) ([]memory.Entry, error) {
	return nil, errors.New("journal down")
}

type rejectingIndex struct{ adds int }

func (r *rejectingIndex) Add(ctx context.Context, e memory.Entry) bool {
	r.adds++
	return false
}

func (r *rejectingIndex) Search(ctx context.Context, query, userID, agentID string, limit int) []memory.SearchResult {
	return []memory.SearchResult{}
}

type failingProfile struct{}

var errProfile = errors.New("profile down")

func (failingProfile) Facts(context.Context, string) ([]memory.Fact, error) { return nil, errProfile }
func (failingProfile) Preferences(context.Context, string) ([]memory.Preference, error) {
	return nil, errProfile
}
func (failingProfile) MedicalConditions(context.Context, string) ([]memory.MedicalCondition, error) {
	return nil, errProfile
}
func (failingProfile) PendingTasks(context.Context, string, int) ([]memory.Task, error) {
	return nil, errProfile
}
func (failingProfile) UpcomingEvents(context.Context, string, int) ([]memory.Event, error) {
	return nil, errProfile
}
