package memory_test

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/memory"
)

func TestShortTermBuffer_EmptyUser(t *testing.T) {
	buf := memory.NewShortTermBuffer(4)

	assert.Equal(t, "", buf.Context("nobody"))
	assert.Empty(t, buf.History("nobody"))
	assert.Equal(t, "", buf.Summary("nobody"))
}

func TestShortTermBuffer_SummarizesOldestHalf(t *testing.T) {
	buf := memory.NewShortTermBuffer(4)
	turns := []struct {
		role core.Role
		text string
	}{
		{core.RoleUser, "u1"}, {core.RoleModel, "a1"},
		{core.RoleUser, "u2"}, {core.RoleModel, "a2"},
		{core.RoleUser, "u3"}, {core.RoleModel, "a3"},
	}
	for _, turn := range turns {
		buf.Append("user1", turn.role, turn.text)
	}

	history := buf.History("user1")
	require.LessOrEqual(t, len(history), 4)
	assert.Equal(t, "a3", history[len(history)-1].Content)

	summary := buf.Summary("user1")
	assert.Contains(t, summary, "u1")
	assert.Contains(t, summary, "a1")
	for _, m := range history {
		assert.NotEqual(t, "u1", m.Content)
		assert.NotEqual(t, "a1", m.Content)
	}

	ctx := buf.Context("user1")
	assert.True(t, strings.Index(ctx, "u1") < strings.Index(ctx, "a3"), "summary precedes live tail")
}

func TestShortTermBuffer_Bounds(t *testing.T) {
	for _, max := range []int{1, 2, 3, 4, 7, 20} {
		t.Run(fmt.Sprintf("max=%d", max), func(t *testing.T) {
			buf := memory.NewShortTermBuffer(max)
			prevSummary := 0
			for i := 1; i <= 3*max+1; i++ {
				buf.Append("u", core.RoleUser, fmt.Sprintf("m%d", i))

				assert.LessOrEqual(t, len(buf.History("u")), max)

				summary := buf.Summary("u")
				assert.Equal(t, i > max, summary != "", "summary non-empty iff appends exceed capacity (i=%d)", i)
				assert.GreaterOrEqual(t, len(summary), prevSummary, "summary never shrinks")
				prevSummary = len(summary)
			}
		})
	}
}

func TestShortTermBuffer_UsersAreIsolated(t *testing.T) {
	buf := memory.NewShortTermBuffer(2)
	buf.Append("alice", core.RoleUser, "hello from alice")
	buf.Append("bob", core.RoleUser, "hello from bob")

	assert.NotContains(t, buf.Context("alice"), "bob")
	assert.NotContains(t, buf.Context("bob"), "alice")
}

func TestShortTermBuffer_HistoryIsSnapshot(t *testing.T) {
	buf := memory.NewShortTermBuffer(4)
	buf.Append("u", core.RoleUser, "first")

	snap := buf.History("u")
	snap[0].Content = "mutated"
	buf.Append("u", core.RoleModel, "second")

	history := buf.History("u")
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Content)
}

func TestShortTermBuffer_ConcurrentAppends(t *testing.T) {
	buf := memory.NewShortTermBuffer(10)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				buf.Append("shared", core.RoleUser, fmt.Sprintf("%d-%d", i, j))
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, len(buf.History("shared")), 10)
	assert.NotEmpty(t, buf.Summary("shared"))
}

func TestNewShortTermBuffer_DefaultCapacity(t *testing.T) {
	assert.Equal(t, memory.DefaultShortTermTurns, memory.NewShortTermBuffer(0).MaxTurns())
}
