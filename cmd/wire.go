package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/charmbracelet/log"
	"google.golang.org/genai"

	"github.com/becomeliminal/nim-companion/agent"
	"github.com/becomeliminal/nim-companion/config"
	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/engine"
	"github.com/becomeliminal/nim-companion/live"
	livegemini "github.com/becomeliminal/nim-companion/live/gemini"
	"github.com/becomeliminal/nim-companion/memory"
	"github.com/becomeliminal/nim-companion/memory/embedder/cache"
	embedgemini "github.com/becomeliminal/nim-companion/memory/embedder/gemini"
	"github.com/becomeliminal/nim-companion/memory/embedder/mock"
	"github.com/becomeliminal/nim-companion/memory/store/chromem"
	"github.com/becomeliminal/nim-companion/memory/store/postgres"
	"github.com/becomeliminal/nim-companion/router"
	"github.com/becomeliminal/nim-companion/server"
	"github.com/becomeliminal/nim-companion/tools"
)

// cleanup collects release functions and runs them in reverse order.
type cleanup []func()

func (c *cleanup) add(fn func()) {
	*c = append(*c, fn)
}

func (c cleanup) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// newEmbedder builds the configured embedder wrapped in the vector cache.
func newEmbedder(ctx context.Context, c *config.Config, done *cleanup) (memory.Embedder, error) {
	var inner memory.Embedder

	switch c.Embedding.Provider {
	case config.ProviderMock:
		inner = mock.NewWithDimensions(c.Embedding.Dimensions)
	case config.ProviderGenai:
		if c.Keys.GeminiAPIKey == "" {
			return nil, errors.New("keys.gemini_api_key is required for genai embeddings")
		}
		e, err := embedgemini.New(ctx, embedgemini.Config{
			APIKey:     c.Keys.GeminiAPIKey,
			Model:      c.Embedding.Model,
			Dimensions: c.Embedding.Dimensions,
		})
		if err != nil {
			return nil, err
		}
		inner = e
	case config.ProviderONNX:
		e, release, err := newONNXEmbedder(c.Embedding)
		if err != nil {
			return nil, err
		}
		done.add(release)
		inner = e
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}

	cached, err := cache.New(inner, int64(c.Embedding.CacheSize))
	if err != nil {
		return nil, err
	}
	done.add(cached.Close)
	return cached, nil
}

// newMemory opens the configured backend and builds the coordinator on it.
// The chromem backend journals into its own database; only the profile is
// kept in process.
func newMemory(ctx context.Context, c *config.Config, emb memory.Embedder, done *cleanup) (*memory.Coordinator, error) {
	opts := []memory.Option{
		memory.WithShortTerm(memory.NewShortTermBuffer(c.Memory.ShortTermTurns)),
		memory.WithEmbedTimeout(c.Embedding.Timeout),
	}

	switch c.Memory.Backend {
	case config.BackendMemory:
		local := memory.NewLocalStore()
		opts = append(opts, memory.WithProfile(local))
		return memory.NewCoordinator(memory.NewLinearIndex(emb, nil), local, emb, opts...), nil

	case config.BackendChromem:
		index, err := chromem.NewPersistent(c.Memory.ChromemPath, c.Memory.Compress, emb)
		if err != nil {
			return nil, err
		}
		opts = append(opts, memory.WithProfile(memory.NewLocalStore()))
		return memory.NewCoordinator(index, index, emb, opts...), nil

	case config.BackendPostgres:
		store, err := postgres.Open(ctx, c.Postgres.DSN, emb)
		if err != nil {
			return nil, err
		}
		done.add(store.Close)
		if c.Postgres.MigrateOnStart {
			if _, err := postgres.Migrate(ctx, store.Pool(), nil); err != nil {
				return nil, err
			}
		}
		opts = append(opts, memory.WithProfile(store))
		return memory.NewCoordinator(store, store, emb, opts...), nil
	}
	return nil, fmt.Errorf("unknown memory backend %q", c.Memory.Backend)
}

// newAgents builds one Claude-backed agent per id, all sharing the tool
// registry and the coordinator.
func newAgents(c *config.Config, registry *tools.Registry, mem *memory.Coordinator) ([]router.Agent, error) {
	if c.Keys.AnthropicAPIKey == "" {
		return nil, errors.New("keys.anthropic_api_key is required")
	}
	client := anthropic.NewClient(option.WithAPIKey(c.Keys.AnthropicAPIKey))

	agents := make([]router.Agent, 0, len(core.Agents))
	for _, id := range core.Agents {
		eng := engine.New(client, registry,
			engine.WithModel(c.Agents.Model),
			engine.WithMaxTokens(c.Agents.MaxTokens),
			engine.WithMaxTurns(c.Agents.MaxTurns),
			engine.WithLogger(log.Default().WithPrefix("engine").With("agent", id)),
		)
		agents = append(agents, agent.New(id, eng, mem,
			agent.WithTools(registry.Names()...),
			agent.WithSearchLimit(c.Memory.SearchLimit),
		))
	}
	return agents, nil
}

// newLiveFactory returns the factory for websocket live sessions. Each
// session gets its own dialer so the system instruction is built for its
// user on every (re)connect.
func newLiveFactory(client *genai.Client, c *config.Config, registry *tools.Registry, mem *memory.Coordinator) server.LiveFactory {
	declarations := registry.ToGenai()

	return func(userID string, agentID core.AgentID, in <-chan []byte, out live.Output) *live.Session {
		dialer := livegemini.NewDialerFromClient(client, livegemini.Config{
			Model:      c.Live.Model,
			Voice:      c.Live.Voice,
			SampleRate: c.Live.SampleRate,
			Tools:      declarations,
			Instructions: func(ctx context.Context) string {
				return liveInstructions(ctx, mem, userID, agentID, c.Memory.SearchLimit)
			},
		})

		opts := []live.Option{
			live.WithTools(registry),
			live.WithRecoveryDelay(c.Live.RecoveryDelay),
			live.WithDialTimeout(c.Live.DialTimeout),
		}
		if c.Live.Transcribe {
			opts = append(opts, live.WithTranscriber(livegemini.NewTranscriber(client, c.Live.Model, c.Live.SampleRate)))
		}
		return live.NewSession(userID, string(agentID), in, out, dialer, mem, opts...)
	}
}

func liveInstructions(ctx context.Context, mem *memory.Coordinator, userID string, agentID core.AgentID, limit int) string {
	return agent.PromptFor(agentID) + "\n\n" + memory.BuildPromptContext(memory.PromptContext{
		UserID:    userID,
		Now:       time.Now(),
		Personal:  mem.FullContext(ctx, userID),
		Memories:  mem.Retrieve(ctx, userID, string(agentID), "", limit),
		ShortTerm: mem.ShortTerm(userID),
	})
}
