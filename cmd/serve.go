package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/becomeliminal/nim-companion/config"
	livegemini "github.com/becomeliminal/nim-companion/live/gemini"
	"github.com/becomeliminal/nim-companion/router"
	"github.com/becomeliminal/nim-companion/server"
	"github.com/becomeliminal/nim-companion/tools"
)

const (
	statusInterval  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, websocket and grpc health servers",
	Long:  longServe,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, c *config.Config) error {
	logger := log.Default().WithPrefix("serve")

	var done cleanup
	defer done.run()

	emb, err := newEmbedder(ctx, c, &done)
	if err != nil {
		return err
	}
	mem, err := newMemory(ctx, c, emb, &done)
	if err != nil {
		return err
	}

	registry := tools.NewRegistry(tools.MemoryTools(mem)...)
	agents, err := newAgents(c, registry, mem)
	if err != nil {
		return err
	}

	healthSrv := health.NewServer()
	rt := router.New(agents, router.WithHealthServer(healthSrv))

	opts := []server.Option{server.WithAllowedOrigins(c.Server.AllowedOrigins...)}
	if c.Keys.GeminiAPIKey != "" {
		client, err := livegemini.NewClient(ctx, c.Keys.GeminiAPIKey, "")
		if err != nil {
			return err
		}
		opts = append(opts, server.WithLive(newLiveFactory(client, c, registry, mem)))
	} else {
		logger.Warn("keys.gemini_api_key not set, live stream disabled")
	}

	api := server.New(rt, opts...)
	httpSrv := &http.Server{
		Addr:              c.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	lis, err := net.Listen("tcp", c.Server.GRPCAddr)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http listening", "addr", c.Server.Addr, "backend", c.Memory.Backend)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc health listening", "addr", c.Server.GRPCAddr)
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()
		for {
			report := rt.Status(ctx)
			if !report.Healthy {
				logger.Warn("agents unhealthy", "agents", report.Agents)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		healthSrv.Shutdown()
		grpcSrv.GracefulStop()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		// Live sessions hold hijacked connections that http.Server does not
		// wait for; they must end before the memory backends are released.
		return errors.Join(httpSrv.Shutdown(shutdownCtx), api.Shutdown(shutdownCtx))
	})

	return g.Wait()
}

var longServe = `
Serve the chat API, the live audio websocket and a grpc health endpoint.

Routes:
  POST /api/chat                     route a text message to an agent
  GET  /api/agents/status            per-agent health
  POST /api/proactive/{user_id}      proactive check-in
  GET  /api/sessions/{id}/history    recent routed exchanges
  GET  /api/live-stream?user_id=...  live audio (needs keys.gemini_api_key)

The grpc health service publishes "" for the whole service and
companion.agent.<id> for each agent.
`
