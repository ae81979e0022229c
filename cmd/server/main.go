// Command server runs the A2A task execution agent: it loads the YAML
// config, wires the Cache Adapter -> Task Store -> Event Bus -> Executor ->
// Request Handler -> Transport chain, and serves it over HTTP/HTTPS until
// SIGINT/SIGTERM, generalizing the teacher's server/cmd/a2a-example-server
// main.go (flags, zap setup, server.Start, signal-driven graceful shutdown)
// from its own ServerBuilder/in-memory task store to this substrate's
// standalone component constructors.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/allenheltondev/momento-a2a-agent/internal/cache"
	"github.com/allenheltondev/momento-a2a-agent/internal/config"
	"github.com/allenheltondev/momento-a2a-agent/internal/eventbus"
	"github.com/allenheltondev/momento-a2a-agent/internal/executor"
	"github.com/allenheltondev/momento-a2a-agent/internal/orchestrator"
	"github.com/allenheltondev/momento-a2a-agent/internal/rpchandler"
	"github.com/allenheltondev/momento-a2a-agent/internal/taskstore"
	"github.com/allenheltondev/momento-a2a-agent/internal/transport"
	"github.com/allenheltondev/momento-a2a-agent/pkg/a2a"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the agent's YAML configuration file")
	flag.Parse()

	bootstrapLogger, _ := zap.NewProduction()
	defer bootstrapLogger.Sync()

	cfg, err := config.Load(*configPath, bootstrapLogger)
	if err != nil {
		bootstrapLogger.Fatal("failed to load config", zap.Error(err))
	}

	logger := buildLogger(cfg.LogLevel())
	defer logger.Sync()

	if err := cfg.Watch(func() { logger.Info("config reloaded", zap.String("path", *configPath)) }); err != nil {
		logger.Warn("config hot reload disabled", zap.Error(err))
	}
	defer cfg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter := cache.New(cfg.CacheBaseURL(), cfg.CacheAPIKey(), logger)
	store := taskstore.New(adapter, logger)
	bus := eventbus.New(adapter, logger)
	defer bus.Close()

	handler, identity := buildHandler(logger)
	exec := executor.New(bus, handler, identity, logger)

	card := cfg.AgentCard()
	rh := rpchandler.New(store, bus, adapter, exec, card, logger)

	var transportOpts []transport.Option
	if rps, rpm := cfg.Throttle(); rps > 0 || rpm > 0 {
		transportOpts = append(transportOpts, transport.WithThrottle(rps, rpm))
	}
	srv := transport.New(rh, card, logger, transportOpts...)

	logger.Info("starting agent", zap.String("name", card.Name), zap.String("listenAddr", cfg.ListenAddr()))

	httpServer, listenerErrChan, err := startHTTPServer(ctx, logger, cfg, srv.Mux())
	if err != nil {
		logger.Fatal("failed to start HTTP server", zap.Error(err))
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signalCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-listenerErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server listener error", zap.Error(err))
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	shutdownHTTPServer(shutdownCtx, logger, httpServer)

	logger.Info("agent stopped")
}

// buildLogger mirrors the teacher's zap.NewProductionConfig + ISO8601 time
// encoder setup, parameterized by the configured level.
func buildLogger(level string) *zap.Logger {
	loggerConfig := zap.NewProductionConfig()
	loggerConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		loggerConfig.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := loggerConfig.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// buildHandler wires in the Anthropic-backed orchestrator when
// ANTHROPIC_API_KEY is set in the environment, falling back to a plain echo
// handler so the agent is runnable out of the box without credentials.
func buildHandler(logger *zap.Logger) (a2a.Handler, executor.Identity) {
	identity := executor.Identity{AgentName: "momento-a2a-agent", AgentID: "agent-1", AgentType: a2a.AgentTypeWorker}

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		logger.Warn("ANTHROPIC_API_KEY not set, falling back to echo handler")
		return echoHandler, identity
	}

	model := os.Getenv("ANTHROPIC_MODEL")
	if model == "" {
		model = "claude-3-5-sonnet-latest"
	}
	h, err := orchestrator.NewFromAPIKey(apiKey, orchestrator.Options{Model: model})
	if err != nil {
		logger.Warn("failed to build Anthropic handler, falling back to echo handler", zap.Error(err))
		return echoHandler, identity
	}
	return h.Handle, identity
}

// echoHandler is the zero-dependency fallback Handler: it reflects the
// incoming message's text back as the task's completed result.
func echoHandler(_ context.Context, hctx a2a.HandlerContext, message a2a.Message) (a2a.HandlerResult, error) {
	text, ok := message.FirstText()
	if !ok {
		return a2a.HandlerResult{}, fmt.Errorf("cmd/server: message has no text part")
	}
	hctx.PublishUpdate("processing")
	return a2a.TextResult("Echo: " + text), nil
}
