package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pouyahbb/polaris/internal/util"
	"github.com/pouyahbb/polaris/pkg/ai"
	"github.com/pouyahbb/polaris/pkg/events"
	"github.com/pouyahbb/polaris/pkg/scrape"
	"github.com/pouyahbb/polaris/services/agent/internal/app"
	"github.com/pouyahbb/polaris/services/agent/internal/config"
	"github.com/pouyahbb/polaris/services/agent/internal/polarisclient"
	"github.com/pouyahbb/polaris/services/agent/internal/runner"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	util.InitLogger(cfg.LogLevel, "agent")

	concurrency, err := config.ParseConcurrency(cfg.Concurrency)
	if err != nil {
		log.Fatalf("failed to parse concurrency: %v", err)
	}
	runDeadline, err := config.ParseRunDeadline(cfg.RunDeadline)
	if err != nil {
		log.Fatalf("failed to parse run deadline: %v", err)
	}

	bus, err := events.NewRabbitBus(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect rabbitmq: %v", err)
	}
	defer bus.Close()

	runTracker, err := runner.New(runner.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Prefix:   "polaris:agent",
		Deadline: runDeadline,
	})
	if err != nil {
		log.Fatalf("failed to init run tracker: %v", err)
	}
	defer runTracker.Close()

	// conversation titles prefer Gemini, falling back to a local Ollama
	// model when no key is configured
	var titles ai.TextGenerator
	switch {
	case cfg.GeminiAPIKey != "":
		geminiClient, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
		if err != nil {
			log.Fatalf("failed to init gemini client: %v", err)
		}
		titles = ai.NewGeminiGenerator(geminiClient, cfg.GeminiModel)
	case cfg.OllamaBaseURL != "":
		titles = ai.NewOllamaGenerator(ai.NewOllamaClient(cfg.OllamaBaseURL), cfg.OllamaModel)
	}

	worker, err := app.New(app.Config{
		API:     polarisclient.NewClient(cfg.APIBaseURL, cfg.InternalToken),
		Runner:  runTracker,
		Model:   ai.NewOpenAICompatGenerator(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel),
		Titles:  titles,
		Scraper: scrape.NewClient(),
	})
	if err != nil {
		log.Fatalf("failed to init worker: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	healthSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("agent-%d", i)
		g.Go(func() error {
			return bus.ConsumeSent(ctx, consumer, worker.HandleMessageSent)
		})
	}
	g.Go(func() error {
		return bus.SubscribeCancel(ctx, worker.HandleCancel)
	})
	g.Go(func() error {
		slog.Info("agent health endpoint listening", "addr", healthSrv.Addr)
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return healthSrv.Shutdown(shutdownCtx)
	})

	slog.Info("agent worker started", "concurrency", concurrency)
	if err := g.Wait(); err != nil && err != context.Canceled {
		slog.Error("agent stopped", "error", err)
	}
}
