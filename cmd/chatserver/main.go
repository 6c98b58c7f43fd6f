// Command chatserver boots the agentic chat orchestrator: loads config and
// secrets, wires the persistence, retrieval, and LLM provider collaborators,
// and serves the synchronous and streaming chat endpoints over echo.
// Grounded on the teacher's cmd/agentd/main.go bootstrap sequence (load env,
// init logger, load config, init OTel non-fatally, build HTTP client, wire
// collaborators, serve).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"agenticrag/internal/budget"
	"agenticrag/internal/compact"
	"agenticrag/internal/config"
	"agenticrag/internal/critic"
	"agenticrag/internal/httpapi"
	"agenticrag/internal/llm/providers"
	"agenticrag/internal/objectstore"
	"agenticrag/internal/observability"
	"agenticrag/internal/persistence/databases"
	"agenticrag/internal/persistence/telemetry"
	"agenticrag/internal/plan"
	"agenticrag/internal/rag/embedder"
	"agenticrag/internal/rag/obs"
	"agenticrag/internal/rag/service"
	"agenticrag/internal/retrieval"
	"agenticrag/internal/route"
	"agenticrag/internal/session"
	"agenticrag/internal/synthesize"
	"agenticrag/internal/web"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger("chatserver.log", cfg.LogLevel)

	shutdown, err := observability.InitOTel(context.Background(), cfg.OTel)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdown = nil
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	ctx := context.Background()

	manager, err := databases.NewManager(ctx, *cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init databases")
	}

	store, err := objectstore.Build(ctx, cfg.ObjectStore)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init object store")
	}

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic != "" {
		chSink, err := telemetry.NewClickHouseSink(ctx, cfg.ClickHouse.Addr, cfg.ClickHouse.Database)
		if err != nil {
			log.Warn().Err(err).Msg("clickhouse telemetry sink disabled")
			chSink = nil
		}
		manager.Session = telemetry.NewKafkaPublisher(manager.Session, cfg.Kafka.Brokers, cfg.Kafka.Topic, chSink)
	}
	defer manager.Close()

	secrets := providers.Secrets{
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		GeminiAPIKey:    cfg.GeminiAPIKey,
		AWSRegion:       cfg.AWSRegion,
	}
	httpClient := observability.NewHTTPClient(nil)

	routerProvider, err := providers.Build(ctx, cfg.Router, secrets, httpClient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build router provider")
	}
	plannerProvider, err := providers.Build(ctx, cfg.Planner, secrets, httpClient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build planner provider")
	}
	criticProvider, err := providers.Build(ctx, cfg.Critic, secrets, httpClient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build critic provider")
	}
	synthProvider, err := providers.Build(ctx, cfg.Synthesizer, secrets, httpClient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build synthesizer provider")
	}

	var emb embedder.Embedder
	if cfg.Embeddings.Backend != "" {
		apiKey := secrets.OpenAIAPIKey
		if cfg.Embeddings.Backend == "genai" || cfg.Embeddings.Backend == "google" {
			apiKey = secrets.GeminiAPIKey
		}
		emb = embedder.NewClient(cfg.Embeddings, cfg.Qdrant.Dimensions, apiKey)
	}
	if emb != nil && cfg.Redis.Addr != "" {
		redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		ttl := time.Duration(cfg.Redis.CacheTTL) * time.Second
		emb = embedder.NewCachedEmbedder(emb, redisClient, ttl)
	}

	kb := retrieval.Store{Text: manager.Search, Vector: manager.Vector, Embedder: emb}

	var webSearcher retrieval.WebSearcher
	if cfg.Web.SearXNGEndpoint != "" {
		webSearcher = web.NewSearcher(cfg.Web.SearXNGEndpoint)
	}

	dispatcher := &retrieval.Dispatcher{KB: kb, Web: webSearcher, Store: store}

	orchestrator := session.New(session.Deps{
		Router:      route.Router{Provider: routerProvider, Table: route.NewTable(cfg.RoutingTable), Model: cfg.Router.Model, Enabled: cfg.Features.EnableIntentRouting},
		Summarizer:  compact.ProviderSummarizer{Provider: synthProvider},
		Budgeter:    budget.New(nil),
		Embedder:    emb,
		Planner:     plan.Planner{Provider: plannerProvider},
		Dispatcher:  dispatcher,
		Synthesizer: synthesize.Synthesizer{Provider: synthProvider},
		Critic:      critic.Critic{Provider: criticProvider, Threshold: cfg.Critic_.Threshold},
		Chat:        manager.Chat,
		Sessions:    manager.Session,
		Memory:      manager.Memory,
		Config:      cfg,
	})

	docOpts := []service.Option{service.WithMetrics(obs.NewOtelMetrics())}
	if emb != nil {
		docOpts = append(docOpts, service.WithEmbedder(emb))
	}
	documents := service.New(manager, docOpts...)

	e := echo.New()
	e.HideBanner = true
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	httpapi.NewServer(orchestrator, documents).Register(e, "/api/v1")

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("chatserver listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
