package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mimo-os/mimo/internal/aperture"
	"github.com/mimo-os/mimo/internal/api"
	"github.com/mimo-os/mimo/internal/config"
	"github.com/mimo-os/mimo/internal/consolidate"
	"github.com/mimo-os/mimo/internal/decay"
	"github.com/mimo-os/mimo/internal/dream"
	"github.com/mimo-os/mimo/internal/embedding"
	"github.com/mimo-os/mimo/internal/engram"
	"github.com/mimo-os/mimo/internal/graph"
	"github.com/mimo-os/mimo/internal/ingest"
	"github.com/mimo-os/mimo/internal/llm"
	"github.com/mimo-os/mimo/internal/query"
	"github.com/mimo-os/mimo/internal/resolve"
	"github.com/mimo-os/mimo/internal/retrieval"
	"github.com/mimo-os/mimo/internal/suggest"
	"github.com/mimo-os/mimo/internal/telemetry"
	"github.com/mimo-os/mimo/internal/vectorstore"
	"github.com/mimo-os/mimo/internal/workingmem"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// nopEngramIndex stands in for the vector store when Qdrant is down. The
// vector leg returns nothing; recency and graph still answer.
type nopEngramIndex struct{}

func (nopEngramIndex) Search(context.Context, []float32, int) ([]retrieval.VectorHit, error) {
	return nil, nil
}

type nopEngrams struct{}

func (nopEngrams) GetBatch(context.Context, []string) ([]*engram.Engram, error) {
	return nil, nil
}

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting mimod...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/mimo.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	emit := telemetry.NewSink(logger, otel.Meter("mimo"))

	// Working memory is always available.
	wm := workingmem.NewStore(workingmem.Options{
		MaxItems:        cfg.Memory.WorkingMemory.MaxItems,
		DefaultTTL:      cfg.Memory.WorkingMemory.DefaultTTL(),
		CleanupInterval: cfg.Memory.WorkingMemory.CleanupInterval(),
	}, emit, logger)

	// Durable engram store (PostgreSQL).
	var engramStore *engram.Store
	if cfg.Database.Postgres.DSN != "" {
		es, pgErr := engram.NewStore(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without durable memory", zap.Error(pgErr))
		} else {
			if mErr := es.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			engramStore = es
		}
	}

	// Knowledge graph (Neo4j, in-memory fallback). The driver connects
	// lazily, so only Ping proves the server is actually there.
	var graphStore graph.Store
	neoStore, neoErr := graph.NewNeo4jStore(cfg.Database.Neo4j.URI,
		cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
	if neoErr == nil {
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		neoErr = neoStore.Ping(pingCtx)
		cancel()
		if neoErr != nil {
			neoStore.Close(context.Background())
			neoStore = nil
		}
	}
	if neoErr != nil {
		logger.Warn("Neo4j unavailable, using in-memory graph", zap.Error(neoErr))
		graphStore = graph.NewMemoryStore()
	} else {
		graphStore = neoStore
	}

	// Vector store (Qdrant).
	var vectors *vectorstore.Client
	vc, vErr := vectorstore.NewClient(vectorstore.Config{
		Host: cfg.Database.Qdrant.Host,
		Port: cfg.Database.Qdrant.Port,
	})
	if vErr != nil {
		logger.Warn("Qdrant unavailable, vector search disabled", zap.Error(vErr))
	} else {
		dim := uint64(cfg.Embedding.Dimension)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := vc.EnsureCollection(ctx, vectorstore.CollAnchors, dim); err != nil {
			logger.Warn("Qdrant unreachable, vector search disabled", zap.Error(err))
			vc.Close()
			vc = nil
		} else if err := vc.EnsureCollection(ctx, vectorstore.CollEngrams, dim); err != nil {
			logger.Warn("engrams collection init failed", zap.Error(err))
			vc.Close()
			vc = nil
		}
		cancel()
		vectors = vc
	}

	// Recency index (Redis).
	var recency *engram.RedisRecency
	if cfg.Database.Redis.URL != "" {
		rr, rErr := engram.NewRedisRecency(cfg.Database.Redis.URL, logger)
		if rErr != nil {
			logger.Warn("Redis unavailable, running without recency index", zap.Error(rErr))
		} else {
			recency = rr
		}
	}

	// External providers, both behind circuit breakers.
	embedder := embedding.NewGuarded(embedding.NewAPIProvider(embedding.Config{
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   cfg.Embedding.Timeout(),
	}), logger)

	var completions llm.Provider
	if cfg.LLM.Provider == "mock" {
		completions = &llm.MockProvider{}
		logger.Warn("using mock completion provider")
	} else {
		completions = llm.NewGuarded(
			llm.NewAnthropic(cfg.LLM.APIKey, cfg.LLM.Model, logger), logger)
	}

	// Entity resolution.
	var anchorIndex resolve.AnchorIndex
	if vectors != nil {
		anchorIndex = resolve.NewQdrantAnchors(vectors)
	} else {
		anchorIndex = resolve.NewMemoryIndex()
	}
	resolver := resolve.NewResolver(embedder, anchorIndex, emit, logger)

	// Inference.
	inferEngine := dream.NewEngine(graphStore, cfg.Memory.Inference, logger)
	dreamer := dream.NewDreamer(inferEngine, cfg.Memory.Inference, emit, logger)

	// Ingestion and queries.
	ingestor := ingest.NewIngestor(resolver, graphStore, completions, dreamer, emit, logger)
	queries := query.NewEngine(graphStore, logger)

	// Access tracking and background workers need the durable store.
	var (
		tracker      *engram.Tracker
		forgetting   *decay.Scheduler
		consolidator *consolidate.Consolidator
	)
	if engramStore != nil {
		var recencySink engram.RecencyIndex
		if recency != nil {
			recencySink = recency
		}
		tracker = engram.NewTracker(engramStore, recencySink,
			cfg.Memory.Decay.FlushInterval(), cfg.Memory.Decay.FlushThreshold, emit, logger)

		var pruner decay.RecencyPruner
		if recency != nil {
			pruner = recency
		}
		scorer := decay.NewScorer(cfg.Memory.Decay.ForgetThreshold, cfg.Memory.Decay.DefaultRate)
		forgetting = decay.NewScheduler(engramStore, scorer, pruner, decay.SchedulerOptions{
			Interval:  cfg.Memory.Decay.Interval(),
			BatchSize: cfg.Memory.Decay.BatchSize,
			DryRun:    cfg.Memory.Decay.DryRun,
		}, emit, logger)
		forgetting.Start()

		var novelty consolidate.VectorIndex
		if vectors != nil {
			novelty = consolidate.NewQdrantIndex(vectors)
		}
		consolidator = consolidate.NewConsolidator(wm, engramStore, novelty, embedder,
			consolidate.Options{
				Interval:       cfg.Memory.Consolidation.Interval(),
				MinAge:         cfg.Memory.Consolidation.MinAge(),
				ScoreThreshold: cfg.Memory.Consolidation.ScoreThreshold,
			}, emit, logger)
		consolidator.Start()
	}

	// Retrieval.
	var engramIndex retrieval.EngramIndex = nopEngramIndex{}
	var engramSource retrieval.EngramSource = nopEngrams{}
	var recencyLeg retrieval.RecencyIndex
	var accessLeg retrieval.AccessRecorder
	if engramStore != nil {
		engramSource = engramStore
		if vectors != nil {
			engramIndex = retrieval.NewQdrantEngrams(vectors)
		}
		if recency != nil {
			recencyLeg = recency
		}
		if tracker != nil {
			accessLeg = tracker
		}
	}
	retriever, err := retrieval.NewRetriever(embedder, engramIndex, engramSource,
		graphStore, recencyLeg, accessLeg, cfg.Memory.Retrieval.Limit, emit, logger)
	if err != nil {
		logger.Fatal("retriever init failed", zap.Error(err))
	}
	router := retrieval.NewRouter(completions, emit, logger)
	observer := suggest.NewObserver(graphStore, cfg.Memory.Retrieval.MaxSuggestions)

	var admin aperture.EngramAdmin
	if engramStore != nil {
		admin = engramStore
	}
	ap := aperture.New(wm, ingestor, resolver, router, retriever, queries,
		admin, dreamer, observer, logger)

	var counts api.CategoryCounts
	if engramStore != nil {
		counts = engramStore.CountByCategory
	}
	handler := api.NewHandler(ap, wm, queries, dreamer, counts, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("mimod listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down mimod...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)

	// Workers first, then stores: close order flushes buffered work.
	if consolidator != nil {
		consolidator.Close()
	}
	if forgetting != nil {
		forgetting.Close()
	}
	dreamer.Close()
	resolver.Close()
	if tracker != nil {
		tracker.Close()
	}
	wm.Close()
	if engramStore != nil {
		engramStore.Close()
	}
	if neoStore != nil {
		neoStore.Close(shutdownCtx)
	}
	if vectors != nil {
		vectors.Close()
	}
	if recency != nil {
		recency.Close()
	}
}
