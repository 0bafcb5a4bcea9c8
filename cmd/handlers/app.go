package handlers

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Virgo-Alpha/sentinel/internal/config"
	"github.com/Virgo-Alpha/sentinel/internal/dedup"
	"github.com/Virgo-Alpha/sentinel/internal/decision"
	"github.com/Virgo-Alpha/sentinel/internal/email"
	"github.com/Virgo-Alpha/sentinel/internal/escalate"
	"github.com/Virgo-Alpha/sentinel/internal/events"
	"github.com/Virgo-Alpha/sentinel/internal/feeds"
	"github.com/Virgo-Alpha/sentinel/internal/guardrail"
	"github.com/Virgo-Alpha/sentinel/internal/llm"
	"github.com/Virgo-Alpha/sentinel/internal/pipeline"
	"github.com/Virgo-Alpha/sentinel/internal/query"
	"github.com/Virgo-Alpha/sentinel/internal/registry"
	"github.com/Virgo-Alpha/sentinel/internal/relevance"
	"github.com/Virgo-Alpha/sentinel/internal/store"
	"github.com/Virgo-Alpha/sentinel/internal/vectorstore"
)

// app bundles every wired service the CLI commands use.
type app struct {
	cfg      *config.Config
	registry *registry.Registry
	entities store.EntityStore
	blobs    store.BlobStore
	vectors  vectorstore.VectorStore
	models   llm.Models
	bus      events.Bus

	orchestrator *pipeline.Orchestrator
	processor    *decision.Processor
	facade       *query.Facade

	closers []func() error
}

// buildApp constructs the full service stack from configuration.
func buildApp(ctx context.Context) (*app, error) {
	cfg := config.Get()
	a := &app{cfg: cfg}

	reg, err := registry.Load(cfg.Registry.FeedsPath, cfg.Registry.KeywordsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	a.registry = reg

	entities, err := store.NewSQLiteStore(cfg.Store.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open entity store: %w", err)
	}
	a.entities = entities
	a.closers = append(a.closers, entities.Close)

	switch cfg.Store.BlobDriver {
	case "s3":
		blobs, err := store.NewS3BlobStore(ctx, cfg.Store.S3Region, cfg.Store.S3Buckets, cfg.Store.S3Bucket)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to open S3 blob store: %w", err)
		}
		a.blobs = blobs
	default:
		blobs, err := store.NewFSBlobStore(cfg.Store.BlobDir)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to open blob store: %w", err)
		}
		a.blobs = blobs
	}

	switch cfg.Vector.Driver {
	case "pgvector":
		db, err := sql.Open("postgres", cfg.Vector.PostgresDSN)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		pg := vectorstore.NewPgVectorStore(db)
		if err := pg.Initialize(ctx, cfg.Vector.Dimensions); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize vector index: %w", err)
		}
		a.vectors = pg
	default:
		a.vectors = vectorstore.NewMemoryStore()
	}

	switch cfg.AI.Provider {
	case "bedrock":
		models, err := llm.NewBedrockClient(ctx, cfg.AI.Bedrock.Region, cfg.AI.Bedrock.Model)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to create Bedrock client: %w", err)
		}
		a.models = models
	default:
		models, err := llm.NewGeminiClient(ctx, cfg.AI.Gemini.Model)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		a.models = models
	}

	switch cfg.Events.Driver {
	case "amqp":
		bus, err := events.NewAMQPBus(cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to connect event bus: %w", err)
		}
		a.bus = bus
		a.closers = append(a.closers, bus.Close)
	default:
		a.bus = events.NewMemoryBus()
	}

	var sender email.Sender
	if cfg.Email.SMTP.Host != "" {
		sender = &email.SMTPSender{
			Host:     cfg.Email.SMTP.Host,
			Port:     cfg.Email.SMTP.Port,
			From:     cfg.Email.FromAddress,
			Username: cfg.Email.SMTP.Username,
			Password: cfg.Email.SMTP.Password,
		}
	}

	evaluator := relevance.NewEvaluator(reg.NewMatcher(), a.models, a.models)
	engine := dedup.NewEngine(a.entities, a.vectors, a.models)
	guard := guardrail.NewValidator(a.models, a.models, cfg.Pipeline.BannedTerms)
	escalator := escalate.NewEscalator(a.entities, sender, cfg.Email.Reviewers)
	source := feeds.NewParser(a.blobs, a.entities, cfg.Feeds.MaxItemsPerFeed)

	a.orchestrator = pipeline.NewOrchestrator(reg, source, evaluator, engine, guard,
		escalator, a.entities, a.blobs, a.bus,
		pipeline.Options{Concurrency: cfg.Pipeline.Concurrency})
	a.processor = decision.NewProcessor(a.entities, a.bus)
	a.facade = query.NewFacade(a.entities, a.blobs)

	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}
