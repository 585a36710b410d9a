package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sector-scout/internal/cost"
	"github.com/sells-group/sector-scout/internal/monitoring"
	"github.com/sells-group/sector-scout/internal/queue"
	"github.com/sells-group/sector-scout/internal/store"
	"github.com/sells-group/sector-scout/internal/stream"
	"github.com/sells-group/sector-scout/internal/track"
	"github.com/sells-group/sector-scout/internal/worker"
	anthropicpkg "github.com/sells-group/sector-scout/pkg/anthropic"
)

// scoutEnv holds the initialized store, queue substrate and pipeline
// needed by the serve and research commands.
type scoutEnv struct {
	Store     store.Store
	Tracker   *track.Tracker
	Queues    *queue.Manager
	Pipeline  *worker.Pipeline
	Costs     *cost.Recorder
	Publisher *stream.Publisher
	Collector *monitoring.Collector
}

// Close releases resources held by the environment. The queue manager is
// shut down separately so in-flight jobs can drain first.
func (e *scoutEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv sets up the store, the durable queues, the AI client and the
// stage workers. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*scoutEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	queues, err := queue.New(cfg.Queue.Path)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	tracker := track.New(st)
	aiClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	costs := cost.NewRecorder(cfg.Pricing)

	p := worker.New(st, tracker, queues, aiClient, worker.Models{
		Research: cfg.Pipeline.ResearchModel,
		Ranking:  cfg.Pipeline.RankingModel,
		Analysis: cfg.Pipeline.AnalysisModel,
		Judge:    cfg.Pipeline.JudgeModel,
		Format:   cfg.Pipeline.FormatModel,
	})
	p.Costs = costs
	if err := p.RegisterAll(queues); err != nil {
		_ = st.Close()
		return nil, err
	}

	pub := stream.NewPublisher(st, tracker)
	if cfg.Stream.PollIntervalSecs > 0 {
		pub.Interval = time.Duration(cfg.Stream.PollIntervalSecs) * time.Second
	}

	zap.L().Info("environment initialized",
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("queue_path", cfg.Queue.Path),
	)

	return &scoutEnv{
		Store:     st,
		Tracker:   tracker,
		Queues:    queues,
		Pipeline:  p,
		Costs:     costs,
		Publisher: pub,
		Collector: monitoring.NewCollector(st, queues, costs),
	}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "sector-scout.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
