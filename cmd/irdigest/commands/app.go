package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgallion1/irdigest/internal/config"
	"github.com/dgallion1/irdigest/internal/extract"
	"github.com/dgallion1/irdigest/internal/ledger"
	"github.com/dgallion1/irdigest/internal/pipeline"
	"github.com/dgallion1/irdigest/internal/raster"
	"github.com/dgallion1/irdigest/internal/sink"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"
)

// app is the wired object graph shared by the commands.
type app struct {
	cfg    config.Config
	log    *slog.Logger
	store  *ledger.Store
	llm    *extract.Client // nil without inference
	driver *pipeline.Driver
	guard  *pipeline.Guard
	sink   sink.Sink // nil when sink.driver is none

	closers []func()
}

type appOptions struct {
	inference bool // build the model client, rasterizer, and orchestrator
	deliver   bool // deliver reports regardless of sink.deliver_results
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg config.Config, log *slog.Logger, opts appOptions) (_ *app, err error) {
	if opts.inference {
		err = cfg.Validate()
	} else {
		err = cfg.ValidateStorage()
	}
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.store, err = ledger.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { a.store.Close() })

	claims, err := a.openClaims(ctx)
	if err != nil {
		return nil, err
	}
	a.guard = pipeline.NewGuard(claims, a.store, workerID(), cfg.Claims.TTL, log)

	a.sink, err = a.openSink(ctx)
	if err != nil {
		return nil, err
	}
	var delivery pipeline.Delivery
	if a.sink != nil && (cfg.Sink.DeliverResults || opts.deliver) {
		delivery = sink.NewReportDelivery(a.sink, cfg.Sink.FolderID)
	} else if opts.deliver {
		return nil, errors.New("--deliver needs a sink: set sink.driver and sink.folder_id")
	}

	if !opts.inference {
		// Deliver never touches the rasterizer or the orchestrator.
		a.driver = pipeline.NewDriver(nil, nil, a.store, pipeline.DriverOptions{Delivery: delivery}, log)
		return a, nil
	}

	backend, err := a.openBackend(ctx)
	if err != nil {
		return nil, err
	}
	a.llm = extract.NewClient(backend, extract.ClientOptions{
		Model:             cfg.Inference.Model,
		CallTimeout:       cfg.Inference.CallTimeout,
		RequestsPerSecond: cfg.Inference.RequestsPerSecond,
		Burst:             cfg.Inference.Burst,
	})

	rast, err := raster.New(cfg.Raster.Engine, raster.Options{
		DPI:         cfg.Raster.DPI,
		MaxWidth:    cfg.Raster.MaxWidth,
		JPEGQuality: cfg.Raster.JPEGQuality,
	})
	if err != nil {
		return nil, err
	}
	if p, ok := rast.(*raster.Poppler); ok {
		if err := p.Check(); err != nil {
			return nil, err
		}
	}

	orch := pipeline.NewOrchestrator(
		extract.NewPageAnalyzer(a.llm),
		extract.NewSynthesizer(a.llm, cfg.Inference.MaxContextTokens, log),
		pipeline.OrchestratorConfig{
			Concurrency: cfg.Pipeline.Concurrency,
			Policy:      pipeline.FailurePolicy(cfg.Pipeline.PageFailurePolicy),
			Retry: pipeline.RetryPolicy{
				MaxAttempts: cfg.Pipeline.MaxAttempts,
				Base:        cfg.Pipeline.BackoffBase,
				Max:         cfg.Pipeline.BackoffMax,
			},
		},
		log,
	)
	a.driver = pipeline.NewDriver(rast, orch, a.store, pipeline.DriverOptions{
		MaxPages: cfg.Raster.MaxPages,
		Delivery: delivery,
	}, log)
	return a, nil
}

// watchDriver is the driver the folder watcher runs. It always uploads
// the report to the result folder, whatever sink.deliver_results says.
// Requires a sink.
func (a *app) watchDriver() *pipeline.Driver {
	if a.driver.HasDelivery() {
		return a.driver
	}
	return a.driver.WithDelivery(sink.NewReportDelivery(a.sink, a.cfg.Sink.FolderID))
}

func (a *app) openClaims(ctx context.Context) (pipeline.Claims, error) {
	if a.cfg.Claims.Driver != "redis" {
		return a.store.Claims(), nil
	}
	rc := a.cfg.Claims.Redis
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", rc.Addr, err)
	}
	a.closers = append(a.closers, func() { client.Close() })
	return ledger.NewRedisClaims(client, rc.Prefix), nil
}

func (a *app) openSink(ctx context.Context) (sink.Sink, error) {
	sc := a.cfg.Sink
	switch sc.Driver {
	case "local":
		return sink.NewLocal(), nil
	case "drive":
		return sink.NewDrive(ctx, sc.CredentialsFile)
	case "gcs":
		var opts []option.ClientOption
		if _, err := os.Stat(sc.CredentialsFile); err == nil {
			opts = append(opts, option.WithCredentialsFile(sc.CredentialsFile))
		}
		g, err := sink.NewGCS(ctx, opts...)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { g.Close() })
		return g, nil
	}
	return nil, nil
}

func (a *app) openBackend(ctx context.Context) (extract.Generator, error) {
	ic := a.cfg.Inference
	switch ic.Provider {
	case "openrouter":
		b := extract.NewOpenRouterBackend(ic.APIKey, ic.Model, ic.BaseURL)
		a.closers = append(a.closers, b.Close)
		return b, nil
	default:
		return extract.NewGeminiBackend(ctx, ic.APIKey, ic.Model)
	}
}

// workerID names this process in claims.
func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "irdigest"
	}
	return host + "-" + uuid.NewString()[:8]
}
