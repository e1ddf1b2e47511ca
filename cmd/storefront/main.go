package main

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"storefront/internal/config"
	"storefront/internal/events"
	"storefront/internal/http/handlers"
	kafkax "storefront/internal/kafka"
	"storefront/internal/redisx"
	"storefront/internal/repos"
	"storefront/internal/repos/postgres"
	"storefront/internal/services"
)

func openStore(ctx context.Context, cfg config.Config) (repos.Store, error) {
	switch cfg.DBDriver {
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		return postgres.New(ctx, pool, cfg.SeedDemo)
	case "sqlite", "":
		return repos.OpenDB(cfg.DBDSN, cfg.SeedDemo)
	default:
		return nil, errors.New("unknown DB_DRIVER " + cfg.DBDriver)
	}
}

func main() {
	cfg := config.Load()

	// Optional file logging
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Printf("[warn] could not open log file %s: %v", cfg.LogFile, err)
		} else {
			defer f.Close()
			log.SetOutput(io.MultiWriter(os.Stdout, f))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer store.Close()

	// Idempotency keys are only enforced when Redis is configured.
	var idem services.Idempotency
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		idem = redisx.NewIdempotency(rdb, 3*cfg.RequestTimeout)
	}

	var pub events.Publisher = events.LogPublisher{}
	var prod *kafkax.Producer
	prodCtx, cancelProd := context.WithCancel(context.Background())
	defer cancelProd()
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, 1024)
		prod.Start(prodCtx)
		pub = kafkax.EventPublisher{P: prod}
	}

	deps := handlers.NewDeps(store, cfg, pub, idem)
	app := handlers.NewApp(deps, cfg)

	// Finish stock restorations a previous run could not complete.
	if n, err := deps.Order.ResumeRestorations(ctx); err != nil {
		log.Printf("[warn] restoration sweep: %v", err)
	} else if n > 0 {
		log.Printf("[restore] restored stock for %d cancelled orders", n)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("HTTP listening at :%s", cfg.Port)
		return app.Listen(":" + cfg.Port)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down...")
		return app.ShutdownWithTimeout(5 * time.Second)
	})
	if err := g.Wait(); err != nil {
		log.Printf("server: %v", err)
	}

	if prod != nil {
		prod.Close()      // flush queued events
		prod.WaitClosed() // drain
	}
}
