package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/newsline/backend/internal/config"
	"github.com/newsline/backend/internal/elasticsearch"
	"github.com/newsline/backend/internal/fetch"
	"github.com/newsline/backend/internal/locker"
	"github.com/newsline/backend/internal/logger"
	"github.com/newsline/backend/internal/updater"
)

// runTimeout bounds one whole refresh pass; it stays well under the
// lock TTL so a healthy run never outlives its own lock.
const runTimeout = 4 * time.Minute

func main() {
	log := logger.New("updater")
	cfg, err := config.LoadUpdater()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	esClient, err := connectElasticsearch(ctx, log, cfg.ElasticsearchAddr, cfg.ArticleIndex, cfg.LockIndex)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	locks := locker.New(esClient, log)
	retryClient := fetch.NewClient(cfg.HTTPTimeout, cfg.MaxRetries, cfg.RetryBackoff, log)
	searchClient := fetch.NewSearchClient(cfg.SearchAPIURL, cfg.SearchAPIKey, retryClient)

	var publisher updater.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := updater.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
	}

	job := updater.New(cfg.Update, searchClient, esClient, locks, publisher, log)
	log.Info("updater starting",
		slog.String("instance", job.InstanceID()),
		slog.String("schedule", cfg.Schedule),
		slog.Int("categories", len(cfg.Categories)),
	)

	runUpdate := func() {
		runCtx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		job.Run(runCtx)
	}

	runPrune := func() {
		runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		deleted, err := esClient.DeleteOlderThan(runCtx, cfg.PruneMaxAge, cfg.PruneBatchSize)
		if err != nil {
			log.Warn("prune run failed (will retry on next schedule)", slog.Any("err", err))
			return
		}
		if deleted > 0 {
			log.Info("prune run completed", slog.Int64("deleted", deleted))
		} else {
			log.Debug("prune run completed, no stale articles found")
		}
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Schedule, runUpdate); err != nil {
		log.Error("invalid update schedule", slog.String("cron", cfg.Schedule), slog.Any("err", err))
		os.Exit(1)
	}
	if _, err := c.AddFunc(cfg.PruneSchedule, runPrune); err != nil {
		log.Error("invalid prune schedule", slog.String("cron", cfg.PruneSchedule), slog.Any("err", err))
		os.Exit(1)
	}

	// First refresh happens right away instead of waiting for the
	// schedule, so a fresh deployment serves articles immediately.
	runUpdate()

	c.Start()
	<-ctx.Done()
	log.Info("shutdown signal received")

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		log.Warn("timed out waiting for running jobs")
	}
}

// connectElasticsearch retries the initial connection with exponential
// backoff; an unreachable store at boot is fatal.
func connectElasticsearch(ctx context.Context, log *slog.Logger, addr, articleIndex, lockIndex string) (*elasticsearch.Client, error) {
	const maxAttempts = 10
	retryDelay := 2 * time.Second

	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		client, err := elasticsearch.New(addr, articleIndex, lockIndex, log)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = client.Ping(pingCtx)
			cancel()
			if err == nil {
				log.Info("connected to elasticsearch", slog.String("addr", addr))
				return client, nil
			}
		}
		lastErr = err

		log.Warn("elasticsearch not ready, retrying",
			slog.Any("err", err),
			slog.Int("attempt", i+1),
			slog.Int("max_attempts", maxAttempts),
			slog.Duration("retry_in", retryDelay),
		)

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		retryDelay *= 2
		if retryDelay > 30*time.Second {
			retryDelay = 30 * time.Second
		}
	}

	return nil, lastErr
}
