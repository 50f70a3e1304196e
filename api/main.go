package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/newsline/backend/internal/config"
	"github.com/newsline/backend/internal/elasticsearch"
	"github.com/newsline/backend/internal/expand"
	"github.com/newsline/backend/internal/fetch"
	"github.com/newsline/backend/internal/locker"
	"github.com/newsline/backend/internal/logger"
	"github.com/newsline/backend/internal/newscache"
	"github.com/newsline/backend/internal/updater"
)

func main() {
	log := logger.New("api")
	cfg, err := config.LoadAPI()
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

	var expander articleExpander
	if cfg.OpenAIKey != "" {
		expander = expand.New(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, log)
	}

	srv := &server{
		log:      log,
		cfg:      cfg,
		store:    esClient,
		cache:    newscache.New(cfg.CacheCapacity, cfg.CacheTTL),
		locks:    locks,
		job:      job,
		expander: expander,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", srv.handleHealth)
	r.Get("/news", srv.handleNews)
	r.Get("/news/search", srv.handleSearch)
	r.Post("/news/expand", srv.handleExpand)
	r.Post("/admin/update", srv.handleUpdate)
	r.Get("/admin/lock", srv.handleLockStatus)

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      2 * time.Minute,
	}

	go func() {
		log.Info("api server starting", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}

// connectElasticsearch retries the initial connection with exponential
// backoff. An unreachable store at boot is fatal to the caller.
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
