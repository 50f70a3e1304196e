// Package updater implements the scheduled news refresh job. At most
// one instance runs the refresh at a time across the whole deployment,
// guarded by the distributed lock; everything inside the guarded
// section is idempotent per article link.
package updater

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/newsline/backend/internal/articles"
	"github.com/newsline/backend/internal/config"
	"github.com/newsline/backend/internal/elasticsearch"
	"github.com/newsline/backend/internal/fetch"
	"github.com/newsline/backend/internal/models"
)

// Searcher fetches raw news results for one query.
type Searcher interface {
	Search(ctx context.Context, query string, count int) ([]fetch.Result, error)
}

// ArticleStore persists a batch of articles keyed by link.
type ArticleStore interface {
	BulkUpsert(ctx context.Context, items []models.Article) (*elasticsearch.UpsertStats, error)
}

// LockManager guards the refresh across process instances.
type LockManager interface {
	Acquire(ctx context.Context, jobName, instanceID string, ttl time.Duration) bool
	Release(ctx context.Context, jobName, instanceID string)
	Status(ctx context.Context, jobName string) (*models.LockRecord, error)
}

// Publisher announces a refreshed category to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event RefreshEvent) error
}

// Stats summarizes one run.
type Stats struct {
	Skipped  bool `json:"skipped"`
	Fetched  int  `json:"fetched"`
	Upserted int  `json:"upserted"`
	Failed   int  `json:"failed_categories"`
}

// Job orchestrates one guarded refresh pass over all categories.
type Job struct {
	cfg        config.Update
	search     Searcher
	store      ArticleStore
	locks      LockManager
	publisher  Publisher
	instanceID string
	log        *slog.Logger
	now        func() time.Time
}

// New builds a Job. publisher may be nil when refresh events are not
// configured.
func New(cfg config.Update, search Searcher, store ArticleStore, locks LockManager, publisher Publisher, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Job{
		cfg:        cfg,
		search:     search,
		store:      store,
		locks:      locks,
		publisher:  publisher,
		instanceID: NewInstanceID(),
		log:        logger,
		now:        time.Now,
	}
}

// InstanceID identifies this process for lock ownership.
func (j *Job) InstanceID() string {
	return j.instanceID
}

// NewInstanceID derives a reasonably unique owner id from the host,
// the pid and a random suffix.
func NewInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// Run performs one refresh pass. When the lock is held elsewhere the
// run is skipped entirely, not queued. The lock is released on every
// exit path, including a panic inside the category loop.
func (j *Job) Run(ctx context.Context) Stats {
	if !j.locks.Acquire(ctx, j.cfg.JobName, j.instanceID, j.cfg.LockTTL) {
		if rec, err := j.locks.Status(ctx, j.cfg.JobName); err == nil && rec != nil {
			j.log.Info("update skipped, lock held",
				slog.String("job", j.cfg.JobName),
				slog.String("held_by", rec.LockedBy),
				slog.Time("expires_at", rec.ExpiresAt),
			)
		} else {
			j.log.Info("update skipped, lock not acquired", slog.String("job", j.cfg.JobName))
		}
		return Stats{Skipped: true}
	}
	defer j.locks.Release(ctx, j.cfg.JobName, j.instanceID)

	stats := Stats{}
	func() {
		defer func() {
			if r := recover(); r != nil {
				j.log.Error("update run panicked", slog.Any("panic", r))
			}
		}()
		for _, cat := range j.cfg.Categories {
			j.refreshCategory(ctx, cat, &stats)
		}
	}()

	j.log.Info("update completed",
		slog.String("job", j.cfg.JobName),
		slog.String("instance", j.instanceID),
		slog.Int("fetched", stats.Fetched),
		slog.Int("upserted", stats.Upserted),
		slog.Int("failed_categories", stats.Failed),
	)
	return stats
}

// refreshCategory fetches and stores one category. Failures stay local:
// a broken category must not abort its siblings, and an empty fetch
// leaves previously stored articles untouched.
func (j *Job) refreshCategory(ctx context.Context, cat config.Category, stats *Stats) {
	results, err := j.search.Search(ctx, cat.Query, cat.Count)
	if err != nil {
		stats.Failed++
		j.log.Warn("category fetch failed", slog.String("query", cat.Query), slog.Any("err", err))
		return
	}
	if len(results) == 0 {
		j.log.Info("no results for category", slog.String("query", cat.Query))
		return
	}

	now := j.now()
	batch := articles.FromResults(results, cat.Query, now)
	stats.Fetched += len(batch)

	upserted, err := j.store.BulkUpsert(ctx, batch)
	if err != nil {
		stats.Failed++
		j.log.Warn("bulk upsert failed", slog.String("query", cat.Query), slog.Any("err", err))
		return
	}
	stats.Upserted += upserted.Created + upserted.Updated

	j.log.Info("category refreshed",
		slog.String("query", cat.Query),
		slog.Int("created", upserted.Created),
		slog.Int("updated", upserted.Updated),
	)

	if j.publisher != nil {
		event := RefreshEvent{
			Query:      cat.Query,
			Count:      len(batch),
			InstanceID: j.instanceID,
			At:         now.UTC(),
		}
		if err := j.publisher.Publish(ctx, event); err != nil {
			j.log.Warn("publish refresh event", slog.String("query", cat.Query), slog.Any("err", err))
		}
	}
}
