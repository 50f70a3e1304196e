// Package locker provides cross-instance mutual exclusion for named
// jobs, backed by a conditional document store. A lock is held by
// exactly one owner until its TTL passes; after that any instance may
// reclaim it, which tolerates crashed holders without manual cleanup.
package locker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/newsline/backend/internal/elasticsearch"
	"github.com/newsline/backend/internal/models"
)

// Store is the conditional lock-document storage the manager runs on.
// CreateLock must fail with elasticsearch.ErrConflict when a document
// already exists; ReplaceLock and DeleteLock must fail with it when the
// document changed since cur was read. That conditional behavior is the
// only atomicity the manager needs.
type Store interface {
	CreateLock(ctx context.Context, rec models.LockRecord) error
	GetLock(ctx context.Context, jobName string) (*elasticsearch.StoredLock, error)
	ReplaceLock(ctx context.Context, cur *elasticsearch.StoredLock, rec models.LockRecord) error
	DeleteLock(ctx context.Context, cur *elasticsearch.StoredLock) error
}

// Manager implements acquire/release/status on top of a Store. It holds
// no state of its own; ownership lives entirely in the store.
type Manager struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// New builds a Manager.
func New(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{store: store, log: logger, now: time.Now}
}

// Acquire attempts to take the named lock for instanceID. It returns
// true only when this instance ends up as the owner. Storage failures
// are treated as acquisition failures: the caller skips its run and the
// next attempt starts fresh.
func (m *Manager) Acquire(ctx context.Context, jobName, instanceID string, ttl time.Duration) bool {
	now := m.now().UTC()
	rec := models.LockRecord{
		JobName:   jobName,
		LockedBy:  instanceID,
		LockedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	err := m.store.CreateLock(ctx, rec)
	if err == nil {
		m.log.Debug("lock acquired", slog.String("job", jobName), slog.String("instance", instanceID))
		return true
	}
	if !errors.Is(err, elasticsearch.ErrConflict) {
		m.log.Warn("lock create failed", slog.String("job", jobName), slog.Any("err", err))
		return false
	}

	cur, err := m.store.GetLock(ctx, jobName)
	if err != nil {
		if errors.Is(err, elasticsearch.ErrNotFound) {
			// Deleted between create and read; one more create attempt
			// covers the common release race.
			if err := m.store.CreateLock(ctx, rec); err != nil {
				m.log.Debug("lock re-create failed", slog.String("job", jobName), slog.Any("err", err))
				return false
			}
			return true
		}
		m.log.Warn("lock read failed", slog.String("job", jobName), slog.Any("err", err))
		return false
	}

	held := cur.Record
	if !held.Expired(now) {
		m.log.Debug("lock held by another instance",
			slog.String("job", jobName),
			slog.String("held_by", held.LockedBy),
			slog.Time("expires_at", held.ExpiresAt),
		)
		return false
	}

	if err := m.store.ReplaceLock(ctx, cur, rec); err != nil {
		if errors.Is(err, elasticsearch.ErrConflict) {
			m.log.Debug("lost race for expired lock", slog.String("job", jobName))
		} else {
			m.log.Warn("lock takeover failed", slog.String("job", jobName), slog.Any("err", err))
		}
		return false
	}

	m.log.Debug("expired lock taken over", slog.String("job", jobName), slog.String("instance", instanceID))
	return true
}

// Release deletes the lock only when instanceID still owns it. An
// instance whose TTL already expired and whose lock was taken over must
// not delete the new owner's record. All failures are swallowed after
// logging: a leaked lock self-heals once its TTL passes.
func (m *Manager) Release(ctx context.Context, jobName, instanceID string) {
	cur, err := m.store.GetLock(ctx, jobName)
	if err != nil {
		if errors.Is(err, elasticsearch.ErrNotFound) {
			m.log.Debug("lock already gone", slog.String("job", jobName))
			return
		}
		m.log.Warn("lock read failed during release", slog.String("job", jobName), slog.Any("err", err))
		return
	}

	if cur.Record.LockedBy != instanceID {
		m.log.Warn("lock owned by another instance, not releasing",
			slog.String("job", jobName),
			slog.String("held_by", cur.Record.LockedBy),
			slog.String("instance", instanceID),
		)
		return
	}

	if err := m.store.DeleteLock(ctx, cur); err != nil {
		if errors.Is(err, elasticsearch.ErrConflict) {
			m.log.Debug("lock changed during release", slog.String("job", jobName))
		} else {
			m.log.Warn("lock delete failed", slog.String("job", jobName), slog.Any("err", err))
		}
		return
	}

	m.log.Debug("lock released", slog.String("job", jobName), slog.String("instance", instanceID))
}

// Status returns the current lock record, or nil when none exists.
func (m *Manager) Status(ctx context.Context, jobName string) (*models.LockRecord, error) {
	cur, err := m.store.GetLock(ctx, jobName)
	if err != nil {
		if errors.Is(err, elasticsearch.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	rec := cur.Record
	return &rec, nil
}
