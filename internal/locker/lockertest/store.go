// Package lockertest provides an in-memory locker.Store with the same
// conditional-write semantics as the Elasticsearch implementation, for
// tests that need real mutual exclusion without a cluster.
package lockertest

import (
	"context"
	"sync"

	"github.com/newsline/backend/internal/elasticsearch"
	"github.com/newsline/backend/internal/models"
)

type document struct {
	rec   models.LockRecord
	seqNo int
}

// MemStore is a concurrency-safe in-memory lock store. Every write
// bumps the document seq_no, and conditional writes fail with
// elasticsearch.ErrConflict on any mismatch, mirroring optimistic
// concurrency control.
type MemStore struct {
	mu   sync.Mutex
	docs map[string]*document

	// Err, when set, is returned by every operation to simulate an
	// unavailable store.
	Err error
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{docs: make(map[string]*document)}
}

// Seed installs a lock record directly, bypassing the conditional
// checks.
func (s *MemStore) Seed(rec models.LockRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := 1
	if cur, ok := s.docs[rec.JobName]; ok {
		seq = cur.seqNo + 1
	}
	s.docs[rec.JobName] = &document{rec: rec, seqNo: seq}
}

// Current returns the stored record, or nil when absent.
func (s *MemStore) Current(jobName string) *models.LockRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[jobName]; ok {
		rec := doc.rec
		return &rec
	}
	return nil
}

func (s *MemStore) CreateLock(_ context.Context, rec models.LockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.docs[rec.JobName]; ok {
		return elasticsearch.ErrConflict
	}
	s.docs[rec.JobName] = &document{rec: rec, seqNo: 1}
	return nil
}

func (s *MemStore) GetLock(_ context.Context, jobName string) (*elasticsearch.StoredLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	doc, ok := s.docs[jobName]
	if !ok {
		return nil, elasticsearch.ErrNotFound
	}
	return &elasticsearch.StoredLock{Record: doc.rec, SeqNo: doc.seqNo}, nil
}

func (s *MemStore) ReplaceLock(_ context.Context, cur *elasticsearch.StoredLock, rec models.LockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	doc, ok := s.docs[rec.JobName]
	if !ok || doc.seqNo != cur.SeqNo {
		return elasticsearch.ErrConflict
	}
	doc.rec = rec
	doc.seqNo++
	return nil
}

func (s *MemStore) DeleteLock(_ context.Context, cur *elasticsearch.StoredLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	doc, ok := s.docs[cur.Record.JobName]
	if !ok {
		return nil
	}
	if doc.seqNo != cur.SeqNo {
		return elasticsearch.ErrConflict
	}
	delete(s.docs, cur.Record.JobName)
	return nil
}
