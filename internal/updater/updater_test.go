package updater_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/newsline/backend/internal/articles"
	"github.com/newsline/backend/internal/config"
	"github.com/newsline/backend/internal/elasticsearch"
	"github.com/newsline/backend/internal/fetch"
	"github.com/newsline/backend/internal/locker"
	"github.com/newsline/backend/internal/locker/lockertest"
	"github.com/newsline/backend/internal/models"
	"github.com/newsline/backend/internal/updater"
)

// memArticles emulates the article index: documents are keyed by the
// link-derived id, so writing the same link twice keeps one record.
type memArticles struct {
	mu    sync.Mutex
	docs  map[string]models.Article
	calls int
	err   error
}

func newMemArticles() *memArticles {
	return &memArticles{docs: make(map[string]models.Article)}
}

func (s *memArticles) BulkUpsert(_ context.Context, items []models.Article) (*elasticsearch.UpsertStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	stats := &elasticsearch.UpsertStats{}
	for _, item := range items {
		id := articles.DocumentID(item.Link)
		if _, ok := s.docs[id]; ok {
			stats.Updated++
		} else {
			stats.Created++
		}
		s.docs[id] = item
	}
	return stats, nil
}

func (s *memArticles) byLink(link string) (models.Article, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.docs[articles.DocumentID(link)]
	return a, ok
}

func (s *memArticles) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

// stubSearcher serves canned results per query.
type stubSearcher struct {
	mu      sync.Mutex
	results map[string][]fetch.Result
	errs    map[string]error
	calls   []string
}

func (s *stubSearcher) Search(_ context.Context, query string, _ int) ([]fetch.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, query)
	if err, ok := s.errs[query]; ok {
		return nil, err
	}
	return s.results[query], nil
}

func (s *stubSearcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []updater.RefreshEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event updater.RefreshEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func result(title, link string) fetch.Result {
	return fetch.Result{
		Title:   title,
		Snippet: title + " snippet",
		Link:    link,
		Source:  fetch.Source{Name: "Example Wire"},
		Date:    "2025-03-01",
	}
}

func testConfig(categories ...config.Category) config.Update {
	return config.Update{
		JobName:    "news_update_job",
		LockTTL:    time.Minute,
		Categories: categories,
	}
}

func TestRunRefreshesAllCategories(t *testing.T) {
	store := newMemArticles()
	search := &stubSearcher{results: map[string][]fetch.Result{
		"technology": {result("Chips", "https://example.com/chips")},
		"sports":     {result("Match", "https://example.com/match")},
	}}
	lockStore := lockertest.NewMemStore()
	job := updater.New(
		testConfig(config.Category{Query: "technology", Count: 10}, config.Category{Query: "sports", Count: 10}),
		search, store, locker.New(lockStore, nil), nil, nil,
	)

	stats := job.Run(context.Background())

	require.False(t, stats.Skipped)
	require.Equal(t, 2, stats.Fetched)
	require.Equal(t, 2, stats.Upserted)
	require.Equal(t, 0, stats.Failed)
	require.Equal(t, 2, store.size())

	// Lock must be free again after the run.
	require.Nil(t, lockStore.Current("news_update_job"))
}

func TestRunSkippedWhenLockHeld(t *testing.T) {
	store := newMemArticles()
	search := &stubSearcher{results: map[string][]fetch.Result{}}
	lockStore := lockertest.NewMemStore()

	now := time.Now().UTC()
	lockStore.Seed(models.LockRecord{
		JobName:   "news_update_job",
		LockedBy:  "someone-else",
		LockedAt:  now,
		ExpiresAt: now.Add(time.Minute),
	})

	job := updater.New(
		testConfig(config.Category{Query: "technology", Count: 10}),
		search, store, locker.New(lockStore, nil), nil, nil,
	)

	stats := job.Run(context.Background())

	require.True(t, stats.Skipped)
	require.Zero(t, search.callCount())
	require.Zero(t, store.size())

	// The holder's record must be untouched.
	rec := lockStore.Current("news_update_job")
	require.NotNil(t, rec)
	require.Equal(t, "someone-else", rec.LockedBy)
}

// blockingSearcher lets the test hold one run inside its category loop
// while a competing run attempts to acquire the same lock.
type blockingSearcher struct {
	started chan struct{}
	release chan struct{}
	inner   *stubSearcher
	once    sync.Once
}

func (s *blockingSearcher) Search(ctx context.Context, query string, count int) ([]fetch.Result, error) {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return s.inner.Search(ctx, query, count)
}

func TestConcurrentRunsExactlyOnePass(t *testing.T) {
	store := newMemArticles()
	lockStore := lockertest.NewMemStore()
	cfg := testConfig(config.Category{Query: "technology", Count: 10})

	blocking := &blockingSearcher{
		started: make(chan struct{}),
		release: make(chan struct{}),
		inner: &stubSearcher{results: map[string][]fetch.Result{
			"technology": {result("Chips", "https://example.com/chips")},
		}},
	}
	first := updater.New(cfg, blocking, store, locker.New(lockStore, nil), nil, nil)

	second := updater.New(cfg, &stubSearcher{}, store, locker.New(lockStore, nil), nil, nil)

	var firstStats updater.Stats
	done := make(chan struct{})
	go func() {
		defer close(done)
		firstStats = first.Run(context.Background())
	}()

	<-blocking.started
	secondStats := second.Run(context.Background())
	close(blocking.release)
	<-done

	require.False(t, firstStats.Skipped)
	require.True(t, secondStats.Skipped)
	require.Equal(t, 1, store.size())
	require.Equal(t, 1, store.calls)
}

func TestEmptyFetchLeavesExistingArticles(t *testing.T) {
	store := newMemArticles()

	// A previous run stored a sports article.
	_, err := store.BulkUpsert(context.Background(), []models.Article{
		{Title: "Old match", Link: "https://example.com/old-match", Query: "sports"},
	})
	require.NoError(t, err)

	search := &stubSearcher{results: map[string][]fetch.Result{
		"sports":     {},
		"technology": {result("Chips", "https://example.com/chips")},
	}}
	job := updater.New(
		testConfig(config.Category{Query: "sports", Count: 10}, config.Category{Query: "technology", Count: 10}),
		search, store, locker.New(lockertest.NewMemStore(), nil), nil, nil,
	)

	stats := job.Run(context.Background())

	require.False(t, stats.Skipped)
	require.Equal(t, 1, stats.Upserted)

	old, ok := store.byLink("https://example.com/old-match")
	require.True(t, ok)
	require.Equal(t, "Old match", old.Title)

	_, ok = store.byLink("https://example.com/chips")
	require.True(t, ok)
}

func TestCategoryFailureDoesNotAbortSiblings(t *testing.T) {
	store := newMemArticles()
	search := &stubSearcher{
		results: map[string][]fetch.Result{
			"technology": {result("Chips", "https://example.com/chips")},
		},
		errs: map[string]error{
			"sports": errors.New("provider timeout"),
		},
	}
	job := updater.New(
		testConfig(config.Category{Query: "sports", Count: 10}, config.Category{Query: "technology", Count: 10}),
		search, store, locker.New(lockertest.NewMemStore(), nil), nil, nil,
	)

	stats := job.Run(context.Background())

	require.False(t, stats.Skipped)
	require.Equal(t, 1, stats.Failed)
	require.Equal(t, 1, store.size())
	require.Equal(t, []string{"sports", "technology"}, search.calls)
}

func TestRepeatedLinkUpdatesInPlace(t *testing.T) {
	store := newMemArticles()
	lockStore := lockertest.NewMemStore()
	link := "https://example.com/chips"

	run := func(title string) updater.Stats {
		search := &stubSearcher{results: map[string][]fetch.Result{
			"technology": {result(title, link)},
		}}
		job := updater.New(
			testConfig(config.Category{Query: "technology", Count: 10}),
			search, store, locker.New(lockStore, nil), nil, nil,
		)
		return job.Run(context.Background())
	}

	run("First title")
	stats := run("Second title")

	require.Equal(t, 1, stats.Upserted)
	require.Equal(t, 1, store.size())

	a, ok := store.byLink(link)
	require.True(t, ok)
	require.Equal(t, "Second title", a.Title)
}

type panicSearcher struct{}

func (panicSearcher) Search(context.Context, string, int) ([]fetch.Result, error) {
	panic("unexpected provider response")
}

func TestLockReleasedAfterPanic(t *testing.T) {
	lockStore := lockertest.NewMemStore()
	job := updater.New(
		testConfig(config.Category{Query: "technology", Count: 10}),
		panicSearcher{}, newMemArticles(), locker.New(lockStore, nil), nil, nil,
	)

	require.NotPanics(t, func() { job.Run(context.Background()) })
	require.Nil(t, lockStore.Current("news_update_job"))

	// The next run is free to acquire immediately.
	m := locker.New(lockStore, nil)
	require.True(t, m.Acquire(context.Background(), "news_update_job", "next-instance", time.Minute))
}

func TestUpsertFailureIsLocalToCategory(t *testing.T) {
	store := newMemArticles()
	store.err = errors.New("index unavailable")
	search := &stubSearcher{results: map[string][]fetch.Result{
		"technology": {result("Chips", "https://example.com/chips")},
	}}
	lockStore := lockertest.NewMemStore()
	job := updater.New(
		testConfig(config.Category{Query: "technology", Count: 10}),
		search, store, locker.New(lockStore, nil), nil, nil,
	)

	stats := job.Run(context.Background())

	require.False(t, stats.Skipped)
	require.Equal(t, 1, stats.Failed)
	require.Zero(t, stats.Upserted)
	require.Nil(t, lockStore.Current("news_update_job"))
}

func TestRefreshEventsPublished(t *testing.T) {
	store := newMemArticles()
	search := &stubSearcher{results: map[string][]fetch.Result{
		"technology": {result("Chips", "https://example.com/chips")},
		"sports":     {},
	}}
	pub := &recordingPublisher{}
	job := updater.New(
		testConfig(config.Category{Query: "technology", Count: 10}, config.Category{Query: "sports", Count: 10}),
		search, store, locker.New(lockertest.NewMemStore(), nil), pub, nil,
	)

	job.Run(context.Background())

	// Only the non-empty category announces a refresh.
	require.Len(t, pub.events, 1)
	require.Equal(t, "technology", pub.events[0].Query)
	require.Equal(t, 1, pub.events[0].Count)
	require.Equal(t, job.InstanceID(), pub.events[0].InstanceID)
}

func TestNewInstanceIDIsUniquePerProcessRun(t *testing.T) {
	a := updater.NewInstanceID()
	b := updater.NewInstanceID()
	require.NotEqual(t, a, b)
	require.NotEmpty(t, a)
}
