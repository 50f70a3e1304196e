package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/newsline/backend/internal/config"
	"github.com/newsline/backend/internal/elasticsearch"
	"github.com/newsline/backend/internal/models"
	"github.com/newsline/backend/internal/newscache"
	"github.com/newsline/backend/internal/updater"
)

type articleStore interface {
	Health(ctx context.Context) error
	ListArticles(ctx context.Context, query string, from, size int) (*elasticsearch.ArticleResult, error)
	SearchArticles(ctx context.Context, params elasticsearch.SearchParams) (*elasticsearch.ArticleResult, error)
	GetArticleByLink(ctx context.Context, link string) (*models.Article, error)
}

type updateRunner interface {
	Run(ctx context.Context) updater.Stats
}

type lockInspector interface {
	Status(ctx context.Context, jobName string) (*models.LockRecord, error)
}

type articleExpander interface {
	Expand(ctx context.Context, article models.Article) (string, error)
}

type server struct {
	log      *slog.Logger
	cfg      *config.API
	store    articleStore
	cache    *newscache.Cache
	locks    lockInspector
	job      updateRunner
	expander articleExpander
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleNews lists articles for one category, served from the per-query
// cache when the entry is fresh. Only the first page is cached.
func (s *server) handleNews(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "q parameter is required"})
		return
	}

	from := clampInt(r.URL.Query().Get("from"), 0, 10_000)
	size := clampInt(r.URL.Query().Get("size"), s.cfg.DefaultPage, s.cfg.MaxPage)

	if from == 0 && size == s.cfg.DefaultPage {
		if items, total, ok := s.cache.Get(query); ok {
			writeJSON(w, http.StatusOK, elasticsearch.ArticleResult{Total: total, Items: items})
			return
		}
	}

	result, err := s.store.ListArticles(ctx, query, from, size)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	if from == 0 && size == s.cfg.DefaultPage {
		s.cache.Set(query, result.Items, result.Total)
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	params := elasticsearch.SearchParams{
		Text:   strings.TrimSpace(r.URL.Query().Get("query")),
		Query:  strings.TrimSpace(r.URL.Query().Get("q")),
		Source: strings.TrimSpace(r.URL.Query().Get("source")),
		From:   clampInt(r.URL.Query().Get("from"), 0, 10_000),
		Size:   clampInt(r.URL.Query().Get("size"), s.cfg.DefaultPage, s.cfg.MaxPage),
	}

	result, err := s.store.SearchArticles(ctx, params)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type expandRequest struct {
	Link string `json:"link"`
}

type expandResponse struct {
	Link    string `json:"link"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *server) handleExpand(w http.ResponseWriter, r *http.Request) {
	if s.expander == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "article expansion is not configured"})
		return
	}

	var req expandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Link) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "body must contain a link"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 90*time.Second)
	defer cancel()

	article, err := s.store.GetArticleByLink(ctx, req.Link)
	if err != nil {
		if errors.Is(err, elasticsearch.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "article not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	content, err := s.expander.Expand(ctx, *article)
	if err != nil {
		s.log.Warn("expand failed", slog.String("link", req.Link), slog.Any("err", err))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "expansion failed"})
		return
	}

	writeJSON(w, http.StatusOK, expandResponse{
		Link:    article.Link,
		Title:   article.Title,
		Content: content,
	})
}

// handleUpdate triggers one refresh run. The shared secret gates
// external cron callers; lock contention maps to 409 so the caller can
// tell a skipped run from a completed one.
func (s *server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if s.cfg.UpdateSecret == "" {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "manual updates are not configured"})
		return
	}
	secret := r.Header.Get("X-Update-Secret")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(s.cfg.UpdateSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid update secret"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	stats := s.job.Run(ctx)
	if stats.Skipped {
		writeJSON(w, http.StatusConflict, stats)
		return
	}

	s.cache.Clear()
	writeJSON(w, http.StatusAccepted, stats)
}

func (s *server) handleLockStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	rec, err := s.locks.Status(ctx, s.cfg.JobName)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	if rec == nil {
		writeJSON(w, http.StatusOK, map[string]any{"state": "free"})
		return
	}

	state := "held"
	if rec.Expired(time.Now().UTC()) {
		state = "expired"
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": state, "lock": rec})
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// nothing better to do
	}
}
