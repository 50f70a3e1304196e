package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Common contains Elasticsearch parameters shared by every service.
type Common struct {
	ElasticsearchAddr string
	ArticleIndex      string
	LockIndex         string
}

// Category is one search query with its requested result count.
type Category struct {
	Query string
	Count int
}

// Update groups everything the refresh job needs; embedded by both
// binaries since the API can trigger a run manually.
type Update struct {
	SearchAPIURL string
	SearchAPIKey string
	Categories   []Category
	JobName      string
	LockTTL      time.Duration
	HTTPTimeout  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	KafkaBrokers []string
	KafkaTopic   string
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	Update
	BindAddr      string
	DefaultPage   int
	MaxPage       int
	CacheTTL      time.Duration
	CacheCapacity int
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
	UpdateSecret  string
}

// Updater configures the scheduled refresh binary.
type Updater struct {
	Common
	Update
	Schedule       string
	PruneSchedule  string
	PruneMaxAge    time.Duration
	PruneBatchSize int
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	update, err := loadUpdate()
	if err != nil {
		return nil, err
	}

	c := &API{
		Common:        loadCommon(),
		Update:        *update,
		BindAddr:      getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		DefaultPage:   getInt("API_PAGE_SIZE", 20),
		MaxPage:       getInt("API_MAX_PAGE_SIZE", 100),
		CacheTTL:      getDuration("API_CACHE_TTL", "10m"),
		CacheCapacity: getInt("API_CACHE_CAPACITY", 64),
		OpenAIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		UpdateSecret:  getEnv("UPDATE_SECRET", ""),
	}

	if c.DefaultPage <= 0 {
		return nil, fmt.Errorf("API_PAGE_SIZE must be positive")
	}
	if c.MaxPage <= 0 {
		return nil, fmt.Errorf("API_MAX_PAGE_SIZE must be positive")
	}
	if c.DefaultPage > c.MaxPage {
		return nil, fmt.Errorf("API_PAGE_SIZE cannot exceed API_MAX_PAGE_SIZE")
	}
	if c.CacheCapacity <= 0 {
		return nil, fmt.Errorf("API_CACHE_CAPACITY must be positive")
	}

	return c, nil
}

// LoadUpdater builds an Updater config from environment variables.
func LoadUpdater() (*Updater, error) {
	update, err := loadUpdate()
	if err != nil {
		return nil, err
	}

	c := &Updater{
		Common:         loadCommon(),
		Update:         *update,
		Schedule:       getEnv("UPDATE_CRON", "*/30 * * * *"),
		PruneSchedule:  getEnv("PRUNE_CRON", "30 3 * * *"),
		PruneMaxAge:    getDuration("PRUNE_MAX_AGE", "720h"),
		PruneBatchSize: getInt("PRUNE_BATCH_SIZE", 500),
	}

	if c.PruneMaxAge <= 0 {
		return nil, fmt.Errorf("PRUNE_MAX_AGE must be positive")
	}
	if c.PruneBatchSize <= 0 {
		return nil, fmt.Errorf("PRUNE_BATCH_SIZE must be positive")
	}

	return c, nil
}

func loadCommon() Common {
	return Common{
		ElasticsearchAddr: getEnv("ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
		ArticleIndex:      getEnv("ARTICLE_INDEX", "articles"),
		LockIndex:         getEnv("LOCK_INDEX", "job_locks"),
	}
}

func loadUpdate() (*Update, error) {
	categories, err := ParseCategories(getEnv("NEWS_CATEGORIES", "technology:30,business:30,sports:30,health:30,entertainment:30"))
	if err != nil {
		return nil, err
	}

	c := &Update{
		SearchAPIURL: getEnv("SEARCH_API_URL", "https://google.serper.dev"),
		SearchAPIKey: getEnv("SEARCH_API_KEY", ""),
		Categories:   categories,
		JobName:      getEnv("UPDATE_JOB_NAME", "news_update_job"),
		LockTTL:      getDuration("UPDATE_LOCK_TTL", "5m"),
		HTTPTimeout:  getDuration("HTTP_TIMEOUT", "15s"),
		MaxRetries:   getInt("HTTP_MAX_RETRIES", 2),
		RetryBackoff: getDuration("HTTP_RETRY_BACKOFF", "2s"),
		KafkaBrokers: splitAndTrim(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "news_updates"),
	}

	if c.SearchAPIURL == "" {
		return nil, fmt.Errorf("SEARCH_API_URL cannot be empty")
	}
	if len(c.Categories) == 0 {
		return nil, fmt.Errorf("NEWS_CATEGORIES must contain at least one category")
	}
	if c.LockTTL <= 0 {
		return nil, fmt.Errorf("UPDATE_LOCK_TTL must be positive")
	}
	if c.MaxRetries < 0 {
		return nil, fmt.Errorf("HTTP_MAX_RETRIES cannot be negative")
	}
	if c.HTTPTimeout <= 0 {
		return nil, fmt.Errorf("HTTP_TIMEOUT must be positive")
	}

	return c, nil
}

// ParseCategories reads a "query:count,query:count" list. The count is
// optional and defaults to 30.
func ParseCategories(raw string) ([]Category, error) {
	parts := splitAndTrim(raw)
	out := make([]Category, 0, len(parts))
	for _, part := range parts {
		query := part
		count := 30
		if idx := strings.LastIndex(part, ":"); idx >= 0 {
			query = strings.TrimSpace(part[:idx])
			parsed, err := strconv.Atoi(strings.TrimSpace(part[idx+1:]))
			if err != nil {
				return nil, fmt.Errorf("invalid category count in %q", part)
			}
			count = parsed
		}
		if query == "" {
			return nil, fmt.Errorf("empty category query in %q", raw)
		}
		if count <= 0 {
			return nil, fmt.Errorf("category count must be positive in %q", part)
		}
		out = append(out, Category{Query: query, Count: count})
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
