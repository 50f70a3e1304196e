package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/newsline/backend/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ELASTICSEARCH_ADDR", "ARTICLE_INDEX", "LOCK_INDEX",
		"SEARCH_API_URL", "SEARCH_API_KEY", "NEWS_CATEGORIES",
		"UPDATE_JOB_NAME", "UPDATE_LOCK_TTL", "HTTP_TIMEOUT",
		"HTTP_MAX_RETRIES", "HTTP_RETRY_BACKOFF", "KAFKA_BROKERS",
		"API_BIND_ADDR", "API_PAGE_SIZE", "API_MAX_PAGE_SIZE",
		"UPDATE_CRON", "PRUNE_CRON", "PRUNE_MAX_AGE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadUpdaterDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.LoadUpdater()
	require.NoError(t, err)

	require.Equal(t, "http://elasticsearch:9200", cfg.ElasticsearchAddr)
	require.Equal(t, "articles", cfg.ArticleIndex)
	require.Equal(t, "job_locks", cfg.LockIndex)
	require.Equal(t, "news_update_job", cfg.JobName)
	require.Equal(t, 5*time.Minute, cfg.LockTTL)
	require.Equal(t, 15*time.Second, cfg.HTTPTimeout)
	require.Equal(t, 2, cfg.MaxRetries)
	require.Len(t, cfg.Categories, 5)
	require.Equal(t, config.Category{Query: "technology", Count: 30}, cfg.Categories[0])
	require.Empty(t, cfg.KafkaBrokers)
	require.Equal(t, "*/30 * * * *", cfg.Schedule)
}

func TestLoadUpdaterOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ELASTICSEARCH_ADDR", "http://localhost:9999")
	t.Setenv("NEWS_CATEGORIES", "technology:10, local news:5")
	t.Setenv("UPDATE_LOCK_TTL", "90s")
	t.Setenv("HTTP_MAX_RETRIES", "4")
	t.Setenv("KAFKA_BROKERS", "broker-a:29092,broker-b:29093")

	cfg, err := config.LoadUpdater()
	require.NoError(t, err)

	require.Equal(t, "http://localhost:9999", cfg.ElasticsearchAddr)
	require.Equal(t, 90*time.Second, cfg.LockTTL)
	require.Equal(t, 4, cfg.MaxRetries)
	require.Len(t, cfg.Categories, 2)
	require.Equal(t, config.Category{Query: "technology", Count: 10}, cfg.Categories[0])
	require.Equal(t, config.Category{Query: "local news", Count: 5}, cfg.Categories[1])
	require.Len(t, cfg.KafkaBrokers, 2)
}

func TestLoadAPIDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.LoadAPI()
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:8080", cfg.BindAddr)
	require.Equal(t, 20, cfg.DefaultPage)
	require.Equal(t, 100, cfg.MaxPage)
	require.Equal(t, 10*time.Minute, cfg.CacheTTL)
	require.Equal(t, "gpt-4o-mini", cfg.OpenAIModel)
}

func TestLoadAPIRejectsBadPaging(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_PAGE_SIZE", "500")
	t.Setenv("API_MAX_PAGE_SIZE", "100")

	_, err := config.LoadAPI()
	require.Error(t, err)
}

func TestParseCategories(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []config.Category
		wantErr bool
	}{
		{
			name: "counts",
			raw:  "technology:30,sports:20",
			want: []config.Category{{Query: "technology", Count: 30}, {Query: "sports", Count: 20}},
		},
		{
			name: "default count",
			raw:  "technology",
			want: []config.Category{{Query: "technology", Count: 30}},
		},
		{
			name:    "bad count",
			raw:     "technology:x",
			wantErr: true,
		},
		{
			name:    "zero count",
			raw:     "technology:0",
			wantErr: true,
		},
		{
			name:    "empty query",
			raw:     ":5",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := config.ParseCategories(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
