//go:build integration

// Package integration runs the synchronization pipeline against a real
// PostgreSQL record store and Redis task tracker. The search engine is the
// in-memory fake from enginetest.
//
// Run with:
//
//	go test -v -tags=integration ./test/integration/...
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/dispatch"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/engine/enginetest"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/handler"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/indexuid"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/lifecycle"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/locale"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/planner"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/producer"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/registry"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/store"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/syncer"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/tasks"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/uploader"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/redis"
)

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	db, err := postgres.New(config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "searchsync_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "searchsync"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func skipIfNoRedis(t *testing.T) *redis.Client {
	t.Helper()
	rc, err := redis.NewClient(config.RedisConfig{
		Addr:     envOrDefault("TEST_REDIS_ADDR", "localhost:6379"),
		PoolSize: 2,
	})
	if err != nil {
		t.Skipf("skipping integration test: redis unavailable: %v", err)
	}
	t.Cleanup(func() { rc.Close() })
	return rc
}

// seedBooks creates a books table and its translation table with unique
// names and drops them when the test ends.
func seedBooks(t *testing.T, db *postgres.Client) (table, translations string) {
	t.Helper()
	suffix := strconv.FormatInt(time.Now().UnixNano(), 36)
	table, translations = "it_books_"+suffix, "it_book_translations_"+suffix
	ctx := context.Background()

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE %s (id BIGINT PRIMARY KEY, title TEXT NOT NULL, author TEXT, cost_price NUMERIC, published_at TIMESTAMPTZ)`, table),
		fmt.Sprintf(`CREATE TABLE %s (object_class TEXT, locale TEXT, foreign_key TEXT, field TEXT, content TEXT)`, translations),
	}
	for i := 1; i <= 5; i++ {
		stmts = append(stmts, fmt.Sprintf(`INSERT INTO %s VALUES (%d, 'Title %d', 'Author %d', 9.99, NOW())`, table, i, i, i))
	}
	stmts = append(stmts,
		fmt.Sprintf(`INSERT INTO %s VALUES ('Book', 'es', '1', 'title', 'Titulo 1'), ('Book', 'es', '2', 'title', 'Titulo 2')`, translations),
	)
	for _, s := range stmts {
		_, err := db.DB.ExecContext(ctx, s)
		require.NoError(t, err, s)
	}
	t.Cleanup(func() {
		db.DB.Exec("DROP TABLE IF EXISTS " + table)
		db.DB.Exec("DROP TABLE IF EXISTS " + translations)
	})
	return table, translations
}

func TestSyncRunIndexesEveryTranslatedLocale(t *testing.T) {
	db := skipIfNoPostgres(t)
	table, translations := seedBooks(t, db)

	reg, err := registry.New(registry.Entry{
		Name:             "books",
		Class:            "Book",
		Table:            table,
		TranslationTable: translations,
		Schema:           registry.Schema{Searchable: []string{"title", "author"}},
		Groups:           map[string][]string{"searchable": {"id", "title", "author", "published_at"}},
		Locales:          &registry.LocaleMeta{Source: "en", Targets: []string{"es", "fr"}},
	})
	require.NoError(t, err)

	srv := enginetest.NewServer(t)
	m := metrics.NewUnregistered()
	client := engine.New(config.EngineConfig{URL: srv.URL, Timeout: 5 * time.Second}, m)
	indexes := lifecycle.New(client, lifecycle.WaitOptions{PollInterval: 5 * time.Millisecond, MaxAttempts: 50}, m)
	records := store.NewPostgres(db, reg)
	locales := locale.NewResolver(reg, config.LocalesConfig{Default: "en", Enabled: []string{"en", "es", "fr"}})
	uids := indexuid.New("it_")

	h := handler.New(reg, records, store.GroupNormalizer{}, uploader.New(client, 0, m), indexes, uids, nil, handler.Config{
		DefaultLocale: "en",
		Groups:        []string{"searchable"},
		AutoCreate:    true,
	})
	bus := &dispatch.Bus{Inline: dispatch.Func(h.Apply), Metrics: m}
	p := planner.New(reg, locales, uids, store.NewTranslations(db, reg, "en"))
	s := syncer.New(reg, p, indexes, producer.New(records, bus), nil, syncer.Config{BatchSize: 2, AutoCreate: true}, m)

	report, err := s.Run(context.Background(), syncer.Options{PerLocale: true, Sync: true, Wait: true})
	require.NoError(t, err)
	require.False(t, report.Failed(), "%+v", report)
	assert.Equal(t, 10, report.Sent())

	require.Len(t, report.Targets, 2)
	assert.Equal(t, "it_books_en", report.Targets[0].Target.UID)
	assert.Equal(t, "it_books_es", report.Targets[1].Target.UID)
	assert.Equal(t, 3, report.Targets[0].Jobs)
	assert.False(t, srv.HasIndex("it_books_fr"))

	en := srv.Documents("it_books_en")
	es := srv.Documents("it_books_es")
	assert.Len(t, en, 5)
	assert.Len(t, es, 5)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(es["1"], &doc))
	assert.Equal(t, "Titulo 1", doc["title"])
	assert.NotContains(t, doc, "cost_price")
	require.NoError(t, json.Unmarshal(es["3"], &doc))
	assert.Equal(t, "Title 3", doc["title"])
	require.NoError(t, json.Unmarshal(en["1"], &doc))
	assert.Equal(t, "Title 1", doc["title"])
}

func TestTrackerRoundTrip(t *testing.T) {
	rc := skipIfNoRedis(t)
	tr := tasks.NewTracker(rc, time.Minute)
	ctx := context.Background()
	runID := uuid.NewString()
	t.Cleanup(func() { tr.Clear(ctx, runID) })

	require.NoError(t, tr.Record(ctx, runID, 10, 11))
	require.NoError(t, tr.FinishJob(ctx, runID, "job-a", false))
	require.NoError(t, tr.FinishJob(ctx, runID, "job-b", true))

	uids, err := tr.Tasks(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11}, uids)

	done, failed, err := tr.Progress(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 1, done)
	assert.Equal(t, 1, failed)

	jobID := uuid.NewString()
	first, err := tr.MarkJobDone(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, first)
	again, err := tr.MarkJobDone(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, again)
	rc.Del(ctx, "searchsync:job:"+jobID+":done")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
