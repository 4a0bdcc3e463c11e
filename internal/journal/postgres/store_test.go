package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/endpointd/internal/journal"
	"github.com/MrWong99/endpointd/internal/journal/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if ENDPOINTD_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("ENDPOINTD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ENDPOINTD_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore drops the journal table and returns a freshly migrated store.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS recognition_completions CASCADE"); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	pool.Close()

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestStore_RecordAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	for i, e := range []journal.Entry{
		{ChannelID: "a", RequestID: 1, Cause: "success", Text: "deploy the staging cluster", Elapsed: 2 * time.Second, CompletedAt: base},
		{ChannelID: "b", RequestID: 2, Cause: "no-input-timeout", CompletedAt: base.Add(time.Second)},
		{ChannelID: "a", RequestID: 3, Cause: "success", Text: "open grafana", CompletedAt: base.Add(2 * time.Second)},
	} {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	got, err := store.Recent(ctx, journal.Query{ChannelID: "a"})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].RequestID != 3 || got[1].Elapsed != 2*time.Second {
		t.Errorf("Recent = %+v", got)
	}

	got, err = store.Search(ctx, "staging", journal.Query{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Text != "deploy the staging cluster" {
		t.Errorf("Search = %+v", got)
	}

	got, err = store.Recent(ctx, journal.Query{Cause: "no-input-timeout", Limit: 5})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].ChannelID != "b" {
		t.Errorf("Recent(no-input) = %+v", got)
	}
}

func TestStore_EmptyResultIsNonNil(t *testing.T) {
	store := newTestStore(t)
	got, err := store.Recent(context.Background(), journal.Query{ChannelID: "nobody"})
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Recent = %#v, want empty non-nil slice", got)
	}
}

func TestNewStore_InvalidDSN(t *testing.T) {
	t.Parallel()
	if _, err := postgres.NewStore(context.Background(), "postgres://%zz"); err == nil {
		t.Error("NewStore with malformed DSN succeeded")
	}
}
