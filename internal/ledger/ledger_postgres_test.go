package ledger

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/postgres"
)

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	if os.Getenv("TEST_POSTGRES_HOST") == "" {
		t.Skip("skipping: TEST_POSTGRES_HOST not set")
	}
	port, _ := strconv.Atoi(envOrDefault("TEST_POSTGRES_PORT", "5432"))
	db, err := postgres.New(config.PostgresConfig{
		Host:            os.Getenv("TEST_POSTGRES_HOST"),
		Port:            port,
		Database:        envOrDefault("TEST_POSTGRES_DB", "library_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "library"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Skipf("skipping: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestPostgresUpsert(t *testing.T) {
	db := skipIfNoPostgres(t)
	ctx := context.Background()
	table := "ledger_test_" + strconv.FormatInt(time.Now().UnixNano(), 36)

	l, err := New(db.DB, table, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := l.EnsureSchema(ctx, db); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	t.Cleanup(func() { db.DB.Exec(`DROP TABLE IF EXISTS "` + table + `"`) })

	for i := 0; i < 2; i++ {
		if err := l.Record(ctx, sub("a"), nil); err != nil {
			t.Fatalf("Record #%d: %v", i, err)
		}
	}

	var status string
	var attempts, rows int
	if err := db.DB.QueryRowContext(ctx,
		`SELECT status, attempts, (SELECT COUNT(*) FROM "`+table+`") FROM "`+table+`" WHERE doc_id = $1`, "a",
	).Scan(&status, &attempts, &rows); err != nil {
		t.Fatal(err)
	}
	if rows != 1 || attempts != 2 || status != StatusIndexed {
		t.Errorf("expected one INDEXED row with 2 attempts, got rows=%d attempts=%d status=%s", rows, attempts, status)
	}
}
