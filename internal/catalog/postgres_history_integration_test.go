package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

func TestPostgresIntegrationHistoryRoundTrip(t *testing.T) {
	dsn := postgresIntegrationDSN(t)

	history, err := NewPostgresHistory(dsn)
	if err != nil {
		t.Fatalf("new postgres history: %v", err)
	}
	history.tableName = fmt.Sprintf("shelfsync_history_it_%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_ = history.Close()
		postgresIntegrationDropTable(t, dsn, history.tableName)
	})

	records, err := history.Recent(10)
	if err != nil {
		t.Fatalf("initial recent failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty history, got %+v", records)
	}

	for i := 0; i < 3; i++ {
		err := history.Record(MutationRecord{
			Source:    "shopify",
			Key:       fmt.Sprintf("key-%d", i),
			Quantity:  40 + i,
			Status:    MutationApplied,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("record %d failed: %v", i, err)
		}
	}
	err = history.Record(MutationRecord{
		Source: "square",
		Key:    "CAN-1",
		Status: MutationFailed,
		Detail: "server rejected request",
	})
	if err != nil {
		t.Fatalf("failed record insert: %v", err)
	}

	records, err = history.Recent(2)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Key != "CAN-1" || records[0].Status != MutationFailed {
		t.Fatalf("expected newest record first, got %+v", records[0])
	}
	if records[1].Key != "key-2" || records[1].Quantity != 42 {
		t.Fatalf("unexpected second record %+v", records[1])
	}
}

func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("SHELFSYNC_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set SHELFSYNC_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func postgresIntegrationDropTable(t *testing.T, dsn, tableName string) {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open postgres for cleanup failed: %v", err)
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	query := fmt.Sprintf("DROP TABLE IF EXISTS %s", postgresQuoteIdentifier(tableName))
	if _, err := db.ExecContext(ctx, query); err != nil {
		t.Fatalf("drop cleanup table %q failed: %v", tableName, err)
	}
}
