package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresHistoryTableName       = "shelfsync_mutation_history"
	postgresHistoryOperationWindow = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type PostgresHistory struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresHistory(dsn string) (*PostgresHistory, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres history dsn is empty")
	}
	return &PostgresHistory{
		dsn:       dsn,
		tableName: postgresHistoryTableName,
		openDB:    sql.Open,
	}, nil
}

func (h *PostgresHistory) Record(rec MutationRecord) error {
	if h == nil {
		return nil
	}
	if err := h.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresHistoryOperationWindow)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (source, mutation_key, quantity, status, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, postgresQuoteIdentifier(h.tableName))
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := h.db.ExecContext(ctx, query, rec.Source, rec.Key, rec.Quantity, rec.Status, rec.Detail, createdAt)
	return err
}

func (h *PostgresHistory) Recent(limit int) ([]MutationRecord, error) {
	if h == nil {
		return nil, nil
	}
	if err := h.ensureReady(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresHistoryOperationWindow)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT source, mutation_key, quantity, status, detail, created_at
		FROM %s
		ORDER BY id DESC
		LIMIT $1`, postgresQuoteIdentifier(h.tableName))
	rows, err := h.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]MutationRecord, 0, limit)
	for rows.Next() {
		var rec MutationRecord
		if err := rows.Scan(&rec.Source, &rec.Key, &rec.Quantity, &rec.Status, &rec.Detail, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (h *PostgresHistory) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

func (h *PostgresHistory) ensureReady() error {
	if h == nil {
		return fmt.Errorf("postgres history is nil")
	}
	h.initOnce.Do(func() {
		db, err := h.openDB("postgres", h.dsn)
		if err != nil {
			h.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresHistoryOperationWindow)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				source TEXT NOT NULL,
				mutation_key TEXT NOT NULL,
				quantity INTEGER NOT NULL,
				status TEXT NOT NULL,
				detail TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(h.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			h.initErr = err
			return
		}
		h.db = db
	})
	return h.initErr
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
