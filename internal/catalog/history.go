package catalog

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	MutationApplied = "applied"
	MutationFailed  = "failed"
)

type MutationRecord struct {
	Source    string    `json:"source"`
	Key       string    `json:"key"`
	Quantity  int       `json:"quantity"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// MutationHistory keeps an operator-facing record of mutation outcomes. It is
// observability, not cache persistence: the listing cache never reads it back.
type MutationHistory interface {
	Record(rec MutationRecord) error
	Recent(limit int) ([]MutationRecord, error)
}

type MemoryHistory struct {
	mu       sync.Mutex
	records  []MutationRecord
	capacity int
}

func NewMemoryHistory(capacity int) *MemoryHistory {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryHistory{capacity: capacity}
}

func (h *MemoryHistory) Record(rec MutationRecord) error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	if len(h.records) > h.capacity {
		h.records = h.records[len(h.records)-h.capacity:]
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (h *MemoryHistory) Recent(limit int) ([]MutationRecord, error) {
	if h == nil {
		return nil, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit <= 0 || limit > len(h.records) {
		limit = len(h.records)
	}
	out := make([]MutationRecord, 0, limit)
	for i := len(h.records) - 1; i >= len(h.records)-limit; i-- {
		out = append(out, h.records[i])
	}
	return out, nil
}

// BuildHistoryFromDSN picks a history backend by DSN scheme. Empty and
// memory:// DSNs yield the in-memory ring; postgres:// yields the durable
// backend.
func BuildHistoryFromDSN(dsn string) (MutationHistory, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryHistory(0), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(parsed.Scheme)) {
	case "", "memory", "mem", "inmem":
		return NewMemoryHistory(0), nil
	case "postgres", "postgresql":
		return NewPostgresHistory(dsn)
	default:
		return nil, fmt.Errorf("unsupported history backend scheme: %s", parsed.Scheme)
	}
}
