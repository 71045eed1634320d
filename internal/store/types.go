package store

import (
	"context"
	"errors"
	"time"

	"statusloop/internal/audit"
	"statusloop/internal/schedule"
)

// ErrNotFound is returned by Load* when the record has never been
// written. First run is not an error: the caller synthesizes defaults.
var ErrNotFound = errors.New("record not found")

// Config configures storage.
//
// Driver values:
//   - "file": JSON files, written via temp-file + rename
//   - "sqlite": single SQLite database file
//
// If Driver is empty, "file" is assumed.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// StateRecord is the durable schedule-state record. The JSON layout is
// stable; readers must never observe a partially-written structure.
type StateRecord struct {
	Schedule       []schedule.Day `json:"schedule"`
	IsActive       bool           `json:"isSystemActive"`
	CycleStartDate string         `json:"currentCycleStartDate,omitempty"`
	LastUpdate     time.Time      `json:"lastUpdate,omitzero"`
	TotalDays      int            `json:"totalDays"`
}

// LogRecord is the durable bounded log prefix.
type LogRecord struct {
	Logs       []audit.Entry `json:"logs"`
	LastUpdate time.Time     `json:"lastUpdate,omitzero"`
}

// Store persists the two independent durable records. Absence of
// either at startup is non-fatal.
type Store interface {
	LoadState(ctx context.Context) (*StateRecord, error)
	SaveState(ctx context.Context, rec StateRecord) error
	LoadLogs(ctx context.Context) (*LogRecord, error)
	SaveLogs(ctx context.Context, rec LogRecord) error
	Close() error
}
