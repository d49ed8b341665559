package bridge

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-x10/internal/x10"
)

// AddressRecorder passively records every X10 address seen on the powerline,
// building an inventory of modules and remotes over time. The bridge calls
// it for each decoded event.
//
// The database must have the x10_addresses table (see migrations).
//
// Thread Safety: All methods are safe for concurrent use.
type AddressRecorder struct {
	db     *sql.DB
	logger Logger

	// Prepared upsert (created in Start, reused)
	upsertStmt *sql.Stmt
	stmtMu     sync.Mutex

	closed bool
	mu     sync.RWMutex
}

// SeenAddress is one row of the address inventory.
type SeenAddress struct {
	Address      string
	FirstSeen    time.Time
	LastSeen     time.Time
	MessageCount int64
	LastFunction string
}

// NewAddressRecorder creates a recorder backed by db.
func NewAddressRecorder(db *sql.DB) *AddressRecorder {
	return &AddressRecorder{db: db}
}

// SetLogger sets the logger for the recorder.
func (r *AddressRecorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Start prepares the recorder for use.
// Must be called before RecordEvent.
func (r *AddressRecorder) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.upsertStmt != nil {
		return nil
	}

	stmt, err := r.db.Prepare(`
		INSERT INTO x10_addresses (address, house, unit, first_seen, last_seen, message_count, last_function)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(address) DO UPDATE SET
			last_seen = excluded.last_seen,
			message_count = message_count + 1,
			last_function = excluded.last_function
	`)
	if err != nil {
		return fmt.Errorf("preparing address upsert statement: %w", err)
	}

	r.upsertStmt = stmt
	r.log("address recorder started")
	return nil
}

// Stop closes the recorder and releases resources.
func (r *AddressRecorder) Stop() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.upsertStmt != nil {
		r.upsertStmt.Close()
		r.upsertStmt = nil
		r.log("address recorder stopped")
	}
}

// RecordEvent upserts every address carried by ev.
func (r *AddressRecorder) RecordEvent(ev x10.Event) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return
	}
	r.mu.RUnlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()
	if r.upsertStmt == nil {
		return // Not started
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	seen := ts.UTC().Format(time.RFC3339)
	fn := ev.Function.String()

	for _, addr := range ev.Addresses {
		if _, err := r.upsertStmt.Exec(addr.String(), string(addr.House), int(addr.Unit), seen, seen, fn); err != nil {
			r.logError("recording address", err, "address", addr.String())
		}
	}
}

// Addresses returns the inventory, most recently seen first.
func (r *AddressRecorder) Addresses(ctx context.Context) ([]SeenAddress, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT address, first_seen, last_seen, message_count, last_function
		FROM x10_addresses
		ORDER BY last_seen DESC, address
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SeenAddress
	for rows.Next() {
		var s SeenAddress
		var first, last string
		if err := rows.Scan(&s.Address, &first, &last, &s.MessageCount, &s.LastFunction); err != nil {
			return nil, err
		}
		s.FirstSeen, _ = time.Parse(time.RFC3339, first) //nolint:errcheck // Format is controlled
		s.LastSeen, _ = time.Parse(time.RFC3339, last)   //nolint:errcheck // Format is controlled
		out = append(out, s)
	}
	return out, rows.Err()
}

// AddressCount returns the number of distinct addresses seen.
func (r *AddressRecorder) AddressCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM x10_addresses`).Scan(&count)
	return count, err
}

func (r *AddressRecorder) log(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}

func (r *AddressRecorder) logError(msg string, err error, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
