// Package sqlstore implements the error store over database/sql. The sqlite
// and postgres drivers share it and differ only in dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ordergate/pkg/domain"
)

var _ domain.ErrorStore = (*Store)(nil)

// scanPageSize bounds the rows fetched per keyset page during Scan.
var scanPageSize = 500

// Dialect captures the differences between SQL engines.
type Dialect struct {
	Name string
	// Numbered placeholders ($1, $2, ...) instead of '?'.
	Numbered bool
	// DetailsType is the column type used for the JSON snapshot.
	DetailsType string
}

var (
	SQLite   = Dialect{Name: "sqlite", DetailsType: "TEXT"}
	Postgres = Dialect{Name: "postgres", Numbered: true, DetailsType: "JSONB"}
)

// Rebind rewrites '?' placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Schema returns the DDL statements for the dialect.
func (d Dialect) Schema() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tracked_errors (
			order_id TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			order_number TEXT NOT NULL DEFAULT '',
			first_seen BIGINT NOT NULL,
			last_seen BIGINT NOT NULL,
			details %s NOT NULL,
			expires_at BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (order_id, fingerprint)
		)`, d.DetailsType),
		`CREATE INDEX IF NOT EXISTS tracked_errors_expires_at ON tracked_errors (expires_at)`,
	}
}

// Store persists tracked errors as one row per (order, fingerprint). Times are
// stored as Unix nanoseconds.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New applies the schema and returns a store over db.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	for _, stmt := range dialect.Schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("apply %s schema: %w", dialect.Name, err)
		}
	}
	return &Store{db: db, dialect: dialect}, nil
}

const selectColumns = `SELECT order_id, fingerprint, order_number, first_seen, last_seen, details, expires_at FROM tracked_errors`

// upsertSQL keeps first_seen of a live row. A row whose expires_at has passed
// by the incoming last_seen restarts from the incoming first_seen.
const upsertSQL = `INSERT INTO tracked_errors (order_id, fingerprint, order_number, first_seen, last_seen, details, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (order_id, fingerprint) DO UPDATE SET
	first_seen = CASE
		WHEN tracked_errors.expires_at > 0 AND tracked_errors.expires_at <= excluded.last_seen THEN excluded.first_seen
		ELSE tracked_errors.first_seen
	END,
	last_seen = excluded.last_seen,
	order_number = excluded.order_number,
	details = excluded.details,
	expires_at = excluded.expires_at`

func (s *Store) Get(ctx context.Context, orderID, fingerprint string) (domain.TrackedEntry, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(selectColumns+` WHERE order_id = ? AND fingerprint = ?`), orderID, fingerprint)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TrackedEntry{}, domain.ErrEntryNotFound
	}
	if err != nil {
		return domain.TrackedEntry{}, fmt.Errorf("get tracked error: %w", err)
	}
	return e, nil
}

func (s *Store) Upsert(ctx context.Context, entry domain.TrackedEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("encode details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.dialect.Rebind(upsertSQL),
		entry.OrderID,
		entry.Fingerprint,
		entry.OrderNumber,
		toNanos(entry.FirstSeen),
		toNanos(entry.LastSeen),
		string(details),
		toNanos(entry.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("upsert tracked error: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, orderID, fingerprint string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM tracked_errors WHERE order_id = ? AND fingerprint = ?`), orderID, fingerprint); err != nil {
		return fmt.Errorf("delete tracked error: %w", err)
	}
	return nil
}

func (s *Store) ListOrder(ctx context.Context, orderID string) ([]domain.TrackedEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(selectColumns+` WHERE order_id = ? ORDER BY fingerprint`), orderID)
	if err != nil {
		return nil, fmt.Errorf("list tracked errors: %w", err)
	}
	return collect(rows)
}

// Scan walks the table in keyset pages so large tables never need one giant result set.
func (s *Store) Scan(ctx context.Context) ([]domain.TrackedEntry, error) {
	firstPage := s.dialect.Rebind(selectColumns + ` ORDER BY order_id, fingerprint LIMIT ?`)
	nextPage := s.dialect.Rebind(selectColumns + ` WHERE order_id > ? OR (order_id = ? AND fingerprint > ?) ORDER BY order_id, fingerprint LIMIT ?`)

	var (
		out  []domain.TrackedEntry
		page []domain.TrackedEntry
	)
	rows, err := s.db.QueryContext(ctx, firstPage, scanPageSize)
	for {
		if err != nil {
			return nil, fmt.Errorf("scan tracked errors: %w", err)
		}
		page, err = collect(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < scanPageSize {
			return out, nil
		}
		last := page[len(page)-1]
		rows, err = s.db.QueryContext(ctx, nextPage, last.OrderID, last.OrderID, last.Fingerprint, scanPageSize)
	}
}

func (s *Store) Purge(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM tracked_errors WHERE expires_at > 0 AND expires_at <= ?`), toNanos(now))
	if err != nil {
		return 0, fmt.Errorf("purge tracked errors: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge tracked errors: rows affected: %w", err)
	}
	return int(n), nil
}

func (s *Store) Driver() string { return s.dialect.Name }

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sql.DB { return s.db }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (domain.TrackedEntry, error) {
	var (
		e                    domain.TrackedEntry
		first, last, expires int64
		details              []byte
	)
	if err := row.Scan(&e.OrderID, &e.Fingerprint, &e.OrderNumber, &first, &last, &details, &expires); err != nil {
		return domain.TrackedEntry{}, err
	}
	if err := json.Unmarshal(details, &e.Details); err != nil {
		return domain.TrackedEntry{}, fmt.Errorf("decode details for %s/%s: %w", e.OrderID, e.Fingerprint, err)
	}
	e.FirstSeen = fromNanos(first)
	e.LastSeen = fromNanos(last)
	e.ExpiresAt = fromNanos(expires)
	return e, nil
}

func collect(rows *sql.Rows) ([]domain.TrackedEntry, error) {
	defer func() { _ = rows.Close() }()
	var out []domain.TrackedEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracked errors: %w", err)
	}
	return out, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
