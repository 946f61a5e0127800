/*
Emlprobe - email forensics and scoring engine.
Copyright © 2023-2024 emlprobe contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package catalog implements the relational metadata side of the audit
// store on database/sql.
//
// Supported drivers: sqlite3 (mattn, cgo), sqlite (modernc, pure Go),
// postgres, mysql. Queries are written with ? placeholders and rewritten
// to $N for postgres. All user-supplied values go through placeholders;
// the only interpolated identifiers come from the sort allow-list.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

var ErrNoRecord = errors.New("catalog: no such record")

// Record mirrors one eml_records row. Metadata is an opaque JSON text
// blob owned by the caller.
type Record struct {
	ID             string
	HashSHA256     string
	FromDomain     string
	SubjectPreview string
	StoredAt       time.Time
	ExpiresAt      time.Time
	Metadata       string
}

// ListFilters narrows and orders a List call. Zero values mean "no
// constraint". SortBy outside the allow-list falls back to stored_at
// descending.
type ListFilters struct {
	// Search matches as a substring over from_domain, subject_preview,
	// id and hash_sha256.
	Search     string
	Domain     string
	HashPrefix string
	After      time.Time
	Before     time.Time

	SortBy  string
	SortDir string // "asc" or "desc"

	Limit  int // default 20, capped at 100
	Offset int
}

type Catalog struct {
	db     *sql.DB
	driver string
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS eml_records (
		id TEXT PRIMARY KEY,
		hash_sha256 TEXT NOT NULL,
		from_domain TEXT,
		subject_preview TEXT,
		stored_at TIMESTAMP,
		expires_at TIMESTAMP,
		metadata TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS eml_records_hash ON eml_records (hash_sha256)`,
	`CREATE INDEX IF NOT EXISTS eml_records_expires ON eml_records (expires_at)`,
}

func Open(driver, dsn string) (*Catalog, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}
	for _, q := range schema {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("catalog: schema init: %w", err)
		}
	}
	return &Catalog{db: db, driver: driver}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

// rebind rewrites ? placeholders to $1..$N for postgres. The other
// supported drivers take ? as-is.
func (c *Catalog) rebind(query string) string {
	if c.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike neutralizes LIKE metacharacters in user input. Queries
// using the result must carry ESCAPE '\'.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var sortColumns = map[string]bool{
	"stored_at":       true,
	"from_domain":     true,
	"subject_preview": true,
}

// orderClause builds the ORDER BY from the allow-list. Anything outside
// it degrades to the default instead of erroring, so a hostile sortBy
// never reaches the SQL text.
func orderClause(sortBy, sortDir string) string {
	if !sortColumns[sortBy] {
		return "ORDER BY stored_at DESC"
	}
	dir := "DESC"
	if strings.EqualFold(sortDir, "asc") {
		dir = "ASC"
	}
	return "ORDER BY " + sortBy + " " + dir
}

const recordColumns = "id, hash_sha256, from_domain, subject_preview, stored_at, expires_at, metadata"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (Record, error) {
	var r Record
	err := row.Scan(&r.ID, &r.HashSHA256, &r.FromDomain, &r.SubjectPreview,
		&r.StoredAt, &r.ExpiresAt, &r.Metadata)
	return r, err
}

func (c *Catalog) Insert(ctx context.Context, r Record) error {
	_, err := c.db.ExecContext(ctx, c.rebind(
		`INSERT INTO eml_records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.HashSHA256, r.FromDomain, r.SubjectPreview,
		r.StoredAt.UTC(), r.ExpiresAt.UTC(), r.Metadata)
	if err != nil {
		return fmt.Errorf("catalog: insert %s: %w", r.ID, err)
	}
	return nil
}

func (c *Catalog) Get(ctx context.Context, id string) (Record, error) {
	row := c.db.QueryRowContext(ctx, c.rebind(
		`SELECT `+recordColumns+` FROM eml_records WHERE id = ?`), id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNoRecord
	}
	if err != nil {
		return Record{}, fmt.Errorf("catalog: get %s: %w", id, err)
	}
	return r, nil
}

func (c *Catalog) Delete(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, c.rebind(
		`DELETE FROM eml_records WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("catalog: delete %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNoRecord
	}
	return nil
}

// DeleteMany removes the listed ids in one statement and reports how
// many rows were actually dropped. Unknown ids are not an error.
func (c *Catalog) DeleteMany(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := c.db.ExecContext(ctx, c.rebind(
		`DELETE FROM eml_records WHERE id IN (`+placeholders+`)`), args...)
	if err != nil {
		return 0, fmt.Errorf("catalog: bulk delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// List returns one page of matching records plus the total match count
// ignoring pagination.
func (c *Catalog) List(ctx context.Context, f ListFilters) ([]Record, int, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Search != "" {
		pat := "%" + escapeLike(f.Search) + "%"
		where = append(where, `(from_domain LIKE ? ESCAPE '\' OR subject_preview LIKE ? ESCAPE '\' OR id LIKE ? ESCAPE '\' OR hash_sha256 LIKE ? ESCAPE '\')`)
		args = append(args, pat, pat, pat, pat)
	}
	if f.Domain != "" {
		where = append(where, `from_domain = ?`)
		args = append(args, f.Domain)
	}
	if f.HashPrefix != "" {
		where = append(where, `hash_sha256 LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(strings.ToLower(f.HashPrefix))+"%")
	}
	if !f.After.IsZero() {
		where = append(where, `stored_at >= ?`)
		args = append(args, f.After.UTC())
	}
	if !f.Before.IsZero() {
		where = append(where, `stored_at <= ?`)
		args = append(args, f.Before.UTC())
	}

	cond := ""
	if len(where) != 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	err := c.db.QueryRowContext(ctx, c.rebind(
		`SELECT COUNT(*) FROM eml_records`+cond), args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: count: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + recordColumns + ` FROM eml_records` + cond +
		` ` + orderClause(f.SortBy, f.SortDir) + ` LIMIT ? OFFSET ?`
	rows, err := c.db.QueryContext(ctx, c.rebind(query), append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: list: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("catalog: list scan: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("catalog: list: %w", err)
	}
	return recs, total, nil
}

// All returns every record ordered newest-first, for exports. No
// pagination cap applies here.
func (c *Catalog) All(ctx context.Context) ([]Record, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM eml_records ORDER BY stored_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("catalog: all: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: all scan: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// ExpiredBefore lists ids whose retention window closed before now.
// The janitor deletes blobs first and rows after, so a crashed sweep
// is retried on the next tick.
func (c *Catalog) ExpiredBefore(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, c.rebind(
		`SELECT id FROM eml_records WHERE expires_at < ?`), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("catalog: expired: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("catalog: expired scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DomainCount is one row of the per-sender-domain aggregation.
type DomainCount struct {
	Domain string
	Count  int
}

// DomainCounts aggregates records per from_domain, busiest first. limit
// <= 0 means 20.
func (c *Catalog) DomainCounts(ctx context.Context, limit int) ([]DomainCount, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := c.db.QueryContext(ctx, c.rebind(
		`SELECT from_domain, COUNT(*) FROM eml_records GROUP BY from_domain
		 ORDER BY COUNT(*) DESC, from_domain ASC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: domains: %w", err)
	}
	defer rows.Close()

	var counts []DomainCount
	for rows.Next() {
		var dc DomainCount
		if err := rows.Scan(&dc.Domain, &dc.Count); err != nil {
			return nil, fmt.Errorf("catalog: domains scan: %w", err)
		}
		counts = append(counts, dc)
	}
	return counts, rows.Err()
}

type Stats struct {
	TotalRecords  int
	UniqueDomains int
	OldestStored  time.Time
	NewestStored  time.Time
}

func (c *Catalog) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT from_domain) FROM eml_records`).
		Scan(&st.TotalRecords, &st.UniqueDomains)
	if err != nil {
		return Stats{}, fmt.Errorf("catalog: stats: %w", err)
	}
	if st.TotalRecords == 0 {
		return st, nil
	}

	// Selecting the column directly instead of MIN()/MAX() keeps the
	// declared column type visible to the driver so stored_at scans
	// back as time.Time on every supported driver.
	err = c.db.QueryRowContext(ctx,
		`SELECT stored_at FROM eml_records ORDER BY stored_at ASC LIMIT 1`).
		Scan(&st.OldestStored)
	if err != nil {
		return Stats{}, fmt.Errorf("catalog: stats: %w", err)
	}
	err = c.db.QueryRowContext(ctx,
		`SELECT stored_at FROM eml_records ORDER BY stored_at DESC LIMIT 1`).
		Scan(&st.NewestStored)
	if err != nil {
		return Stats{}, fmt.Errorf("catalog: stats: %w", err)
	}
	return st, nil
}
