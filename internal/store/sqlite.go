package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/jonathan/publication-pipeline/internal/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS articles (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	title    TEXT NOT NULL,
	authors  TEXT NOT NULL,
	date_pub TEXT NOT NULL,
	source   TEXT NOT NULL,
	journal  TEXT NOT NULL,
	abstract TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS fact_publications (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	title              TEXT NOT NULL,
	authors            TEXT NOT NULL,
	date_pub           TEXT NOT NULL,
	source             TEXT NOT NULL,
	journal            TEXT NOT NULL,
	abstract           TEXT NOT NULL,
	quartile           TEXT NOT NULL,
	country            TEXT NOT NULL,
	impact_score       REAL NOT NULL,
	citations          INTEGER NOT NULL,
	generated_keywords TEXT NOT NULL,
	etl_timestamp      TEXT NOT NULL
);
`

// SQLite is a Store backed by a local SQLite file (or an in-memory database).
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Insert(ctx context.Context, rec types.PublicationRecord) (string, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO articles (title, authors, date_pub, source, journal, abstract)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Title, rec.Authors, rec.DatePub, string(rec.Source), rec.Journal, rec.Abstract,
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return "", ErrDuplicate
		}
		return "", fmt.Errorf("failed to insert record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("failed to read inserted id: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

func isSQLiteUnique(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	code := serr.Code()
	if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(serr.Error(), "UNIQUE")
}

func (s *SQLite) DuplicateGroups(ctx context.Context) ([]DuplicateGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, source FROM articles
		 WHERE title IN (SELECT title FROM articles GROUP BY title HAVING COUNT(*) > 1)
		 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicate titles: %w", err)
	}
	defer rows.Close()

	var collected []groupRow
	for rows.Next() {
		var id int64
		var r groupRow
		var source string
		if err := rows.Scan(&id, &r.title, &source); err != nil {
			return nil, fmt.Errorf("failed to scan duplicate row: %w", err)
		}
		r.id = strconv.FormatInt(id, 10)
		r.source = types.Source(source)
		collected = append(collected, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read duplicate rows: %w", err)
	}
	return groupRows(collected), nil
}

func (s *SQLite) DeleteIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	var deleted int64
	// Chunked to stay under SQLite's bound-parameter limit.
	for start := 0; start < len(ids); start += 500 {
		end := min(start+500, len(ids))
		chunk := ids[start:end]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			n, err := strconv.ParseInt(id, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid sqlite id %q: %w", id, err)
			}
			args[i] = n
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

		res, err := tx.ExecContext(ctx, `DELETE FROM articles WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to delete records: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete: %w", err)
	}
	return deleted, nil
}

func (s *SQLite) EnsureUniqueTitleIndex(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS `+TitleIndex+` ON articles (title)`)
	if err != nil {
		return fmt.Errorf("failed to create unique title index: %w", err)
	}
	return nil
}

func sqliteWhere(filter Filter) (string, []any) {
	query := ""
	var args []any
	if filter.Source != "" {
		query += " WHERE source = ?"
		args = append(args, string(filter.Source))
	}
	return query, args
}

func sqliteLimit(filter Filter) string {
	if filter.Limit > 0 {
		return fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return ""
}

func (s *SQLite) List(ctx context.Context, filter Filter) ([]types.StoredRecord, error) {
	where, args := sqliteWhere(filter)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, authors, date_pub, source, journal, abstract FROM articles`+
			where+` ORDER BY id`+sqliteLimit(filter),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := []types.StoredRecord{}
	for rows.Next() {
		var id int64
		var rec types.StoredRecord
		var source string
		if err := rows.Scan(&id, &rec.Title, &rec.Authors, &rec.DatePub, &source, &rec.Journal, &rec.Abstract); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.ID = strconv.FormatInt(id, 10)
		rec.Source = types.Source(source)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return records, nil
}

func (s *SQLite) Count(ctx context.Context, filter Filter) (int64, error) {
	where, args := sqliteWhere(filter)
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func (s *SQLite) ReplaceEnriched(ctx context.Context, recs []types.EnrichedRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin fact rebuild: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM fact_publications`); err != nil {
		return fmt.Errorf("failed to clear fact table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO fact_publications
		 (title, authors, date_pub, source, journal, abstract, quartile, country,
		  impact_score, citations, generated_keywords, etl_timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare fact insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		keywords, err := json.Marshal(r.GeneratedKeywords)
		if err != nil {
			return fmt.Errorf("failed to encode keywords: %w", err)
		}
		_, err = stmt.ExecContext(ctx,
			r.Title, r.Authors, r.DatePub, string(r.Source), r.Journal, r.Abstract,
			r.Quartile, r.Country, r.ImpactScore, r.Citations, string(keywords),
			r.ETLTimestamp.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("failed to insert fact row %q: %w", r.Title, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fact rebuild: %w", err)
	}
	return nil
}

func (s *SQLite) ListEnriched(ctx context.Context, filter Filter) ([]types.EnrichedRecord, error) {
	where, args := sqliteWhere(filter)
	rows, err := s.db.QueryContext(ctx,
		`SELECT title, authors, date_pub, source, journal, abstract, quartile, country,
		        impact_score, citations, generated_keywords, etl_timestamp
		 FROM fact_publications`+where+` ORDER BY id`+sqliteLimit(filter),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list enriched records: %w", err)
	}
	defer rows.Close()

	records := []types.EnrichedRecord{}
	for rows.Next() {
		var r types.EnrichedRecord
		var source, keywords, stamp string
		if err := rows.Scan(&r.Title, &r.Authors, &r.DatePub, &source, &r.Journal, &r.Abstract,
			&r.Quartile, &r.Country, &r.ImpactScore, &r.Citations, &keywords, &stamp); err != nil {
			return nil, fmt.Errorf("failed to scan enriched record: %w", err)
		}
		r.Source = types.Source(source)
		if err := json.Unmarshal([]byte(keywords), &r.GeneratedKeywords); err != nil {
			return nil, fmt.Errorf("failed to decode keywords for %q: %w", r.Title, err)
		}
		if r.ETLTimestamp, err = time.Parse(time.RFC3339Nano, stamp); err != nil {
			return nil, fmt.Errorf("failed to parse etl timestamp for %q: %w", r.Title, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read enriched records: %w", err)
	}
	return records, nil
}

func (s *SQLite) Drop(ctx context.Context) error {
	stmts := []string{
		`DROP INDEX IF EXISTS ` + TitleIndex,
		`DELETE FROM articles`,
		`DELETE FROM fact_publications`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to drop data: %w", err)
		}
	}
	return nil
}
