package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/publication-pipeline/internal/types"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS articles (
	id       BIGSERIAL PRIMARY KEY,
	title    TEXT NOT NULL,
	authors  TEXT NOT NULL,
	date_pub TEXT NOT NULL,
	source   TEXT NOT NULL,
	journal  TEXT NOT NULL,
	abstract TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS fact_publications (
	id                 BIGSERIAL PRIMARY KEY,
	title              TEXT NOT NULL,
	authors            TEXT NOT NULL,
	date_pub           TEXT NOT NULL,
	source             TEXT NOT NULL,
	journal            TEXT NOT NULL,
	abstract           TEXT NOT NULL,
	quartile           TEXT NOT NULL,
	country            TEXT NOT NULL,
	impact_score       DOUBLE PRECISION NOT NULL,
	citations          INTEGER NOT NULL,
	generated_keywords TEXT[] NOT NULL,
	etl_timestamp      TIMESTAMPTZ NOT NULL
);
`

// Postgres is a Store backed by a PostgreSQL connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres establishes a connection pool and applies the schema.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

func (p *Postgres) Insert(ctx context.Context, rec types.PublicationRecord) (string, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO articles (title, authors, date_pub, source, journal, abstract)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		rec.Title, rec.Authors, rec.DatePub, string(rec.Source), rec.Journal, rec.Abstract,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return "", ErrDuplicate
		}
		return "", fmt.Errorf("failed to insert record: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

func (p *Postgres) DuplicateGroups(ctx context.Context) ([]DuplicateGroup, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT title, array_agg(id ORDER BY id), array_agg(source ORDER BY id)
		 FROM articles
		 GROUP BY title
		 HAVING COUNT(*) > 1
		 ORDER BY MIN(id)`)
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicate titles: %w", err)
	}
	defer rows.Close()

	var groups []DuplicateGroup
	for rows.Next() {
		var title string
		var ids []int64
		var sources []string
		if err := rows.Scan(&title, &ids, &sources); err != nil {
			return nil, fmt.Errorf("failed to scan duplicate group: %w", err)
		}
		g := DuplicateGroup{Title: title}
		for i, id := range ids {
			g.IDs = append(g.IDs, strconv.FormatInt(id, 10))
			g.Sources = append(g.Sources, types.Source(sources[i]))
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read duplicate groups: %w", err)
	}
	return groups, nil
}

func (p *Postgres) DeleteIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	numeric := make([]int64, len(ids))
	for i, id := range ids {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid postgres id %q: %w", id, err)
		}
		numeric[i] = n
	}

	result, err := p.pool.Exec(ctx, `DELETE FROM articles WHERE id = ANY($1)`, numeric)
	if err != nil {
		return 0, fmt.Errorf("failed to delete records: %w", err)
	}
	return result.RowsAffected(), nil
}

func (p *Postgres) EnsureUniqueTitleIndex(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS `+TitleIndex+` ON articles (title)`)
	if err != nil {
		return fmt.Errorf("failed to create unique title index: %w", err)
	}
	return nil
}

// postgresFilter appends the optional source filter and limit to query.
func postgresFilter(query string, filter Filter) (string, []any) {
	args := []any{}
	argNum := 1

	if filter.Source != "" {
		query += fmt.Sprintf(" WHERE source = $%d", argNum)
		args = append(args, string(filter.Source))
		argNum++
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
	}
	return query, args
}

func (p *Postgres) List(ctx context.Context, filter Filter) ([]types.StoredRecord, error) {
	query, args := postgresFilter(
		`SELECT id, title, authors, date_pub, source, journal, abstract FROM articles`, filter)

	rows, err := p.pool.Query(ctx, query, args...)
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

func (p *Postgres) Count(ctx context.Context, filter Filter) (int64, error) {
	query := `SELECT COUNT(*) FROM articles`
	args := []any{}
	if filter.Source != "" {
		query += ` WHERE source = $1`
		args = append(args, string(filter.Source))
	}

	var n int64
	if err := p.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

var factColumns = []string{
	"title", "authors", "date_pub", "source", "journal", "abstract", "quartile", "country",
	"impact_score", "citations", "generated_keywords", "etl_timestamp",
}

func (p *Postgres) ReplaceEnriched(ctx context.Context, recs []types.EnrichedRecord) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin fact rebuild: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `TRUNCATE fact_publications RESTART IDENTITY`); err != nil {
		return fmt.Errorf("failed to clear fact table: %w", err)
	}

	rows := make([][]any, len(recs))
	for i, r := range recs {
		keywords := r.GeneratedKeywords
		if keywords == nil {
			keywords = []string{}
		}
		rows[i] = []any{
			r.Title, r.Authors, r.DatePub, string(r.Source), r.Journal, r.Abstract,
			r.Quartile, r.Country, r.ImpactScore, r.Citations, keywords, r.ETLTimestamp,
		}
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{FactTable}, factColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("failed to copy fact rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit fact rebuild: %w", err)
	}
	return nil
}

func (p *Postgres) ListEnriched(ctx context.Context, filter Filter) ([]types.EnrichedRecord, error) {
	query, args := postgresFilter(
		`SELECT title, authors, date_pub, source, journal, abstract, quartile, country,
		        impact_score, citations, generated_keywords, etl_timestamp
		 FROM fact_publications`, filter)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list enriched records: %w", err)
	}
	defer rows.Close()

	records := []types.EnrichedRecord{}
	for rows.Next() {
		var r types.EnrichedRecord
		var source string
		if err := rows.Scan(&r.Title, &r.Authors, &r.DatePub, &source, &r.Journal, &r.Abstract,
			&r.Quartile, &r.Country, &r.ImpactScore, &r.Citations, &r.GeneratedKeywords, &r.ETLTimestamp); err != nil {
			return nil, fmt.Errorf("failed to scan enriched record: %w", err)
		}
		r.Source = types.Source(source)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read enriched records: %w", err)
	}
	return records, nil
}

func (p *Postgres) Drop(ctx context.Context) error {
	stmts := []string{
		`DROP INDEX IF EXISTS ` + TitleIndex,
		`TRUNCATE articles, fact_publications RESTART IDENTITY`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to drop data: %w", err)
		}
	}
	return nil
}
