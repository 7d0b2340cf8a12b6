package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobsite-crawler/internal/observability"
	"jobsite-crawler/internal/storage"
)

var _ storage.Repository = (*Repository)(nil)

const schema = `
	CREATE TABLE IF NOT EXISTS job_listings (
		id TEXT PRIMARY KEY,
		site TEXT NOT NULL,
		url TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL DEFAULT '',
		job_type TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		source_url TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		posted_date_raw TEXT NOT NULL DEFAULT '',
		posted_date TIMESTAMPTZ,
		salary_info TEXT NOT NULL DEFAULT '',
		contact_info TEXT NOT NULL DEFAULT '',
		company_website TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL DEFAULT '',
		first_seen TIMESTAMPTZ NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL,
		UNIQUE (site, url)
	);
	CREATE INDEX IF NOT EXISTS idx_job_listings_last_seen ON job_listings (last_seen DESC);
`

type Repository struct {
	db             *pgxpool.Pool
	commandTimeout time.Duration
	logger         *observability.Logger
}

func NewRepository(ctx context.Context, connString string, commandTimeout time.Duration, logger *observability.Logger) (*Repository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database url: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if logger == nil {
		logger = observability.NewNopLogger()
	}

	return &Repository{db: pool, commandTimeout: commandTimeout, logger: logger}, nil
}

func (r *Repository) FindByKey(ctx context.Context, site, url string) (*storage.JobListing, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	row := r.db.QueryRow(ctx,
		`SELECT `+storage.Columns+` FROM job_listings WHERE site = $1 AND url = $2`, site, url)

	l, err := storage.ScanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query database: %w", err)
	}
	return l, nil
}

func (r *Repository) Upsert(ctx context.Context, l *storage.JobListing) (*storage.JobListing, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	query := `
		INSERT INTO job_listings (` + storage.Columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (site, url) DO UPDATE SET
			title = EXCLUDED.title,
			company = EXCLUDED.company,
			job_type = EXCLUDED.job_type,
			location = EXCLUDED.location,
			source_url = EXCLUDED.source_url,
			description = EXCLUDED.description,
			posted_date_raw = EXCLUDED.posted_date_raw,
			posted_date = EXCLUDED.posted_date,
			salary_info = EXCLUDED.salary_info,
			contact_info = EXCLUDED.contact_info,
			company_website = EXCLUDED.company_website,
			content_hash = EXCLUDED.content_hash,
			last_seen = EXCLUDED.last_seen
		RETURNING ` + storage.Columns

	row := r.db.QueryRow(ctx, query,
		l.ID, l.Site, l.URL, l.Title, l.Company, l.JobType, l.Location, l.SourceURL,
		l.Description, l.PostedDateRaw, storage.NullTime(l.PostedDate), l.SalaryInfo,
		l.ContactInfo, l.CompanyWebsite, l.ContentHash, l.FirstSeen.UTC(), l.LastSeen.UTC(),
	)

	stored, err := storage.ScanListing(row)
	if err != nil {
		return nil, fmt.Errorf("failed to execute upsert: %w", err)
	}
	return stored, nil
}

func (r *Repository) Query(ctx context.Context, f storage.Filter) ([]*storage.JobListing, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	var (
		q    strings.Builder
		args []any
	)
	q.WriteString(`SELECT ` + storage.Columns + ` FROM job_listings WHERE TRUE`)
	if f.Site != "" {
		args = append(args, f.Site)
		fmt.Fprintf(&q, ` AND site = $%d`, len(args))
	}
	for _, m := range f.TextMatches() {
		args = append(args, m.Value)
		fmt.Fprintf(&q, ` AND strpos(lower(%s), lower($%d)) > 0`, m.Column, len(args))
	}
	q.WriteString(` ORDER BY last_seen DESC, site, url`)
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&q, ` LIMIT $%d`, len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		fmt.Fprintf(&q, ` OFFSET $%d`, len(args))
	}

	rows, err := r.db.Query(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query database: %w", err)
	}
	defer rows.Close()

	var out []*storage.JobListing
	for rows.Next() {
		l, err := storage.ScanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *Repository) Close() error {
	if r.db != nil {
		r.db.Close()
	}
	return nil
}
