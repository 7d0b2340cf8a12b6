// Package sqlite хранит вакансии во встроенной SQLite (без cgo).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

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
		posted_date TEXT,
		salary_info TEXT NOT NULL DEFAULT '',
		contact_info TEXT NOT NULL DEFAULT '',
		company_website TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL DEFAULT '',
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL,
		UNIQUE (site, url)
	);

	CREATE INDEX IF NOT EXISTS idx_job_listings_last_seen ON job_listings(last_seen);
`

type Repository struct {
	db             *sql.DB
	commandTimeout time.Duration
	logger         *observability.Logger
}

// NewRepository открывает базу и создаёт схему. ":memory:" открывает базу в памяти.
func NewRepository(path string, commandTimeout time.Duration, logger *observability.Logger) (*Repository, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite допускает одного писателя
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pragmas := []string{"PRAGMA busy_timeout = 5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if commandTimeout <= 0 {
		commandTimeout = 5 * time.Second
	}

	return &Repository{db: db, commandTimeout: commandTimeout, logger: logger}, nil
}

func (r *Repository) FindByKey(ctx context.Context, site, url string) (*storage.JobListing, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx,
		`SELECT `+storage.Columns+` FROM job_listings WHERE site = ? AND url = ?`, site, url)

	l, err := scanListing(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (site, url) DO UPDATE SET
			title = excluded.title,
			company = excluded.company,
			job_type = excluded.job_type,
			location = excluded.location,
			source_url = excluded.source_url,
			description = excluded.description,
			posted_date_raw = excluded.posted_date_raw,
			posted_date = excluded.posted_date,
			salary_info = excluded.salary_info,
			contact_info = excluded.contact_info,
			company_website = excluded.company_website,
			content_hash = excluded.content_hash,
			last_seen = excluded.last_seen
		RETURNING ` + storage.Columns

	var posted any
	if l.PostedDate != nil {
		posted = formatTime(*l.PostedDate)
	}

	row := r.db.QueryRowContext(ctx, query,
		l.ID, l.Site, l.URL, l.Title, l.Company, l.JobType, l.Location, l.SourceURL,
		l.Description, l.PostedDateRaw, posted, l.SalaryInfo, l.ContactInfo,
		l.CompanyWebsite, l.ContentHash, formatTime(l.FirstSeen), formatTime(l.LastSeen),
	)

	stored, err := scanListing(row)
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
	q.WriteString(`SELECT ` + storage.Columns + ` FROM job_listings WHERE 1=1`)
	if f.Site != "" {
		q.WriteString(` AND site = ?`)
		args = append(args, f.Site)
	}
	for _, m := range f.TextMatches() {
		fmt.Fprintf(&q, ` AND instr(lower(%s), lower(?)) > 0`, m.Column)
		args = append(args, m.Value)
	}
	q.WriteString(` ORDER BY last_seen DESC, site, url`)
	if f.Limit > 0 {
		q.WriteString(` LIMIT ?`)
		args = append(args, f.Limit)
	} else if f.Offset > 0 {
		q.WriteString(` LIMIT -1`)
	}
	if f.Offset > 0 {
		q.WriteString(` OFFSET ?`)
		args = append(args, f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query database: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("Failed to close rows", "error", err.Error())
		}
	}()

	var out []*storage.JobListing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Close закрывает соединение с БД
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Время храним текстом: так порядок строк совпадает с порядком времени.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value, field string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %s: %w", field, err)
	}
	return t.UTC(), nil
}

func scanListing(row storage.RowScanner) (*storage.JobListing, error) {
	var (
		l                   storage.JobListing
		posted              sql.NullString
		firstSeen, lastSeen string
	)
	err := row.Scan(
		&l.ID, &l.Site, &l.URL, &l.Title, &l.Company, &l.JobType, &l.Location,
		&l.SourceURL, &l.Description, &l.PostedDateRaw, &posted,
		&l.SalaryInfo, &l.ContactInfo, &l.CompanyWebsite, &l.ContentHash,
		&firstSeen, &lastSeen,
	)
	if err != nil {
		return nil, err
	}

	if l.FirstSeen, err = parseTime(firstSeen, "first_seen"); err != nil {
		return nil, err
	}
	if l.LastSeen, err = parseTime(lastSeen, "last_seen"); err != nil {
		return nil, err
	}
	if posted.Valid && posted.String != "" {
		t, err := parseTime(posted.String, "posted_date")
		if err != nil {
			return nil, err
		}
		l.PostedDate = &t
	}
	return &l, nil
}
