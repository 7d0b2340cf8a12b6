package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"jobsite-crawler/internal/observability"
	"jobsite-crawler/internal/storage"
)

var _ storage.Repository = (*Repository)(nil)

// колонки TextMatch в схеме TblJobListings
var mssqlColumns = map[string]string{
	"title":    "[Title]",
	"company":  "[Company]",
	"job_type": "[JobType]",
	"location": "[Location]",
}

const selectColumns = `CONVERT(NVARCHAR(36), [ID]), [Site], [URL], [Title], [Company], [JobType], [Location],
	[SourceURL], [Description], [PostedDateRaw], [PostedDate], [SalaryInfo], [ContactInfo],
	[CompanyWebsite], [ContentHash], [FirstSeen], [LastSeen]`

const schema = `
IF OBJECT_ID(N'TblJobListings', N'U') IS NULL
CREATE TABLE TblJobListings (
	[ID] UNIQUEIDENTIFIER NOT NULL PRIMARY KEY,
	[Site] NVARCHAR(200) NOT NULL,
	[URL] NVARCHAR(850) NOT NULL,
	[Title] NVARCHAR(1000) NOT NULL DEFAULT '',
	[Company] NVARCHAR(500) NOT NULL DEFAULT '',
	[JobType] NVARCHAR(200) NOT NULL DEFAULT '',
	[Location] NVARCHAR(500) NOT NULL DEFAULT '',
	[SourceURL] NVARCHAR(2000) NOT NULL DEFAULT '',
	[Description] NVARCHAR(MAX) NOT NULL DEFAULT '',
	[PostedDateRaw] NVARCHAR(200) NOT NULL DEFAULT '',
	[PostedDate] DATETIME2 NULL,
	[SalaryInfo] NVARCHAR(500) NOT NULL DEFAULT '',
	[ContactInfo] NVARCHAR(2000) NOT NULL DEFAULT '',
	[CompanyWebsite] NVARCHAR(2000) NOT NULL DEFAULT '',
	[ContentHash] NVARCHAR(64) NOT NULL DEFAULT '',
	[FirstSeen] DATETIME2 NOT NULL,
	[LastSeen] DATETIME2 NOT NULL,
	CONSTRAINT UQ_TblJobListings_Site_URL UNIQUE ([Site], [URL])
);
`

type Repository struct {
	db             *sql.DB
	commandTimeout time.Duration
	logger         *observability.Logger
}

func NewRepository(dsn string, commandTimeout time.Duration, logger *observability.Logger) (*Repository, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Тестируем соединение
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if logger == nil {
		logger = observability.NewNopLogger()
	}

	return &Repository{
		db:             db,
		commandTimeout: commandTimeout,
		logger:         logger,
	}, nil
}

// FindByKey ищет вакансию по (Site, URL)
func (r *Repository) FindByKey(ctx context.Context, site, url string) (*storage.JobListing, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	query := `SELECT ` + selectColumns + ` FROM TblJobListings WHERE [Site] = @Site AND [URL] = @URL`

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer r.closeStmt(stmt)

	l, err := storage.ScanListing(stmt.QueryRowContext(ctx, sql.Named("Site", site), sql.Named("URL", url)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query database: %w", err)
	}
	return l, nil
}

// Upsert сохраняет или обновляет вакансию
func (r *Repository) Upsert(ctx context.Context, l *storage.JobListing) (*storage.JobListing, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	// MERGE statement для MS SQL; HOLDLOCK закрывает гонку между MATCHED и INSERT
	query := `
		MERGE INTO TblJobListings WITH (HOLDLOCK) AS target
		USING (SELECT @Site AS [Site], @URL AS [URL]) AS source
		ON target.[Site] = source.[Site] AND target.[URL] = source.[URL]
		WHEN MATCHED THEN
			UPDATE SET
				[Title] = @Title,
				[Company] = @Company,
				[JobType] = @JobType,
				[Location] = @Location,
				[SourceURL] = @SourceURL,
				[Description] = @Description,
				[PostedDateRaw] = @PostedDateRaw,
				[PostedDate] = @PostedDate,
				[SalaryInfo] = @SalaryInfo,
				[ContactInfo] = @ContactInfo,
				[CompanyWebsite] = @CompanyWebsite,
				[ContentHash] = @ContentHash,
				[LastSeen] = @LastSeen
		WHEN NOT MATCHED THEN
			INSERT ([ID], [Site], [URL], [Title], [Company], [JobType], [Location], [SourceURL],
				[Description], [PostedDateRaw], [PostedDate], [SalaryInfo], [ContactInfo],
				[CompanyWebsite], [ContentHash], [FirstSeen], [LastSeen])
			VALUES (@ID, @Site, @URL, @Title, @Company, @JobType, @Location, @SourceURL,
				@Description, @PostedDateRaw, @PostedDate, @SalaryInfo, @ContactInfo,
				@CompanyWebsite, @ContentHash, @FirstSeen, @LastSeen);
	`

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer r.closeStmt(stmt)

	_, err = stmt.ExecContext(ctx,
		sql.Named("ID", l.ID),
		sql.Named("Site", l.Site),
		sql.Named("URL", l.URL),
		sql.Named("Title", l.Title),
		sql.Named("Company", l.Company),
		sql.Named("JobType", l.JobType),
		sql.Named("Location", l.Location),
		sql.Named("SourceURL", l.SourceURL),
		sql.Named("Description", l.Description),
		sql.Named("PostedDateRaw", l.PostedDateRaw),
		sql.Named("PostedDate", storage.NullTime(l.PostedDate)),
		sql.Named("SalaryInfo", l.SalaryInfo),
		sql.Named("ContactInfo", l.ContactInfo),
		sql.Named("CompanyWebsite", l.CompanyWebsite),
		sql.Named("ContentHash", l.ContentHash),
		sql.Named("FirstSeen", l.FirstSeen.UTC()),
		sql.Named("LastSeen", l.LastSeen.UTC()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to execute upsert: %w", err)
	}

	// Возвращаем строку как она лежит в базе (ID и FirstSeen могли сохраниться)
	return r.FindByKey(ctx, l.Site, l.URL)
}

// Query выбирает вакансии по фильтру
func (r *Repository) Query(ctx context.Context, f storage.Filter) ([]*storage.JobListing, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	var (
		q    strings.Builder
		args []any
	)
	q.WriteString(`SELECT ` + selectColumns + ` FROM TblJobListings WHERE 1=1`)
	if f.Site != "" {
		q.WriteString(` AND [Site] = @Site`)
		args = append(args, sql.Named("Site", f.Site))
	}
	for i, m := range f.TextMatches() {
		param := fmt.Sprintf("Text%d", i)
		fmt.Fprintf(&q, ` AND CHARINDEX(LOWER(@%s), LOWER(%s)) > 0`, param, mssqlColumns[m.Column])
		args = append(args, sql.Named(param, m.Value))
	}
	q.WriteString(` ORDER BY [LastSeen] DESC, [Site], [URL]`)
	if f.Limit > 0 || f.Offset > 0 {
		q.WriteString(` OFFSET @Offset ROWS`)
		args = append(args, sql.Named("Offset", f.Offset))
		if f.Limit > 0 {
			q.WriteString(` FETCH NEXT @Limit ROWS ONLY`)
			args = append(args, sql.Named("Limit", f.Limit))
		}
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
		l, err := storage.ScanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *Repository) closeStmt(stmt *sql.Stmt) {
	if err := stmt.Close(); err != nil {
		r.logger.Error("Failed to close statement", "error", err.Error())
	}
}

// Close закрывает соединение с БД
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
