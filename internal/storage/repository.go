package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound: записи с таким ключом нет.
var ErrNotFound = errors.New("job listing not found")

// JobListing: сохранённая вакансия. Ключ: пара (Site, URL).
type JobListing struct {
	ID             string
	Site           string
	URL            string // абсолютная ссылка на вакансию
	Title          string
	Company        string
	JobType        string
	Location       string
	SourceURL      string // страница листинга
	Description    string
	PostedDateRaw  string
	PostedDate     *time.Time
	SalaryInfo     string
	ContactInfo    string
	CompanyWebsite string
	ContentHash    string
	FirstSeen      time.Time
	LastSeen       time.Time
}

// Filter: условия выборки. Пустые поля не фильтруют.
type Filter struct {
	Site    string // точное совпадение
	Keyword string // подстрока заголовка без учёта регистра
	// подстроки соответствующих полей без учёта регистра
	Company  string
	JobType  string
	Location string
	Limit    int
	Offset   int
}

// TextMatch: условие "колонка содержит подстроку".
type TextMatch struct {
	Column string // имя колонки в job_listings
	Value  string
}

// TextMatches: непустые подстрочные условия фильтра в фиксированном порядке.
func (f Filter) TextMatches() []TextMatch {
	var out []TextMatch
	for _, m := range []TextMatch{
		{Column: "title", Value: f.Keyword},
		{Column: "company", Value: f.Company},
		{Column: "job_type", Value: f.JobType},
		{Column: "location", Value: f.Location},
	} {
		if m.Value != "" {
			out = append(out, m)
		}
	}
	return out
}

// Field отдаёт значение колонки по имени из TextMatch.
func (l *JobListing) Field(column string) string {
	switch column {
	case "title":
		return l.Title
	case "company":
		return l.Company
	case "job_type":
		return l.JobType
	case "location":
		return l.Location
	}
	return ""
}

// Repository интерфейс для работы с хранилищем вакансий
type Repository interface {
	// FindByKey возвращает ErrNotFound, если записи нет
	FindByKey(ctx context.Context, site, url string) (*JobListing, error)

	// Upsert вставляет запись или обновляет существующую по (Site, URL).
	// ID и FirstSeen существующей записи сохраняются.
	Upsert(ctx context.Context, listing *JobListing) (*JobListing, error)

	// Query отдаёт записи по фильтру, новые по LastSeen первыми
	Query(ctx context.Context, f Filter) ([]*JobListing, error)

	Close() error
}

// Columns: порядок колонок, общий для SQL-реализаций.
const Columns = `id, site, url, title, company, job_type, location, source_url, description,
	posted_date_raw, posted_date, salary_info, contact_info, company_website, content_hash,
	first_seen, last_seen`

// RowScanner: *sql.Row, *sql.Rows или pgx.Row.
type RowScanner interface {
	Scan(dest ...any) error
}

// ScanListing читает строку в порядке Columns.
func ScanListing(row RowScanner) (*JobListing, error) {
	var (
		l          JobListing
		postedDate sql.NullTime
	)
	err := row.Scan(
		&l.ID, &l.Site, &l.URL, &l.Title, &l.Company, &l.JobType, &l.Location,
		&l.SourceURL, &l.Description, &l.PostedDateRaw, &postedDate,
		&l.SalaryInfo, &l.ContactInfo, &l.CompanyWebsite, &l.ContentHash,
		&l.FirstSeen, &l.LastSeen,
	)
	if err != nil {
		return nil, err
	}
	if postedDate.Valid {
		t := postedDate.Time.UTC()
		l.PostedDate = &t
	}
	l.FirstSeen = l.FirstSeen.UTC()
	l.LastSeen = l.LastSeen.UTC()
	return &l, nil
}

// NullTime переводит nullable дату в значение для драйвера.
func NullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
