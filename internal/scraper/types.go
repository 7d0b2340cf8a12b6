package scraper

import (
	"strconv"
	"strings"
	"time"
)

// PagePlaceholder подставляется в шаблон пагинации вместо номера страницы.
const PagePlaceholder = "{page_num}"

// SiteProfile: декларативное описание одного сайта с вакансиями.
type SiteProfile struct {
	Name       string     `yaml:"name"`
	Enabled    bool       `yaml:"enabled"`
	BaseURL    string     `yaml:"base_url"`
	ListingURL string     `yaml:"job_listings_url"`
	Pagination Pagination `yaml:"pagination"`
	Selectors  Selectors  `yaml:"selectors"`
}

type Pagination struct {
	Enabled  bool   `yaml:"enabled"`
	Pattern  string `yaml:"pattern"`
	MaxPages int    `yaml:"max_pages"`
}

// Selectors: CSS-селекторы полей. Пустой селектор означает, что поле
// необязательно и всегда извлекается пустым.
type Selectors struct {
	Container       string `yaml:"job_container"`
	Title           string `yaml:"job_title"`
	Company         string `yaml:"company_name"`
	JobType         string `yaml:"job_type"`
	Location        string `yaml:"location"`
	DescriptionLink string `yaml:"description_link"`
	DescriptionBody string `yaml:"description_selector"`
	PostedDate      string `yaml:"posted_date"`
	// DescriptionHop: ссылка на промежуточной странице, за которой
	// находится само описание.
	DescriptionHop string `yaml:"description_hop"`
}

// PageURL строит адрес страницы page (нумерация с 1).
func (p SiteProfile) PageURL(page int) string {
	if !p.Pagination.Enabled {
		return p.ListingURL
	}
	return strings.ReplaceAll(p.Pagination.Pattern, PagePlaceholder, strconv.Itoa(page))
}

// RawListing: запись, извлечённая из одного контейнера на странице.
type RawListing struct {
	Title          string
	Company        string
	JobType        string
	Location       string
	SourceURL      string // страница листинга, где найдена запись
	DescriptionURL string // абсолютная ссылка на вакансию
	PostedDateRaw  string
	Site           string
	ScrapedAt      time.Time
}

// PageError: ошибка одной страницы пагинации.
type PageError struct {
	Page int
	URL  string
	Err  error
}

func (e PageError) Error() string {
	return "page " + strconv.Itoa(e.Page) + " (" + e.URL + "): " + e.Err.Error()
}

func (e PageError) Unwrap() error { return e.Err }
