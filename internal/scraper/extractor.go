package scraper

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractionError: разметку не удалось разобрать вообще.
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Extractor достаёт записи из страницы листинга по селекторам профиля.
// Не хранит состояния: одинаковая разметка даёт одинаковый результат.
type Extractor struct {
	profile SiteProfile
}

func NewExtractor(profile SiteProfile) *Extractor {
	return &Extractor{profile: profile}
}

// Extract возвращает по записи на каждый контейнер в порядке документа.
// Поля ищутся только внутри своего контейнера; отсутствующее поле даёт пустую строку.
func (e *Extractor) Extract(markup, pageURL string) (records []RawListing, err error) {
	defer func() {
		// goquery/cascadia могут паниковать на совсем битых деревьях
		if r := recover(); r != nil {
			records = nil
			err = &ExtractionError{URL: pageURL, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, &ExtractionError{URL: pageURL, Err: fmt.Errorf("failed to parse HTML: %w", err)}
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, &ExtractionError{URL: pageURL, Err: fmt.Errorf("invalid page URL: %w", err)}
	}

	sel := e.profile.Selectors
	if sel.Container == "" {
		return nil, nil
	}

	doc.Find(sel.Container).Each(func(i int, s *goquery.Selection) {
		records = append(records, RawListing{
			Title:          firstText(s, sel.Title),
			Company:        firstText(s, sel.Company),
			JobType:        firstText(s, sel.JobType),
			Location:       firstText(s, sel.Location),
			SourceURL:      pageURL,
			DescriptionURL: firstLink(s, sel.DescriptionLink, base),
			PostedDateRaw:  firstText(s, sel.PostedDate),
			Site:           e.profile.Name,
		})
	})

	return records, nil
}

// CountContainers сообщает, сколько контейнеров нашлось в разметке.
func CountContainers(markup, containerSelector string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return 0
	}
	return doc.Find(containerSelector).Length()
}

func firstText(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return collapseSpaces(s.Find(selector).First().Text())
}

// firstLink берёт href первого совпадения (или первой ссылки внутри него)
// и делает его абсолютным относительно страницы.
func firstLink(s *goquery.Selection, selector string, base *url.URL) string {
	if selector == "" {
		return ""
	}

	match := s.Find(selector).First()
	if match.Length() == 0 {
		return ""
	}

	href, ok := match.Attr("href")
	if !ok {
		href, ok = match.Find("a[href]").First().Attr("href")
	}
	if !ok {
		return ""
	}

	return ResolveURL(base, href)
}

// ResolveURL делает ссылку абсолютной и убирает якорь.
func ResolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}

	abs := ref
	if base != nil {
		abs = base.ResolveReference(ref)
	}
	abs.Fragment = ""
	return abs.String()
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
