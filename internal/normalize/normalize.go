package normalize

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/markusmobius/go-trafilatura"
	"golang.org/x/net/html"
)

var spacesRe = regexp.MustCompile(`[ \t\f\r]+`)
var blankLinesRe = regexp.MustCompile(`\n\s*\n+`)

// noise: блоки, которые не относятся к тексту вакансии
const noise = "script, style, noscript, nav, footer, header, form, iframe, .ads, [class*='advertisement'], [class*='cookie']"

// Description извлекает текст описания вакансии со страницы.
// Если селектор не задан или ничего не нашёл, основной контент
// определяется эвристикой trafilatura.
func Description(markup, bodySelector string) string {
	if bodySelector != "" {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
		if err == nil {
			body := doc.Find(bodySelector).First()
			if body.Length() > 0 {
				if text := cleanSelection(body); text != "" {
					return text
				}
			}
		}
	}

	contentHTML, err := MainContent(markup)
	if err != nil || contentHTML == "" {
		return ""
	}
	return CleanHTML(contentHTML)
}

// MainContent возвращает HTML основного блока страницы.
func MainContent(markup string) (string, error) {
	if strings.TrimSpace(markup) == "" {
		return "", nil
	}

	result, err := trafilatura.Extract(strings.NewReader(markup), trafilatura.Options{
		EnableFallback: true,
	})
	if err != nil {
		return "", err
	}
	if result.ContentNode == nil {
		return "", nil
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, result.ContentNode); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// CleanHTML парсит фрагмент HTML и возвращает очищенный текст.
func CleanHTML(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	return cleanSelection(doc.Selection)
}

func cleanSelection(sel *goquery.Selection) string {
	sel = sel.Clone()
	sel.Find(noise).Remove()

	// Абзацы и переносы сохраняем как перевод строки
	sel.Find("br").ReplaceWithHtml("\n")
	sel.Find("p, li, h1, h2, h3, h4, h5, h6, div, tr").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	text := sel.Text()

	// Заменяем NBSP на обычный пробел
	text = strings.ReplaceAll(text, "\u00A0", " ")
	text = spacesRe.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	text = strings.Join(lines, "\n")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// TruncatePreview обрезает текст до maxChars символов по границе слова.
func TruncatePreview(text string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}

	runes := []rune(text)
	truncated := string(runes[:maxChars-1])
	// Находим последний пробел перед лимитом
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > 0 {
		return truncated[:lastSpace] + "…"
	}
	return truncated + "…"
}
