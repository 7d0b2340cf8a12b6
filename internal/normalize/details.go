package normalize

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	salaryShortRe = regexp.MustCompile(`(?i)\$\d{1,3}k(?:\s*-\s*\$\d{1,3}k)?(?:\s*(?:per|a|/)\s*(?:year|yr|month|mo|hour|hr|annum))?`)
	salaryLongRe  = regexp.MustCompile(`(?i)\$\s*\d{1,3}(?:,\d{3})*(?:\s*-\s*\$\s*\d{1,3}(?:,\d{3})*)?(?:\s*(?:per|a|/)\s*(?:year|yr|month|mo|hour|hr|annum))?`)

	emailRe    = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phoneRe    = regexp.MustCompile(`(?:\+\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)
	linkedinRe = regexp.MustCompile(`linkedin\.com/(?:in|company)/[A-Za-z0-9_-]+`)
	websiteRe  = regexp.MustCompile(`https?://(?:[A-Za-z0-9][-A-Za-z0-9]*\.)+[A-Za-z]{2,}(?:/[^\s]*)?`)
)

var socialDomains = []string{"linkedin.com", "twitter.com", "x.com", "facebook.com", "instagram.com"}

// Details: сведения, которые удалось вытащить из текста описания.
type Details struct {
	Salary         string
	Contact        string
	CompanyWebsite string
}

// ExtractDetails ищет зарплату, контакты и сайт компании.
// siteHost: домен самой доски объявлений, его ссылки не считаются сайтом компании.
func ExtractDetails(text, siteHost string) Details {
	return Details{
		Salary:         extractSalary(text),
		Contact:        extractContact(text),
		CompanyWebsite: extractWebsite(text, siteHost),
	}
}

func extractSalary(text string) string {
	if m := salaryShortRe.FindString(text); m != "" {
		return strings.TrimSpace(m)
	}
	return strings.TrimSpace(salaryLongRe.FindString(text))
}

func extractContact(text string) string {
	var parts []string
	seen := make(map[string]bool)
	add := func(items []string) {
		for _, it := range items {
			it = strings.TrimSpace(it)
			if it != "" && !seen[it] {
				seen[it] = true
				parts = append(parts, it)
			}
		}
	}

	add(emailRe.FindAllString(text, -1))
	add(phoneRe.FindAllString(text, -1))
	add(linkedinRe.FindAllString(text, -1))

	return strings.Join(parts, ", ")
}

func extractWebsite(text, siteHost string) string {
	siteHost = strings.TrimPrefix(strings.ToLower(siteHost), "www.")

	for _, raw := range websiteRe.FindAllString(text, -1) {
		raw = strings.TrimRight(raw, ".,;:)]\"'")
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		if siteHost != "" && sameDomain(host, siteHost) {
			continue
		}
		social := false
		for _, d := range socialDomains {
			if sameDomain(host, d) {
				social = true
				break
			}
		}
		if !social {
			return raw
		}
	}
	return ""
}

func sameDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}
