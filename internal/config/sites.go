package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"

	"jobsite-crawler/internal/scraper"
)

// ConfigError: некорректный профиль сайта. Фатальна только для этого сайта.
type ConfigError struct {
	Site   string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("site %q: %s", e.Site, e.Reason)
	}
	return fmt.Sprintf("site %q: %s: %s", e.Site, e.Field, e.Reason)
}

type sitesFile struct {
	Sites []scraper.SiteProfile `yaml:"sites"`
}

// LoadSites загружает профили сайтов из отдельного YAML файла.
func LoadSites(filePath string) ([]scraper.SiteProfile, error) {
	if filePath == "" {
		return nil, fmt.Errorf("sites file path is empty")
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read sites file %s: %w", filePath, err)
	}

	var f sitesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse sites YAML: %w", err)
	}

	return f.Sites, nil
}

// ValidateSite проверяет профиль до первого запроса к сайту.
func ValidateSite(p scraper.SiteProfile) error {
	if strings.TrimSpace(p.Name) == "" {
		return &ConfigError{Site: p.Name, Field: "name", Reason: "is required"}
	}

	if p.Pagination.Enabled {
		if p.Pagination.Pattern == "" {
			return &ConfigError{Site: p.Name, Field: "pagination.pattern", Reason: "is required when pagination is enabled"}
		}
		if !strings.Contains(p.Pagination.Pattern, scraper.PagePlaceholder) {
			return &ConfigError{Site: p.Name, Field: "pagination.pattern", Reason: "must contain " + scraper.PagePlaceholder}
		}
		if p.Pagination.MaxPages < 0 {
			return &ConfigError{Site: p.Name, Field: "pagination.max_pages", Reason: "must be >= 0"}
		}
		if err := checkAbsoluteURL(p.Name, "pagination.pattern", p.PageURL(1)); err != nil {
			return err
		}
	} else {
		if p.ListingURL == "" {
			return &ConfigError{Site: p.Name, Field: "job_listings_url", Reason: "is required"}
		}
		if err := checkAbsoluteURL(p.Name, "job_listings_url", p.ListingURL); err != nil {
			return err
		}
	}

	if p.BaseURL != "" {
		if err := checkAbsoluteURL(p.Name, "base_url", p.BaseURL); err != nil {
			return err
		}
	}

	if p.Selectors.Container == "" {
		return &ConfigError{Site: p.Name, Field: "selectors.job_container", Reason: "is required"}
	}

	// Остальные селекторы необязательны, но если заданы, должны компилироваться.
	fields := []struct {
		name, value string
	}{
		{"selectors.job_container", p.Selectors.Container},
		{"selectors.job_title", p.Selectors.Title},
		{"selectors.company_name", p.Selectors.Company},
		{"selectors.job_type", p.Selectors.JobType},
		{"selectors.location", p.Selectors.Location},
		{"selectors.description_link", p.Selectors.DescriptionLink},
		{"selectors.description_selector", p.Selectors.DescriptionBody},
		{"selectors.posted_date", p.Selectors.PostedDate},
		{"selectors.description_hop", p.Selectors.DescriptionHop},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if _, err := cascadia.Compile(f.value); err != nil {
			return &ConfigError{Site: p.Name, Field: f.name, Reason: fmt.Sprintf("invalid selector %q: %v", f.value, err)}
		}
	}

	return nil
}

func checkAbsoluteURL(site, field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &ConfigError{Site: site, Field: field, Reason: fmt.Sprintf("invalid URL: %v", err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return &ConfigError{Site: site, Field: field, Reason: "must be an absolute http(s) URL"}
	}
	return nil
}

// validateSites заполняет SiteErrors, не прерывая загрузку остальных сайтов.
func (c *Config) validateSites() {
	c.SiteErrors = make(map[int]error)
	seen := make(map[string]bool)

	for i, s := range c.Sites {
		key := s.Name
		if strings.TrimSpace(key) == "" {
			key = fmt.Sprintf("sites[%d]", i)
		}

		lower := strings.ToLower(key)
		if seen[lower] {
			c.SiteErrors[i] = &ConfigError{Site: key, Field: "name", Reason: "duplicate site name"}
			continue
		}
		seen[lower] = true

		if err := ValidateSite(s); err != nil {
			c.SiteErrors[i] = err
		}
	}
}
