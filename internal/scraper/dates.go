package scraper

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var (
	// "3 days ago", "30+ days ago", "1 week ago", "5h", "2d"
	relativeRe = regexp.MustCompile(`^(\d+)\+?\s*(minutes?|mins?|m|hours?|hrs?|h|days?|d|weeks?|w|months?|mo)\b(\s+ago)?`)

	// Префиксы, которые сайты ставят перед датой
	datePrefixes = []string{"posted on", "posted", "published", "active", "employer", "updated"}

	todayWords     = []string{"today", "just posted", "just now", "new"}
	yesterdayWords = []string{"yesterday"}
)

// DateParser разбирает дату публикации в best-effort режиме.
type DateParser struct {
	now func() time.Time
}

func NewDateParser() *DateParser {
	return &DateParser{now: time.Now}
}

// NewDateParserAt фиксирует "сейчас" (для тестов и повторяемых прогонов).
func NewDateParserAt(now func() time.Time) *DateParser {
	return &DateParser{now: now}
}

// Parse возвращает nil, если строку не удалось разобрать.
func (dp *DateParser) Parse(raw string) *time.Time {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return nil
	}

	for _, p := range datePrefixes {
		if strings.HasPrefix(s, p) {
			s = strings.TrimSpace(strings.TrimPrefix(s, p))
			s = strings.TrimSpace(strings.TrimPrefix(s, ":"))
			break
		}
	}

	now := dp.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	for _, w := range todayWords {
		if s == w || strings.HasPrefix(s, w+" ") {
			return &midnight
		}
	}
	for _, w := range yesterdayWords {
		if strings.Contains(s, w) {
			t := midnight.AddDate(0, 0, -1)
			return &t
		}
	}

	if m := relativeRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			if t, ok := subtract(now, n, m[2]); ok {
				return &t
			}
		}
	}

	if t, err := dateparse.ParseIn(strings.TrimSpace(raw), time.UTC); err == nil {
		t = t.UTC()
		return &t
	}
	if s != strings.TrimSpace(raw) {
		// после срезания префикса
		if t, err := dateparse.ParseIn(s, time.UTC); err == nil {
			t = t.UTC()
			return &t
		}
	}

	return nil
}

func subtract(now time.Time, n int, unit string) (time.Time, bool) {
	switch {
	case unit == "mo" || strings.HasPrefix(unit, "month"):
		return now.AddDate(0, 0, -30*n), true
	case unit == "m" || strings.HasPrefix(unit, "min"):
		return now.Add(-time.Duration(n) * time.Minute), true
	case unit == "h" || strings.HasPrefix(unit, "h"):
		return now.Add(-time.Duration(n) * time.Hour), true
	case unit == "d" || strings.HasPrefix(unit, "day"):
		return now.AddDate(0, 0, -n), true
	case unit == "w" || strings.HasPrefix(unit, "week"):
		return now.AddDate(0, 0, -7*n), true
	}
	return time.Time{}, false
}
