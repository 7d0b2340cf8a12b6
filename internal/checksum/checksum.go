package checksum

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// ListingFields: поля вакансии, от которых зависит хеш.
type ListingFields struct {
	Title          string
	Company        string
	Location       string
	JobType        string
	DescriptionURL string
}

// GenerateContentHash генерирует xxhash64 карточки вакансии
// Формула: xxhash(title|company|location|job_type|url), 16 hex-символов
func (g *Generator) GenerateContentHash(f ListingFields) string {
	var b strings.Builder
	for i, part := range []string{f.Title, f.Company, f.Location, f.JobType, f.DescriptionURL} {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(strings.TrimSpace(part))
	}

	return fmt.Sprintf("%016x", xxhash.Sum64String(b.String()))
}

// VerifyContentHash проверяет соответствие хеша
func (g *Generator) VerifyContentHash(expectedHash string, f ListingFields) bool {
	return g.GenerateContentHash(f) == expectedHash
}
