package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"jobsite-crawler/internal/storage"
)

var _ storage.Repository = (*Repository)(nil)

// Repository хранит вакансии в памяти процесса. Подходит для oneshot-запусков и тестов.
type Repository struct {
	mu    sync.RWMutex
	items map[string]*storage.JobListing
}

func NewRepository() *Repository {
	return &Repository{items: make(map[string]*storage.JobListing)}
}

func (r *Repository) FindByKey(ctx context.Context, site, url string) (*storage.JobListing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.items[storage.Key(site, url)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (r *Repository) Upsert(ctx context.Context, listing *storage.JobListing) (*storage.JobListing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := storage.Key(listing.Site, listing.URL)
	stored := *listing
	if existing, ok := r.items[key]; ok {
		stored.ID = existing.ID
		stored.FirstSeen = existing.FirstSeen
	}
	r.items[key] = &stored

	cp := stored
	return &cp, nil
}

func (r *Repository) Query(ctx context.Context, f storage.Filter) ([]*storage.JobListing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	matches := f.TextMatches()
	var out []*storage.JobListing
	for _, l := range r.items {
		if f.Site != "" && l.Site != f.Site {
			continue
		}
		if !matchesAll(l, matches) {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		if out[i].Site != out[j].Site {
			return out[i].Site < out[j].Site
		}
		return out[i].URL < out[j].URL
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *Repository) Close() error { return nil }

func matchesAll(l *storage.JobListing, matches []storage.TextMatch) bool {
	for _, m := range matches {
		if !strings.Contains(strings.ToLower(l.Field(m.Column)), strings.ToLower(m.Value)) {
			return false
		}
	}
	return true
}
