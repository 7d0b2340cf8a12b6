// Package storagetest содержит общий набор проверок для реализаций storage.Repository.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobsite-crawler/internal/storage"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func listing(id, site, url, title string, seen time.Time) *storage.JobListing {
	return &storage.JobListing{
		ID:        id,
		Site:      site,
		URL:       url,
		Title:     title,
		Company:   "Acme",
		FirstSeen: seen,
		LastSeen:  seen,
	}
}

// RunRepositoryTests проверяет контракт FindByKey/Upsert/Query.
func RunRepositoryTests(t *testing.T, newRepo func(t *testing.T) storage.Repository) {
	t.Helper()
	ctx := context.Background()

	t.Run("find missing returns ErrNotFound", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.FindByKey(ctx, "site", "https://example.com/none")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("upsert inserts and finds", func(t *testing.T) {
		repo := newRepo(t)
		posted := base.AddDate(0, 0, -2)
		in := listing("id-1", "Site", "https://example.com/1", "Go Developer", base)
		in.PostedDate = &posted
		in.Description = "Write Go"

		stored, err := repo.Upsert(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, "id-1", stored.ID)

		got, err := repo.FindByKey(ctx, "Site", "https://example.com/1")
		require.NoError(t, err)
		assert.Equal(t, "Go Developer", got.Title)
		assert.Equal(t, "Write Go", got.Description)
		require.NotNil(t, got.PostedDate)
		assert.True(t, posted.Equal(*got.PostedDate))
		assert.True(t, base.Equal(got.FirstSeen))
	})

	t.Run("upsert on existing key keeps id and first seen", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Upsert(ctx, listing("id-1", "Site", "https://example.com/1", "Go Developer", base))
		require.NoError(t, err)

		later := base.Add(time.Hour)
		second := listing("id-2", "Site", "https://example.com/1", "Go Developer", later)
		second.FirstSeen = later
		stored, err := repo.Upsert(ctx, second)
		require.NoError(t, err)

		assert.Equal(t, "id-1", stored.ID)
		assert.True(t, base.Equal(stored.FirstSeen))
		assert.True(t, later.Equal(stored.LastSeen))

		all, err := repo.Query(ctx, storage.Filter{})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("same url on different sites are distinct", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Upsert(ctx, listing("a", "A", "https://example.com/1", "Go", base))
		require.NoError(t, err)
		_, err = repo.Upsert(ctx, listing("b", "B", "https://example.com/1", "Go", base))
		require.NoError(t, err)

		all, err := repo.Query(ctx, storage.Filter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("query filters compose", func(t *testing.T) {
		repo := newRepo(t)
		seed := []*storage.JobListing{
			listing("1", "Indeed", "https://i/1", "Senior GO Engineer", base),
			listing("2", "Indeed", "https://i/2", "Python Developer", base.Add(time.Minute)),
			listing("3", "RemoteOK", "https://r/1", "golang backend", base.Add(2*time.Minute)),
			listing("4", "indeed", "https://i/3", "Go Engineer", base.Add(3*time.Minute)),
		}
		seed[1].Company = "Globex"
		seed[0].JobType, seed[2].JobType = "Full-Time", "Contract"
		seed[0].Location, seed[2].Location, seed[3].Location = "Berlin, DE", "Remote", "berlin"
		for _, l := range seed {
			_, err := repo.Upsert(ctx, l)
			require.NoError(t, err)
		}

		tests := []struct {
			name   string
			filter storage.Filter
			want   []string
		}{
			{name: "no filter newest first", filter: storage.Filter{}, want: []string{"4", "3", "2", "1"}},
			{name: "site exact", filter: storage.Filter{Site: "Indeed"}, want: []string{"2", "1"}},
			{name: "keyword case-insensitive", filter: storage.Filter{Keyword: "go"}, want: []string{"4", "3", "1"}},
			{name: "site and keyword", filter: storage.Filter{Site: "Indeed", Keyword: "go"}, want: []string{"1"}},
			{name: "limit", filter: storage.Filter{Limit: 2}, want: []string{"4", "3"}},
			{name: "offset", filter: storage.Filter{Offset: 3}, want: []string{"1"}},
			{name: "limit and offset", filter: storage.Filter{Limit: 1, Offset: 1}, want: []string{"3"}},
			{name: "no match", filter: storage.Filter{Keyword: "rust"}, want: nil},
			{name: "company substring", filter: storage.Filter{Company: "glob"}, want: []string{"2"}},
			{name: "job type case-insensitive", filter: storage.Filter{JobType: "full-time"}, want: []string{"1"}},
			{name: "location substring", filter: storage.Filter{Location: "BERLIN"}, want: []string{"4", "1"}},
			{name: "location and keyword", filter: storage.Filter{Location: "berlin", Keyword: "senior"}, want: []string{"1"}},
			{name: "company and site", filter: storage.Filter{Site: "RemoteOK", Company: "acme"}, want: []string{"3"}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := repo.Query(ctx, tt.filter)
				require.NoError(t, err)
				var ids []string
				for _, l := range got {
					ids = append(ids, l.ID)
				}
				assert.Equal(t, tt.want, ids)
			})
		}
	})
}
