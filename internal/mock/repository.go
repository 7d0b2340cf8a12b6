package mock

import (
	"context"

	"jobsite-crawler/internal/storage"
)

var _ storage.Repository = (*Repository)(nil)

// Repository is a mock implementation of storage.Repository.
type Repository struct {
	FindByKeyFn func(ctx context.Context, site, url string) (*storage.JobListing, error)
	UpsertFn    func(ctx context.Context, listing *storage.JobListing) (*storage.JobListing, error)
	QueryFn     func(ctx context.Context, f storage.Filter) ([]*storage.JobListing, error)
	CloseFn     func() error
}

func (r *Repository) FindByKey(ctx context.Context, site, url string) (*storage.JobListing, error) {
	return r.FindByKeyFn(ctx, site, url)
}

func (r *Repository) Upsert(ctx context.Context, listing *storage.JobListing) (*storage.JobListing, error) {
	return r.UpsertFn(ctx, listing)
}

func (r *Repository) Query(ctx context.Context, f storage.Filter) ([]*storage.JobListing, error) {
	return r.QueryFn(ctx, f)
}

func (r *Repository) Close() error {
	if r.CloseFn == nil {
		return nil
	}
	return r.CloseFn()
}
