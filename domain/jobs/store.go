package jobs

import "context"

// Store persists job records. Implementations bump Version and
// UpdatedAt on every successful Create or Update.
type Store interface {
	// Create stores a new record, failing with ErrAlreadyExists on id reuse
	Create(ctx context.Context, rec *Record) error

	// Get returns a copy of the record or ErrNotFound
	Get(ctx context.Context, id string) (*Record, error)

	// Update applies fn to the latest copy of the record and persists it.
	// An error from fn aborts the update and is returned unchanged.
	Update(ctx context.Context, id string, fn func(*Record) error) (*Record, error)

	// List returns every record ordered by creation time
	List(ctx context.Context) ([]*Record, error)

	// ReplaceActive applies cancel to every Enqueued or Running record
	// sharing rec.Key, then creates rec, under a single lock. It returns
	// the ids of the replaced records.
	ReplaceActive(ctx context.Context, rec *Record, cancel func(*Record) error) ([]string, error)
}
