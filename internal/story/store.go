package story

import "context"

// Store persists decoded entities. Each story event is written through one
// Batch that is committed or rolled back as a unit.
type Store interface {
	Begin(ctx context.Context) (Batch, error)
}

// Batch is an open unit of work.
type Batch interface {
	// CreateOrUpdate inserts entity or replaces the stored row with the same
	// identity. entity is a pointer to one of the story entity types.
	CreateOrUpdate(ctx context.Context, entity any) error
	Commit() error
	Rollback() error
}
