package algorithm

import "context"

// Repository persists algorithm configurations. Writes run inside the
// caller's context transaction when one is present.
type Repository interface {
	List(ctx context.Context) ([]*Algorithm, error)
	GetByLabel(ctx context.Context, label string) (*Algorithm, error)
	GetDefault(ctx context.Context) (*Algorithm, error)
	// Create inserts a new algorithm; ErrConflict when the label exists.
	Create(ctx context.Context, a *Algorithm) error
	// Update replaces the stored config for a.Label in full, passes
	// included. ErrNotFound when the label is unknown.
	Update(ctx context.Context, a *Algorithm) error
	Delete(ctx context.Context, label string) error
	// ClearDefault demotes the current default, if any.
	ClearDefault(ctx context.Context) error
}
