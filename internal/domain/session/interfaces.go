package session

import "context"

// Repository persists whole states by scope key. Load returns
// repository.ErrNotFound when nothing is stored.
type Repository interface {
	Load(ctx context.Context, key string) (*State, error)
	Save(ctx context.Context, key string, st *State) error
	Delete(ctx context.Context, key string) error
}
