package backend

import (
	"context"
	"io"
	"time"

	"github.com/tierstore/tierstore/pkg/errors"
	"github.com/tierstore/tierstore/pkg/types"
)

// ObjectInfo describes one object in a listing.
type ObjectInfo struct {
	Key          string    `json:"key"`
	SizeBytes    int64     `json:"size_bytes"`
	LastModified time.Time `json:"last_modified"`
}

// ListPage is one page of a backend listing. Cursor is opaque; pass
// NextCursor back in to continue, an empty NextCursor means the listing is
// complete.
type ListPage struct {
	Objects    []ObjectInfo `json:"objects"`
	NextCursor string       `json:"next_cursor,omitempty"`
	Truncated  bool         `json:"truncated"`
}

// Adapter is the uniform interface over a tier's object store. All methods
// honor context cancellation; implementations bound each call with the
// configured request timeout.
type Adapter interface {
	// Tier reports which tier this adapter serves.
	Tier() types.TierID

	// Put writes an object. size must match the reader's length; backends
	// that require a content length up front rely on it.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error

	// Get opens an object for reading. Returns KindNotFound if the object
	// does not exist. The caller owns closing the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// Presign returns a time-limited URL granting read access to the
	// object. Returns KindInvalidInput if the tier does not support
	// presigning.
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)

	// PublicURL returns a stable unauthenticated URL for the object.
	// Returns KindInvalidInput if the tier has no public surface.
	PublicURL(key string) (string, error)

	// List returns one page of objects under prefix.
	List(ctx context.Context, prefix string, pageSize int, cursor string) (*ListPage, error)
}

// Registry maps tiers to their adapters.
type Registry struct {
	adapters map[types.TierID]Adapter
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[types.TierID]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Tier()] = a
	}
	return r
}

// ForTier returns the adapter serving a tier.
func (r *Registry) ForTier(tier types.TierID) (Adapter, error) {
	a, ok := r.adapters[tier]
	if !ok {
		return nil, errors.Newf(errors.KindInvalidInput, "no backend configured for tier %q", tier).
			WithComponent("backend.registry")
	}
	return a, nil
}

// Tiers lists the tiers with a configured adapter.
func (r *Registry) Tiers() []types.TierID {
	out := make([]types.TierID, 0, len(r.adapters))
	for t := range r.adapters {
		out = append(out, t)
	}
	return out
}
