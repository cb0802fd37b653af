package backend

import (
	"context"
	"io"
	"time"

	"github.com/tierstore/tierstore/internal/circuit"
	"github.com/tierstore/tierstore/pkg/types"
)

// guarded wraps an Adapter so every backend call runs under a circuit
// breaker. PublicURL is purely local string assembly and stays unguarded.
type guarded struct {
	inner   Adapter
	breaker *circuit.Breaker
}

// WithBreaker wraps an adapter with a circuit breaker named after its tier.
func WithBreaker(inner Adapter, cfg circuit.Config) Adapter {
	return &guarded{
		inner:   inner,
		breaker: circuit.New(inner.Tier().String(), cfg),
	}
}

func (g *guarded) Tier() types.TierID { return g.inner.Tier() }

func (g *guarded) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	return g.breaker.Do(ctx, func(ctx context.Context) error {
		return g.inner.Put(ctx, key, body, size, contentType)
	})
}

func (g *guarded) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		rc, err = g.inner.Get(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rc, nil
}

func (g *guarded) Delete(ctx context.Context, key string) error {
	return g.breaker.Do(ctx, func(ctx context.Context) error {
		return g.inner.Delete(ctx, key)
	})
}

func (g *guarded) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	var url string
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		url, err = g.inner.Presign(ctx, key, ttl)
		return err
	})
	return url, err
}

func (g *guarded) PublicURL(key string) (string, error) {
	return g.inner.PublicURL(key)
}

func (g *guarded) List(ctx context.Context, prefix string, pageSize int, cursor string) (*ListPage, error) {
	var page *ListPage
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		page, err = g.inner.List(ctx, prefix, pageSize, cursor)
		return err
	})
	return page, err
}
