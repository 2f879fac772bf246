package oidc

import (
	"context"

	"github.com/jonboulle/clockwork"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Resolver resolves and caches provider discovery metadata. Cached entries
// are immutable and never expire on their own; Refresh is the only way to
// re-fetch. A Resolver is owned by the caller's client instance rather than
// being process global, so isolated instances can be built for tests.
type Resolver struct {
	cache  *gocache.Cache
	logger *zap.Logger
	clock  clockwork.Clock
	group  singleflight.Group
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the logger handed to providers resolved through this
// Resolver. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// WithClock sets the clock handed to providers resolved through this
// Resolver. Useful for tests.
func WithClock(clock clockwork.Clock) ResolverOption {
	return func(r *Resolver) { r.clock = clock }
}

// NewResolver returns an empty Resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		cache:  gocache.New(gocache.NoExpiration, 0),
		logger: zap.NewNop(),
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the provider for the given issuer, fetching its discovery
// document on first use. Concurrent resolutions of the same issuer share a
// single fetch.
func (r *Resolver) Resolve(ctx context.Context, issuer string) (*Provider, error) {
	if v, ok := r.cache.Get(issuer); ok {
		return v.(*Provider), nil
	}
	v, err, _ := r.group.Do(issuer, func() (interface{}, error) {
		if v, ok := r.cache.Get(issuer); ok {
			return v.(*Provider), nil
		}
		p, err := newProvider(ctx, issuer, r.logger, r.clock)
		if err != nil {
			return nil, err
		}
		r.cache.SetDefault(issuer, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Provider), nil
}

// Refresh re-fetches the issuer's discovery document and replaces the cached
// entry. Providers previously returned by Resolve are unaffected; callers
// holding one keep a consistent, if stale, view.
func (r *Resolver) Refresh(ctx context.Context, issuer string) (*Provider, error) {
	p, err := newProvider(ctx, issuer, r.logger, r.clock)
	if err != nil {
		return nil, err
	}
	r.cache.SetDefault(issuer, p)
	return p, nil
}
