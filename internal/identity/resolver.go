// Package identity maps every known alias of a person (email, legacy
// username, canonical ID) to exactly one canonical profile ID and caches
// the canonical profile's attributes. The mapping is many-to-one: a
// canonical ID owns many aliases, but an alias resolves to exactly one
// canonical ID. Unresolvable aliases resolve to themselves so downstream
// code always has a usable key.
package identity

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/venuelab/confmirror/internal/cachestore"
	"github.com/venuelab/confmirror/internal/venue"
)

// Resolver resolves aliases against an in-memory mapping loaded from the
// cache store and grown by Refresh/Fetch. Not safe for concurrent use; the
// sync engine and the assembler run single-threaded by design.
type Resolver struct {
	store  *cachestore.Store
	client venue.Client
	log    *zap.Logger

	mapping map[string]string
}

// NewResolver loads the persisted alias mapping and returns a resolver.
// client may be nil for cache-only use (graph assembly).
func NewResolver(store *cachestore.Store, client venue.Client, log *zap.Logger) (*Resolver, error) {
	if log == nil {
		log = zap.NewNop()
	}
	mapping, err := store.GetIdentityMap()
	if err != nil {
		return nil, err
	}
	return &Resolver{
		store:   store,
		client:  client,
		log:     log,
		mapping: mapping,
	}, nil
}

// Resolve maps an alias to its canonical profile ID. Never fails: an alias
// with no known profile resolves to itself.
func (r *Resolver) Resolve(alias string) string {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return alias
	}
	if canonical, ok := r.mapping[alias]; ok && canonical != "" {
		return canonical
	}
	return alias
}

// Refresh batch-checks the given aliases against the remote and returns
// the canonical IDs whose profile snapshot is stale (remote modification
// time newer than the cached one, or no cached snapshot at all). As a side
// effect every reachable alias is merged into the alias mapping, whether
// or not the profile itself changed. Individual lookup failures are logged
// and skipped; they never abort the batch.
func (r *Resolver) Refresh(ctx context.Context, aliases []string) ([]string, error) {
	changed := map[string]struct{}{}
	checked := map[string]struct{}{}
	for _, alias := range aliases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		alias = strings.TrimSpace(alias)
		if alias == "" {
			continue
		}
		profile, err := r.client.GetProfile(ctx, alias)
		if errors.Is(err, venue.ErrNotFound) {
			// Known degradation: the alias becomes its own canonical
			// ID with no attributes behind it.
			r.mapping[alias] = alias
			r.log.Warn("alias has no profile, resolving to itself", zap.String("alias", alias))
			continue
		}
		if err != nil {
			r.log.Warn("profile lookup failed", zap.String("alias", alias), zap.Error(err))
			continue
		}
		r.merge(profile)
		if _, done := checked[profile.ID]; done {
			continue
		}
		checked[profile.ID] = struct{}{}
		cached, err := r.store.GetProfile(profile.ID)
		if errors.Is(err, cachestore.ErrNotFound) || (err == nil && profile.TMDate > cached.TMDate) {
			changed[profile.ID] = struct{}{}
		}
	}
	out := make([]string, 0, len(changed))
	for id := range changed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Fetch re-fetches one profile by alias, persists the snapshot, and merges
// its aliases into the mapping. When withPublications is set the profile's
// published records are fetched and stored alongside it.
func (r *Resolver) Fetch(ctx context.Context, alias string, withPublications bool) error {
	profile, err := r.client.GetProfile(ctx, alias)
	if errors.Is(err, venue.ErrNotFound) {
		r.mapping[alias] = alias
		return err
	}
	if err != nil {
		return err
	}
	r.merge(profile)

	stored := cachestore.StoredProfile{Profile: profile}
	if withPublications {
		pubs, err := r.client.ListAllNotes(ctx, venue.NoteQuery{ContentAuthorID: profile.ID})
		if err != nil {
			return err
		}
		stored.Publications = pubs
	} else if cached, err := r.store.GetProfile(profile.ID); err == nil {
		// Metadata-only refresh keeps the previously cached publications.
		stored.Publications = cached.Publications
	}
	return r.store.PutProfile(stored)
}

// Snapshot returns the cached attributes for a canonical ID. ok is false
// when no snapshot exists, which is how self-resolved aliases read.
func (r *Resolver) Snapshot(canonicalID string) (cachestore.StoredProfile, bool) {
	profile, err := r.store.GetProfile(canonicalID)
	if err != nil {
		return cachestore.StoredProfile{}, false
	}
	return profile, true
}

// Mapping returns a copy of the current alias → canonical-ID mapping.
func (r *Resolver) Mapping() map[string]string {
	out := make(map[string]string, len(r.mapping))
	for alias, canonical := range r.mapping {
		out[alias] = canonical
	}
	return out
}

// SaveMapping persists the current mapping through the cache store.
func (r *Resolver) SaveMapping() error {
	return r.store.PutIdentityMap(r.mapping)
}

func (r *Resolver) merge(profile venue.Profile) {
	for _, alias := range profile.Aliases() {
		alias = strings.TrimSpace(alias)
		if alias == "" {
			continue
		}
		r.mapping[alias] = profile.ID
	}
}
