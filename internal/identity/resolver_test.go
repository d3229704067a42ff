package identity

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/venuelab/confmirror/internal/cachestore"
	"github.com/venuelab/confmirror/internal/venue"
)

type fakeClient struct {
	profiles     map[string]venue.Profile // keyed by any alias
	publications map[string][]venue.Note  // keyed by canonical ID
	failFor      map[string]error
	lookups      int
}

func (c *fakeClient) GetProfile(ctx context.Context, alias string) (venue.Profile, error) {
	c.lookups++
	if err, ok := c.failFor[alias]; ok {
		return venue.Profile{}, err
	}
	profile, ok := c.profiles[alias]
	if !ok {
		return venue.Profile{}, fmt.Errorf("profile %s: %w", alias, venue.ErrNotFound)
	}
	return profile, nil
}

func (c *fakeClient) ListAllNotes(ctx context.Context, q venue.NoteQuery) ([]venue.Note, error) {
	return c.publications[q.ContentAuthorID], nil
}

func (c *fakeClient) ListNotes(ctx context.Context, q venue.NoteQuery) ([]venue.Note, error) {
	return nil, nil
}

func (c *fakeClient) ListGroups(ctx context.Context, prefix string) ([]venue.Group, error) {
	return nil, nil
}

func (c *fakeClient) ListGroupedEdges(ctx context.Context, invitation string) ([]venue.EdgeGroup, error) {
	return nil, nil
}

func (c *fakeClient) ListNoteEdits(ctx context.Context, noteID string) ([]venue.Edit, error) {
	return nil, nil
}

func aliceProfile() venue.Profile {
	return venue.Profile{
		ID:     "~Alice_Smith1",
		TMDate: 100,
		Emails: []string{"alice@example.com"},
		Names:  []string{"~Alice_Smith1", "~A_Smith1"},
	}
}

func newTestResolver(t *testing.T, client venue.Client) (*Resolver, *cachestore.Store) {
	t.Helper()
	store, err := cachestore.NewStore(t.TempDir(), cachestore.Options{})
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	resolver, err := NewResolver(store, client, nil)
	if err != nil {
		t.Fatalf("new resolver failed: %v", err)
	}
	return resolver, store
}

func TestResolveUnknownAliasReturnsItself(t *testing.T) {
	resolver, _ := newTestResolver(t, &fakeClient{})
	if got := resolver.Resolve("stranger@example.com"); got != "stranger@example.com" {
		t.Fatalf("expected self-resolution, got %q", got)
	}
}

func TestRefreshGrowsMappingAndReportsStaleProfiles(t *testing.T) {
	alice := aliceProfile()
	client := &fakeClient{profiles: map[string]venue.Profile{
		"alice@example.com": alice,
		"~Alice_Smith1":     alice,
	}}
	resolver, _ := newTestResolver(t, client)

	changed, err := resolver.Refresh(context.Background(), []string{"alice@example.com", "~Alice_Smith1", "ghost@example.com"})
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if len(changed) != 1 || changed[0] != "~Alice_Smith1" {
		t.Fatalf("expected exactly one stale canonical ID, got %v", changed)
	}
	// Both aliases must now resolve identically, and the ghost to itself.
	if resolver.Resolve("alice@example.com") != "~Alice_Smith1" {
		t.Fatalf("email alias did not resolve to canonical ID")
	}
	if resolver.Resolve("~A_Smith1") != "~Alice_Smith1" {
		t.Fatalf("secondary name alias did not resolve to canonical ID")
	}
	if resolver.Resolve("ghost@example.com") != "ghost@example.com" {
		t.Fatalf("unresolvable alias must resolve to itself")
	}
}

func TestRefreshSkipsUpToDateProfiles(t *testing.T) {
	alice := aliceProfile()
	client := &fakeClient{profiles: map[string]venue.Profile{"~Alice_Smith1": alice}}
	resolver, store := newTestResolver(t, client)
	if err := store.PutProfile(cachestore.StoredProfile{Profile: alice}); err != nil {
		t.Fatalf("seed profile failed: %v", err)
	}

	changed, err := resolver.Refresh(context.Background(), []string{"~Alice_Smith1"})
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if len(changed) != 0 {
		t.Fatalf("expected no stale profiles when tmdate is unchanged, got %v", changed)
	}
}

func TestRefreshToleratesLookupFailure(t *testing.T) {
	client := &fakeClient{
		profiles: map[string]venue.Profile{"~Alice_Smith1": aliceProfile()},
		failFor:  map[string]error{"flaky@example.com": errors.New("connection reset")},
	}
	resolver, _ := newTestResolver(t, client)
	changed, err := resolver.Refresh(context.Background(), []string{"flaky@example.com", "~Alice_Smith1"})
	if err != nil {
		t.Fatalf("refresh must not fail on a single lookup error: %v", err)
	}
	if len(changed) != 1 {
		t.Fatalf("expected the healthy profile to still be reported, got %v", changed)
	}
}

func TestFetchPersistsSnapshotAndPublications(t *testing.T) {
	alice := aliceProfile()
	client := &fakeClient{
		profiles:     map[string]venue.Profile{"alice@example.com": alice},
		publications: map[string][]venue.Note{"~Alice_Smith1": {{ID: "pub1", TCDate: 5, TMDate: 5}}},
	}
	resolver, store := newTestResolver(t, client)

	if err := resolver.Fetch(context.Background(), "alice@example.com", true); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	stored, err := store.GetProfile("~Alice_Smith1")
	if err != nil {
		t.Fatalf("stored profile missing: %v", err)
	}
	if len(stored.Publications) != 1 || stored.Publications[0].ID != "pub1" {
		t.Fatalf("expected publications to be stored, got %+v", stored.Publications)
	}

	snapshot, ok := resolver.Snapshot("~Alice_Smith1")
	if !ok {
		t.Fatalf("expected snapshot for canonical ID")
	}
	if len(snapshot.Emails) != 1 || snapshot.Emails[0] != "alice@example.com" {
		t.Fatalf("snapshot must expose known emails, got %v", snapshot.Emails)
	}
}

func TestFetchWithoutPublicationsKeepsCachedOnes(t *testing.T) {
	alice := aliceProfile()
	client := &fakeClient{profiles: map[string]venue.Profile{"~Alice_Smith1": alice}}
	resolver, store := newTestResolver(t, client)
	if err := store.PutProfile(cachestore.StoredProfile{
		Profile:      venue.Profile{ID: "~Alice_Smith1", TMDate: 50},
		Publications: []venue.Note{{ID: "pub_old", TCDate: 1, TMDate: 1}},
	}); err != nil {
		t.Fatalf("seed profile failed: %v", err)
	}

	if err := resolver.Fetch(context.Background(), "~Alice_Smith1", false); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	stored, err := store.GetProfile("~Alice_Smith1")
	if err != nil {
		t.Fatalf("stored profile missing: %v", err)
	}
	if stored.TMDate != 100 {
		t.Fatalf("expected metadata refresh, got tmdate %d", stored.TMDate)
	}
	if len(stored.Publications) != 1 || stored.Publications[0].ID != "pub_old" {
		t.Fatalf("metadata-only fetch must keep cached publications, got %+v", stored.Publications)
	}
}

func TestMappingSurvivesPersistence(t *testing.T) {
	alice := aliceProfile()
	client := &fakeClient{profiles: map[string]venue.Profile{"alice@example.com": alice}}
	resolver, store := newTestResolver(t, client)
	if _, err := resolver.Refresh(context.Background(), []string{"alice@example.com"}); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if err := resolver.SaveMapping(); err != nil {
		t.Fatalf("save mapping failed: %v", err)
	}

	// A fresh cache-only resolver must see the persisted mapping.
	reloaded, err := NewResolver(store, nil, nil)
	if err != nil {
		t.Fatalf("reload resolver failed: %v", err)
	}
	if reloaded.Resolve("~A_Smith1") != "~Alice_Smith1" {
		t.Fatalf("persisted mapping not visible after reload")
	}
}
