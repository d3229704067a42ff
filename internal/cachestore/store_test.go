package cachestore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/venuelab/confmirror/internal/venue"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	return store
}

func TestSubmissionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	sub := Submission{
		Note: venue.Note{
			ID:          "sub1",
			Number:      7,
			Invitations: []string{"V/-/Submission"},
			TCDate:      100,
			TMDate:      200,
			Content: venue.Content{
				"title":     {Value: "A Study"},
				"authorids": {Value: []any{"~Alice_Smith1"}},
			},
		},
	}
	if err := store.PutSubmission(sub); err != nil {
		t.Fatalf("put submission failed: %v", err)
	}
	got, err := store.GetSubmission("sub1")
	if err != nil {
		t.Fatalf("get submission failed: %v", err)
	}
	if got.Number != 7 || got.TMDate != 200 {
		t.Fatalf("unexpected submission after round trip: %+v", got)
	}
	if got.Content.String("title") != "A Study" {
		t.Fatalf("expected title to survive round trip, got %q", got.Content.String("title"))
	}
}

func TestGetSubmissionMissingReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetSubmission("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListSubmissionsSkipsCorruptAndAuxiliaryFiles(t *testing.T) {
	store := newTestStore(t)
	for _, id := range []string{"sub2", "sub1"} {
		if err := store.PutSubmission(Submission{Note: venue.Note{ID: id, TCDate: 1, TMDate: 1}}); err != nil {
			t.Fatalf("put %s failed: %v", id, err)
		}
	}
	dir := filepath.Join(store.Root(), "submissions")
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt file failed: %v", err)
	}
	if err := store.PutReversedIDs("withdrawals", []string{"sub9"}); err != nil {
		t.Fatalf("put reversed ids failed: %v", err)
	}

	subs, err := store.ListSubmissions()
	if err != nil {
		t.Fatalf("list submissions failed: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected corrupt and underscore files to be skipped, got %d records", len(subs))
	}
	if subs[0].ID != "sub1" || subs[1].ID != "sub2" {
		t.Fatalf("expected sorted IDs, got %s, %s", subs[0].ID, subs[1].ID)
	}
}

func TestCursorLifecycle(t *testing.T) {
	store := newTestStore(t)
	cursor, err := store.Cursor()
	if err != nil {
		t.Fatalf("cursor read failed: %v", err)
	}
	if cursor != 0 {
		t.Fatalf("expected zero cursor before first sync, got %d", cursor)
	}
	if err := store.SetCursor(12345); err != nil {
		t.Fatalf("set cursor failed: %v", err)
	}
	cursor, err = store.Cursor()
	if err != nil {
		t.Fatalf("cursor reread failed: %v", err)
	}
	if cursor != 12345 {
		t.Fatalf("expected persisted cursor 12345, got %d", cursor)
	}
}

func TestGroupSnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)
	snapshot := map[string]venue.Group{
		"V/Reviewers":          {ID: "V/Reviewers", Members: []string{"~A1"}, TMDate: 10},
		"V/Reviewers/Invited":  {ID: "V/Reviewers/Invited", Members: []string{"~A1", "b@x.org"}, TMDate: 10},
		"V/Reviewers/Declined": {ID: "V/Reviewers/Declined", Members: []string{"b@x.org"}, TMDate: 11},
	}
	if err := store.PutGroupSnapshot("Reviewers", snapshot); err != nil {
		t.Fatalf("put group snapshot failed: %v", err)
	}
	all, err := store.ListGroupSnapshots()
	if err != nil {
		t.Fatalf("list group snapshots failed: %v", err)
	}
	got, ok := all["Reviewers"]
	if !ok {
		t.Fatalf("expected Reviewers snapshot, got roles %v", all)
	}
	if len(got["V/Reviewers/Invited"].Members) != 2 {
		t.Fatalf("unexpected invited members: %+v", got["V/Reviewers/Invited"])
	}
}

func TestMergedAssignmentsUnionsRoles(t *testing.T) {
	store := newTestStore(t)
	if err := store.PutAssignments("area_chairs", map[string][]string{"sub1": {"~AC1"}}); err != nil {
		t.Fatalf("put ac assignments failed: %v", err)
	}
	if err := store.PutAssignments("senior_area_chairs", map[string][]string{"sub1": {"~SAC1"}, "sub2": {"~SAC2"}}); err != nil {
		t.Fatalf("put sac assignments failed: %v", err)
	}
	merged, err := store.MergedAssignments()
	if err != nil {
		t.Fatalf("merged assignments failed: %v", err)
	}
	if len(merged["sub1"]) != 2 {
		t.Fatalf("expected sub1 to carry assignees from both roles, got %v", merged["sub1"])
	}
	if len(merged["sub2"]) != 1 || merged["sub2"][0] != "~SAC2" {
		t.Fatalf("unexpected sub2 assignees: %v", merged["sub2"])
	}
}

func TestReversedIDsMissingFileReadsEmpty(t *testing.T) {
	store := newTestStore(t)
	set, err := store.GetReversedIDs("withdrawals")
	if err != nil {
		t.Fatalf("get reversed ids failed: %v", err)
	}
	if len(set) != 0 {
		t.Fatalf("expected empty set, got %v", set)
	}
	if err := store.PutReversedIDs("withdrawals", []string{"sub2", "sub1"}); err != nil {
		t.Fatalf("put reversed ids failed: %v", err)
	}
	set, err = store.GetReversedIDs("withdrawals")
	if err != nil {
		t.Fatalf("get reversed ids after put failed: %v", err)
	}
	if _, ok := set["sub1"]; !ok {
		t.Fatalf("expected sub1 in reversed set, got %v", set)
	}
}

func TestIdentityMapRoundTrip(t *testing.T) {
	store := newTestStore(t)
	mapping, err := store.GetIdentityMap()
	if err != nil {
		t.Fatalf("get identity map failed: %v", err)
	}
	if len(mapping) != 0 {
		t.Fatalf("expected empty mapping before first save, got %v", mapping)
	}
	in := map[string]string{
		"alice@example.com": "~Alice_Smith1",
		"~Alice_Smith1":     "~Alice_Smith1",
	}
	if err := store.PutIdentityMap(in); err != nil {
		t.Fatalf("put identity map failed: %v", err)
	}
	mapping, err = store.GetIdentityMap()
	if err != nil {
		t.Fatalf("get identity map after put failed: %v", err)
	}
	if mapping["alice@example.com"] != "~Alice_Smith1" {
		t.Fatalf("unexpected mapping: %v", mapping)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	store := newTestStore(t)
	profile := StoredProfile{
		Profile: venue.Profile{
			ID:     "~Alice_Smith1",
			TMDate: 99,
			Emails: []string{"alice@example.com"},
			Names:  []string{"~Alice_Smith1"},
		},
		Publications: []venue.Note{{ID: "pub1", TCDate: 5, TMDate: 5}},
	}
	if err := store.PutProfile(profile); err != nil {
		t.Fatalf("put profile failed: %v", err)
	}
	got, err := store.GetProfile("~Alice_Smith1")
	if err != nil {
		t.Fatalf("get profile failed: %v", err)
	}
	if got.TMDate != 99 || len(got.Publications) != 1 {
		t.Fatalf("unexpected profile after round trip: %+v", got)
	}
}

func TestMetadataBackendFromDSN(t *testing.T) {
	backend, err := BuildMetadataBackendFromDSN("")
	if err != nil || backend != nil {
		t.Fatalf("expected empty DSN to yield nil backend, got %v, %v", backend, err)
	}
	backend, err = BuildMetadataBackendFromDSN("memory://")
	if err != nil {
		t.Fatalf("memory DSN failed: %v", err)
	}
	if _, ok := backend.(*InMemoryMetadataBackend); !ok {
		t.Fatalf("expected in-memory backend, got %T", backend)
	}
	backend, err = BuildMetadataBackendFromDSN("postgres://user:pw@localhost/db")
	if err != nil {
		t.Fatalf("postgres DSN failed: %v", err)
	}
	if _, ok := backend.(*PostgresMetadataBackend); !ok {
		t.Fatalf("expected postgres backend, got %T", backend)
	}
	if _, err = BuildMetadataBackendFromDSN("sqlite:///tmp/x.db"); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented for sqlite, got %v", err)
	}
	if _, err = BuildMetadataBackendFromDSN("bogus://x"); err == nil {
		t.Fatalf("expected error for unknown scheme")
	}
}

func TestInMemoryMetadataBackendClones(t *testing.T) {
	backend := NewInMemoryMetadataBackend()
	meta := &Metadata{LastUpdateTimestamp: 1}
	if err := backend.Save(meta); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	meta.LastUpdateTimestamp = 99
	loaded, err := backend.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.LastUpdateTimestamp != 1 {
		t.Fatalf("expected snapshot isolation, got %d", loaded.LastUpdateTimestamp)
	}
}
