package cachestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/venuelab/confmirror/internal/venue"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

const (
	submissionsDir = "submissions"
	groupsDir      = "groups"
	assignmentsDir = "assignments"
	tasksDir       = "tasks"
	recruitmentDir = "recruitment"
	profilesDir    = "profiles"

	reducedLoadsFile    = "reduced_loads.json"
	identityMapFile     = "_id_mapping.json"
	officialReviewsFile = "official_reviews.json"
)

// Submission is the cached record for one submission: the remote note plus
// locally backfilled attributes. Soft deletion stays represented by DDate;
// records are never removed from the cache.
type Submission struct {
	venue.Note
	DeskRejectedBy string `json:"desk_rejected_by,omitempty"`
}

// StoredProfile is the cached snapshot for one canonical identity.
type StoredProfile struct {
	venue.Profile
	Publications []venue.Note `json:"publications,omitempty"`
}

// Review is one official review of a submission.
type Review struct {
	Reviewer   string            `json:"reviewer"`
	Rating     *int              `json:"rating,omitempty"`
	Confidence *int              `json:"confidence,omitempty"`
	TCDate     int64             `json:"tcdate,omitempty"`
	TMDate     int64             `json:"tmdate,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// Store is a keyed, file-per-entity JSON store rooted at one directory.
// One record per submission, one document per group role, one mapping
// document per assignment role, one metadata document for the cursor.
// Pure storage; it holds no sync or resolution logic.
type Store struct {
	root     string
	metadata MetadataBackend
}

// Options configures optional Store collaborators.
type Options struct {
	// MetadataBackend overrides where the cursor metadata lives. Defaults
	// to a JSON file inside the cache root.
	MetadataBackend MetadataBackend
}

// NewStore opens (creating if needed) a cache store rooted at dir.
func NewStore(dir string, opts Options) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("%w: cache dir is required", ErrInvalidInput)
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	metadata := opts.MetadataBackend
	if metadata == nil {
		metadata = NewJSONFileMetadataBackend(filepath.Join(dir, "metadata.json"))
	}
	return &Store{root: dir, metadata: metadata}, nil
}

// Root returns the cache root directory.
func (s *Store) Root() string {
	return s.root
}

// Cursor returns the persisted last-successful-sync timestamp in epoch
// milliseconds, or 0 when no prior sync exists.
func (s *Store) Cursor() (int64, error) {
	meta, err := s.metadata.Load()
	if err != nil {
		return 0, err
	}
	if meta == nil {
		return 0, nil
	}
	return meta.LastUpdateTimestamp, nil
}

// SetCursor persists the cursor. Callers only advance it after a fully
// successful, non-dry-run cycle.
func (s *Store) SetCursor(ts int64) error {
	meta, err := s.metadata.Load()
	if err != nil {
		return err
	}
	if meta == nil {
		meta = &Metadata{}
	}
	meta.LastUpdateTimestamp = ts
	return s.metadata.Save(meta)
}

func (s *Store) PutSubmission(sub Submission) error {
	if strings.TrimSpace(sub.ID) == "" {
		return fmt.Errorf("%w: submission id is required", ErrInvalidInput)
	}
	return s.writeJSON(filepath.Join(submissionsDir, entityFileName(sub.ID)), sub)
}

func (s *Store) GetSubmission(id string) (Submission, error) {
	var sub Submission
	err := s.readJSON(filepath.Join(submissionsDir, entityFileName(id)), &sub)
	return sub, err
}

// ListSubmissions returns every cached submission sorted by ID. Unreadable
// or corrupt documents are skipped; a partial cache is better than none.
func (s *Store) ListSubmissions() ([]Submission, error) {
	entries, err := s.listEntityFiles(submissionsDir)
	if err != nil {
		return nil, err
	}
	subs := make([]Submission, 0, len(entries))
	for _, path := range entries {
		var sub Submission
		if err := readJSONFile(path, &sub); err != nil {
			continue
		}
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs, nil
}

// PutGroupSnapshot fully replaces the snapshot for one committee role. The
// document maps group ID to its membership, covering the base group and its
// Invited/Declined variants.
func (s *Store) PutGroupSnapshot(role string, groups map[string]venue.Group) error {
	if strings.TrimSpace(role) == "" {
		return fmt.Errorf("%w: role is required", ErrInvalidInput)
	}
	return s.writeJSON(filepath.Join(groupsDir, entityFileName(role)), groups)
}

func (s *Store) GetGroupSnapshot(role string) (map[string]venue.Group, error) {
	groups := map[string]venue.Group{}
	err := s.readJSON(filepath.Join(groupsDir, entityFileName(role)), &groups)
	return groups, err
}

// ListGroupSnapshots returns every cached role snapshot keyed by role name.
func (s *Store) ListGroupSnapshots() (map[string]map[string]venue.Group, error) {
	entries, err := s.listEntityFiles(groupsDir)
	if err != nil {
		return nil, err
	}
	out := map[string]map[string]venue.Group{}
	for _, path := range entries {
		groups := map[string]venue.Group{}
		if err := readJSONFile(path, &groups); err != nil {
			continue
		}
		role := strings.TrimSuffix(filepath.Base(path), ".json")
		out[role] = groups
	}
	return out, nil
}

// PutAssignments fully replaces the assignment map for one reviewing role.
func (s *Store) PutAssignments(role string, assignments map[string][]string) error {
	if strings.TrimSpace(role) == "" {
		return fmt.Errorf("%w: role is required", ErrInvalidInput)
	}
	return s.writeJSON(filepath.Join(assignmentsDir, entityFileName(role)), assignments)
}

func (s *Store) GetAssignments(role string) (map[string][]string, error) {
	assignments := map[string][]string{}
	err := s.readJSON(filepath.Join(assignmentsDir, entityFileName(role)), &assignments)
	return assignments, err
}

// MergedAssignments unions every role's assignment map into one
// submission → assignee-list view for graph assembly.
func (s *Store) MergedAssignments() (map[string][]string, error) {
	entries, err := s.listEntityFiles(assignmentsDir)
	if err != nil {
		return nil, err
	}
	merged := map[string][]string{}
	for _, path := range entries {
		assignments := map[string][]string{}
		if err := readJSONFile(path, &assignments); err != nil {
			continue
		}
		for submissionID, assignees := range assignments {
			merged[submissionID] = append(merged[submissionID], assignees...)
		}
	}
	return merged, nil
}

// PutReversedIDs fully replaces the set of submission IDs whose given
// action kind is currently reversed.
func (s *Store) PutReversedIDs(kind string, ids []string) error {
	if strings.TrimSpace(kind) == "" {
		return fmt.Errorf("%w: reversion kind is required", ErrInvalidInput)
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return s.writeJSON(filepath.Join(submissionsDir, reversedFileName(kind)), sorted)
}

// GetReversedIDs returns the reversed-ID set for one action kind. A missing
// document reads as the empty set.
func (s *Store) GetReversedIDs(kind string) (map[string]struct{}, error) {
	var ids []string
	err := s.readJSON(filepath.Join(submissionsDir, reversedFileName(kind)), &ids)
	if errors.Is(err, ErrNotFound) {
		return map[string]struct{}{}, nil
	}
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func (s *Store) PutReducedLoads(loads map[string]int) error {
	return s.writeJSON(filepath.Join(recruitmentDir, reducedLoadsFile), loads)
}

func (s *Store) GetReducedLoads() (map[string]int, error) {
	loads := map[string]int{}
	err := s.readJSON(filepath.Join(recruitmentDir, reducedLoadsFile), &loads)
	if errors.Is(err, ErrNotFound) {
		return map[string]int{}, nil
	}
	return loads, err
}

// PutTaskResponses fully replaces the response document for one task stage.
// Keys are author IDs for per-user stages and submission IDs for
// per-submission stages.
func (s *Store) PutTaskResponses(stage string, responses map[string]map[string]string) error {
	if strings.TrimSpace(stage) == "" {
		return fmt.Errorf("%w: stage name is required", ErrInvalidInput)
	}
	return s.writeJSON(filepath.Join(tasksDir, entityFileName(strings.ToLower(stage))), responses)
}

func (s *Store) GetTaskResponses(stage string) (map[string]map[string]string, error) {
	responses := map[string]map[string]string{}
	err := s.readJSON(filepath.Join(tasksDir, entityFileName(strings.ToLower(stage))), &responses)
	if errors.Is(err, ErrNotFound) {
		return map[string]map[string]string{}, nil
	}
	return responses, err
}

func (s *Store) PutOfficialReviews(reviews map[string][]Review) error {
	return s.writeJSON(officialReviewsFile, reviews)
}

func (s *Store) GetOfficialReviews() (map[string][]Review, error) {
	reviews := map[string][]Review{}
	err := s.readJSON(officialReviewsFile, &reviews)
	if errors.Is(err, ErrNotFound) {
		return map[string][]Review{}, nil
	}
	return reviews, err
}

func (s *Store) PutProfile(profile StoredProfile) error {
	if strings.TrimSpace(profile.ID) == "" {
		return fmt.Errorf("%w: profile id is required", ErrInvalidInput)
	}
	return s.writeJSON(filepath.Join(profilesDir, entityFileName(profile.ID)), profile)
}

func (s *Store) GetProfile(id string) (StoredProfile, error) {
	var profile StoredProfile
	err := s.readJSON(filepath.Join(profilesDir, entityFileName(id)), &profile)
	return profile, err
}

// PutIdentityMap fully replaces the alias → canonical-ID mapping.
func (s *Store) PutIdentityMap(mapping map[string]string) error {
	return s.writeJSON(filepath.Join(profilesDir, identityMapFile), mapping)
}

// GetIdentityMap returns the alias → canonical-ID mapping. A missing
// document reads as an empty mapping.
func (s *Store) GetIdentityMap() (map[string]string, error) {
	mapping := map[string]string{}
	err := s.readJSON(filepath.Join(profilesDir, identityMapFile), &mapping)
	if errors.Is(err, ErrNotFound) {
		return map[string]string{}, nil
	}
	return mapping, err
}

func (s *Store) writeJSON(rel string, v any) error {
	path := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, append(data, '\n'), 0o644)
}

func (s *Store) readJSON(rel string, v any) error {
	return readJSONFile(filepath.Join(s.root, rel), v)
}

// listEntityFiles returns sorted paths of the regular entity documents in a
// cache subdirectory, skipping underscore-prefixed auxiliary documents.
func (s *Store) listEntityFiles(rel string) ([]string, error) {
	dir := filepath.Join(s.root, rel)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, "_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	sort.Strings(paths)
	return paths, nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", filepath.Base(path), ErrNotFound)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// entityFileName maps an entity ID to its document name. IDs never contain
// path separators today; replace them anyway so a hostile ID cannot escape
// the cache directory.
func entityFileName(id string) string {
	id = strings.ReplaceAll(id, "/", "_")
	id = strings.ReplaceAll(id, string(os.PathSeparator), "_")
	return id + ".json"
}

func reversedFileName(kind string) string {
	return "_reversed_" + strings.ToLower(kind) + ".json"
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
