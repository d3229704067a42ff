// Package syncer drives one incremental update cycle against the venue,
// refreshing the local cache from the cursor forward.
package syncer

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/venuelab/confmirror/internal/cachestore"
	"github.com/venuelab/confmirror/internal/identity"
	"github.com/venuelab/confmirror/internal/reversion"
	"github.com/venuelab/confmirror/internal/stages"
	"github.com/venuelab/confmirror/internal/venue"
)

// Roles are the committee roles whose groups, recruitment notes and
// assignments are mirrored.
var Roles = []string{"Reviewers", "Area_Chairs", "Senior_Area_Chairs"}

// AssignmentRoles are the roles for which per-submission assignment edges
// are fetched.
var AssignmentRoles = []string{"Senior_Area_Chairs", "Area_Chairs"}

// Recache modes. Each forces a full refetch of a slice of the cache that
// would otherwise only be refreshed incrementally.
const (
	RecacheSubmissions             = "submissions"
	RecacheProfiles                = "profiles"
	RecacheProfilesWithPublication = "profiles-with-publications"
	RecacheAll                     = "all"
)

const defaultBibInvitation = "DBLP.org/-/Record"

const defaultPageSize = 1000

// Options select the behavior of a single cycle.
type Options struct {
	// DryRun computes and reports the full delta without writing anything,
	// including the cursor.
	DryRun bool
	// Recache is one of the Recache* constants, or empty for a normal
	// incremental cycle.
	Recache string
	// Profiles narrows the tracked-identity set to exactly these IDs and,
	// when no Recache mode is given, implies RecacheProfilesWithPublication.
	// It also disables submission recaching.
	Profiles []string
}

// SourceOutcome records how one entity-class fetch went. A failed source
// never aborts the cycle; it shows up here with a zero count.
type SourceOutcome struct {
	Name  string
	Count int
	Err   error
}

// Report summarizes one cycle.
type Report struct {
	CycleID      string
	DryRun       bool
	CursorBefore int64
	CursorAfter  int64

	TrackedProfiles     int
	NewSubmissions      int
	ModifiedSubmissions int
	ProfilesWithNewPubs int
	UpdatedProfiles     int
	ChangedGroups       []string
	ReducedLoads        int
	StageResponses      int
	Assignments         map[string]int
	OfficialReviews     int
	DeskRejectionActors int
	ReversedSubmissions map[reversion.Kind]int
	Sources             []SourceOutcome
}

// Config wires an Orchestrator. Client, Store, Resolver and VenueID are
// required.
type Config struct {
	VenueID  string
	Client   venue.Client
	Store    *cachestore.Store
	Resolver *identity.Resolver
	Stages   []stages.Definition
	Logger   *zap.Logger
	// BibInvitation names the external bibliographic record collection
	// checked for new publications. Defaults to the DBLP feed.
	BibInvitation string
	// PageSize bounds the modified-submission scan pages.
	PageSize int
	// Now is overridable for tests.
	Now func() time.Time
}

// Orchestrator runs update cycles. It is not safe for concurrent use; run
// one cycle at a time.
type Orchestrator struct {
	venueID       string
	client        venue.Client
	store         *cachestore.Store
	resolver      *identity.Resolver
	stages        []stages.Definition
	log           *zap.Logger
	bibInvitation string
	pageSize      int
	now           func() time.Time
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	venueID := strings.TrimSpace(cfg.VenueID)
	if venueID == "" {
		return nil, fmt.Errorf("venue id is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	bib := strings.TrimSpace(cfg.BibInvitation)
	if bib == "" {
		bib = defaultBibInvitation
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		venueID:       venueID,
		client:        cfg.Client,
		store:         cfg.Store,
		resolver:      cfg.Resolver,
		stages:        cfg.Stages,
		log:           log,
		bibInvitation: bib,
		pageSize:      pageSize,
		now:           now,
	}, nil
}

// Run executes one full update cycle. A failing sub-source is logged and
// recorded in the report; only a broken cache store or an invalid option
// combination returns an error.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (Report, error) {
	report := Report{
		CycleID:             uuid.NewString(),
		DryRun:              opts.DryRun,
		Assignments:         map[string]int{},
		ReversedSubmissions: map[reversion.Kind]int{},
	}

	cursor, err := o.store.Cursor()
	if err != nil {
		return report, fmt.Errorf("load cursor: %w", err)
	}
	report.CursorBefore = cursor

	recache := opts.Recache
	if len(opts.Profiles) > 0 && recache == "" {
		recache = RecacheProfilesWithPublication
	}
	switch recache {
	case "", RecacheSubmissions, RecacheProfiles, RecacheProfilesWithPublication, RecacheAll:
	default:
		return report, fmt.Errorf("unknown recache mode %q", recache)
	}
	recacheSubmissions := (recache == RecacheSubmissions || recache == RecacheAll) && len(opts.Profiles) == 0
	recacheProfiles := recache == RecacheProfiles || recache == RecacheProfilesWithPublication || recache == RecacheAll
	recachePublications := recache == RecacheProfilesWithPublication || recache == RecacheAll

	submissionCursor := cursor
	if recacheSubmissions {
		submissionCursor = 0
	}

	// Captured before any fetch so that events landing mid-cycle are
	// re-covered by the next cycle.
	cycleStart := o.now().UnixMilli()

	o.log.Info("starting update cycle",
		zap.String("cycle", report.CycleID),
		zap.Int64("cursor", cursor),
		zap.Bool("dry_run", opts.DryRun),
		zap.String("recache", recache))

	tracked := o.trackedProfiles(ctx, &report)
	report.TrackedProfiles = len(tracked)

	newAuthors := o.updateSubmissions(ctx, submissionCursor, opts.DryRun, &report)
	for _, alias := range newAuthors {
		tracked[alias] = struct{}{}
	}

	if len(opts.Profiles) > 0 {
		tracked = map[string]struct{}{}
		for _, id := range opts.Profiles {
			tracked[id] = struct{}{}
		}
		o.log.Info("restricted tracked set", zap.Int("profiles", len(tracked)))
	}
	report.TrackedProfiles = len(tracked)

	newPubs := o.bibliographicDelta(ctx, cursor, tracked, &report)
	report.ProfilesWithNewPubs = len(newPubs)

	o.refreshProfiles(ctx, tracked, newPubs, recacheProfiles, recachePublications, opts.DryRun, &report)
	o.updateGroups(ctx, cursor, opts.DryRun, &report)
	o.updateReducedLoads(ctx, opts.DryRun, &report)
	o.updateStageResponses(ctx, opts.DryRun, &report)
	o.updateAssignments(ctx, opts.DryRun, &report)
	o.updateOfficialReviews(ctx, opts.DryRun, &report)
	o.updateDeskRejectionActors(ctx, opts.DryRun, &report)
	o.updateReversions(ctx, opts.DryRun, &report)

	if !opts.DryRun {
		// The cursor commits even when individual sources failed above;
		// their delta is re-fetched only via a forced recache. A cycle is
		// "successful" once it runs to completion, not once every source
		// succeeds.
		if err := o.store.SetCursor(cycleStart); err != nil {
			return report, fmt.Errorf("commit cursor: %w", err)
		}
		report.CursorAfter = cycleStart
	} else {
		report.CursorAfter = cursor
	}

	o.log.Info("update cycle finished",
		zap.String("cycle", report.CycleID),
		zap.Int("new_submissions", report.NewSubmissions),
		zap.Int("modified_submissions", report.ModifiedSubmissions),
		zap.Int("updated_profiles", report.UpdatedProfiles),
		zap.Int64("cursor", report.CursorAfter))
	return report, nil
}

func (o *Orchestrator) record(report *Report, name string, count int, err error) {
	if err != nil {
		o.log.Warn("source failed", zap.String("source", name), zap.Error(err))
	}
	report.Sources = append(report.Sources, SourceOutcome{Name: name, Count: count, Err: err})
}

// trackedProfiles unions role-group members with authors and reviewing
// authors of every cached submission.
func (o *Orchestrator) trackedProfiles(ctx context.Context, report *Report) map[string]struct{} {
	tracked := map[string]struct{}{}

	var groupErr error
	for _, role := range Roles {
		groups, err := o.client.ListGroups(ctx, o.venueID+"/"+role)
		if err != nil {
			groupErr = err
			continue
		}
		for _, group := range groups {
			for _, member := range group.Members {
				tracked[member] = struct{}{}
			}
		}
	}

	submissions, err := o.store.ListSubmissions()
	if err == nil {
		for _, sub := range submissions {
			for _, author := range sub.Content.Strings("authorids") {
				tracked[author] = struct{}{}
			}
			if reviewer := sub.Content.String("serve_as_reviewer"); reviewer != "" {
				tracked[reviewer] = struct{}{}
			}
		}
	} else if groupErr == nil {
		groupErr = err
	}

	o.record(report, "tracked_profiles", len(tracked), groupErr)
	return tracked
}

var submissionKinds = []string{"Submission", "Withdrawn_Submission", "Desk_Rejected_Submission"}

// updateSubmissions fetches the creation delta and the modification delta
// for every submission sub-type and returns newly discovered author aliases.
func (o *Orchestrator) updateSubmissions(ctx context.Context, cursor int64, dryRun bool, report *Report) []string {
	var newAuthors []string
	var firstErr error

	for _, kind := range submissionKinds {
		invitation := o.venueID + "/-/" + kind

		created, err := o.client.ListAllNotes(ctx, venue.NoteQuery{
			Invitation: invitation,
			MinTCDate:  cursor,
			Trash:      true,
		})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("fetch new %s: %w", kind, err)
			}
			created = nil
		}
		for _, note := range created {
			report.NewSubmissions++
			newAuthors = append(newAuthors, note.Content.Strings("authorids")...)
			if !dryRun {
				if err := o.store.PutSubmission(cachestore.Submission{Note: note}); err != nil {
					o.log.Warn("store submission", zap.String("id", note.ID), zap.Error(err))
				}
			}
			o.log.Info("new submission", zap.String("kind", kind), zap.String("id", note.ID))
		}

		if err := o.scanModified(ctx, invitation, kind, cursor, dryRun, report); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	o.record(report, "submissions", report.NewSubmissions+report.ModifiedSubmissions, firstErr)
	return newAuthors
}

// scanModified pages through the collection sorted by modification time
// descending and stops at the first record older than the cursor. Records
// created at or after the cursor were already stored by the creation pass.
func (o *Orchestrator) scanModified(ctx context.Context, invitation, kind string, cursor int64, dryRun bool, report *Report) error {
	offset := 0
	for {
		page, err := o.client.ListNotes(ctx, venue.NoteQuery{
			Invitation: invitation,
			Sort:       "tmdate:desc",
			Offset:     offset,
			Limit:      o.pageSize,
			Trash:      true,
		})
		if err != nil {
			return fmt.Errorf("scan modified %s: %w", kind, err)
		}
		if len(page) == 0 {
			return nil
		}
		for _, note := range page {
			if note.TMDate < cursor {
				return nil
			}
			if note.TCDate >= cursor {
				continue
			}
			report.ModifiedSubmissions++
			if !dryRun {
				if err := o.store.PutSubmission(cachestore.Submission{Note: note}); err != nil {
					o.log.Warn("store submission", zap.String("id", note.ID), zap.Error(err))
				}
			}
			o.log.Info("modified submission", zap.String("kind", kind), zap.String("id", note.ID))
		}
		offset += o.pageSize
	}
}

// bibliographicDelta returns tracked aliases that gained an external
// publication since the cursor. Skipped on the initial sync, where the
// unbounded feed would be fetched in full.
func (o *Orchestrator) bibliographicDelta(ctx context.Context, cursor int64, tracked map[string]struct{}, report *Report) map[string]struct{} {
	flagged := map[string]struct{}{}
	if cursor == 0 {
		o.log.Info("skipping bibliographic check on initial sync")
		o.record(report, "bibliography", 0, nil)
		return flagged
	}

	records, err := o.client.ListAllNotes(ctx, venue.NoteQuery{
		Invitation: o.bibInvitation,
		MinTCDate:  cursor,
	})
	if err != nil {
		o.record(report, "bibliography", 0, fmt.Errorf("fetch bibliographic records: %w", err))
		return flagged
	}
	for _, record := range records {
		for _, author := range record.Content.Strings("authorids") {
			if _, ok := tracked[author]; ok {
				flagged[author] = struct{}{}
			}
		}
	}
	o.record(report, "bibliography", len(flagged), nil)
	return flagged
}

// refreshProfiles re-fetches every profile that changed, gained a
// publication, or is covered by a recache mode. The identity mapping is
// always refreshed for the whole tracked set.
func (o *Orchestrator) refreshProfiles(ctx context.Context, tracked, newPubs map[string]struct{}, recacheProfiles, recachePublications, dryRun bool, report *Report) {
	if len(tracked) == 0 {
		o.record(report, "profiles", 0, nil)
		return
	}

	aliases := make([]string, 0, len(tracked))
	for alias := range tracked {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	changed, err := o.resolver.Refresh(ctx, aliases)
	if err != nil {
		o.record(report, "profiles", 0, fmt.Errorf("refresh identity mapping: %w", err))
		return
	}
	if !dryRun {
		if err := o.resolver.SaveMapping(); err != nil {
			o.log.Warn("save identity mapping", zap.Error(err))
		}
	}

	toUpdate := map[string]struct{}{}
	if recacheProfiles || recachePublications {
		for alias := range tracked {
			toUpdate[alias] = struct{}{}
		}
	} else {
		for _, id := range changed {
			toUpdate[id] = struct{}{}
		}
		for alias := range newPubs {
			toUpdate[alias] = struct{}{}
		}
	}
	if len(toUpdate) == 0 {
		o.record(report, "profiles", 0, nil)
		return
	}

	if dryRun {
		for id := range toUpdate {
			o.log.Info("would update profile", zap.String("id", id))
		}
		report.UpdatedProfiles = len(toUpdate)
		o.record(report, "profiles", len(toUpdate), nil)
		return
	}

	withPublications := recachePublications || !recacheProfiles
	for id := range toUpdate {
		if err := o.resolver.Fetch(ctx, id, withPublications); err != nil {
			o.log.Warn("update profile", zap.String("id", id), zap.Error(err))
			continue
		}
		report.UpdatedProfiles++
	}
	o.record(report, "profiles", report.UpdatedProfiles, nil)
}

// updateGroups replaces every role snapshot and reports which roles had a
// constituent group modified since the cursor.
func (o *Orchestrator) updateGroups(ctx context.Context, cursor int64, dryRun bool, report *Report) {
	var firstErr error
	for _, role := range Roles {
		prefix := o.venueID + "/" + role
		groups, err := o.client.ListGroups(ctx, prefix)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("fetch groups %s: %w", prefix, err)
			}
			continue
		}
		snapshot := make(map[string]venue.Group, len(groups))
		changed := false
		for _, group := range groups {
			snapshot[group.ID] = group
			if group.TMDate >= cursor {
				changed = true
			}
		}
		if changed {
			report.ChangedGroups = append(report.ChangedGroups, prefix)
			o.log.Info("group membership changed", zap.String("group", prefix))
		}
		if !dryRun {
			if err := o.store.PutGroupSnapshot(role, snapshot); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("store groups %s: %w", role, err)
			}
		}
	}
	o.record(report, "groups", len(report.ChangedGroups), firstErr)
}

// updateReducedLoads collects reduced-load elections across every
// recruitment role into one map.
func (o *Orchestrator) updateReducedLoads(ctx context.Context, dryRun bool, report *Report) {
	loads := map[string]int{}
	var firstErr error
	for _, role := range Roles {
		invitation := o.venueID + "/" + role + "/-/Recruitment"
		notes, err := o.client.ListAllNotes(ctx, venue.NoteQuery{Invitation: invitation})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("fetch reduced loads %s: %w", role, err)
			}
			continue
		}
		for _, note := range notes {
			user := note.Content.String("user")
			loadStr := note.Content.String("reduced_load")
			if user == "" || loadStr == "" {
				continue
			}
			load, err := strconv.Atoi(loadStr)
			if err != nil {
				continue
			}
			loads[user] = load
		}
	}
	report.ReducedLoads = len(loads)
	if !dryRun && len(loads) > 0 {
		if err := o.store.PutReducedLoads(loads); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("store reduced loads: %w", err)
		}
	}
	o.record(report, "reduced_loads", len(loads), firstErr)
}

func (o *Orchestrator) updateStageResponses(ctx context.Context, dryRun bool, report *Report) {
	var firstErr error
	for _, def := range o.stages {
		responses, err := stages.FetchResponses(ctx, o.client, o.venueID, def)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(responses) == 0 {
			continue
		}
		report.StageResponses += len(responses)
		if !dryRun {
			if err := o.store.PutTaskResponses(def.Name, responses); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("store %s responses: %w", def.Name, err)
			}
		}
		o.log.Info("cached stage responses", zap.String("stage", def.Name), zap.Int("count", len(responses)))
	}
	o.record(report, "stages", report.StageResponses, firstErr)
}

func (o *Orchestrator) updateAssignments(ctx context.Context, dryRun bool, report *Report) {
	var firstErr error
	for _, role := range AssignmentRoles {
		invitation := o.venueID + "/" + role + "/-/Assignment"
		edges, err := o.client.ListGroupedEdges(ctx, invitation)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("fetch %s assignments: %w", role, err)
			}
			continue
		}
		assignments := make(map[string][]string, len(edges))
		for _, edge := range edges {
			assignments[edge.Head] = edge.Tails
		}
		report.Assignments[role] = len(assignments)
		if !dryRun && len(assignments) > 0 {
			if err := o.store.PutAssignments(role, assignments); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("store %s assignments: %w", role, err)
			}
		}
		o.log.Info("cached assignments", zap.String("role", role), zap.Int("count", len(assignments)))
	}
	o.record(report, "assignments", report.Assignments["Senior_Area_Chairs"]+report.Assignments["Area_Chairs"], firstErr)
}

// reviewFields are the free-text review form fields kept alongside the
// numeric scores.
var reviewFields = []string{
	"strengths",
	"weaknesses",
	"detailed_comments",
	"responsible_reviewing",
	"ai_generated_content",
	"review_and_resubmit",
	"best_paper_award",
}

// updateOfficialReviews rebuilds the per-submission official review index
// from each submission's forum replies.
func (o *Orchestrator) updateOfficialReviews(ctx context.Context, dryRun bool, report *Report) {
	submissions, err := o.client.ListAllNotes(ctx, venue.NoteQuery{
		Invitation: o.venueID + "/-/Submission",
		Details:    "replies",
	})
	if err != nil {
		o.record(report, "official_reviews", 0, fmt.Errorf("fetch submissions with replies: %w", err))
		return
	}

	reviews := map[string][]cachestore.Review{}
	for _, sub := range submissions {
		if sub.Details == nil {
			continue
		}
		for _, reply := range sub.Details.Replies {
			if !reply.HasInvitationContaining("/-/Official_Review") {
				continue
			}
			if len(reply.Signatures) == 0 || reply.Signatures[0] == "" {
				continue
			}
			review := cachestore.Review{
				Reviewer:   reply.Signatures[0],
				Rating:     reviewScore(reply.Content, "rating"),
				Confidence: reviewScore(reply.Content, "confidence"),
				TCDate:     reply.TCDate,
				TMDate:     reply.TMDate,
			}
			for _, field := range reviewFields {
				if value := reply.Content.String(field); value != "" {
					if review.Fields == nil {
						review.Fields = map[string]string{}
					}
					review.Fields[field] = value
				}
			}
			reviews[sub.ID] = append(reviews[sub.ID], review)
			report.OfficialReviews++
		}
	}

	var storeErr error
	if !dryRun && len(reviews) > 0 {
		storeErr = o.store.PutOfficialReviews(reviews)
	}
	o.record(report, "official_reviews", report.OfficialReviews, storeErr)
}

// reviewScore extracts the numeric part of a score field. Scores arrive
// either as numbers or as strings of the form "5: Strong accept".
func reviewScore(content venue.Content, field string) *int {
	value, ok := content[field]
	if !ok {
		return nil
	}
	switch v := value.Value.(type) {
	case float64:
		score := int(v)
		return &score
	case int:
		score := v
		return &score
	case string:
		digits := v
		if i := strings.IndexByte(v, ':'); i >= 0 {
			digits = v[:i]
		}
		score, err := strconv.Atoi(strings.TrimSpace(digits))
		if err != nil {
			return nil
		}
		return &score
	}
	return nil
}

// updateDeskRejectionActors backfills the actor of each desk rejection by
// walking the submission's forum for the rejection note and reading the
// authoring edit. Runs only for records still missing the attribute.
func (o *Orchestrator) updateDeskRejectionActors(ctx context.Context, dryRun bool, report *Report) {
	submissions, err := o.store.ListSubmissions()
	if err != nil {
		o.record(report, "desk_rejection_actors", 0, err)
		return
	}

	// Actor identifiers repeat across submissions; resolve each one once.
	canonical := map[string]string{}

	var firstErr error
	for _, sub := range submissions {
		if !sub.HasInvitationContaining("Desk_Rejected_Submission") || sub.DeskRejectedBy != "" {
			continue
		}
		actor, err := o.deskRejectionActor(ctx, sub.ID, canonical)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if actor == "" {
			continue
		}
		report.DeskRejectionActors++
		if dryRun {
			continue
		}
		sub.DeskRejectedBy = actor
		if err := o.store.PutSubmission(sub); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("store desk rejection actor for %s: %w", sub.ID, err)
		}
	}
	o.record(report, "desk_rejection_actors", report.DeskRejectionActors, firstErr)
}

func (o *Orchestrator) deskRejectionActor(ctx context.Context, submissionID string, canonical map[string]string) (string, error) {
	replies, err := o.client.ListAllNotes(ctx, venue.NoteQuery{Forum: submissionID})
	if err != nil {
		return "", fmt.Errorf("fetch forum for %s: %w", submissionID, err)
	}
	var rejection *venue.Note
	for i := range replies {
		if replies[i].ID == submissionID {
			continue
		}
		for _, inv := range replies[i].Invitations {
			if strings.HasSuffix(inv, "/-/Desk_Rejection") {
				rejection = &replies[i]
				break
			}
		}
		if rejection != nil {
			break
		}
	}
	if rejection == nil {
		return "", nil
	}

	edits, err := o.client.ListNoteEdits(ctx, rejection.ID)
	if err != nil {
		return "", fmt.Errorf("fetch edits for %s: %w", rejection.ID, err)
	}
	for _, edit := range edits {
		if edit.TAuthor == "" || !strings.HasSuffix(edit.Invitation, "/-/Desk_Rejection") {
			continue
		}
		// The edit carries the actor's raw identifier, usually an email.
		// An unresolvable actor keeps its raw form.
		if id, ok := canonical[edit.TAuthor]; ok {
			return id, nil
		}
		id := edit.TAuthor
		if profile, err := o.client.GetProfile(ctx, edit.TAuthor); err == nil {
			id = profile.ID
		}
		canonical[edit.TAuthor] = id
		return id, nil
	}
	return "", nil
}

// updateReversions recomputes the reversed-ID set for every reversible
// action kind from each affected submission's full event history.
func (o *Orchestrator) updateReversions(ctx context.Context, dryRun bool, report *Report) {
	submissions, err := o.store.ListSubmissions()
	if err != nil {
		o.record(report, "reversions", 0, err)
		return
	}

	reversed := map[reversion.Kind]map[string]struct{}{}
	for _, kind := range reversion.Kinds() {
		reversed[kind] = map[string]struct{}{}
	}

	var firstErr error
	for _, sub := range submissions {
		var kinds []reversion.Kind
		for _, kind := range reversion.Kinds() {
			if sub.HasInvitationContaining(kind.SubmissionMarker()) {
				kinds = append(kinds, kind)
			}
		}
		if len(kinds) == 0 {
			continue
		}

		notes, err := o.client.ListAllNotes(ctx, venue.NoteQuery{Forum: sub.ID})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("fetch forum for %s: %w", sub.ID, err)
			}
			continue
		}
		events := make([]reversion.Event, 0, len(notes))
		for _, note := range notes {
			if len(note.Invitations) == 0 {
				continue
			}
			events = append(events, reversion.Event{Invitation: note.Invitations[0], Timestamp: note.TCDate})
		}
		for _, kind := range kinds {
			if reversion.Derive(events, kind) == reversion.Reversed {
				reversed[kind][sub.ID] = struct{}{}
				o.log.Info("action reversed", zap.String("kind", string(kind)), zap.String("id", sub.ID))
			}
		}
	}

	total := 0
	for _, kind := range reversion.Kinds() {
		ids := make([]string, 0, len(reversed[kind]))
		for id := range reversed[kind] {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		total += len(ids)
		report.ReversedSubmissions[kind] = len(ids)
		if !dryRun {
			if err := o.store.PutReversedIDs(string(kind), ids); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("store reversed %s: %w", kind, err)
			}
		}
	}
	o.record(report, "reversions", total, firstErr)
}
