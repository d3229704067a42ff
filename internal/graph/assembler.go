package graph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/venuelab/confmirror/internal/cachestore"
	"github.com/venuelab/confmirror/internal/identity"
	"github.com/venuelab/confmirror/internal/reversion"
	"github.com/venuelab/confmirror/internal/stages"
)

// roleClasses maps a committee role to its graph class.
var roleClasses = map[string]string{
	"Reviewers":          ":PC",
	"Area_Chairs":        ":SPC",
	"Senior_Area_Chairs": ":AC",
}

func roleClass(role string) string {
	if class, ok := roleClasses[role]; ok {
		return class
	}
	return ":Unknown"
}

// Assembler turns the cache store into a statement graph. Construct one per
// assembly pass; it is not reusable.
type Assembler struct {
	store    *cachestore.Store
	resolver *identity.Resolver
	venueID  string
	stages   []stages.Definition
	log      *zap.Logger

	graph *Graph
	// Shared across every sub-pass so that a person or publication reached
	// through multiple entry points is materialized exactly once.
	emittedPersons      map[string]struct{}
	emittedPublications map[string]struct{}
	submissionIDs       map[string]struct{}
}

func NewAssembler(store *cachestore.Store, resolver *identity.Resolver, venueID string, stageDefs []stages.Definition, log *zap.Logger) (*Assembler, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if strings.TrimSpace(venueID) == "" {
		return nil, fmt.Errorf("venue id is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Assembler{
		store:               store,
		resolver:            resolver,
		venueID:             venueID,
		stages:              stageDefs,
		log:                 log,
		graph:               &Graph{},
		emittedPersons:      map[string]struct{}{},
		emittedPublications: map[string]struct{}{},
		submissionIDs:       map[string]struct{}{},
	}, nil
}

// Assemble runs every sub-pass in a fixed order: recruitment, submissions,
// assignments, reviews, task responses.
func (a *Assembler) Assemble() (*Graph, error) {
	submissions, err := a.store.ListSubmissions()
	if err != nil {
		return nil, fmt.Errorf("load submissions: %w", err)
	}
	for _, sub := range submissions {
		a.submissionIDs[sub.ID] = struct{}{}
	}

	if err := a.addRecruitment(); err != nil {
		return nil, err
	}
	if err := a.addSubmissions(submissions); err != nil {
		return nil, err
	}
	if err := a.addAssignments(); err != nil {
		return nil, err
	}
	if err := a.addReviews(); err != nil {
		return nil, err
	}
	if err := a.addTaskResponses(); err != nil {
		return nil, err
	}
	return a.graph, nil
}

// emitPerson materializes the type assertion and attribute block for one
// canonical person, exactly once per assembly.
func (a *Assembler) emitPerson(canonicalID string) {
	if _, done := a.emittedPersons[canonicalID]; done {
		return
	}
	a.emittedPersons[canonicalID] = struct{}{}

	iri := PersonIRI(canonicalID)
	a.graph.Add(iri, "a", IRI(":Person"))
	a.graph.Add(iri, ":id", Literal(canonicalID))

	profile, ok := a.resolver.Snapshot(canonicalID)
	if !ok {
		// Unresolvable alias acting as its own canonical ID; it carries no
		// attributes beyond the identifier.
		return
	}
	if name := personName(profile); name != "" {
		a.graph.Add(iri, ":name", Literal(name))
	}
	emails := append([]string(nil), profile.Emails...)
	sort.Strings(emails)
	for _, email := range emails {
		a.graph.Add(iri, ":email", Literal(email))
	}
	if homepage := profile.Content.String("homepage"); homepage != "" {
		a.graph.Add(iri, ":homepage", Literal(homepage))
	}

	for _, pub := range profile.Publications {
		if pub.ID == "" {
			continue
		}
		if _, isSubmission := a.submissionIDs[pub.ID]; isSubmission {
			// Venue submissions get their own block and reverse triples in
			// the submissions pass.
			continue
		}
		pubIRI := PublicationIRI(pub.ID)
		a.graph.Add(iri, ":publication", IRI(pubIRI))
		if _, done := a.emittedPublications[pub.ID]; done {
			continue
		}
		a.emittedPublications[pub.ID] = struct{}{}
		a.graph.Add(pubIRI, "a", IRI(":Publication"))
		title := pub.Content.String("title")
		if title == "" {
			a.graph.Add(pubIRI, ":title", NoValue)
		} else {
			a.graph.Add(pubIRI, ":title", Literal(title))
		}
		if pubVenue := pub.Content.String("venue"); pubVenue != "" {
			a.graph.Add(pubIRI, ":venue", Literal(pubVenue))
		}
	}
}

func personName(profile cachestore.StoredProfile) string {
	if name := profile.Content.String("fullname"); name != "" {
		return name
	}
	if len(profile.Names) > 0 {
		return profile.Names[0]
	}
	return ""
}

// addRecruitment classifies every committee member and emits role, status
// and reduced-load statements. Classification is two-pass: aliases are
// first resolved to canonical IDs, then status is determined against the
// full identifier set of each person, because a confirmation may be
// recorded under a different alias than the invitation.
func (a *Assembler) addRecruitment() error {
	snapshots, err := a.store.ListGroupSnapshots()
	if err != nil {
		return fmt.Errorf("load group snapshots: %w", err)
	}
	loads, err := a.store.GetReducedLoads()
	if err != nil {
		return fmt.Errorf("load reduced loads: %w", err)
	}

	roles := make([]string, 0, len(snapshots))
	for role := range snapshots {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	for _, role := range roles {
		groups := snapshots[role]
		baseID := a.venueID + "/" + role
		class := roleClass(role)

		confirmed := map[string]struct{}{}
		invited := map[string]struct{}{}
		declined := map[string]struct{}{}
		for groupID, group := range groups {
			var target map[string]struct{}
			switch groupID {
			case baseID:
				target = confirmed
			case baseID + "/Invited":
				target = invited
			case baseID + "/Declined":
				target = declined
			default:
				continue
			}
			for _, member := range group.Members {
				target[member] = struct{}{}
			}
		}

		// First pass: resolve every alias.
		originals := map[string]map[string]struct{}{}
		for _, set := range []map[string]struct{}{confirmed, invited, declined} {
			for member := range set {
				canonical := a.resolver.Resolve(member)
				if originals[canonical] == nil {
					originals[canonical] = map[string]struct{}{}
				}
				originals[canonical][member] = struct{}{}
			}
		}

		canonicalIDs := make([]string, 0, len(originals))
		for id := range originals {
			canonicalIDs = append(canonicalIDs, id)
		}
		sort.Strings(canonicalIDs)

		// Second pass: classify against the person's full identifier set.
		for _, canonicalID := range canonicalIDs {
			identifiers := map[string]struct{}{canonicalID: {}}
			for alias := range originals[canonicalID] {
				identifiers[alias] = struct{}{}
			}
			profile, hasProfile := a.resolver.Snapshot(canonicalID)
			if hasProfile {
				for _, alias := range profile.Aliases() {
					identifiers[alias] = struct{}{}
				}
			}

			status := "pending"
			if intersects(identifiers, confirmed) {
				status = "accepted"
			} else if intersects(identifiers, declined) {
				status = "declined"
			}

			a.emitPerson(canonicalID)
			iri := PersonIRI(canonicalID)
			a.graph.Add(iri, ":role", IRI(class))
			if intersects(identifiers, invited) {
				a.graph.Add(iri, ":role_invited", IRI(class))
			}
			a.graph.Add(iri, ":status", Literal(status))

			if hasProfile {
				for _, email := range profile.Emails {
					if load, ok := loads[email]; ok {
						a.graph.Add(iri, ":reduced_load", Literal(strconv.Itoa(load)))
						break
					}
				}
			}
		}
	}
	return nil
}

func intersects(a, b map[string]struct{}) bool {
	for key := range a {
		if _, ok := b[key]; ok {
			return true
		}
	}
	return false
}

func (a *Assembler) addSubmissions(submissions []cachestore.Submission) error {
	reversedWithdrawals, err := a.store.GetReversedIDs(string(reversion.Withdrawal))
	if err != nil {
		return fmt.Errorf("load reversed withdrawals: %w", err)
	}
	reversedRejections, err := a.store.GetReversedIDs(string(reversion.DeskRejection))
	if err != nil {
		return fmt.Errorf("load reversed desk rejections: %w", err)
	}

	authorSet := map[string]struct{}{}
	authorReviewerSet := map[string]struct{}{}

	for _, sub := range submissions {
		iri := SubmissionIRI(sub.ID)
		a.graph.Add(iri, "a", IRI(":Submission"))
		a.graph.Add(iri, ":id", Literal(sub.ID))
		if sub.Number != 0 {
			a.graph.Add(iri, ":number", Literal(strconv.Itoa(sub.Number)))
		}

		status, prefix := submissionStatus(sub, reversedWithdrawals, reversedRejections)
		a.graph.Add(iri, ":status", Literal(status))

		if sub.DeskRejectedBy != "" {
			actor := a.resolver.Resolve(sub.DeskRejectedBy)
			a.graph.Add(iri, ":desk_rejected_by", IRI(PersonIRI(actor)))
		}

		if title := sub.Content.String("title"); title != "" {
			a.graph.Add(iri, ":title", Literal(prefix+title))
			a.graph.Add(iri, "rdfs:label", Literal(prefix+title))
		} else {
			a.graph.Add(iri, ":title", NoValue)
			a.graph.Add(iri, "rdfs:label", NoValue)
		}
		if abstract := sub.Content.String("abstract"); abstract != "" {
			a.graph.Add(iri, ":abstract", Literal(abstract))
		} else {
			a.graph.Add(iri, ":abstract", NoValue)
		}

		authors := make([]string, 0, 4)
		for _, alias := range sub.Content.Strings("authorids") {
			canonical := a.resolver.Resolve(alias)
			authors = append(authors, canonical)
			a.graph.Add(iri, ":author", IRI(PersonIRI(canonical)))
			// Reverse triple keeps author→submission navigable.
			a.graph.Add(PersonIRI(canonical), ":publication", IRI(iri))
			authorSet[canonical] = struct{}{}
		}
		if len(authors) > 0 {
			a.graph.Add(iri, ":author_ids", Literal(strings.Join(authors, ", ")))
		} else {
			a.graph.Add(iri, ":author_ids", NoValue)
		}
		if names := sub.Content.Strings("authors"); len(names) > 0 {
			a.graph.Add(iri, ":author_names", Literal(strings.Join(names, ", ")))
		} else {
			a.graph.Add(iri, ":author_names", NoValue)
		}
		a.graph.Add(iri, ":num_authors", Literal(strconv.Itoa(len(authors))))

		if alias := sub.Content.String("serve_as_reviewer"); alias != "" {
			canonical := a.resolver.Resolve(alias)
			a.graph.Add(iri, ":author_reviewer", IRI(PersonIRI(canonical)))
			authorReviewerSet[canonical] = struct{}{}
		}

		a.graph.Add(iri, ":created_on", DateTime(sub.CDate))
		a.graph.Add(iri, ":last_modified_on", DateTime(sub.MDate))
		if sub.Content.Has("pdf") {
			a.graph.Add(iri, ":has_pdf", Literal("true"))
		} else {
			a.graph.Add(iri, ":has_pdf", Literal("false"))
		}
	}

	for _, authorID := range sortedKeys(authorSet) {
		a.emitPerson(authorID)
		a.graph.Add(PersonIRI(authorID), "a", IRI(":Author"))
	}
	for _, reviewerID := range sortedKeys(authorReviewerSet) {
		a.emitPerson(reviewerID)
		a.graph.Add(PersonIRI(reviewerID), "a", IRI(":Author_Reviewer"))
	}
	return nil
}

// submissionStatus derives the displayed status with its title prefix.
// Precedence: soft deletion, then an active desk rejection, then an active
// withdrawal, then plain submitted.
func submissionStatus(sub cachestore.Submission, reversedWithdrawals, reversedRejections map[string]struct{}) (string, string) {
	_, withdrawalReversed := reversedWithdrawals[sub.ID]
	_, rejectionReversed := reversedRejections[sub.ID]

	switch {
	case sub.DDate != nil:
		return "deleted", "[D] "
	case sub.HasInvitationContaining("Desk_Rejected_Submission") && !rejectionReversed:
		return "desk rejected", "[R] "
	case sub.HasInvitationContaining("Withdrawn_Submission") && !withdrawalReversed:
		return "withdrawn", "[W] "
	default:
		return "submitted", ""
	}
}

func (a *Assembler) addAssignments() error {
	assignments, err := a.store.MergedAssignments()
	if err != nil {
		return fmt.Errorf("load assignments: %w", err)
	}
	for _, submissionID := range sortedMapKeys(assignments) {
		iri := SubmissionIRI(submissionID)
		for _, assignee := range assignments[submissionID] {
			canonical := a.resolver.Resolve(assignee)
			a.emitPerson(canonical)
			a.graph.Add(iri, ":assigned", IRI(PersonIRI(canonical)))
		}
	}
	return nil
}

func (a *Assembler) addReviews() error {
	reviews, err := a.store.GetOfficialReviews()
	if err != nil {
		return fmt.Errorf("load official reviews: %w", err)
	}
	for _, submissionID := range sortedMapKeys(reviews) {
		subIRI := SubmissionIRI(submissionID)
		for _, review := range reviews[submissionID] {
			if review.Reviewer == "" {
				continue
			}
			reviewerID := a.resolver.Resolve(review.Reviewer)
			a.emitPerson(reviewerID)

			iri := ReviewIRI(submissionID, reviewerID)
			a.graph.Add(subIRI, ":has_review", IRI(iri))
			a.graph.Add(iri, "a", IRI(":Review"))
			a.graph.Add(iri, ":reviewer", IRI(PersonIRI(reviewerID)))
			if review.Rating != nil {
				a.graph.Add(iri, ":rating", Literal(strconv.Itoa(*review.Rating)))
			}
			if review.Confidence != nil {
				a.graph.Add(iri, ":confidence", Literal(strconv.Itoa(*review.Confidence)))
			}
			if review.TCDate != 0 {
				a.graph.Add(iri, ":cdate", Date(review.TCDate))
				a.graph.Add(iri, ":cdatetime", DateTime(review.TCDate))
			}
			if review.TMDate != 0 {
				a.graph.Add(iri, ":mdate", Date(review.TMDate))
				a.graph.Add(iri, ":mdatetime", DateTime(review.TMDate))
			}
			for _, field := range sortedMapKeys(review.Fields) {
				a.graph.Add(iri, ":"+field, Literal(review.Fields[field]))
			}
		}
	}
	return nil
}

func (a *Assembler) addTaskResponses() error {
	seen := map[string]struct{}{}
	for _, def := range a.stages {
		if _, dup := seen[def.Name]; dup {
			continue
		}
		seen[def.Name] = struct{}{}

		responses, err := a.store.GetTaskResponses(def.Name)
		if err != nil {
			return fmt.Errorf("load %s responses: %w", def.Name, err)
		}
		if len(responses) == 0 {
			continue
		}
		if def.PerSubmission() {
			a.addPerSubmissionResponses(def, responses)
		} else {
			a.addPerUserResponses(def, responses)
		}
	}
	return nil
}

func (a *Assembler) addPerUserResponses(def stages.Definition, responses map[string]map[string]string) {
	for _, userID := range sortedMapKeys(responses) {
		canonical := a.resolver.Resolve(userID)
		a.emitPerson(canonical)
		iri := PersonIRI(canonical)
		response := responses[userID]
		for _, field := range sortedMapKeys(response) {
			predicate := ":task_" + field
			if value := response[field]; value != "" {
				a.graph.Add(iri, predicate, Literal(value))
			} else {
				a.graph.Add(iri, predicate, NoValue)
			}
		}
	}
}

func (a *Assembler) addPerSubmissionResponses(def stages.Definition, responses map[string]map[string]string) {
	stageName := strings.ToLower(def.Name)
	for _, submissionID := range sortedMapKeys(responses) {
		iri := SubmissionIRI(submissionID)
		response := responses[submissionID]
		for _, field := range sortedMapKeys(response) {
			value := response[field]
			if field == stages.ResponderField {
				canonical := a.resolver.Resolve(value)
				a.emitPerson(canonical)
				a.graph.Add(iri, ":task_"+stageName+"_responder", IRI(PersonIRI(canonical)))
				continue
			}
			predicate := ":task_" + stageName + "_" + field
			if value != "" {
				a.graph.Add(iri, predicate, Literal(value))
			} else {
				a.graph.Add(iri, predicate, NoValue)
			}
		}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sortedMapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
