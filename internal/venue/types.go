package venue

import "strings"

// FieldValue wraps one content field. The remote keeps every user-facing
// field inside a {"value": ...} envelope.
type FieldValue struct {
	Value any `json:"value"`
}

// Content is the open string-keyed field bag carried by notes and profiles.
// Core attributes (ID, timestamps, invitations) live on the record itself;
// Content holds form fields whose shape is venue-configured.
type Content map[string]FieldValue

// String returns the field as a string, or "" when absent or non-string.
func (c Content) String(field string) string {
	if c == nil {
		return ""
	}
	s, _ := c[field].Value.(string)
	return s
}

// Strings returns the field as a string list, tolerating both []any and
// []string wire shapes.
func (c Content) Strings(field string) []string {
	if c == nil {
		return nil
	}
	switch v := c[field].Value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Has reports whether the field is present at all, regardless of value.
func (c Content) Has(field string) bool {
	_, ok := c[field]
	return ok
}

// Note is one record in a remote note collection: a submission, a published
// bibliographic record, a task response, or a forum reply such as a
// withdrawal notice.
type Note struct {
	ID          string       `json:"id"`
	Forum       string       `json:"forum,omitempty"`
	Number      int          `json:"number,omitempty"`
	Invitations []string     `json:"invitations"`
	Signatures  []string     `json:"signatures,omitempty"`
	CDate       int64        `json:"cdate,omitempty"`
	MDate       int64        `json:"mdate,omitempty"`
	TCDate      int64        `json:"tcdate"`
	TMDate      int64        `json:"tmdate"`
	DDate       *int64       `json:"ddate,omitempty"`
	Content     Content      `json:"content,omitempty"`
	Details     *NoteDetails `json:"details,omitempty"`
}

// NoteDetails carries optional expansions requested via NoteQuery.Details.
type NoteDetails struct {
	Replies []Note `json:"replies,omitempty"`
}

// HasInvitationContaining reports whether any invitation tag contains the
// given marker substring.
func (n Note) HasInvitationContaining(marker string) bool {
	for _, inv := range n.Invitations {
		if containsMarker(inv, marker) {
			return true
		}
	}
	return false
}

// Group is one membership group, e.g. a committee role or its Invited and
// Declined variants.
type Group struct {
	ID      string   `json:"id"`
	Members []string `json:"members"`
	TMDate  int64    `json:"tmdate"`
}

// Profile is the canonical record for one person. ID is the canonical
// identifier; Names holds alias usernames and Emails every known address.
type Profile struct {
	ID      string   `json:"id"`
	TMDate  int64    `json:"tmdate"`
	Emails  []string `json:"emails,omitempty"`
	Names   []string `json:"names,omitempty"`
	Content Content  `json:"content,omitempty"`
}

// Aliases returns every identifier known to refer to this profile,
// canonical ID included.
func (p Profile) Aliases() []string {
	out := make([]string, 0, 1+len(p.Names)+len(p.Emails))
	out = append(out, p.ID)
	out = append(out, p.Names...)
	out = append(out, p.Emails...)
	return out
}

// EdgeGroup is one head-grouped slice of an edge collection: all edges with
// the same head (e.g. one submission's assignment edges).
type EdgeGroup struct {
	Head  string   `json:"head"`
	Tails []string `json:"tails"`
}

// Edit is one entry of a note's edit history.
type Edit struct {
	ID         string `json:"id"`
	Invitation string `json:"invitation"`
	TAuthor    string `json:"tauthor,omitempty"`
	TCDate     int64  `json:"tcdate"`
}

// NoteQuery selects a slice of a note collection. Offset/Limit page through
// results; MinTCDate is a creation-time floor; Trash includes soft-deleted
// records; Details requests expansions by name.
type NoteQuery struct {
	Invitation string
	Forum      string
	// ContentAuthorID filters to notes whose author-ID content field
	// contains the given identifier.
	ContentAuthorID string
	MinTCDate       int64
	Sort            string
	Offset          int
	Limit           int
	Trash           bool
	Details         string
}

func containsMarker(s, marker string) bool {
	return marker != "" && strings.Contains(s, marker)
}
