// Package reversion derives whether a status-changing action on a
// submission (withdrawal, desk rejection) is still in effect or has been
// undone by a later reversal event. The derivation is a pure function of
// the submission's full event history; histories are append-only and
// small, so state is recomputed from scratch each cycle rather than
// maintained incrementally.
package reversion

import "strings"

// Kind identifies one reversible action. The string value doubles as the
// cache-document key for the corresponding reversed-ID set.
type Kind string

const (
	Withdrawal    Kind = "withdrawals"
	DeskRejection Kind = "desk_rejections"
)

// Kinds lists every reversible action kind in a fixed order.
func Kinds() []Kind {
	return []Kind{Withdrawal, DeskRejection}
}

// SubmissionMarker is the invitation-tag substring that marks a submission
// as having undergone this action.
func (k Kind) SubmissionMarker() string {
	switch k {
	case Withdrawal:
		return "Withdrawn_Submission"
	case DeskRejection:
		return "Desk_Rejected_Submission"
	}
	return ""
}

// ActionMarker is the invitation-tag substring of the action event itself.
func (k Kind) ActionMarker() string {
	switch k {
	case Withdrawal:
		return "/Withdrawal"
	case DeskRejection:
		return "/Desk_Rejection"
	}
	return ""
}

// ReversalMarker is the invitation-tag substring of the event that undoes
// the action.
func (k Kind) ReversalMarker() string {
	switch k {
	case Withdrawal:
		return "Withdrawal_Reversion"
	case DeskRejection:
		return "Desk_Rejection_Reversion"
	}
	return ""
}

// State is the derived standing of one (submission, action-kind) pair.
type State int

const (
	// NeverActed means no event of this kind appears in the history.
	NeverActed State = iota
	// Active means the action occurred and no later reversal exists.
	Active
	// Reversed means a reversal event strictly newer than the latest
	// action exists.
	Reversed
)

func (s State) String() string {
	switch s {
	case NeverActed:
		return "never-acted"
	case Active:
		return "active"
	case Reversed:
		return "reversed"
	}
	return "unknown"
}

// Event is one entry of a submission's event history: an invitation tag
// plus its creation timestamp in epoch milliseconds.
type Event struct {
	Invitation string
	Timestamp  int64
}

// Derive scans the full event history and reports the current state of the
// given action kind. An event counts as the action when its tag contains
// the action marker but is not itself a reversal; it counts as a reversal
// when its tag contains the reversal marker. The pair is Reversed iff the
// latest reversal is strictly newer than the latest action.
func Derive(events []Event, kind Kind) State {
	actionMarker := kind.ActionMarker()
	reversalMarker := kind.ReversalMarker()

	var actionAt, reversalAt int64
	var actionSeen, reversalSeen bool
	for _, event := range events {
		switch {
		case strings.Contains(event.Invitation, reversalMarker):
			if !reversalSeen || event.Timestamp > reversalAt {
				reversalAt = event.Timestamp
				reversalSeen = true
			}
		case strings.Contains(event.Invitation, actionMarker) && !strings.Contains(event.Invitation, "Reversion"):
			if !actionSeen || event.Timestamp > actionAt {
				actionAt = event.Timestamp
				actionSeen = true
			}
		}
	}

	switch {
	case actionSeen && reversalSeen && reversalAt > actionAt:
		return Reversed
	case actionSeen:
		return Active
	default:
		return NeverActed
	}
}
