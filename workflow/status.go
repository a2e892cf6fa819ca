package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the lifecycle state of an issue.
type Status string

const (
	// StatusOpen is the initial status of every issue.
	StatusOpen Status = "open"
	// StatusInProgress marks an issue actively being worked.
	StatusInProgress Status = "in_progress"
	// StatusResolved marks an issue with a completed fix awaiting confirmation.
	StatusResolved Status = "resolved"
	// StatusClosed marks a finished issue.
	StatusClosed Status = "closed"
	// StatusReopened marks a previously closed or resolved issue brought back.
	StatusReopened Status = "reopened"
)

// Priority is the urgency classification of an issue.
type Priority string

const (
	// PriorityLow is an issue priority level.
	PriorityLow Priority = "low"
	// PriorityMedium is an issue priority level.
	PriorityMedium Priority = "medium"
	// PriorityHigh is an issue priority level.
	PriorityHigh Priority = "high"
	// PriorityCritical is an issue priority level. Critical issues carry an
	// extra closure requirement, see [Transition].
	PriorityCritical Priority = "critical"
)

// ErrInvalidTransition is the sentinel wrapped by every [TransitionError].
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrCriticalClosureBlocked is returned when a critical issue without any
// comments is moved to closed. Critical issues must document at least one
// comment before closure.
var ErrCriticalClosureBlocked = errors.New("critical issue requires a comment before closure")

// transitions is the fixed successor table. A reopened issue behaves like an
// open one: it can move back into progress or be closed directly.
var transitions = map[Status][]Status{
	StatusOpen:       {StatusInProgress, StatusClosed},
	StatusInProgress: {StatusResolved, StatusOpen},
	StatusResolved:   {StatusClosed, StatusReopened},
	StatusClosed:     {StatusReopened},
	StatusReopened:   {StatusInProgress, StatusClosed},
}

// IssueContext carries the issue attributes the state machine and the
// permission layer need. Persistence of the issue itself is the caller's job.
type IssueContext struct {
	ID           string
	ProjectID    string
	ReporterID   string
	AssigneeID   string
	Status       Status
	Priority     Priority
	CommentCount int
}

// TransitionError reports a rejected status change together with the valid
// successors of the source status.
type TransitionError struct {
	From   Status
	To     Status
	Valid  []Status
	Reason string

	cause error
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid status transition %s -> %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("invalid status transition %s -> %s (valid: %s)", e.From, e.To, joinStatuses(e.Valid))
}

// Unwrap lets errors.Is match [ErrInvalidTransition] and, when the closure
// guard rejected the change, [ErrCriticalClosureBlocked].
func (e *TransitionError) Unwrap() []error {
	if e.cause != nil {
		return []error{ErrInvalidTransition, e.cause}
	}
	return []error{ErrInvalidTransition}
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Successors returns the statuses reachable from s in one transition.
// The returned slice is a copy.
func Successors(s Status) []Status {
	next, ok := transitions[s]
	if !ok {
		return nil
	}
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// Transition validates a status change against the fixed successor table and
// returns the status the issue should move to. Requesting the current status
// is a no-op and succeeds. Transition never persists anything.
//
// Critical issues are refused the move to closed while they carry zero
// comments; the returned error wraps both [ErrInvalidTransition] and
// [ErrCriticalClosureBlocked].
func Transition(issue IssueContext, target Status) (Status, error) {
	current := issue.Status

	valid, ok := transitions[current]
	if !ok {
		return "", &TransitionError{From: current, To: target, Reason: "unknown source status"}
	}
	if !target.Valid() {
		return "", &TransitionError{From: current, To: target, Valid: valid, Reason: "unknown target status"}
	}

	if target == current {
		return current, nil
	}

	allowed := false
	for _, next := range valid {
		if next == target {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", &TransitionError{From: current, To: target, Valid: valid}
	}

	if target == StatusClosed && issue.Priority == PriorityCritical && issue.CommentCount == 0 {
		return "", &TransitionError{
			From:   current,
			To:     target,
			Valid:  valid,
			Reason: ErrCriticalClosureBlocked.Error(),
			cause:  ErrCriticalClosureBlocked,
		}
	}

	return target, nil
}

// CanClose reports whether the issue satisfies the closure requirements,
// independent of the transition table.
func CanClose(issue IssueContext) bool {
	if issue.Priority == PriorityCritical && issue.CommentCount == 0 {
		return false
	}
	return true
}

func joinStatuses(statuses []Status) string {
	parts := make([]string, len(statuses))
	for i, s := range statuses {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}
