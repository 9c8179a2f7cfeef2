package curation

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced narrative or group does not exist.
var ErrNotFound = errors.New("not found")

// ErrConcurrentModification is returned when a row changed under a writer
// that lost the race for the narrative lock.
var ErrConcurrentModification = errors.New("concurrent modification")

// SelfReferenceError indicates an attempt to parent a narrative to itself.
type SelfReferenceError struct {
	ID string
}

func (e SelfReferenceError) Error() string {
	return fmt.Sprintf("narrative %s cannot be its own parent", e.ID)
}

// DepthViolation indicates the target parent is itself a child; the
// hierarchy is capped at two levels.
type DepthViolation struct {
	ParentID string
}

func (e DepthViolation) Error() string {
	return fmt.Sprintf("narrative %s is already a child; hierarchy depth is limited to 2", e.ParentID)
}

// InvalidParentReference indicates the requested parent does not exist.
type InvalidParentReference struct {
	ParentID string
}

func (e InvalidParentReference) Error() string {
	return fmt.Sprintf("parent narrative %s does not exist", e.ParentID)
}

// AlreadyParented indicates the child already belongs to a parent. The
// existing assignment must be cleared before a new one is made.
type AlreadyParented struct {
	ChildID  string
	ParentID string
}

func (e AlreadyParented) Error() string {
	return fmt.Sprintf("narrative %s is already assigned to parent %s", e.ChildID, e.ParentID)
}

// InvalidTransition indicates a status change that is not in the editorial
// state machine. No mutation and no audit entry is produced.
type InvalidTransition struct {
	From Status
	To   Status
}

func (e InvalidTransition) Error() string {
	return fmt.Sprintf("status transition %s -> %s is not allowed", e.From, e.To)
}

// ValidationError indicates malformed input (bad enum value, priority out of
// range, missing required field).
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
