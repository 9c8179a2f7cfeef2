package curation

// Status is the editorial lifecycle state of a narrative.
type Status string

const (
	// StatusAutoGenerated marks roots inserted directly by the clustering pipeline.
	StatusAutoGenerated Status = "auto_generated"
	// StatusManualDraft marks parents created by a curator that are still being shaped.
	StatusManualDraft Status = "manual_draft"
	StatusPendingReview Status = "pending_review"
	StatusReviewed      Status = "reviewed"
	StatusApproved      Status = "approved"
	StatusPublished     Status = "published"
	// StatusArchived has no outgoing transitions; archived narratives stay archived.
	StatusArchived Status = "archived"
)

var validStatuses = map[Status]struct{}{
	StatusAutoGenerated: {},
	StatusManualDraft:   {},
	StatusPendingReview: {},
	StatusReviewed:      {},
	StatusApproved:      {},
	StatusPublished:     {},
	StatusArchived:      {},
}

// Valid reports whether the status is one of the supported lifecycle states.
func (s Status) Valid() bool {
	_, ok := validStatuses[s]
	return ok
}

// transitions is the full editorial state machine. A pair absent from this
// table is rejected; self-transitions are always allowed (no-op review pass).
var transitions = map[Status][]Status{
	StatusAutoGenerated: {StatusPendingReview, StatusApproved},
	StatusManualDraft:   {StatusPendingReview, StatusArchived},
	StatusPendingReview: {StatusReviewed, StatusApproved, StatusManualDraft},
	StatusReviewed:      {StatusApproved, StatusManualDraft, StatusPendingReview},
	StatusApproved:      {StatusPublished, StatusReviewed},
	StatusPublished:     {StatusArchived, StatusReviewed},
	StatusArchived:      nil,
}

// CanTransition reports whether from -> to is an allowed status change.
// It is total over all status pairs.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the allowed targets from the given state, excluding
// the implicit self-transition.
func NextStatuses(from Status) []Status {
	out := make([]Status, len(transitions[from]))
	copy(out, transitions[from])
	return out
}

// Source records the provenance of a narrative.
type Source string

const (
	SourcePipeline       Source = "pipeline"
	SourceManual         Source = "manual"
	SourceHybridAssisted Source = "hybrid_assisted"
)

var validSources = map[Source]struct{}{
	SourcePipeline:       {},
	SourceManual:         {},
	SourceHybridAssisted: {},
}

// Valid reports whether the source is supported.
func (s Source) Valid() bool {
	_, ok := validSources[s]
	return ok
}

// ValidEntryStatus reports whether a narrative may be created with the given
// source/status combination. Pipeline roots enter as auto_generated, manual
// parents as manual_draft; hybrid_assisted narratives may enter either way.
func ValidEntryStatus(src Source, st Status) bool {
	switch src {
	case SourcePipeline:
		return st == StatusAutoGenerated
	case SourceManual:
		return st == StatusManualDraft
	case SourceHybridAssisted:
		return st == StatusAutoGenerated || st == StatusManualDraft
	default:
		return false
	}
}

// ActorType distinguishes who performed a curation action.
type ActorType string

const (
	ActorTypeUser     ActorType = "user"
	ActorTypeSystem   ActorType = "system"
	ActorTypePipeline ActorType = "pipeline"
)

// Actor identifies the originator of a mutation for audit purposes.
type Actor struct {
	ID        string
	Type      ActorType
	SessionID string
}

// SystemActor is used for mutations performed by the service itself.
func SystemActor() Actor {
	return Actor{ID: "system", Type: ActorTypeSystem}
}

// Group statuses for manual cluster groups. The progression is monotonic:
// draft -> pending_review -> approved.
type GroupStatus string

const (
	GroupStatusDraft         GroupStatus = "draft"
	GroupStatusPendingReview GroupStatus = "pending_review"
	GroupStatusApproved      GroupStatus = "approved"
)

var groupRank = map[GroupStatus]int{
	GroupStatusDraft:         0,
	GroupStatusPendingReview: 1,
	GroupStatusApproved:      2,
}

// Valid reports whether the group status is supported.
func (g GroupStatus) Valid() bool {
	_, ok := groupRank[g]
	return ok
}

// CanAdvanceGroup reports whether a cluster group may move from one review
// stage to the next. Only single forward steps are allowed.
func CanAdvanceGroup(from, to GroupStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	return groupRank[to] == groupRank[from]+1
}

const (
	// MinPriority is the most urgent editorial priority.
	MinPriority = 1
	MaxPriority = 5
	// DefaultPriority is assigned to manual parents unless overridden.
	DefaultPriority = 3
)

// ValidPriority reports whether the editorial priority is within range.
func ValidPriority(p int) bool {
	return p >= MinPriority && p <= MaxPriority
}
