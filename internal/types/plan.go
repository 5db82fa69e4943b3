package types

// Action is the decision taken for one notebook in one run.
type Action int

const (
	// ActionSkip leaves the remote record untouched.
	ActionSkip Action = iota
	// ActionCreate creates a new remote record.
	ActionCreate
	// ActionUpdate changes an existing remote record in place.
	ActionUpdate
)

// String returns a human-readable representation of the action.
func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Diff lists which synced fields differ between local and remote state.
type Diff struct {
	TagsChanged    bool
	ContentChanged bool

	// NeedsReupload is set when page images and the archival PDF must be
	// produced again. It is always true for a create.
	NeedsReupload bool
}

// Plan is the planner's output for one notebook. It is consumed immediately
// by the executor and never persisted.
type Plan struct {
	Key    string
	Action Action
	Reason string
	Diff   Diff

	// Remote is the matched remote record, nil for a create.
	Remote *RemoteRecord
}

// TagsOnly reports whether the plan only needs the tag set written.
func (p Plan) TagsOnly() bool {
	return p.Action == ActionUpdate && p.Diff.TagsChanged && !p.Diff.NeedsReupload
}
