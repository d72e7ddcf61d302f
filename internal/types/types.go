// Package types defines the data model shared across the migration pipeline.
//
// Values of these types are produced once per run from the Bitbucket API (or
// a repository export) and are not mutated after creation. Wire-format
// concerns live in the client packages; these are the internal shapes the
// sequencer, classifier, and converter operate on.
package types

// User identifies a Bitbucket account. Anonymous issues and comments carry a
// nil *User.
type User struct {
	Username    string
	DisplayName string
}

// Issue is one Bitbucket issue. Timestamps are kept in Bitbucket's wire form
// ("2012-11-26T09:59:39+00:00") and normalized at conversion time.
type Issue struct {
	ID        int
	Title     string
	Content   string
	State     string
	Kind      string
	Priority  string
	Component string
	Version   string
	Milestone string
	Reporter  *User
	CreatedOn string
	UpdatedOn string
}

// Comment is one issue comment. Comments whose bodies were deleted upstream
// are dropped before they reach this type.
type Comment struct {
	User      *User
	Content   string
	CreatedOn string
}

// FieldChange is a single field-level edit inside a change event. Old or New
// may be empty when the field gained or lost a value.
type FieldChange struct {
	Field string
	Old   string
	New   string
}

// ChangeEvent is one entry of an issue's audit log: everything one user
// changed in one edit.
type ChangeEvent struct {
	IssueID   int
	User      *User
	CreatedOn string
	Fields    []FieldChange
}

// Attachment names a file attached to an issue.
type Attachment struct {
	Name string
}

// AttachmentLink pairs an attachment name with where it was republished.
// Link is empty in mention-only mode.
type AttachmentLink struct {
	Name string
	Link string
}

// Bitbucket issue states. Anything outside this set is carried through as a
// label on the destination side.
const (
	StateNew       = "new"
	StateOpen      = "open"
	StateOnHold    = "on hold"
	StateResolved  = "resolved"
	StateDuplicate = "duplicate"
	StateWontfix   = "wontfix"
	StateClosed    = "closed"
)

// Closed reports whether a Bitbucket state maps to a closed GitHub issue.
func Closed(state string) bool {
	return state != StateOpen && state != StateNew
}
