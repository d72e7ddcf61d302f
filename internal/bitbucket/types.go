// Package bitbucket fetches issues, comments, change history, and
// attachments from the Bitbucket API v2.
package bitbucket

import (
	"net/http"
	"sort"
	"time"

	"github.com/issueforge/bbmigrate/internal/types"
)

// API configuration constants.
const (
	// DefaultAPIEndpoint is the Bitbucket API v2 base URL.
	DefaultAPIEndpoint = "https://api.bitbucket.org/2.0"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// MaxRetries is the maximum number of retries for transient failures.
	MaxRetries = 3

	// AttachmentRetries is how often a 403'ing attachment download is
	// retried. Bitbucket intermittently 403s these even with valid auth.
	AttachmentRetries = 5

	// AttachmentRetryDelay is the wait between attachment download retries.
	AttachmentRetryDelay = 5 * time.Second
)

// Client provides methods to interact with the Bitbucket issue API.
// Username/Password are only needed for private repositories.
type Client struct {
	Repo       string // "owner/name"
	Username   string
	Password   string
	BaseURL    string
	HTTPClient *http.Client
}

// content is the wire shape of a rendered/raw content pair. Raw is a pointer
// because deleted comment bodies come back as JSON null.
type content struct {
	Raw *string `json:"raw"`
}

// named is the wire shape of component/version/milestone references.
type named struct {
	Name string `json:"name"`
}

// account is the wire shape of a Bitbucket user reference. Newer API
// responses carry nickname instead of username.
type account struct {
	Username    string `json:"username"`
	Nickname    string `json:"nickname"`
	DisplayName string `json:"display_name"`
}

// wireIssue is the wire shape of one issue.
type wireIssue struct {
	ID        int      `json:"id"`
	Title     string   `json:"title"`
	Content   content  `json:"content"`
	State     string   `json:"state"`
	Kind      string   `json:"kind"`
	Priority  string   `json:"priority"`
	Component *named   `json:"component"`
	Version   *named   `json:"version"`
	Milestone *named   `json:"milestone"`
	Reporter  *account `json:"reporter"`
	CreatedOn string   `json:"created_on"`
	UpdatedOn string   `json:"updated_on"`
}

// wireComment is the wire shape of one issue comment.
type wireComment struct {
	User      *account `json:"user"`
	Content   content  `json:"content"`
	CreatedOn string   `json:"created_on"`
}

// wireChange is the wire shape of one change-history entry.
type wireChange struct {
	User      *account               `json:"user"`
	CreatedOn string                 `json:"created_on"`
	Changes   map[string]changeValue `json:"changes"`
}

type changeValue struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// wireAttachment is the wire shape of one attachment listing entry.
type wireAttachment struct {
	Name string `json:"name"`
}

// page is the generic paginated envelope Bitbucket wraps list results in.
type page[T any] struct {
	Size    int    `json:"size"`
	Page    int    `json:"page"`
	PageLen int    `json:"pagelen"`
	Next    string `json:"next"`
	Values  []T    `json:"values"`
}

func accountToUser(a *account) *types.User {
	if a == nil {
		return nil
	}
	username := a.Username
	if username == "" {
		username = a.Nickname
	}
	return &types.User{Username: username, DisplayName: a.DisplayName}
}

func issueToModel(w *wireIssue) *types.Issue {
	issue := &types.Issue{
		ID:        w.ID,
		Title:     w.Title,
		State:     w.State,
		Kind:      w.Kind,
		Priority:  w.Priority,
		Reporter:  accountToUser(w.Reporter),
		CreatedOn: w.CreatedOn,
		UpdatedOn: w.UpdatedOn,
	}
	if w.Content.Raw != nil {
		issue.Content = *w.Content.Raw
	}
	if w.Component != nil {
		issue.Component = w.Component.Name
	}
	if w.Version != nil {
		issue.Version = w.Version.Name
	}
	if w.Milestone != nil {
		issue.Milestone = w.Milestone.Name
	}
	return issue
}

func changeToModel(issueID int, w *wireChange) types.ChangeEvent {
	ev := types.ChangeEvent{
		IssueID:   issueID,
		User:      accountToUser(w.User),
		CreatedOn: w.CreatedOn,
	}
	// The wire format is an unordered map; sort by field name so downstream
	// output is reproducible.
	fields := make([]string, 0, len(w.Changes))
	for field := range w.Changes {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		v := w.Changes[field]
		ev.Fields = append(ev.Fields, types.FieldChange{Field: field, Old: v.Old, New: v.New})
	}
	return ev
}
