// Package github provides the client and data types for the GitHub REST and
// Issue Import APIs.
//
// Imports go through the dedicated Issue Import API rather than the normal
// issues endpoint: bulk creation through the regular API trips GitHub's
// anti-abuse rate limits almost immediately, and the import API is the only
// one that accepts original timestamps. The import is asynchronous; callers
// submit, receive a status handle, and poll.
package github

import (
	"fmt"
	"net/http"
	"time"
)

// API configuration constants.
const (
	// DefaultAPIEndpoint is the GitHub REST API base URL.
	DefaultAPIEndpoint = "https://api.github.com"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// MaxRetries is the maximum number of retries for rate-limited requests.
	MaxRetries = 3

	// RetryDelay is the base delay between retries (exponential backoff).
	RetryDelay = time.Second

	// MaxPages is the maximum number of pages to follow before stopping.
	// This prevents infinite loops from malformed Link headers.
	MaxPages = 1000

	// importAccept is the preview media type the Issue Import API requires.
	importAccept = "application/vnd.github.golden-comet-preview+json"
)

// Client provides methods to interact with the GitHub API. The Issue Import
// API only accepts basic authentication, so the client carries the username
// alongside the token.
type Client struct {
	Username   string
	Token      string       // personal access token
	Owner      string       // repository owner (user or org)
	Repo       string       // repository name
	BaseURL    string       // API base URL (default: https://api.github.com)
	HTTPClient *http.Client // optional custom HTTP client
}

// ImportIssue is the issue payload for the Issue Import API.
type ImportIssue struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Closed    bool     `json:"closed"`
	CreatedAt string   `json:"created_at,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty"`
	ClosedAt  string   `json:"closed_at,omitempty"`
	Labels    []string `json:"labels,omitempty"`
	Milestone int      `json:"milestone,omitempty"`
}

// ImportComment is the comment payload for the Issue Import API.
type ImportComment struct {
	CreatedAt string `json:"created_at,omitempty"`
	Body      string `json:"body"`
}

// ImportHandle identifies a submitted import for status polling.
type ImportHandle struct {
	URL string
}

// ImportState is the lifecycle state of a submitted import.
type ImportState int

const (
	// StatePending means GitHub is still processing the import.
	StatePending ImportState = iota
	// StateImported means the import finished and an issue number exists.
	StateImported
	// StateFailed means GitHub rejected the import during processing.
	StateFailed
	// StateUnknown means the status endpoint gave an answer that can't be
	// trusted either way. GitHub's status endpoint is known to 404 even for
	// imports that succeeded.
	StateUnknown
)

// ImportOutcome is one poll result for a submitted import.
type ImportOutcome struct {
	State       ImportState
	IssueNumber int    // set when State is StateImported
	Details     string // set when State is StateFailed
}

// ValidationError is GitHub rejecting a submitted issue outright (HTTP 422).
// It is fatal for a migration run.
type ValidationError struct {
	Title   string
	Details string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("import validation failed for issue %q: %s", e.Title, e.Details)
}

// label is the wire shape of a repo label.
type label struct {
	Name string `json:"name"`
}

// milestone is the wire shape of a repo milestone.
type milestone struct {
	Title  string `json:"title"`
	Number int    `json:"number"`
}

// repository is the wire shape of the repo metadata endpoint.
type repository struct {
	FullName string `json:"full_name"`
}

// importStatus is the wire shape of the import submit/status endpoints.
type importStatus struct {
	URL      string `json:"url"`
	Status   string `json:"status"`
	IssueURL string `json:"issue_url"`
	Errors   []struct {
		Resource string `json:"resource"`
		Field    string `json:"field"`
		Code     string `json:"code"`
	} `json:"errors"`
}

// ghUser is the wire shape of the user lookup endpoint.
type ghUser struct {
	Login string `json:"login"`
}
