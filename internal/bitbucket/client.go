package bitbucket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/issueforge/bbmigrate/internal/debug"
	"github.com/issueforge/bbmigrate/internal/types"
)

// NewClient creates a Bitbucket API client for the given "owner/name" repo.
func NewClient(repo string) *Client {
	return &Client{
		Repo:    repo,
		BaseURL: DefaultAPIEndpoint,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithAuth returns a copy of the client using basic authentication.
func (c *Client) WithAuth(username, password string) *Client {
	newClient := *c
	newClient.Username = username
	newClient.Password = password
	return &newClient
}

// WithBaseURL returns a copy of the client with a custom base URL.
// Useful for testing.
func (c *Client) WithBaseURL(baseURL string) *Client {
	newClient := *c
	newClient.BaseURL = baseURL
	return &newClient
}

// WithHTTPClient returns a copy of the client with a custom HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	newClient := *c
	newClient.HTTPClient = httpClient
	return &newClient
}

func (c *Client) trackerURL() string {
	return fmt.Sprintf("%s/repositories/%s/issues", c.BaseURL, c.Repo)
}

// do executes a request and returns the body and status code. Transient
// network failures and 429 responses are retried with exponential backoff.
// Non-2xx statuses are returned as data, not errors, because several
// endpoints need status-specific handling.
func (c *Client) do(ctx context.Context, method, urlStr string) ([]byte, int, error) {
	var lastErr error

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * time.Second
			debug.Logf("retrying %s %s in %v (attempt %d/%d)\n", method, urlStr, delay, attempt, MaxRetries)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, urlStr, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("creating request: %w", err)
		}
		if c.Username != "" {
			req.SetBasicAuth(c.Username, c.Password)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("executing request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("reading response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited by bitbucket (HTTP 429)")
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, fmt.Errorf("request failed after %d retries: %w", MaxRetries, lastErr)
}

// CheckRepo verifies that the issue tracker exists and is readable.
func (c *Client) CheckRepo(ctx context.Context) error {
	_, status, err := c.do(ctx, http.MethodHead, c.trackerURL())
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("no issue tracker found at %s; note that the repository name is case-sensitive", c.trackerURL())
	case http.StatusUnauthorized:
		return fmt.Errorf("bitbucket login failed; check the username and password")
	case http.StatusForbidden:
		return fmt.Errorf("repository %s is private; provide bitbucket credentials", c.Repo)
	default:
		return fmt.Errorf("unexpected HTTP %d checking issue tracker at %s", status, c.trackerURL())
	}
}

// getJSON fetches urlStr and decodes the body into out, expecting HTTP 200.
func (c *Client) getJSON(ctx context.Context, urlStr string, out any) error {
	body, status, err := c.do(ctx, http.MethodGet, urlStr)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("unexpected HTTP %d from %s", status, urlStr)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing response from %s: %w", urlStr, err)
	}
	return nil
}

// collect follows the paginated envelope starting at firstURL and returns
// every value across all pages.
func collect[T any](ctx context.Context, c *Client, firstURL string) ([]T, error) {
	var all []T
	next := firstURL
	for next != "" {
		var p page[T]
		if err := c.getJSON(ctx, next, &p); err != nil {
			return nil, err
		}
		all = append(all, p.Values...)
		next = p.Next
	}
	return all, nil
}

// IssueStream pages through the tracker's issues in ascending id order,
// one issue per call. It keeps a window of the current page and fetches
// the next page lazily.
type IssueStream struct {
	client *Client
	next   string // next page URL, empty when exhausted
	buf    []wireIssue
}

// Issues returns a stream over every issue with id greater than offset,
// sorted ascending by id.
func (c *Client) Issues(offset int) *IssueStream {
	params := url.Values{}
	params.Set("sort", "id")
	if offset > 0 {
		params.Set("q", fmt.Sprintf("id > %d", offset))
	}
	return &IssueStream{
		client: c,
		next:   c.trackerURL() + "?" + params.Encode(),
	}
}

// Next returns the next issue, or (nil, nil) once the tracker is exhausted.
func (s *IssueStream) Next(ctx context.Context) (*types.Issue, error) {
	for len(s.buf) == 0 {
		if s.next == "" {
			return nil, nil
		}
		var p page[wireIssue]
		if err := s.client.getJSON(ctx, s.next, &p); err != nil {
			return nil, fmt.Errorf("fetching issues: %w", err)
		}
		s.buf = p.Values
		s.next = p.Next
	}
	w := s.buf[0]
	s.buf = s.buf[1:]
	return issueToModel(&w), nil
}

// Comments returns all comments on an issue in ascending id order.
// Comments whose body was deleted come back with a null raw field and
// are skipped.
func (c *Client) Comments(ctx context.Context, issueID int) ([]types.Comment, error) {
	urlStr := fmt.Sprintf("%s/%d/comments?sort=id", c.trackerURL(), issueID)
	wires, err := collect[wireComment](ctx, c, urlStr)
	if err != nil {
		return nil, fmt.Errorf("fetching comments for issue %d: %w", issueID, err)
	}
	comments := make([]types.Comment, 0, len(wires))
	for _, w := range wires {
		if w.Content.Raw == nil {
			continue
		}
		comments = append(comments, types.Comment{
			User:      accountToUser(w.User),
			Content:   *w.Content.Raw,
			CreatedOn: w.CreatedOn,
		})
	}
	return comments, nil
}

// Changes returns the change history of an issue. The changes endpoint
// is known to return HTTP 500 for some issues on bitbucket's side; that
// is degraded to a warning and an empty history rather than failing the
// whole migration.
func (c *Client) Changes(ctx context.Context, issueID int) ([]types.ChangeEvent, error) {
	urlStr := fmt.Sprintf("%s/%d/changes", c.trackerURL(), issueID)

	var events []types.ChangeEvent
	next := urlStr
	for next != "" {
		body, status, err := c.do(ctx, http.MethodGet, next)
		if err != nil {
			return nil, fmt.Errorf("fetching changes for issue %d: %w", issueID, err)
		}
		if status == http.StatusInternalServerError {
			debug.Warnf("failed to get issue changes for issue %d (HTTP 500); skipping change history\n", issueID)
			return nil, nil
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("unexpected HTTP %d fetching changes for issue %d", status, issueID)
		}
		var p page[wireChange]
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("parsing changes for issue %d: %w", issueID, err)
		}
		for i := range p.Values {
			events = append(events, changeToModel(issueID, &p.Values[i]))
		}
		next = p.Next
	}
	return events, nil
}

// Attachments returns the attachment names on an issue.
func (c *Client) Attachments(ctx context.Context, issueID int) ([]types.Attachment, error) {
	urlStr := fmt.Sprintf("%s/%d/attachments", c.trackerURL(), issueID)
	wires, err := collect[wireAttachment](ctx, c, urlStr)
	if err != nil {
		return nil, fmt.Errorf("fetching attachments for issue %d: %w", issueID, err)
	}
	attachments := make([]types.Attachment, 0, len(wires))
	for _, w := range wires {
		attachments = append(attachments, types.Attachment{Name: w.Name})
	}
	return attachments, nil
}

// FetchAttachment downloads one attachment's bytes. Bitbucket's content
// endpoint intermittently answers 403 even with valid credentials, so a
// 403 is retried a few times before giving up.
func (c *Client) FetchAttachment(ctx context.Context, issueID int, name string) ([]byte, error) {
	urlStr := fmt.Sprintf("%s/%d/attachments/%s", c.trackerURL(), issueID, url.PathEscape(name))

	var data []byte
	fetch := func() error {
		body, status, err := c.do(ctx, http.MethodGet, urlStr)
		if err != nil {
			return backoff.Permanent(err)
		}
		switch status {
		case http.StatusOK:
			data = body
			return nil
		case http.StatusForbidden:
			debug.Warnf("attachment %q on issue %d answered HTTP 403; retrying\n", name, issueID)
			return fmt.Errorf("HTTP 403 fetching attachment %q", name)
		default:
			return backoff.Permanent(fmt.Errorf("unexpected HTTP %d fetching attachment %q for issue %d", status, name, issueID))
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(AttachmentRetryDelay), AttachmentRetries),
		ctx,
	)
	if err := backoff.Retry(fetch, policy); err != nil {
		return nil, err
	}
	return data, nil
}
