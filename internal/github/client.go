package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/issueforge/bbmigrate/internal/debug"
)

// NewClient creates a new GitHub client for owner/repo.
func NewClient(username, token, owner, repo string) *Client {
	return &Client{
		Username: username,
		Token:    token,
		Owner:    owner,
		Repo:     repo,
		BaseURL:  DefaultAPIEndpoint,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithHTTPClient returns a new client with a custom HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	out := *c
	out.HTTPClient = httpClient
	return &out
}

// WithBaseURL returns a new client with a custom base URL (for testing or
// GitHub Enterprise).
func (c *Client) WithBaseURL(baseURL string) *Client {
	out := *c
	out.BaseURL = baseURL
	return &out
}

// repoPath returns the "owner/repo" path segment.
func (c *Client) repoPath() string {
	return c.Owner + "/" + c.Repo
}

// buildURL constructs a full API URL.
func (c *Client) buildURL(path string, params map[string]string) string {
	u := c.BaseURL + path

	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		u += "?" + values.Encode()
	}

	return u
}

// expectStatus checks a response status against the one the endpoint promises.
func expectStatus(got, want int, urlStr string) error {
	if got != want {
		return fmt.Errorf("unexpected HTTP status %d from %s", got, urlStr)
	}
	return nil
}

// do performs an HTTP request with authentication and rate-limit retry. It
// returns the response as-is for any status; only transport failures and
// exhausted retries are errors.
func (c *Client) do(ctx context.Context, method, urlStr string, body interface{}) ([]byte, int, http.Header, error) {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		var reqBody io.Reader
		if jsonBody != nil {
			reqBody = bytes.NewReader(jsonBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("failed to create request: %w", err)
		}

		req.SetBasicAuth(c.Username, c.Token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", importAccept)

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed (attempt %d/%d): %w", attempt+1, MaxRetries+1, err)
			continue
		}

		const maxResponseSize = 50 * 1024 * 1024
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response (attempt %d/%d): %w", attempt+1, MaxRetries+1, err)
			continue
		}

		// Handle rate limiting (GitHub uses 403 with X-RateLimit-Remaining: 0, or 429)
		if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0") {
			delay := RetryDelay * time.Duration(1<<attempt)
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if seconds, err := strconv.Atoi(retryAfter); err == nil {
					delay = time.Duration(seconds) * time.Second
				}
			}
			lastErr = fmt.Errorf("rate limited (attempt %d/%d)", attempt+1, MaxRetries+1)
			select {
			case <-ctx.Done():
				return nil, 0, nil, ctx.Err()
			case <-time.After(delay):
				continue
			}
		}

		return respBody, resp.StatusCode, resp.Header, nil
	}

	return nil, 0, nil, fmt.Errorf("max retries (%d) exceeded: %w", MaxRetries+1, lastErr)
}

// linkNextPattern matches the "next" relation in GitHub Link headers.
var linkNextPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// hasNextPage checks the Link header for a next page URL and returns it.
func hasNextPage(headers http.Header) (string, bool) {
	link := headers.Get("Link")
	if link == "" {
		return "", false
	}
	matches := linkNextPattern.FindStringSubmatch(link)
	if len(matches) < 2 {
		return "", false
	}
	return matches[1], true
}

// CheckRepo verifies the credentials work and that the repo is the one the
// caller named. GitHub follows renames silently, which would desynchronize
// every issue link this tool writes.
func (c *Client) CheckRepo(ctx context.Context) error {
	urlStr := c.buildURL("/repos/"+c.repoPath(), nil)
	respBody, status, _, err := c.do(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("failed to log in to GitHub: check username and token")
	case http.StatusForbidden:
		return fmt.Errorf("GitHub login succeeded, but user %q doesn't have permission to access %s (or is over the API rate limit)", c.Username, urlStr)
	case http.StatusNotFound:
		return fmt.Errorf("could not find a GitHub repo at: %s", urlStr)
	}
	if err := expectStatus(status, http.StatusOK, urlStr); err != nil {
		return err
	}

	var repo repository
	if err := json.Unmarshal(respBody, &repo); err != nil {
		return fmt.Errorf("failed to parse repo response: %w", err)
	}
	if repo.FullName != c.repoPath() {
		return fmt.Errorf("repo name does not match the one sent: %s != %s (was this repo renamed?)", c.repoPath(), repo.FullName)
	}
	return nil
}

// ListLabels retrieves every label name on the repository.
func (c *Client) ListLabels(ctx context.Context) ([]string, error) {
	var names []string

	urlStr := c.buildURL("/repos/"+c.repoPath()+"/labels", map[string]string{"per_page": "100"})
	for page := 0; urlStr != ""; page++ {
		if page > MaxPages {
			return nil, fmt.Errorf("pagination limit exceeded: stopped after %d pages", MaxPages)
		}

		respBody, status, headers, err := c.do(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch labels: %w", err)
		}
		if err := expectStatus(status, http.StatusOK, urlStr); err != nil {
			return nil, err
		}

		var labels []label
		if err := json.Unmarshal(respBody, &labels); err != nil {
			return nil, fmt.Errorf("failed to parse labels response: %w", err)
		}
		for _, l := range labels {
			names = append(names, l.Name)
		}

		urlStr, _ = hasNextPage(headers)
	}

	return names, nil
}

// CreateLabel creates a label with a random web-safe color.
func (c *Client) CreateLabel(ctx context.Context, name string) error {
	urlStr := c.buildURL("/repos/"+c.repoPath()+"/labels", nil)
	reqBody := map[string]string{
		"name":  name,
		"color": randomWebColor(),
	}
	_, status, _, err := c.do(ctx, http.MethodPost, urlStr, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create label: %w", err)
	}
	return expectStatus(status, http.StatusCreated, urlStr)
}

// randomWebColor picks one of the 4096 web-safe colors.
func randomWebColor() string {
	r, g, b := rand.Intn(16)*16, rand.Intn(16)*16, rand.Intn(16)*16
	return fmt.Sprintf("%02X%02X%02X", r, g, b)
}

// ListMilestones retrieves all milestones (any state) as title→number.
func (c *Client) ListMilestones(ctx context.Context) (map[string]int, error) {
	numbers := make(map[string]int)

	urlStr := c.buildURL("/repos/"+c.repoPath()+"/milestones", map[string]string{
		"state":    "all",
		"per_page": "100",
	})
	for page := 0; urlStr != ""; page++ {
		if page > MaxPages {
			return nil, fmt.Errorf("pagination limit exceeded: stopped after %d pages", MaxPages)
		}

		respBody, status, headers, err := c.do(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch milestones: %w", err)
		}
		if err := expectStatus(status, http.StatusOK, urlStr); err != nil {
			return nil, err
		}

		var milestones []milestone
		if err := json.Unmarshal(respBody, &milestones); err != nil {
			return nil, fmt.Errorf("failed to parse milestones response: %w", err)
		}
		for _, m := range milestones {
			numbers[m.Title] = m.Number
		}

		urlStr, _ = hasNextPage(headers)
	}

	return numbers, nil
}

// CreateMilestone creates a milestone and returns its number.
func (c *Client) CreateMilestone(ctx context.Context, title string) (int, error) {
	urlStr := c.buildURL("/repos/"+c.repoPath()+"/milestones", nil)
	respBody, status, _, err := c.do(ctx, http.MethodPost, urlStr, map[string]string{"title": title})
	if err != nil {
		return 0, fmt.Errorf("failed to create milestone: %w", err)
	}
	if err := expectStatus(status, http.StatusCreated, urlStr); err != nil {
		return 0, err
	}

	var m milestone
	if err := json.Unmarshal(respBody, &m); err != nil {
		return 0, fmt.Errorf("failed to parse milestone response: %w", err)
	}
	return m.Number, nil
}

// SubmitImport submits one issue with its comments to the Issue Import API.
// A 422 is a ValidationError; the import itself completes asynchronously and
// must be polled via the returned handle.
func (c *Client) SubmitImport(ctx context.Context, issue *ImportIssue, comments []ImportComment) (*ImportHandle, error) {
	urlStr := c.buildURL("/repos/"+c.repoPath()+"/import/issues", nil)
	reqBody := map[string]interface{}{
		"issue": issue,
	}
	if comments == nil {
		comments = []ImportComment{}
	}
	reqBody["comments"] = comments

	respBody, status, _, err := c.do(ctx, http.MethodPost, urlStr, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to submit import: %w", err)
	}

	switch status {
	case http.StatusAccepted:
		var st importStatus
		if err := json.Unmarshal(respBody, &st); err != nil {
			return nil, fmt.Errorf("failed to parse import response: %w", err)
		}
		return &ImportHandle{URL: st.URL}, nil
	case http.StatusUnprocessableEntity:
		return nil, &ValidationError{Title: issue.Title, Details: string(respBody)}
	default:
		return nil, fmt.Errorf("failed to submit issue %q: unexpected HTTP status %d", issue.Title, status)
	}
}

// PollStatus checks one submitted import. 403 and 404 come back as
// StateUnknown rather than errors: the status endpoint inexplicably returns
// them for imports that succeeded.
func (c *Client) PollStatus(ctx context.Context, h *ImportHandle) (ImportOutcome, error) {
	respBody, status, _, err := c.do(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return ImportOutcome{}, err
	}

	if status == http.StatusForbidden || status == http.StatusNotFound {
		debug.Logf("got HTTP %d retrieving import status from %s\n", status, h.URL)
		return ImportOutcome{State: StateUnknown}, nil
	}
	if err := expectStatus(status, http.StatusOK, h.URL); err != nil {
		return ImportOutcome{}, err
	}

	var st importStatus
	if err := json.Unmarshal(respBody, &st); err != nil {
		return ImportOutcome{}, fmt.Errorf("failed to parse import status: %w", err)
	}

	switch st.Status {
	case "pending":
		return ImportOutcome{State: StatePending}, nil
	case "imported":
		number, err := issueNumberFromURL(st.IssueURL)
		if err != nil {
			return ImportOutcome{}, err
		}
		return ImportOutcome{State: StateImported, IssueNumber: number}, nil
	case "failed":
		return ImportOutcome{State: StateFailed, Details: string(respBody)}, nil
	default:
		debug.Logf("import status check returned unexpected status %q\n", st.Status)
		return ImportOutcome{State: StateUnknown}, nil
	}
}

// issueNumberFromURL extracts the issue number from an issue API URL.
func issueNumberFromURL(issueURL string) (int, error) {
	idx := strings.LastIndex(issueURL, "/")
	if idx < 0 || idx == len(issueURL)-1 {
		return 0, fmt.Errorf("malformed issue URL: %q", issueURL)
	}
	number, err := strconv.Atoi(issueURL[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("malformed issue URL %q: %w", issueURL, err)
	}
	return number, nil
}

// LookupUser checks whether a GitHub user with the given name exists.
// ok is false for a 404; a 403 is an error because it usually means the
// API rate limit, which would otherwise silently strip attribution links.
func (c *Client) LookupUser(ctx context.Context, username string) (string, bool, error) {
	urlStr := c.buildURL("/users/"+url.PathEscape(username), nil)
	_, status, _, err := c.do(ctx, http.MethodHead, urlStr, nil)
	if err != nil {
		return "", false, err
	}
	switch status {
	case http.StatusOK:
		return username, true, nil
	case http.StatusNotFound:
		return "", false, nil
	case http.StatusForbidden:
		return "", false, fmt.Errorf("GitHub returned 403 for %s; this may be rate limiting", urlStr)
	default:
		return "", false, fmt.Errorf("failed to check GitHub user %s: unexpected HTTP status %d", urlStr, status)
	}
}
