// Package convert turns Bitbucket issues, comments, and change events into
// GitHub Issue Import API payloads: body templating, label and milestone
// resolution, date normalization, and the content rewrites (creole braces,
// issue links, @mentions, changeset references).
package convert

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/issueforge/bbmigrate/internal/classifier"
	"github.com/issueforge/bbmigrate/internal/config"
	"github.com/issueforge/bbmigrate/internal/github"
	"github.com/issueforge/bbmigrate/internal/registry"
	"github.com/issueforge/bbmigrate/internal/sequencer"
	"github.com/issueforge/bbmigrate/internal/types"
)

// Sep visually separates the attribution header from the original content.
const Sep = "----------------------------------------"

// Placeholder payload for ids that never existed on the source tracker.
// They keep destination auto-assigned numbers in lock-step.
const (
	placeholderTitle = "dummy issue"
	placeholderBody  = "filler issue created by bitbucket_issue_migration"
)

// Options are the per-run conversion knobs.
type Options struct {
	// BitbucketRepo is the "owner/name" source repo, used for rewriting
	// issue and changeset links.
	BitbucketRepo string

	// SkipUser is the Bitbucket user whose content keeps no attribution
	// header. Useful when that user is the one running the migration.
	SkipUser string

	// UserMap maps Bitbucket usernames to GitHub usernames, overriding the
	// same-name probe.
	UserMap map[string]string

	// LinkChangesets links changeset references back to Bitbucket instead
	// of dropping them.
	LinkChangesets bool

	// AttachmentsWiki appends attachment links (into the wiki checkout) to
	// issue bodies. MentionAttachments appends just the file names. The two
	// are mutually exclusive.
	AttachmentsWiki    bool
	MentionAttachments bool
}

// Converter holds the parsed templates and registries for one run.
type Converter struct {
	cfg        *config.Config
	opts       Options
	labels     *registry.Labels
	milestones *registry.Milestones
	classifier *classifier.Classifier
	checker    UserChecker
	users      map[string]string

	tmplIssue        *template.Template
	tmplIssueSkip    *template.Template
	tmplComment      *template.Template
	tmplCommentSkip  *template.Template
	tmplChange       *template.Template
	tmplUser         *template.Template
	tmplBBUser       *template.Template
	tmplGHUser       *template.Template
	tmplLinkedAttach *template.Template
	tmplNamesAttach  *template.Template
}

// New builds a converter, parsing every body template up front so template
// errors surface before the run starts.
func New(cfg *config.Config, opts Options, labels *registry.Labels, milestones *registry.Milestones, checker UserChecker) (*Converter, error) {
	c := &Converter{
		cfg:        cfg,
		opts:       opts,
		labels:     labels,
		milestones: milestones,
		classifier: classifier.New(cfg.StatesAsLabels, labels),
		checker:    checker,
		users:      map[string]string{},
	}
	for name, mapped := range opts.UserMap {
		c.users[name] = mapped
	}

	for _, t := range []struct {
		dst  **template.Template
		name string
		src  string
	}{
		{&c.tmplIssue, "issue", cfg.IssueTemplate},
		{&c.tmplIssueSkip, "issue_skip_user", cfg.IssueTemplateSkipUser},
		{&c.tmplComment, "comment", cfg.CommentTemplate},
		{&c.tmplCommentSkip, "comment_skip_user", cfg.CommentTemplateSkipUser},
		{&c.tmplChange, "change", cfg.ChangeTemplate},
		{&c.tmplUser, "user", cfg.UserTemplate},
		{&c.tmplBBUser, "bitbucket_username", cfg.BitbucketUsernameTemplate},
		{&c.tmplGHUser, "github_username", cfg.GitHubUsernameTemplate},
		{&c.tmplLinkedAttach, "linked_attachments", cfg.LinkedAttachmentsTemplate},
		{&c.tmplNamesAttach, "names_only_attachments", cfg.NamesOnlyAttachmentsTemplate},
	} {
		parsed, err := template.New(t.name).Parse(t.src)
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", t.name, err)
		}
		*t.dst = parsed
	}
	return c, nil
}

func render(t *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("rendering %s template: %w", t.Name(), err)
	}
	return sb.String(), nil
}

type issueData struct {
	Reporter    string
	Sep         string
	Repo        string
	ID          int
	Content     string
	Attachments string
}

type commentData struct {
	Author  string
	Sep     string
	Content string
}

type changeData struct {
	Author  string
	Sep     string
	Changes string
}

type attachmentData struct {
	Sep             string
	AttachmentLinks string
	AttachmentNames string
}

// Issue converts one sequenced item into an import payload. Placeholder
// items become closed filler issues; real ones get labels and milestones
// resolved through the registries and a templated body.
func (c *Converter) Issue(ctx context.Context, item sequencer.Item, changes []types.ChangeEvent, links []types.AttachmentLink) (*github.ImportIssue, error) {
	if item.Placeholder() {
		return &github.ImportIssue{
			Title:  placeholderTitle,
			Body:   placeholderBody,
			Closed: true,
		}, nil
	}
	issue := item.Issue

	rawLabels := map[string]struct{}{issue.Priority: {}}
	for _, v := range []string{issue.Component, issue.Kind, issue.Version} {
		if v != "" {
			rawLabels[v] = struct{}{}
		}
	}
	for _, s := range c.cfg.StatesAsLabels {
		if issue.State == s {
			rawLabels[issue.State] = struct{}{}
		}
	}
	names := make([]string, 0, len(rawLabels))
	for name := range rawLabels {
		names = append(names, name)
	}
	labels, err := c.labels.Ensure(ctx, names)
	if err != nil {
		return nil, err
	}

	body, err := c.issueBody(ctx, issue, links)
	if err != nil {
		return nil, err
	}

	createdAt, err := Date(issue.CreatedOn)
	if err != nil {
		return nil, fmt.Errorf("issue %d created_on: %w", issue.ID, err)
	}
	updatedAt, err := Date(issue.UpdatedOn)
	if err != nil {
		return nil, fmt.Errorf("issue %d updated_on: %w", issue.ID, err)
	}

	out := &github.ImportIssue{
		Title:     issue.Title,
		Body:      body,
		Closed:    types.Closed(issue.State),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		Labels:    labels,
	}

	if out.Closed {
		closedAt, err := closedDate(issue, changes)
		if err != nil {
			return nil, err
		}
		out.ClosedAt = closedAt
	}

	if issue.Milestone != "" {
		number, err := c.milestones.Ensure(ctx, issue.Milestone)
		if err != nil {
			return nil, err
		}
		out.Milestone = number
	}

	return out, nil
}

// closedDate finds when an issue was closed: the newest state change from an
// open state to a closed one, falling back to the last-updated time when the
// history doesn't record the closing.
func closedDate(issue *types.Issue, changes []types.ChangeEvent) (string, error) {
	var dates []string
	for _, ev := range changes {
		for _, fc := range ev.Fields {
			if fc.Field != "state" {
				continue
			}
			oldOpen := fc.Old == "" || fc.Old == types.StateOpen || fc.Old == types.StateNew
			newOpen := fc.New == "" || fc.New == types.StateOpen || fc.New == types.StateNew
			if oldOpen && !newOpen {
				d, err := Date(ev.CreatedOn)
				if err != nil {
					return "", fmt.Errorf("issue %d change date: %w", issue.ID, err)
				}
				dates = append(dates, d)
			}
		}
	}
	if len(dates) == 0 {
		return Date(issue.UpdatedOn)
	}
	sort.Strings(dates)
	return dates[len(dates)-1], nil
}

func (c *Converter) issueBody(ctx context.Context, issue *types.Issue, links []types.AttachmentLink) (string, error) {
	attachments, err := c.attachmentBlock(links)
	if err != nil {
		return "", err
	}

	reporter, err := c.author(ctx, issue.Reporter)
	if err != nil {
		return "", err
	}

	tmpl := c.tmplIssue
	if issue.Reporter != nil && issue.Reporter.Username == c.opts.SkipUser && c.opts.SkipUser != "" {
		tmpl = c.tmplIssueSkip
	}
	return render(tmpl, issueData{
		Reporter:    reporter,
		Sep:         Sep,
		Repo:        c.opts.BitbucketRepo,
		ID:          issue.ID,
		Content:     c.body(issue.Content),
		Attachments: attachments,
	})
}

func (c *Converter) attachmentBlock(links []types.AttachmentLink) (string, error) {
	switch {
	case c.opts.AttachmentsWiki && len(links) > 0:
		parts := make([]string, 0, len(links))
		for _, l := range links {
			parts = append(parts, fmt.Sprintf("[%s](%s)", l.Name, l.Link))
		}
		return render(c.tmplLinkedAttach, attachmentData{
			Sep:             Sep,
			AttachmentLinks: strings.Join(parts, " | "),
		})
	case c.opts.MentionAttachments && len(links) > 0:
		names := make([]string, 0, len(links))
		for _, l := range links {
			names = append(names, l.Name)
		}
		return render(c.tmplNamesAttach, attachmentData{
			Sep:             Sep,
			AttachmentNames: strings.Join(names, ", "),
		})
	default:
		return "", nil
	}
}

// Comment converts one issue comment into an import payload.
func (c *Converter) Comment(ctx context.Context, comment *types.Comment) (*github.ImportComment, error) {
	createdAt, err := Date(comment.CreatedOn)
	if err != nil {
		return nil, fmt.Errorf("comment created_on: %w", err)
	}

	author, err := c.author(ctx, comment.User)
	if err != nil {
		return nil, err
	}

	tmpl := c.tmplComment
	if comment.User != nil && comment.User.Username == c.opts.SkipUser && c.opts.SkipUser != "" {
		tmpl = c.tmplCommentSkip
	}
	body, err := render(tmpl, commentData{
		Author:  author,
		Sep:     Sep,
		Content: c.body(comment.Content),
	})
	if err != nil {
		return nil, err
	}
	return &github.ImportComment{CreatedAt: createdAt, Body: body}, nil
}

// Change converts one change event into an import comment. Events whose
// classification yields nothing visible return (nil, nil) and must not be
// pushed.
func (c *Converter) Change(ctx context.Context, ev *types.ChangeEvent) (*github.ImportComment, error) {
	res := c.classifier.Classify(ev)
	if res.Empty() {
		return nil, nil
	}

	createdAt, err := Date(ev.CreatedOn)
	if err != nil {
		return nil, fmt.Errorf("change created_on: %w", err)
	}

	author, err := c.author(ctx, ev.User)
	if err != nil {
		return nil, err
	}

	body, err := render(c.tmplChange, changeData{
		Author:  author,
		Sep:     Sep,
		Changes: strings.Join(res.Lines(), "\n"),
	})
	if err != nil {
		return nil, err
	}
	return &github.ImportComment{CreatedAt: createdAt, Body: body}, nil
}
