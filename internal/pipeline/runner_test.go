package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/issueforge/bbmigrate/internal/config"
	"github.com/issueforge/bbmigrate/internal/convert"
	"github.com/issueforge/bbmigrate/internal/github"
	"github.com/issueforge/bbmigrate/internal/registry"
	"github.com/issueforge/bbmigrate/internal/sequencer"
	"github.com/issueforge/bbmigrate/internal/types"
)

type nullLabelService struct{}

func (nullLabelService) ListLabels(context.Context) ([]string, error) { return nil, nil }
func (nullLabelService) CreateLabel(context.Context, string) error    { return nil }

type nullMilestoneService struct{}

func (nullMilestoneService) ListMilestones(context.Context) (map[string]int, error) {
	return nil, nil
}
func (nullMilestoneService) CreateMilestone(context.Context, string) (int, error) { return 1, nil }

type nullChecker struct{}

func (nullChecker) LookupUser(context.Context, string) (string, bool, error) {
	return "", false, nil
}

// fakeSource serves a fixed issue list and counts how many the producer
// actually pulled.
type fakeSource struct {
	issues []*types.Issue
	pos    int
	served atomic.Int32
}

func (s *fakeSource) Issues(_ int) sequencer.Source { return s }

func (s *fakeSource) Next(_ context.Context) (*types.Issue, error) {
	if s.pos >= len(s.issues) {
		return nil, nil
	}
	issue := s.issues[s.pos]
	s.pos++
	s.served.Add(1)
	return issue, nil
}

func (s *fakeSource) Comments(context.Context, int) ([]types.Comment, error) { return nil, nil }
func (s *fakeSource) Changes(context.Context, int) ([]types.ChangeEvent, error) {
	return nil, nil
}
func (s *fakeSource) Attachments(context.Context, int) ([]types.Attachment, error) {
	return nil, nil
}
func (s *fakeSource) FetchAttachment(context.Context, int, string) ([]byte, error) {
	return nil, nil
}

func testConverter(t *testing.T) *convert.Converter {
	t.Helper()
	labels, err := registry.NewLabels(context.Background(), nullLabelService{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	milestones, err := registry.NewMilestones(context.Background(), nullMilestoneService{})
	if err != nil {
		t.Fatal(err)
	}
	conv, err := convert.New(config.Default(), convert.Options{BitbucketRepo: "owner/repo"}, labels, milestones, nullChecker{})
	if err != nil {
		t.Fatal(err)
	}
	return conv
}

func sourceIssue(id int) *types.Issue {
	return &types.Issue{
		ID:        id,
		Title:     "issue",
		Content:   "content",
		State:     "open",
		Priority:  "major",
		Kind:      "bug",
		CreatedOn: "2012-01-01T00:00:00+00:00",
		UpdatedOn: "2012-01-02T00:00:00+00:00",
	}
}

// echoDest answers every poll with the id the sequencing expects, i.e. the
// n-th submission imports as issue n+offset.
func echoDest(offset int) *fakeDest {
	return &fakeDest{
		outcome: func(n int, _ Task) (github.ImportOutcome, error) {
			return github.ImportOutcome{State: github.StateImported, IssueNumber: n + offset}, nil
		},
	}
}

func TestRunnerFillsGapsWithPlaceholders(t *testing.T) {
	dest := echoDest(0)
	src := &fakeSource{issues: []*types.Issue{sourceIssue(2), sourceIssue(4)}}
	r := &Runner{
		Pipe:      New(dest, fastConfig()),
		Source:    src,
		Converter: testConverter(t),
	}

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if dest.count() != 4 {
		t.Fatalf("submitted %d issues, want 4 (two real, two placeholders)", dest.count())
	}
	if dest.submitted[0].Issue.Title != "dummy issue" {
		t.Errorf("submission 1 title = %q, want placeholder", dest.submitted[0].Issue.Title)
	}
	if dest.submitted[1].Issue.Title != "issue" {
		t.Errorf("submission 2 title = %q, want real issue", dest.submitted[1].Issue.Title)
	}
	if !dest.submitted[0].Issue.Closed {
		t.Error("placeholder must import closed")
	}
}

func TestRunnerStopsProducingOnAbort(t *testing.T) {
	// Every import desyncs, so the very first push kills the run. The
	// producer must notice and stop pulling from the source.
	dest := &fakeDest{
		outcome: func(n int, _ Task) (github.ImportOutcome, error) {
			return github.ImportOutcome{State: github.StateImported, IssueNumber: n + 1000}, nil
		},
	}
	issues := make([]*types.Issue, 0, 30)
	for id := 1; id <= 30; id++ {
		issues = append(issues, sourceIssue(id))
	}
	src := &fakeSource{issues: issues}
	r := &Runner{
		Pipe:      New(dest, fastConfig()),
		Source:    src,
		Converter: testConverter(t),
	}

	err := r.Run(context.Background())
	var desync *DesyncError
	if !errors.As(err, &desync) {
		t.Fatalf("Run() error = %v, want *DesyncError", err)
	}
	if served := src.served.Load(); served >= 30 {
		t.Errorf("producer pulled all %d issues despite the abort", served)
	}
	if dest.count() != 1 {
		t.Errorf("submitted %d issues after the fatal push, want 1", dest.count())
	}
}

func TestRunnerSourceErrorAfterDrain(t *testing.T) {
	dest := echoDest(0)
	src := &erroringSource{fakeSource: fakeSource{issues: []*types.Issue{sourceIssue(1)}}}
	r := &Runner{
		Pipe:      New(dest, fastConfig()),
		Source:    src,
		Converter: testConverter(t),
	}

	err := r.Run(context.Background())
	if err == nil || err.Error() != "tracker unavailable" {
		t.Fatalf("Run() error = %v, want source error", err)
	}
	// The issue served before the failure still went through.
	if dest.count() != 1 {
		t.Errorf("submitted %d issues, want 1", dest.count())
	}
}

type erroringSource struct {
	fakeSource
}

func (s *erroringSource) Issues(_ int) sequencer.Source { return s }

func (s *erroringSource) Next(ctx context.Context) (*types.Issue, error) {
	issue, err := s.fakeSource.Next(ctx)
	if issue == nil && err == nil {
		return nil, errors.New("tracker unavailable")
	}
	return issue, err
}

type recordingStore struct {
	stored    []string
	commits   int
	publishes int
}

func (s *recordingStore) Store(issueID int, filename string, _ []byte) (string, error) {
	s.stored = append(s.stored, filename)
	return "../wiki/imported_issue_attachments/1/" + filename, nil
}
func (s *recordingStore) Commit(int) error { s.commits++; return nil }
func (s *recordingStore) Publish() error   { s.publishes++; return nil }

type attachmentSource struct {
	fakeSource
}

func (s *attachmentSource) Attachments(context.Context, int) ([]types.Attachment, error) {
	return []types.Attachment{{Name: "log.txt"}}, nil
}

func (s *attachmentSource) FetchAttachment(context.Context, int, string) ([]byte, error) {
	return []byte("bytes"), nil
}

func TestRunnerWikiAttachments(t *testing.T) {
	dest := echoDest(0)
	src := &attachmentSource{fakeSource: fakeSource{issues: []*types.Issue{sourceIssue(1)}}}
	store := &recordingStore{}
	r := &Runner{
		Pipe:      New(dest, fastConfig()),
		Source:    src,
		Converter: testConverterWithOptions(t, convert.Options{BitbucketRepo: "owner/repo", AttachmentsWiki: true}),
		Store:     store,
		Mode:      AttachmentsWiki,
	}

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(store.stored) != 1 || store.commits != 1 || store.publishes != 1 {
		t.Errorf("store = %+v, want one store/commit/publish", store)
	}
	if body := dest.submitted[0].Issue.Body; !strings.Contains(body, "log.txt") {
		t.Errorf("issue body missing attachment link: %q", body)
	}
}

func TestRunnerWikiAttachmentsDryRunSkipsCommit(t *testing.T) {
	dest := echoDest(0)
	src := &attachmentSource{fakeSource: fakeSource{issues: []*types.Issue{sourceIssue(1)}}}
	store := &recordingStore{}
	cfg := fastConfig()
	cfg.DryRun = true
	r := &Runner{
		Pipe:      New(dest, cfg),
		Source:    src,
		Converter: testConverterWithOptions(t, convert.Options{BitbucketRepo: "owner/repo", AttachmentsWiki: true}),
		Store:     store,
		Mode:      AttachmentsWiki,
		DryRun:    true,
	}

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(store.stored) != 1 {
		t.Errorf("stored %d attachments, want conversion identical to a live run", len(store.stored))
	}
	if store.commits != 0 || store.publishes != 0 {
		t.Errorf("dry run committed (%d) or published (%d)", store.commits, store.publishes)
	}
}

func testConverterWithOptions(t *testing.T, opts convert.Options) *convert.Converter {
	t.Helper()
	labels, err := registry.NewLabels(context.Background(), nullLabelService{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	milestones, err := registry.NewMilestones(context.Background(), nullMilestoneService{})
	if err != nil {
		t.Fatal(err)
	}
	conv, err := convert.New(config.Default(), opts, labels, milestones, nullChecker{})
	if err != nil {
		t.Fatal(err)
	}
	return conv
}
