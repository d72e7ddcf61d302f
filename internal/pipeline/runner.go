package pipeline

import (
	"context"
	"fmt"

	"github.com/issueforge/bbmigrate/internal/convert"
	"github.com/issueforge/bbmigrate/internal/debug"
	"github.com/issueforge/bbmigrate/internal/github"
	"github.com/issueforge/bbmigrate/internal/sequencer"
	"github.com/issueforge/bbmigrate/internal/types"
)

// Source is the issue tracker being migrated away from. The bitbucket
// client implements it (via a thin adapter for the issue stream).
type Source interface {
	Issues(offset int) sequencer.Source
	Comments(ctx context.Context, issueID int) ([]types.Comment, error)
	Changes(ctx context.Context, issueID int) ([]types.ChangeEvent, error)
	Attachments(ctx context.Context, issueID int) ([]types.Attachment, error)
	FetchAttachment(ctx context.Context, issueID int, name string) ([]byte, error)
}

// AttachmentStore persists attachment bytes somewhere linkable, such as the
// destination's wiki repository.
type AttachmentStore interface {
	Store(issueID int, filename string, data []byte) (link string, err error)
	Commit(issueID int) error
	Publish() error
}

// AttachmentMode selects how attachments are carried over.
type AttachmentMode int

const (
	// AttachmentsOff ignores attachments entirely.
	AttachmentsOff AttachmentMode = iota
	// AttachmentsMention lists attachment names in the issue body.
	AttachmentsMention
	// AttachmentsWiki downloads attachments into the wiki checkout and
	// links them from the issue body.
	AttachmentsWiki
)

// Runner is the producer side of a migration: it walks the dense issue
// stream, converts each item, and feeds the pipeline.
type Runner struct {
	Pipe      *Pipeline
	Source    Source
	Converter *convert.Converter
	Store     AttachmentStore // required for AttachmentsWiki
	Mode      AttachmentMode

	// MentionChanges emits the change history as comments.
	MentionChanges bool

	// Offset skips source issues with ids at or below it.
	Offset int

	// DryRun suppresses wiki commits alongside the pipeline's own dry run.
	DryRun bool
}

// Run executes the migration until the source is exhausted, the consumer
// aborts, or the context is cancelled. A consumer error takes precedence
// over a producer error, since the consumer aborting is usually why the
// producer stopped.
func (r *Runner) Run(ctx context.Context) error {
	r.Pipe.Start(ctx)

	stream := sequencer.Fill(r.Source.Issues(r.Offset), r.Offset)
	var produceErr error
	for {
		if r.Pipe.Abort().IsSet() {
			// The consumer reports the fatal error; exit quietly.
			break
		}
		item, ok, err := stream.Next(ctx)
		if err != nil {
			produceErr = err
			break
		}
		if !ok {
			break
		}

		task, err := r.produce(ctx, item)
		if err != nil {
			produceErr = err
			break
		}

		debug.PrintNormal("Queuing bitbucket issue %d for export\n", item.ID)
		if err := r.Pipe.Enqueue(ctx, task); err != nil {
			produceErr = err
			break
		}
	}

	if err := r.Pipe.CloseAndWait(); err != nil {
		return err
	}
	return produceErr
}

// produce fetches and converts one item into a pipeline task. Placeholders
// skip every fetch: they never have comments, changes, or attachments.
func (r *Runner) produce(ctx context.Context, item sequencer.Item) (Task, error) {
	var (
		comments []types.Comment
		changes  []types.ChangeEvent
		err      error
	)
	if !item.Placeholder() {
		comments, err = r.Source.Comments(ctx, item.ID)
		if err != nil {
			return Task{}, err
		}
		changes, err = r.Source.Changes(ctx, item.ID)
		if err != nil {
			return Task{}, err
		}
	}

	links, err := r.attachments(ctx, item)
	if err != nil {
		return Task{}, err
	}

	issue, err := r.Converter.Issue(ctx, item, changes, links)
	if err != nil {
		return Task{}, err
	}

	ghComments := make([]github.ImportComment, 0, len(comments))
	for i := range comments {
		converted, err := r.Converter.Comment(ctx, &comments[i])
		if err != nil {
			return Task{}, err
		}
		ghComments = append(ghComments, *converted)
	}

	if r.MentionChanges {
		for i := range changes {
			converted, err := r.Converter.Change(ctx, &changes[i])
			if err != nil {
				return Task{}, err
			}
			if converted != nil {
				ghComments = append(ghComments, *converted)
			}
		}
	}

	return Task{ExpectedID: item.ID, Issue: issue, Comments: ghComments}, nil
}

func (r *Runner) attachments(ctx context.Context, item sequencer.Item) ([]types.AttachmentLink, error) {
	if r.Mode == AttachmentsOff || item.Placeholder() {
		return nil, nil
	}

	listed, err := r.Source.Attachments(ctx, item.ID)
	if err != nil {
		return nil, err
	}

	links := make([]types.AttachmentLink, 0, len(listed))
	switch r.Mode {
	case AttachmentsMention:
		for _, a := range listed {
			links = append(links, types.AttachmentLink{Name: a.Name})
		}
	case AttachmentsWiki:
		for _, a := range listed {
			data, err := r.Source.FetchAttachment(ctx, item.ID, a.Name)
			if err != nil {
				return nil, err
			}
			link, err := r.Store.Store(item.ID, a.Name, data)
			if err != nil {
				return nil, fmt.Errorf("storing attachment %q for issue %d: %w", a.Name, item.ID, err)
			}
			links = append(links, types.AttachmentLink{Name: a.Name, Link: link})
		}
		if len(listed) > 0 && !r.DryRun {
			if err := r.Store.Commit(item.ID); err != nil {
				return nil, err
			}
			if err := r.Store.Publish(); err != nil {
				return nil, err
			}
		}
	}
	return links, nil
}
