// Package sequencer converts the sparse Bitbucket issue id stream into a
// dense stream suitable for GitHub's sequential issue numbering.
//
// Bitbucket leaves gaps where issues were deleted; GitHub assigns the next
// free number to every import. Filling the gaps with placeholders is what
// keeps source and destination ids in lock-step.
package sequencer

import (
	"context"

	"github.com/issueforge/bbmigrate/internal/types"
)

// Source yields issues in strictly ascending, unique id order. Next returns
// (nil, nil) once the stream is exhausted. Violating the ordering precondition
// is undefined behavior, not a recoverable error.
type Source interface {
	Next(ctx context.Context) (*types.Issue, error)
}

// Item is one element of the dense stream: either a real issue or a
// placeholder standing in for a deleted one.
type Item struct {
	ID    int
	Issue *types.Issue // nil for placeholders
}

// Placeholder reports whether the item exists only to preserve numbering.
func (it Item) Placeholder() bool { return it.Issue == nil }

// Stream is a single-pass, non-restartable iterator producing a dense id
// sequence over (offset+1 .. max id seen).
type Stream struct {
	src       Source
	currentID int
	pending   *types.Issue
	done      bool
}

// Fill wraps src so that every id between offset and the source's ids is
// covered, emitting placeholders for the gaps.
func Fill(src Source, offset int) *Stream {
	return &Stream{src: src, currentID: offset}
}

// Next returns the next item in ascending id order. ok is false once the
// source is exhausted. An error from the source ends the stream.
func (s *Stream) Next(ctx context.Context) (Item, bool, error) {
	if s.pending != nil {
		if s.currentID+1 < s.pending.ID {
			s.currentID++
			return Item{ID: s.currentID}, true, nil
		}
		it := Item{ID: s.pending.ID, Issue: s.pending}
		s.currentID = s.pending.ID
		s.pending = nil
		return it, true, nil
	}

	if s.done {
		return Item{}, false, nil
	}

	issue, err := s.src.Next(ctx)
	if err != nil {
		s.done = true
		return Item{}, false, err
	}
	if issue == nil {
		s.done = true
		return Item{}, false, nil
	}

	if s.currentID+1 < issue.ID {
		// Hold the real issue back until the gap before it is filled.
		s.pending = issue
		s.currentID++
		return Item{ID: s.currentID}, true, nil
	}

	s.currentID = issue.ID
	return Item{ID: issue.ID, Issue: issue}, true, nil
}

// SliceSource adapts an in-memory issue list to the Source interface.
type SliceSource struct {
	Issues []*types.Issue
	pos    int
}

func (s *SliceSource) Next(_ context.Context) (*types.Issue, error) {
	if s.pos >= len(s.Issues) {
		return nil, nil
	}
	issue := s.Issues[s.pos]
	s.pos++
	return issue, nil
}
