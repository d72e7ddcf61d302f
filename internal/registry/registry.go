// Package registry maintains idempotent name→remote caches for GitHub labels
// and milestones.
//
// Each registry seeds itself from one remote listing at construction and then
// creates anything it hasn't seen, so repeated Ensure calls with the same
// input never re-create. The registries are mutated only from the conversion
// phase of a run and are not safe for concurrent callers: Ensure is
// read-check-create-write.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// maxLabelLength is GitHub's label name length limit.
const maxLabelLength = 50

// Sentinel values Bitbucket uses for "no label". Case-sensitive literals.
var noLabelSentinels = map[string]struct{}{
	"":       {},
	"(none)": {},
	"None":   {},
}

// LabelService is the remote side of the label registry.
type LabelService interface {
	ListLabels(ctx context.Context) ([]string, error)
	CreateLabel(ctx context.Context, name string) error
}

// MilestoneService is the remote side of the milestone registry.
type MilestoneService interface {
	ListMilestones(ctx context.Context) (map[string]int, error)
	CreateMilestone(ctx context.Context, title string) (int, error)
}

// Labels caches which label names already exist on the destination repo.
type Labels struct {
	svc     LabelService
	renames map[string]string
	known   map[string]struct{}
}

// NewLabels seeds the cache from the destination's label listing. renames is
// the configured translation table and may be nil.
func NewLabels(ctx context.Context, svc LabelService, renames map[string]string) (*Labels, error) {
	names, err := svc.ListLabels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing labels: %w", err)
	}
	known := make(map[string]struct{}, len(names))
	for _, n := range names {
		known[n] = struct{}{}
	}
	return &Labels{svc: svc, renames: renames, known: known}, nil
}

// Translate maps a raw Bitbucket value to a destination label name. ok is
// false when the value carries no label. The result is comma-stripped and
// truncated to GitHub's length limit.
func (l *Labels) Translate(name string) (string, bool) {
	if mapped, ok := l.renames[name]; ok {
		name = mapped
	}
	if _, ok := noLabelSentinels[name]; ok {
		return "", false
	}
	name = strings.ReplaceAll(name, ",", "")
	if runes := []rune(name); len(runes) > maxLabelLength {
		name = string(runes[:maxLabelLength])
	}
	return name, true
}

// Ensure translates every name, creates the ones the destination doesn't have
// yet, and returns the full translated set sorted. A create that fails is
// fatal for the run.
func (l *Labels) Ensure(ctx context.Context, names []string) ([]string, error) {
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		if translated, ok := l.Translate(n); ok {
			want[translated] = struct{}{}
		}
	}

	result := make([]string, 0, len(want))
	for name := range want {
		result = append(result, name)
	}
	sort.Strings(result)

	for _, name := range result {
		if _, ok := l.known[name]; ok {
			continue
		}
		if err := l.svc.CreateLabel(ctx, name); err != nil {
			return nil, fmt.Errorf("creating label %q: %w", name, err)
		}
		l.known[name] = struct{}{}
	}

	return result, nil
}

// Milestones caches the destination-assigned number for each milestone title.
type Milestones struct {
	svc     MilestoneService
	numbers map[string]int
}

// NewMilestones seeds the cache from the destination's milestone listing.
func NewMilestones(ctx context.Context, svc MilestoneService) (*Milestones, error) {
	numbers, err := svc.ListMilestones(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing milestones: %w", err)
	}
	if numbers == nil {
		numbers = map[string]int{}
	}
	return &Milestones{svc: svc, numbers: numbers}, nil
}

// Ensure returns the destination number for title, creating the milestone
// remotely on first sight. A create that fails is fatal for the run.
func (m *Milestones) Ensure(ctx context.Context, title string) (int, error) {
	if number, ok := m.numbers[title]; ok {
		return number, nil
	}
	number, err := m.svc.CreateMilestone(ctx, title)
	if err != nil {
		return 0, fmt.Errorf("creating milestone %q: %w", title, err)
	}
	m.numbers[title] = number
	return number, nil
}
