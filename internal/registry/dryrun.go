package registry

import (
	"context"

	"github.com/issueforge/bbmigrate/internal/debug"
)

// DryRunLabelService lists labels from the real service but suppresses
// creates, so dry runs exercise the full translation path without writing.
type DryRunLabelService struct {
	LabelService
}

func (s DryRunLabelService) CreateLabel(_ context.Context, name string) error {
	debug.PrintNormal("dry run: would create label %q\n", name)
	return nil
}

// DryRunMilestoneService lists milestones from the real service but hands out
// synthetic numbers instead of creating. The numbers start high enough not to
// collide with anything real.
type DryRunMilestoneService struct {
	MilestoneService
	next int
}

func (s *DryRunMilestoneService) CreateMilestone(_ context.Context, title string) (int, error) {
	s.next++
	number := 1000000 + s.next
	debug.PrintNormal("dry run: would create milestone %q (as #%d)\n", title, number)
	return number, nil
}
