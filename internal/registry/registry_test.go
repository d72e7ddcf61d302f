package registry

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

type fakeLabelService struct {
	existing []string
	created  []string
	failOn   string
}

func (f *fakeLabelService) ListLabels(_ context.Context) ([]string, error) {
	return f.existing, nil
}

func (f *fakeLabelService) CreateLabel(_ context.Context, name string) error {
	if name == f.failOn {
		return errors.New("boom")
	}
	f.created = append(f.created, name)
	return nil
}

type fakeMilestoneService struct {
	existing map[string]int
	created  []string
	next     int
	fail     bool
}

func (f *fakeMilestoneService) ListMilestones(_ context.Context) (map[string]int, error) {
	return f.existing, nil
}

func (f *fakeMilestoneService) CreateMilestone(_ context.Context, title string) (int, error) {
	if f.fail {
		return 0, errors.New("boom")
	}
	f.created = append(f.created, title)
	f.next++
	return f.next, nil
}

func TestEnsureIsIdempotent(t *testing.T) {
	svc := &fakeLabelService{}
	labels, err := NewLabels(context.Background(), svc, nil)
	if err != nil {
		t.Fatalf("NewLabels() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		got, err := labels.Ensure(context.Background(), []string{"bug", "enhancement"})
		if err != nil {
			t.Fatalf("Ensure() #%d error = %v", i, err)
		}
		want := []string{"bug", "enhancement"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Ensure() #%d = %v, want %v", i, got, want)
		}
	}

	if len(svc.created) != 2 {
		t.Errorf("created %v, want exactly one create per name", svc.created)
	}
}

func TestEnsureSkipsPreexistingLabels(t *testing.T) {
	svc := &fakeLabelService{existing: []string{"bug"}}
	labels, err := NewLabels(context.Background(), svc, nil)
	if err != nil {
		t.Fatalf("NewLabels() error = %v", err)
	}

	if _, err := labels.Ensure(context.Background(), []string{"bug", "ui"}); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if !reflect.DeepEqual(svc.created, []string{"ui"}) {
		t.Errorf("created %v, want [ui]", svc.created)
	}
}

func TestTranslateTruncates(t *testing.T) {
	labels := &Labels{known: map[string]struct{}{}}

	name := "a-very-long-label-name-that-exceeds-the-destination-limit"
	got, ok := labels.Translate(name)
	if !ok {
		t.Fatal("Translate() ok = false, want true")
	}
	if want := name[:50]; got != want {
		t.Errorf("Translate() = %q (len %d), want %q", got, len(got), want)
	}
}

func TestTranslateStripsCommas(t *testing.T) {
	labels := &Labels{known: map[string]struct{}{}}
	if got, _ := labels.Translate("a,b,c"); got != "abc" {
		t.Errorf("Translate() = %q, want abc", got)
	}
}

func TestTranslateSentinels(t *testing.T) {
	labels := &Labels{known: map[string]struct{}{}}
	for _, sentinel := range []string{"(none)", "None", ""} {
		if got, ok := labels.Translate(sentinel); ok {
			t.Errorf("Translate(%q) = %q, ok = true, want absent", sentinel, got)
		}
	}
	// "none" in lowercase is a real label; the sentinels are case-sensitive.
	if _, ok := labels.Translate("none"); !ok {
		t.Error(`Translate("none") ok = false, want a real label`)
	}
}

func TestEnsureDropsSentinels(t *testing.T) {
	svc := &fakeLabelService{}
	labels, err := NewLabels(context.Background(), svc, nil)
	if err != nil {
		t.Fatalf("NewLabels() error = %v", err)
	}

	got, err := labels.Ensure(context.Background(), []string{"(none)"})
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Ensure() = %v, want empty set", got)
	}
	if len(svc.created) != 0 {
		t.Errorf("created %v, want zero create calls", svc.created)
	}
}

func TestTranslateAppliesRenames(t *testing.T) {
	svc := &fakeLabelService{}
	labels, err := NewLabels(context.Background(), svc, map[string]string{
		"bug":      "defect",
		"obsolete": "(none)",
	})
	if err != nil {
		t.Fatalf("NewLabels() error = %v", err)
	}

	if got, _ := labels.Translate("bug"); got != "defect" {
		t.Errorf("Translate(bug) = %q, want defect", got)
	}
	// A rename can point at a sentinel to discard the label entirely.
	if _, ok := labels.Translate("obsolete"); ok {
		t.Error("Translate(obsolete) ok = true, want absent via rename")
	}
}

func TestLabelCreateFailureIsFatal(t *testing.T) {
	svc := &fakeLabelService{failOn: "bad"}
	labels, err := NewLabels(context.Background(), svc, nil)
	if err != nil {
		t.Fatalf("NewLabels() error = %v", err)
	}

	if _, err := labels.Ensure(context.Background(), []string{"bad"}); err == nil {
		t.Fatal("Ensure() error = nil, want create failure to propagate")
	} else if !strings.Contains(err.Error(), "bad") {
		t.Errorf("Ensure() error = %v, want label name in message", err)
	}
}

func TestMilestoneEnsure(t *testing.T) {
	svc := &fakeMilestoneService{existing: map[string]int{"1.0": 7}}
	milestones, err := NewMilestones(context.Background(), svc)
	if err != nil {
		t.Fatalf("NewMilestones() error = %v", err)
	}

	if n, err := milestones.Ensure(context.Background(), "1.0"); err != nil || n != 7 {
		t.Errorf("Ensure(1.0) = %d, %v, want 7, nil", n, err)
	}

	n, err := milestones.Ensure(context.Background(), "2.0")
	if err != nil {
		t.Fatalf("Ensure(2.0) error = %v", err)
	}
	if again, _ := milestones.Ensure(context.Background(), "2.0"); again != n {
		t.Errorf("second Ensure(2.0) = %d, want cached %d", again, n)
	}
	if len(svc.created) != 1 {
		t.Errorf("created %v, want a single create", svc.created)
	}
}

func TestMilestoneCreateFailureIsFatal(t *testing.T) {
	svc := &fakeMilestoneService{fail: true}
	milestones, err := NewMilestones(context.Background(), svc)
	if err != nil {
		t.Fatalf("NewMilestones() error = %v", err)
	}
	if _, err := milestones.Ensure(context.Background(), "1.0"); err == nil {
		t.Fatal("Ensure() error = nil, want create failure to propagate")
	}
}

func TestDryRunServicesSuppressWrites(t *testing.T) {
	lsvc := &fakeLabelService{}
	labels, err := NewLabels(context.Background(), DryRunLabelService{lsvc}, nil)
	if err != nil {
		t.Fatalf("NewLabels() error = %v", err)
	}
	got, err := labels.Ensure(context.Background(), []string{"bug"})
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{"bug"}) {
		t.Errorf("Ensure() = %v, want [bug] even in dry run", got)
	}
	if len(lsvc.created) != 0 {
		t.Errorf("dry run created labels: %v", lsvc.created)
	}

	msvc := &fakeMilestoneService{}
	milestones, err := NewMilestones(context.Background(), &DryRunMilestoneService{MilestoneService: msvc})
	if err != nil {
		t.Fatalf("NewMilestones() error = %v", err)
	}
	n, err := milestones.Ensure(context.Background(), "1.0")
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if n <= 1000000 {
		t.Errorf("dry run milestone number = %d, want synthetic > 1000000", n)
	}
	if len(msvc.created) != 0 {
		t.Errorf("dry run created milestones: %v", msvc.created)
	}
}
