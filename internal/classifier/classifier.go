// Package classifier buckets Bitbucket change events into the annotation
// lines that become GitHub comments.
//
// Each change event carries a set of field-level edits. Some of those map to
// label churn on the destination (priority, component, kind, version, and
// certain states), some to open/close transitions, and the rest to plain
// "changed X from A to B" annotations. Events that produce no visible change
// are suppressed entirely.
package classifier

import (
	"fmt"
	"sort"
	"strings"

	"github.com/issueforge/bbmigrate/internal/types"
)

// Translator rewrites a raw Bitbucket field value into a destination label
// name. ok is false when the value maps to "no label".
type Translator interface {
	Translate(name string) (string, bool)
}

// Fields eligible for annotation; anything else in an event is dropped
// silently. "attachment" appears in repository exports even though the live
// v2 API doesn't document it.
var includedFields = map[string]struct{}{
	"assignee":   {},
	"state":      {},
	"title":      {},
	"kind":       {},
	"milestone":  {},
	"component":  {},
	"priority":   {},
	"version":    {},
	"content":    {},
	"attachment": {},
}

// labelFields are represented as labels on both sides of a change.
var labelFields = map[string]struct{}{
	"priority":  {},
	"component": {},
	"kind":      {},
	"version":   {},
}

var (
	openStates = map[string]struct{}{
		"":                {},
		types.StateOpen:   {},
		types.StateNew:    {},
		types.StateOnHold: {},
	}
	closedStates = map[string]struct{}{
		types.StateResolved:  {},
		types.StateDuplicate: {},
		types.StateWontfix:   {},
		types.StateClosed:    {},
	}
)

// Delta is one pending field change annotation. Empty Old/New means that slot
// carried no value (or the value became a label instead).
type Delta struct {
	Field string
	Old   string
	New   string
}

// Result holds the classified buckets for one change event. The sets are
// unordered; Lines renders them deterministically.
type Result struct {
	AddedLabels   map[string]struct{}
	RemovedLabels map[string]struct{}
	Deltas        map[Delta]struct{}
	Transitions   map[string]struct{}
	Misc          map[string]struct{}
}

func newResult() *Result {
	return &Result{
		AddedLabels:   map[string]struct{}{},
		RemovedLabels: map[string]struct{}{},
		Deltas:        map[Delta]struct{}{},
		Transitions:   map[string]struct{}{},
		Misc:          map[string]struct{}{},
	}
}

// Empty reports whether the event produced no visible change. Callers must
// not emit a comment for an empty result.
func (r *Result) Empty() bool {
	return len(r.AddedLabels) == 0 && len(r.RemovedLabels) == 0 &&
		len(r.Deltas) == 0 && len(r.Transitions) == 0 && len(r.Misc) == 0
}

// Classifier maps raw change events to Results. It is stateless apart from
// its configuration and safe to reuse across events from a single goroutine
// (the Translator may mutate its own cache).
type Classifier struct {
	statesAsLabels map[string]struct{}
	translator     Translator
}

// New builds a classifier. statesAsLabels lists the issue states the
// destination represents as labels rather than open/closed.
func New(statesAsLabels []string, tr Translator) *Classifier {
	states := make(map[string]struct{}, len(statesAsLabels))
	for _, s := range statesAsLabels {
		states[s] = struct{}{}
	}
	return &Classifier{statesAsLabels: states, translator: tr}
}

// labelLike reports whether a single value of a field should become a label.
// Old and new values are judged independently: a state change can remove a
// label-like state while entering a plain one.
func (c *Classifier) labelLike(field, value string) bool {
	if _, ok := labelFields[field]; ok {
		return true
	}
	if field != "state" {
		return false
	}
	_, ok := c.statesAsLabels[value]
	return ok
}

// Classify buckets one change event. Label-likeness is judged on the raw
// values; everything that renders passes through the translator first.
func (c *Classifier) Classify(ev *types.ChangeEvent) *Result {
	res := newResult()

	for _, fc := range ev.Fields {
		if _, ok := includedFields[fc.Field]; !ok {
			continue
		}

		if fc.Field == "attachment" {
			res.Misc["attached file "+fc.New] = struct{}{}
			continue
		}

		oldIsLabel := c.labelLike(fc.Field, fc.Old)
		newIsLabel := c.labelLike(fc.Field, fc.New)

		oldVal, ok := c.translator.Translate(fc.Old)
		if !ok {
			oldVal = ""
		}
		newVal, ok := c.translator.Translate(fc.New)
		if !ok {
			newVal = ""
		}

		delta := Delta{Field: fc.Field}
		if oldIsLabel {
			if oldVal != "" {
				res.RemovedLabels[oldVal] = struct{}{}
			}
		} else {
			delta.Old = oldVal
		}
		if newIsLabel {
			if newVal != "" {
				res.AddedLabels[newVal] = struct{}{}
			}
		} else {
			delta.New = newVal
		}

		switch {
		case fc.Field == "state":
			if member(openStates, newVal) && member(closedStates, oldVal) {
				res.Transitions["reopened"] = struct{}{}
			}
			if member(openStates, oldVal) && member(closedStates, newVal) {
				res.Transitions["closed"] = struct{}{}
			}
		case fc.Field == "content":
			res.Misc["edited description"] = struct{}{}
		default:
			if !oldIsLabel || !newIsLabel {
				res.Deltas[delta] = struct{}{}
			}
		}
	}

	return res
}

func member(set map[string]struct{}, v string) bool {
	_, ok := set[v]
	return ok
}

// Lines renders the result as bulleted markdown lines in a stable order:
// removed labels, added labels, field deltas, status transitions, misc.
func (r *Result) Lines() []string {
	var lines []string

	if len(r.RemovedLabels) > 0 {
		lines = append(lines, "* removed labels: "+joinBold(sortedKeys(r.RemovedLabels)))
	}
	if len(r.AddedLabels) > 0 {
		lines = append(lines, "* added labels: "+joinBold(sortedKeys(r.AddedLabels)))
	}
	for _, d := range sortedDeltas(r.Deltas) {
		if line, ok := d.render(); ok {
			lines = append(lines, "* "+line)
		}
	}
	for _, verb := range sortedKeys(r.Transitions) {
		lines = append(lines, fmt.Sprintf("* changed **status** to %s", verb))
	}
	for _, misc := range sortedKeys(r.Misc) {
		lines = append(lines, "* "+misc)
	}

	return lines
}

func (d Delta) render() (string, bool) {
	switch {
	case d.Old != "" && d.New != "":
		return fmt.Sprintf("changed **%s** from %q to %q", d.Field, d.Old, d.New), true
	case d.Old != "":
		return fmt.Sprintf("removed **%s** (was: %q)", d.Field, d.Old), true
	case d.New != "":
		return fmt.Sprintf("set **%s** to %q", d.Field, d.New), true
	default:
		// Both slots swallowed by the label buckets; nothing to say.
		return "", false
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedDeltas(set map[Delta]struct{}) []Delta {
	deltas := make([]Delta, 0, len(set))
	for d := range set {
		deltas = append(deltas, d)
	}
	sort.Slice(deltas, func(i, j int) bool {
		if deltas[i].Field != deltas[j].Field {
			return deltas[i].Field < deltas[j].Field
		}
		if deltas[i].Old != deltas[j].Old {
			return deltas[i].Old < deltas[j].Old
		}
		return deltas[i].New < deltas[j].New
	})
	return deltas
}

func joinBold(names []string) string {
	bold := make([]string, 0, len(names))
	for _, n := range names {
		bold = append(bold, "**"+n+"**")
	}
	return strings.Join(bold, ", ")
}

// Identity is a Translator that only applies the "no label" sentinels,
// without a rename table.
type Identity struct{}

func (Identity) Translate(name string) (string, bool) {
	switch name {
	case "", "(none)", "None":
		return "", false
	}
	return name, true
}
