package pointbucket

import (
	"fmt"
	"sync"
)

// Phase identifies one pass of a bucketing pipeline. Passes of one phase
// run fully parallel; consecutive phases are separated by a full barrier.
type Phase int

const (
	// PhaseClear resets every bucket.
	PhaseClear Phase = iota

	// PhaseCount sizes buckets by counting points per bucket (array).
	PhaseCount

	// PhaseAlloc reserves each bucket's pool range from a global cursor (array).
	PhaseAlloc

	// PhaseFill writes entries (array) or pushes list nodes (list).
	PhaseFill

	// PhaseSort orders each bucket by point sort key.
	PhaseSort

	// PhaseGroupClear resets the bucket groups (array).
	PhaseGroupClear

	// PhaseGroupCount counts occupied buckets per group (array).
	PhaseGroupCount

	// PhaseGroupAlloc reserves each group's range of bucket indices (array).
	PhaseGroupAlloc

	// PhaseGroupFill writes bucket indices into group ranges (array).
	PhaseGroupFill

	// PhaseGroupSort orders each group's bucket indices (array).
	PhaseGroupSort

	// PhaseBlockSort builds the 4-wide block index over ordered lists (list).
	PhaseBlockSort

	// phaseCount is the number of phases, not a phase.
	phaseCount
)

var phaseNames = [phaseCount]string{
	PhaseClear:      "clear",
	PhaseCount:      "count",
	PhaseAlloc:      "alloc",
	PhaseFill:       "fill",
	PhaseSort:       "sort",
	PhaseGroupClear: "group_clear",
	PhaseGroupCount: "group_count",
	PhaseGroupAlloc: "group_alloc",
	PhaseGroupFill:  "group_fill",
	PhaseGroupSort:  "group_sort",
	PhaseBlockSort:  "block_sort",
}

// String returns the phase's pass name.
func (p Phase) String() string {
	if p >= 0 && p < phaseCount {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// prerequisites lists, per variant, the phases that must have completed in
// the same frame before a phase may start.
var prerequisites = map[Variant]map[Phase][]Phase{
	VariantArray: {
		PhaseClear:      nil,
		PhaseCount:      {PhaseClear},
		PhaseAlloc:      {PhaseCount},
		PhaseFill:       {PhaseAlloc},
		PhaseSort:       {PhaseFill},
		PhaseGroupClear: {PhaseFill},
		PhaseGroupCount: {PhaseGroupClear},
		PhaseGroupAlloc: {PhaseGroupCount},
		PhaseGroupFill:  {PhaseGroupAlloc},
		PhaseGroupSort:  {PhaseGroupFill},
	},
	VariantList: {
		PhaseClear:     nil,
		PhaseFill:      {PhaseClear},
		PhaseSort:      {PhaseFill},
		PhaseBlockSort: {PhaseFill},
	},
}

// ValidatePlan checks that a frame's phase sequence is executable by the
// variant: every phase belongs to the variant, appears once, and follows
// all of its prerequisites.
func ValidatePlan(v Variant, plan []Phase) error {
	reqs, ok := prerequisites[v]
	if !ok {
		return fmt.Errorf("%w: unknown variant %v", ErrPhaseOrder, v)
	}
	done := make(map[Phase]bool, len(plan))
	for _, p := range plan {
		before, ok := reqs[p]
		if !ok {
			return fmt.Errorf("%w: phase %s not part of %s pipeline", ErrPhaseOrder, p, v)
		}
		if done[p] {
			return fmt.Errorf("%w: phase %s scheduled twice", ErrPhaseOrder, p)
		}
		for _, b := range before {
			if !done[b] {
				return fmt.Errorf("%w: phase %s before %s", ErrPhaseOrder, p, b)
			}
		}
		done[p] = true
	}
	return nil
}

// State is the per-frame lifecycle of a bucketeer's buffers.
type State int

const (
	// StateUninitialized means no Clear has run yet.
	StateUninitialized State = iota

	// StateCleared means buckets are empty; a frame is in progress.
	StateCleared

	// StateFilled means every point is bucketed; sorting has not run.
	StateFilled

	// StateSorted means buckets are filled and ordered.
	StateSorted

	// StateConsumed means a gather stage has read the frame.
	StateConsumed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateCleared:
		return "Cleared"
	case StateFilled:
		return "Filled"
	case StateSorted:
		return "Sorted"
	case StateConsumed:
		return "Consumed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// frameTracker follows phases as they execute and rejects a phase whose
// prerequisites have not completed in the current frame. PhaseClear starts
// a new frame.
type frameTracker struct {
	mu      sync.Mutex
	variant Variant
	plan    []Phase
	done    map[Phase]bool
	state   State
}

func newFrameTracker(v Variant, plan []Phase) *frameTracker {
	return &frameTracker{
		variant: v,
		plan:    plan,
		done:    make(map[Phase]bool),
	}
}

// begin is called at the start of a phase's pass.
func (t *frameTracker) begin(p Phase) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p == PhaseClear {
		clear(t.done)
		return nil
	}
	for _, b := range prerequisites[t.variant][p] {
		if !t.done[b] {
			return fmt.Errorf("%w: %s started before %s completed", ErrPhaseOrder, p, b)
		}
	}
	return nil
}

// end marks p complete and advances the state once the frame's last
// bucket-building phase has finished.
func (t *frameTracker) end(p Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.done[p] = true
	switch {
	case p == PhaseClear:
		t.state = StateCleared
	case p == t.plan[len(t.plan)-1]:
		if t.done[PhaseSort] {
			t.state = StateSorted
		} else {
			t.state = StateFilled
		}
	}
}

func (t *frameTracker) current() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *frameTracker) consume() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateFilled && t.state != StateSorted {
		return fmt.Errorf("%w: cannot consume frame in state %s", ErrPhaseOrder, t.state)
	}
	t.state = StateConsumed
	return nil
}
