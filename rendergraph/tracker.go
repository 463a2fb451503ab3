package rendergraph

import (
	"fmt"
	"sync"
)

// Tracker records which buffers exist and which have been written, and
// validates pass declarations against that state. Graph implementations
// embed one so that hazards are reported identically on every device.
//
// Thread safety: Tracker is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	written map[BufferID]bool
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{written: make(map[BufferID]bool)}
}

// Add registers a newly created, not yet written buffer.
func (t *Tracker) Add(id BufferID) {
	t.mu.Lock()
	t.written[id] = false
	t.mu.Unlock()
}

// Remove forgets a destroyed buffer.
func (t *Tracker) Remove(id BufferID) {
	t.mu.Lock()
	delete(t.written, id)
	t.mu.Unlock()
}

// Known reports whether id is a live buffer.
func (t *Tracker) Known(id BufferID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.written[id]
	return ok
}

// MarkWritten records a host upload into id.
func (t *Tracker) MarkWritten(id BufferID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.written[id]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBuffer, id)
	}
	t.written[id] = true
	return nil
}

// Declare validates a pass against the passes declared before it and
// returns the scope its record callback runs in. Every read buffer must
// already be written; every written buffer becomes written for the passes
// that follow.
func (t *Tracker) Declare(desc PassDesc) (*Scope, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	scope := &Scope{
		pass:   desc.Name,
		access: make(map[BufferID]Access, len(desc.Reads)+len(desc.Writes)),
	}
	for _, id := range desc.Reads {
		written, ok := t.written[id]
		if !ok {
			return nil, fmt.Errorf("pass %q: %w: %d", desc.Name, ErrUnknownBuffer, id)
		}
		if !written {
			return nil, fmt.Errorf("pass %q: %w: %d", desc.Name, ErrReadBeforeWrite, id)
		}
		scope.access[id] = AccessRead
	}
	for _, id := range desc.Writes {
		if _, ok := t.written[id]; !ok {
			return nil, fmt.Errorf("pass %q: %w: %d", desc.Name, ErrUnknownBuffer, id)
		}
		scope.access[id] = AccessReadWrite
	}
	for _, id := range desc.Writes {
		t.written[id] = true
	}
	return scope, nil
}

// Scope is the set of buffers a pass declared, with their strongest access.
type Scope struct {
	pass   string
	access map[BufferID]Access
}

// Pass returns the name of the pass that owns the scope.
func (s *Scope) Pass() string { return s.pass }

// Check reports whether id was declared by the pass.
func (s *Scope) Check(id BufferID) error {
	if _, ok := s.access[id]; !ok {
		return fmt.Errorf("pass %q: %w: %d", s.pass, ErrUndeclaredBuffer, id)
	}
	return nil
}

// CheckBindings validates handles against a kernel's binding list.
func (s *Scope) CheckBindings(kernel *Kernel, handles []Handle) error {
	if kernel == nil {
		return ErrNilKernel
	}
	if len(handles) != len(kernel.Bindings) {
		return fmt.Errorf("pass %q kernel %q: %w: got %d, want %d",
			s.pass, kernel.Name, ErrBindingMismatch, len(handles), len(kernel.Bindings))
	}
	for i, h := range handles {
		declared, ok := s.access[h.ID()]
		if !ok {
			return fmt.Errorf("pass %q kernel %q binding %d: %w: %d",
				s.pass, kernel.Name, i, ErrUndeclaredBuffer, h.ID())
		}
		if kernel.Bindings[i].Writes() && !declared.Writes() {
			return fmt.Errorf("pass %q kernel %q binding %d: %w: %d",
				s.pass, kernel.Name, i, ErrAccessViolation, h.ID())
		}
	}
	return nil
}
