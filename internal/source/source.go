// Package source watches systems that do not deliver webhooks and feeds their
// state changes into the ingest service.
package source

import (
	"context"
	"sync"

	"github.com/fraser-isbester/cdfwd/internal/ingest"
)

// Source defines the contract for all pull-based sources
type Source interface {
	Start(context.Context) error
	Stop() error
	Name() string
}

// Ingester is the subset of *ingest.Service a source needs.
type Ingester interface {
	Ingest(ctx context.Context, provider, eventType string, payload []byte) (*ingest.Result, error)
}

// objectState tracks the last phase emitted for one object
type objectState struct {
	phase string
	mu    sync.RWMutex
}

func (s *objectState) advance(phase string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == phase {
		return false
	}
	s.phase = phase
	return true
}

func (s *objectState) get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// PhaseTracker remembers which lifecycle phase was last emitted per object so
// informer resyncs and unrelated updates do not repeat events.
type PhaseTracker struct {
	objects map[string]*objectState
	mu      sync.RWMutex
}

func NewPhaseTracker() *PhaseTracker {
	return &PhaseTracker{
		objects: make(map[string]*objectState),
	}
}

func (pt *PhaseTracker) state(key string) *objectState {
	pt.mu.RLock()
	state, exists := pt.objects[key]
	pt.mu.RUnlock()
	if exists {
		return state
	}

	pt.mu.Lock()
	defer pt.mu.Unlock()
	if state, exists = pt.objects[key]; !exists {
		state = &objectState{}
		pt.objects[key] = state
	}
	return state
}

// Advance records phase for key and reports whether it differs from the
// phase seen before.
func (pt *PhaseTracker) Advance(key, phase string) bool {
	return pt.state(key).advance(phase)
}

// Last returns the last phase recorded for key, or "".
func (pt *PhaseTracker) Last(key string) string {
	pt.mu.RLock()
	state, exists := pt.objects[key]
	pt.mu.RUnlock()
	if !exists {
		return ""
	}
	return state.get()
}

// Forget drops key, typically when the object is deleted or emitting failed.
func (pt *PhaseTracker) Forget(key string) {
	pt.mu.Lock()
	delete(pt.objects, key)
	pt.mu.Unlock()
}
