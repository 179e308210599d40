package orchestrator

import (
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

// InFlight tracks which action triggers currently have a submission running.
// Each trigger owns its own flag, so one action finishing never clears
// another's indicator. It is safe for concurrent use.
type InFlight struct {
	active map[domain.Trigger]time.Time // trigger -> start time
	mu     sync.Mutex
}

// NewInFlight creates an empty tracker.
func NewInFlight() *InFlight {
	return &InFlight{active: make(map[domain.Trigger]time.Time)}
}

// TryStart marks trigger as in flight. It returns false if it already was.
func (f *InFlight) TryStart(trigger domain.Trigger) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.active[trigger]; ok {
		return false
	}
	f.active[trigger] = time.Now()
	return true
}

// Done clears trigger. Clearing an idle trigger is a no-op.
func (f *InFlight) Done(trigger domain.Trigger) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, trigger)
}

// Active reports whether trigger is in flight.
func (f *InFlight) Active(trigger domain.Trigger) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.active[trigger]
	return ok
}

// List returns the in-flight triggers in sorted order.
func (f *InFlight) List() []domain.Trigger {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]domain.Trigger, 0, len(f.active))
	for t := range f.active {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
