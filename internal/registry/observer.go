package registry

import (
	"time"

	"predictd/internal/handler"
)

var _ handler.Observer = (*Registry)(nil)

// OnLoad records a handler load attempt. Handlers call it while holding
// their own lock, so it must never take r.mu: Get holds r.mu while
// unloading a handler, and the two locks would invert.
func (r *Registry) OnLoad(model string, d time.Duration, err error) {
	r.metrics.observeLoad(model, d, err)
	fields := map[string]any{"dur_ms": d.Milliseconds()}
	if err != nil {
		r.loadFailures.Add(1)
		fields["error"] = err.Error()
		r.publish(Event{Name: EventLoadError, Model: model, Fields: fields})
		return
	}
	r.loads.Add(1)
	r.metrics.setLoaded(model, true)
	r.publish(Event{Name: EventLoadDone, Model: model, Fields: fields})
}

// OnUnload records a handler unload. Same locking rule as OnLoad.
func (r *Registry) OnUnload(model string, err error) {
	r.metrics.setLoaded(model, false)
	var fields map[string]any
	if err != nil {
		fields = map[string]any{"error": err.Error()}
	}
	r.publish(Event{Name: EventUnload, Model: model, Fields: fields})
}

// Subscribe streams future lifecycle events; see Bus.Subscribe.
func (r *Registry) Subscribe(buf int) (<-chan Event, func()) { return r.bus.Subscribe(buf) }
