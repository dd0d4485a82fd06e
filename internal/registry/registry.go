package registry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"predictd/internal/handler"
)

// Config holds optional dependencies for a Registry.
type Config struct {
	Logger zerolog.Logger
	// Publisher receives lifecycle events in addition to subscribers of the
	// registry's own event bus.
	Publisher EventPublisher
	// Metrics records Prometheus metrics; nil disables them.
	Metrics *Metrics
}

// Registry maps model names to handlers and keeps at most one model resident:
// Get evicts the previously active model when a different one is requested.
//
// The handler set is written during startup and frozen by Seal. mu guards
// the active name and serializes every eviction with the unload it triggers,
// so model switches are totally ordered.
type Registry struct {
	mu       sync.Mutex
	handlers map[string]handler.Handler
	active   string
	sealed   bool

	log       zerolog.Logger
	bus       *Bus
	publisher EventPublisher
	metrics   *Metrics
	startTime time.Time

	loads        atomic.Uint64
	loadFailures atomic.Uint64
	evictions    atomic.Uint64
}

// New constructs an empty Registry.
func New(cfg Config) *Registry {
	r := &Registry{
		handlers:  make(map[string]handler.Handler),
		log:       cfg.Logger,
		bus:       NewBus(),
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		startTime: time.Now(),
	}
	if r.publisher == nil {
		r.publisher = noopPublisher{}
	}
	return r
}

// Register adds h under name. It fails on a duplicate name or after Seal.
func (r *Registry) Register(name string, h handler.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrRegistrationClosed(name)
	}
	if _, ok := r.handlers[name]; ok {
		return ErrDuplicateRegistration(name)
	}
	r.handlers[name] = h
	r.metrics.setLoaded(name, h.Loaded())
	r.log.Info().Str("event", "register").Str("model", name).Str("kind", string(h.Kind())).Str("path", h.Path()).Msg("model registered")
	return nil
}

// Seal closes registration. The handler set is immutable afterwards.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether registration has been closed.
func (r *Registry) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}

// Get returns the handler registered under name and makes it the active
// model. If another model is active and loaded, it is unloaded before Get
// returns. The returned handler is not necessarily loaded; it loads on its
// first Predict.
//
// An unknown name yields a model-not-found error and leaves the active
// model untouched.
func (r *Registry) Get(name string) (handler.Handler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, ErrModelNotFound(name)
	}
	if r.active != "" && r.active != name {
		r.evictLocked(r.active, name)
	}
	r.active = name
	return h, nil
}

// evictLocked unloads the model prev in favour of next. Requires r.mu.
// An unload error is logged and published; the handler is unloaded
// regardless, so the switch proceeds.
func (r *Registry) evictLocked(prev, next string) {
	ph := r.handlers[prev]
	if ph == nil || !ph.Loaded() {
		return
	}
	start := time.Now()
	err := ph.Unload()
	dur := time.Since(start)
	r.evictions.Add(1)
	r.metrics.incEviction(prev)
	fields := map[string]any{"next": next, "dur_ms": dur.Milliseconds()}
	if err != nil {
		fields["error"] = err.Error()
		r.log.Warn().Str("event", "evict").Str("model", prev).Str("next", next).Dur("dur", dur).Err(err).Msg("evicted model with unload error")
	} else {
		r.log.Info().Str("event", "evict").Str("model", prev).Str("next", next).Dur("dur", dur).Msg("evicted model")
	}
	r.publish(Event{Name: EventEvict, Model: prev, Fields: fields})
}

// Active returns the active model name, or "" when none.
func (r *Registry) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Names returns the registered model names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	r.bus.Publish(e)
	r.publisher.Publish(e)
}
