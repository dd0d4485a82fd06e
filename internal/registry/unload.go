package registry

import (
	"errors"
	"fmt"
	"sort"
)

// Unload releases the runtime of model name directly, bypassing eviction.
// It reports whether the model was loaded; unloading an unloaded model is a
// no-op. If name was the active model, no model is active afterwards.
func (r *Registry) Unload(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[name]
	if !ok {
		return false, ErrModelNotFound(name)
	}
	wasLoaded := h.Loaded()
	err := h.Unload()
	if r.active == name {
		r.active = ""
	}
	return wasLoaded, err
}

// UnloadAll unloads every loaded model and clears the active model. It is
// meant for process shutdown. Every handler is visited even if some fail;
// their errors are joined.
func (r *Registry) UnloadAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)

	var errs []error
	unloaded := 0
	for _, name := range names {
		h := r.handlers[name]
		if !h.Loaded() {
			continue
		}
		r.log.Info().Str("event", "unload_all").Str("model", name).Msg("unloading model")
		if err := h.Unload(); err != nil {
			errs = append(errs, fmt.Errorf("unload %s: %w", name, err))
		}
		unloaded++
	}
	r.active = ""
	r.publish(Event{Name: EventUnloadAll, Fields: map[string]any{"unloaded": unloaded}})
	return errors.Join(errs...)
}
