package registry

import (
	"sort"
	"time"

	"predictd/internal/handler"
	"predictd/pkg/types"
)

// Snapshot returns a read-only view of every registered model, sorted by
// name. Loaded flags are sampled without taking handler locks, so a model
// mid-transition reports its state before or after the transition.
func (r *Registry) Snapshot() []types.ModelStatus {
	r.mu.Lock()
	active := r.active
	out := make([]types.ModelStatus, 0, len(r.handlers))
	hs := make(map[string]handler.Handler, len(r.handlers))
	for name, h := range r.handlers {
		hs[name] = h
		out = append(out, types.ModelStatus{
			Name:      name,
			Kind:      string(h.Kind()),
			ModelPath: h.Path(),
			Active:    name == active,
		})
	}
	r.mu.Unlock()

	for i := range out {
		out[i].Loaded = hs[out[i].Name].Loaded()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Status builds the detailed status report for /status.
func (r *Registry) Status() types.StatusResponse {
	return types.StatusResponse{
		Models:            r.Snapshot(),
		ActiveModel:       r.Active(),
		LoadsTotal:        r.loads.Load(),
		LoadFailuresTotal: r.loadFailures.Load(),
		EvictionsTotal:    r.evictions.Load(),
		UptimeSeconds:     int64(time.Since(r.startTime) / time.Second),
		ServerTimeUnix:    time.Now().Unix(),
	}
}

// Ready reports whether startup registration completed with at least one model.
func (r *Registry) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed && len(r.handlers) > 0
}
