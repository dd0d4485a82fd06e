package registry

import "time"

// Event names published by the registry.
const (
	EventLoadDone  = "load_done"
	EventLoadError = "load_error"
	EventUnload    = "unload"
	EventEvict     = "evict"
	EventUnloadAll = "unload_all"
)

// Event represents a model lifecycle event.
// Minimal and stable: name + model and optional fields via key/values.
type Event struct {
	Name   string         `json:"name"`
	Model  string         `json:"model,omitempty"`
	Time   time.Time      `json:"time"`
	Fields map[string]any `json:"fields,omitempty"`
}

// EventPublisher receives events from the registry. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
