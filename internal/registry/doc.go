// Package registry maps model names to handlers and enforces the
// single-resident-model policy. It is structured into small files by concern:
//
//   - registry.go: Registry type, Register/Seal, Get with eviction.
//   - unload.go: manual Unload and shutdown UnloadAll.
//   - status.go: Snapshot/Status reporting.
//   - observer.go: handler lifecycle callbacks feeding events and metrics.
//   - events.go, eventbus.go, eventpub_memory.go: lifecycle event plumbing.
//   - metrics.go: Prometheus collectors.
//   - errors.go: error types and helpers (IsModelNotFound, ...).
//
// One Registry is built by the composition root and passed to the HTTP
// layer; there is no package-level instance.
package registry
