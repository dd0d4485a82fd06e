// Package handler defines the Handler capability every model variant
// satisfies and the shared load/unload lifecycle behind it.
//
//   - handler.go: Handler interface, pipeline value types, Options, Run.
//   - lifecycle.go: lazy single-flight loading and idempotent unloading.
//   - errors.go: pipeline error kinds (IsModelLoad, IsPreprocessing, ...).
//   - imaging.go: decode, resample and tensor layout helpers.
//   - classification.go, segmentation.go, fusion.go: concrete variants.
//
// A handler starts unloaded. Preprocess and Postprocess are pure; Predict
// loads the runtime session on first use. Unload returns the handler to the
// unloaded state and is a no-op when nothing is loaded.
package handler
