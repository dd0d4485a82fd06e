package handler

import (
	"context"
	"image"
	"time"

	"github.com/rs/zerolog"

	"predictd/internal/session"
)

// Kind identifies a handler variant.
type Kind string

const (
	KindClassification Kind = "classification"
	KindSegmentation   Kind = "segmentation"
	KindFusion         Kind = "fusion"
)

// Handler owns one model's runtime resources and its inference pipeline.
// Preprocess and Postprocess never touch loaded state; Predict loads lazily.
type Handler interface {
	Name() string
	Kind() Kind
	Path() string
	Loaded() bool
	EnsureLoaded(ctx context.Context) error
	Unload() error
	Preprocess(ctx context.Context, in Input) (Processed, error)
	Predict(ctx context.Context, p Processed) (RawOutput, error)
	Postprocess(ctx context.Context, raw RawOutput) (any, error)
}

// Input is the raw request payload.
type Input struct {
	// FileBytes holds the uploaded image.
	FileBytes []byte
	// Payload holds optional tabular data as a JSON document.
	Payload []byte
}

// Processed is model-ready input produced by Preprocess.
type Processed struct {
	Tensors []session.Tensor
	// OriginalSize is the decoded image size, used to map outputs back.
	OriginalSize image.Point
}

// RawOutput is the unprocessed result of Predict.
type RawOutput struct {
	Tensors      []session.Tensor
	OriginalSize image.Point
}

// Observer is notified of lifecycle transitions. Calls happen while the
// handler's own lock is held, so implementations must not call back into
// the handler.
type Observer interface {
	OnLoad(model string, d time.Duration, err error)
	OnUnload(model string, err error)
}

// Options carries shared dependencies for handler constructors.
type Options struct {
	Runtime  session.Runtime
	Logger   zerolog.Logger
	Observer Observer
	// MaxImagePixels caps the declared width*height of an uploaded image;
	// 0 selects DefaultMaxImagePixels.
	MaxImagePixels int64
}

// Run executes the three pipeline stages on h.
func Run(ctx context.Context, h Handler, in Input) (any, error) {
	p, err := h.Preprocess(ctx, in)
	if err != nil {
		return nil, err
	}
	raw, err := h.Predict(ctx, p)
	if err != nil {
		return nil, err
	}
	return h.Postprocess(ctx, raw)
}
