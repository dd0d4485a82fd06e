package handler

import (
	"errors"
	"fmt"
)

// modelLoadError signals a missing, corrupt or incompatible artifact.
// It is not retried automatically.
type modelLoadError struct {
	model string
	err   error
}

func (e modelLoadError) Error() string { return fmt.Sprintf("load model %s: %v", e.model, e.err) }
func (e modelLoadError) Unwrap() error { return e.err }

// ErrModelLoad wraps err as a load failure for model.
func ErrModelLoad(model string, err error) error { return modelLoadError{model: model, err: err} }

// IsModelLoad reports whether err is (or wraps) a load failure.
func IsModelLoad(err error) bool {
	var e modelLoadError
	return errors.As(err, &e)
}

// preprocessingError signals malformed caller input.
type preprocessingError struct {
	model string
	msg   string
	err   error
}

func (e preprocessingError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("preprocess %s: %s: %v", e.model, e.msg, e.err)
	}
	return fmt.Sprintf("preprocess %s: %s", e.model, e.msg)
}
func (e preprocessingError) Unwrap() error { return e.err }

// ErrPreprocessing builds a preprocessing error; err may be nil.
func ErrPreprocessing(model, msg string, err error) error {
	return preprocessingError{model: model, msg: msg, err: err}
}

// IsPreprocessing reports whether err is (or wraps) a preprocessing error.
func IsPreprocessing(err error) bool {
	var e preprocessingError
	return errors.As(err, &e)
}

// inferenceError signals a runtime rejection or failure during the compute call.
type inferenceError struct {
	model string
	err   error
}

func (e inferenceError) Error() string { return fmt.Sprintf("inference %s: %v", e.model, e.err) }
func (e inferenceError) Unwrap() error { return e.err }

// ErrInference wraps err as an inference failure.
func ErrInference(model string, err error) error { return inferenceError{model: model, err: err} }

// IsInference reports whether err is (or wraps) an inference failure.
func IsInference(err error) bool {
	var e inferenceError
	return errors.As(err, &e)
}

// postprocessingError signals malformed model output.
type postprocessingError struct {
	model string
	msg   string
}

func (e postprocessingError) Error() string {
	return fmt.Sprintf("postprocess %s: %s", e.model, e.msg)
}

// ErrPostprocessing builds a postprocessing error.
func ErrPostprocessing(model, msg string) error {
	return postprocessingError{model: model, msg: msg}
}

// IsPostprocessing reports whether err is (or wraps) a postprocessing error.
func IsPostprocessing(err error) bool {
	var e postprocessingError
	return errors.As(err, &e)
}

// ErrorKind names the pipeline error class of err, or "" if it has none.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsModelLoad(err):
		return "model_load"
	case IsPreprocessing(err):
		return "preprocessing"
	case IsInference(err):
		return "inference"
	case IsPostprocessing(err):
		return "postprocessing"
	}
	return ""
}
