// Package session abstracts the inference runtime that backs a model handler.
// Concrete runtimes (see package onnx) open a model artifact and return a
// Session; handlers own their sessions exclusively and close them on unload.
package session

import (
	"context"
	"fmt"
)

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewTensor builds a tensor and checks that data matches the shape.
func NewTensor(data []float32, shape ...int64) (Tensor, error) {
	t := Tensor{Shape: append([]int64(nil), shape...), Data: data}
	if err := t.Validate(); err != nil {
		return Tensor{}, err
	}
	return t, nil
}

// Elements returns the number of elements implied by the shape.
func (t Tensor) Elements() int64 {
	if len(t.Shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Validate reports whether the shape is well formed and agrees with len(Data).
func (t Tensor) Validate() error {
	if len(t.Shape) == 0 {
		return fmt.Errorf("tensor has no shape")
	}
	for i, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("tensor dim %d is %d", i, d)
		}
	}
	if n := t.Elements(); n != int64(len(t.Data)) {
		return fmt.Errorf("tensor shape %v wants %d elements, got %d", t.Shape, n, len(t.Data))
	}
	return nil
}

// Session is a loaded model ready for inference.
type Session interface {
	// Inputs returns the model input names in positional order.
	Inputs() []string
	// Outputs returns the model output names in positional order.
	Outputs() []string
	// Run executes the model. Inputs are positional and must match Inputs().
	Run(ctx context.Context, inputs []Tensor) ([]Tensor, error)
	// Close releases runtime resources. The session must not be used afterwards.
	Close() error
}

// Runtime opens model artifacts.
type Runtime interface {
	Open(path string) (Session, error)
}

// RuntimeFunc adapts a function to the Runtime interface.
type RuntimeFunc func(path string) (Session, error)

func (f RuntimeFunc) Open(path string) (Session, error) { return f(path) }
