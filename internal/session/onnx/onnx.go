// Package onnx implements session.Runtime on top of ONNX Runtime through
// github.com/yalue/onnxruntime_go. The shared library is initialized once per
// process on the first Open and torn down by Runtime.Close.
package onnx

import (
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"predictd/internal/session"
)

// Options configures the ONNX Runtime environment.
type Options struct {
	// LibraryPath points at libonnxruntime. Empty uses the binding's default lookup.
	LibraryPath string
	// IntraOpThreads limits per-session intra-op parallelism (0 = runtime default).
	IntraOpThreads int
}

// Runtime opens .onnx artifacts as CPU inference sessions.
type Runtime struct {
	opts Options

	mu      sync.Mutex
	inited  bool
	initErr error
}

// New returns a Runtime. The environment is initialized lazily.
func New(opts Options) *Runtime { return &Runtime{opts: opts} }

func (r *Runtime) init() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inited {
		return r.initErr
	}
	r.inited = true
	if ort.IsInitialized() {
		return nil
	}
	if r.opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(r.opts.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		r.initErr = fmt.Errorf("initialize onnxruntime: %w", err)
	}
	return r.initErr
}

// Open creates a session for the model at path. Input and output names are
// read from the model itself.
func (r *Runtime) Open(path string) (session.Session, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model artifact: %w", err)
	}
	if err := r.init(); err != nil {
		return nil, err
	}
	ins, outs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("read model io: %w", err)
	}
	if len(ins) == 0 || len(outs) == 0 {
		return nil, fmt.Errorf("model %s declares %d inputs and %d outputs", path, len(ins), len(outs))
	}
	inNames := make([]string, len(ins))
	for i, info := range ins {
		inNames[i] = info.Name
	}
	outNames := make([]string, len(outs))
	for i, info := range outs {
		outNames[i] = info.Name
	}

	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer so.Destroy()
	if r.opts.IntraOpThreads > 0 {
		if err := so.SetIntraOpNumThreads(r.opts.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("set intra-op threads: %w", err)
		}
	}
	s, err := ort.NewDynamicAdvancedSession(path, inNames, outNames, so)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &Session{s: s, inputs: inNames, outputs: outNames}, nil
}

// Close destroys the ONNX Runtime environment. Sessions must be closed first.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inited || r.initErr != nil || !ort.IsInitialized() {
		return nil
	}
	r.inited = false
	return ort.DestroyEnvironment()
}

// Session wraps a DynamicAdvancedSession. Run is safe for concurrent use.
type Session struct {
	s       *ort.DynamicAdvancedSession
	inputs  []string
	outputs []string
}

func (s *Session) Inputs() []string  { return append([]string(nil), s.inputs...) }
func (s *Session) Outputs() []string { return append([]string(nil), s.outputs...) }

// Run feeds float32 tensors and returns every declared output as float32.
// Output memory is allocated by the runtime and copied out before release.
func (s *Session) Run(ctx context.Context, inputs []session.Tensor) ([]session.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(inputs) != len(s.inputs) {
		return nil, fmt.Errorf("model wants %d inputs %v, got %d", len(s.inputs), s.inputs, len(inputs))
	}
	in := make([]ort.Value, 0, len(inputs))
	defer func() {
		for _, v := range in {
			_ = v.Destroy()
		}
	}()
	for i, t := range inputs {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("input %q: %w", s.inputs[i], err)
		}
		v, err := ort.NewTensor(ort.NewShape(t.Shape...), t.Data)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", s.inputs[i], err)
		}
		in = append(in, v)
	}

	out := make([]ort.Value, len(s.outputs))
	defer func() {
		for _, v := range out {
			if v != nil {
				_ = v.Destroy()
			}
		}
	}()
	if err := s.s.Run(in, out); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}

	res := make([]session.Tensor, len(out))
	for i, v := range out {
		ft, ok := v.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("output %q is not a float32 tensor", s.outputs[i])
		}
		shape := ft.GetShape()
		res[i] = session.Tensor{
			Shape: append([]int64(nil), shape...),
			Data:  append([]float32(nil), ft.GetData()...),
		}
	}
	return res, nil
}

func (s *Session) Close() error {
	if s.s == nil {
		return nil
	}
	err := s.s.Destroy()
	s.s = nil
	return err
}
