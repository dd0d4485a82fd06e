package handler

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"predictd/internal/session"
)

// fakeSession returns fixed outputs, or the result of run when set.
type fakeSession struct {
	path    string
	inputs  []string
	outputs []session.Tensor
	run     func(ctx context.Context, in []session.Tensor) ([]session.Tensor, error)

	runs   atomic.Int32
	closed atomic.Int32
	seen   [][]session.Tensor
	mu     sync.Mutex
}

func (s *fakeSession) Inputs() []string  { return s.inputs }
func (s *fakeSession) Outputs() []string { return []string{"out"} }

func (s *fakeSession) Run(ctx context.Context, in []session.Tensor) ([]session.Tensor, error) {
	s.runs.Add(1)
	s.mu.Lock()
	s.seen = append(s.seen, in)
	s.mu.Unlock()
	if s.run != nil {
		return s.run(ctx, in)
	}
	return s.outputs, nil
}

func (s *fakeSession) Close() error {
	s.closed.Add(1)
	return nil
}

// fakeRuntime hands out sessions built by newSession and counts opens.
type fakeRuntime struct {
	delay      time.Duration
	fail       map[string]error
	newSession func(path string) *fakeSession

	opens    atomic.Int32
	mu       sync.Mutex
	sessions []*fakeSession
}

func (r *fakeRuntime) Open(path string) (session.Session, error) {
	r.opens.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if err := r.fail[path]; err != nil {
		return nil, err
	}
	var s *fakeSession
	if r.newSession != nil {
		s = r.newSession(path)
	} else {
		s = &fakeSession{}
	}
	s.path = path
	r.mu.Lock()
	r.sessions = append(r.sessions, s)
	r.mu.Unlock()
	return s, nil
}

func (r *fakeRuntime) opened() []*fakeSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*fakeSession(nil), r.sessions...)
}

func fixedOutput(data []float32, shape ...int64) func(string) *fakeSession {
	return func(string) *fakeSession {
		return &fakeSession{outputs: []session.Tensor{{Shape: shape, Data: data}}}
	}
}

// recordingObserver captures lifecycle notifications.
type recordingObserver struct {
	mu      sync.Mutex
	loads   []error
	unloads int
}

func (o *recordingObserver) OnLoad(_ string, _ time.Duration, err error) {
	o.mu.Lock()
	o.loads = append(o.loads, err)
	o.mu.Unlock()
}

func (o *recordingObserver) OnUnload(string, error) {
	o.mu.Lock()
	o.unloads++
	o.mu.Unlock()
}

func solidRGB(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

var errBoom = errors.New("boom")
