package handler

import (
	"context"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"predictd/internal/session"
)

func newTestClassifier(rt *fakeRuntime, obs Observer) *Classification {
	return NewClassification(
		ClassificationConfig{Name: "cls", Path: "cls.onnx", Labels: []string{"A", "B"}},
		Options{Runtime: rt, Logger: zerolog.Nop(), Observer: obs},
	)
}

func TestEnsureLoaded_SingleFlight(t *testing.T) {
	rt := &fakeRuntime{delay: 20 * time.Millisecond}
	c := newTestClassifier(rt, nil)

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs <- c.EnsureLoaded(context.Background())
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("EnsureLoaded: %v", err)
		}
	}
	if got := rt.opens.Load(); got != 1 {
		t.Fatalf("expected exactly one load, got %d", got)
	}
	if !c.Loaded() {
		t.Fatalf("expected handler loaded")
	}
}

func TestEnsureLoaded_FailureLeavesUnloaded(t *testing.T) {
	obs := &recordingObserver{}
	rt := &fakeRuntime{fail: map[string]error{"cls.onnx": errBoom}}
	c := newTestClassifier(rt, obs)

	err := c.EnsureLoaded(context.Background())
	if err == nil || !IsModelLoad(err) {
		t.Fatalf("expected model load error, got %v", err)
	}
	if c.Loaded() {
		t.Fatalf("loaded flag set after failed load")
	}
	if c.sess != nil {
		t.Fatalf("session retained after failed load")
	}
	// Not retried internally; the next caller attempts again.
	_ = c.EnsureLoaded(context.Background())
	if got := rt.opens.Load(); got != 2 {
		t.Fatalf("expected 2 load attempts, got %d", got)
	}
	if len(obs.loads) != 2 || obs.loads[0] == nil {
		t.Fatalf("observer loads=%v", obs.loads)
	}
}

func TestEnsureLoaded_CanceledContext(t *testing.T) {
	rt := &fakeRuntime{}
	c := newTestClassifier(rt, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.EnsureLoaded(ctx); err == nil {
		t.Fatalf("expected context error")
	}
	if rt.opens.Load() != 0 || c.Loaded() {
		t.Fatalf("load attempted with canceled context")
	}
}

func TestUnload_Idempotent(t *testing.T) {
	obs := &recordingObserver{}
	rt := &fakeRuntime{}
	c := newTestClassifier(rt, obs)

	if err := c.Unload(); err != nil {
		t.Fatalf("unload of unloaded handler: %v", err)
	}
	if obs.unloads != 0 {
		t.Fatalf("unload hook ran on unloaded handler")
	}
	if err := c.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("EnsureLoaded: %v", err)
	}
	if err := c.Unload(); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if err := c.Unload(); err != nil {
		t.Fatalf("second Unload: %v", err)
	}
	sessions := rt.opened()
	if len(sessions) != 1 || sessions[0].closed.Load() != 1 {
		t.Fatalf("expected one session closed once, got %d sessions", len(sessions))
	}
	if c.Loaded() || obs.unloads != 1 {
		t.Fatalf("loaded=%v unloads=%d", c.Loaded(), obs.unloads)
	}
}

func TestUnload_WaitsForInflightPredict(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	rt := &fakeRuntime{newSession: func(string) *fakeSession {
		return &fakeSession{run: func(context.Context, []session.Tensor) ([]session.Tensor, error) {
			close(entered)
			<-release
			return []session.Tensor{{Shape: []int64{1, 2}, Data: []float32{1, 0}}}, nil
		}}
	}}
	c := newTestClassifier(rt, nil)
	p, err := c.Preprocess(context.Background(), Input{FileBytes: pngBytes(t, solidRGB(4, 4, color.RGBA{1, 2, 3, 255}))})
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}

	predictDone := make(chan error, 1)
	go func() {
		_, err := c.Predict(context.Background(), p)
		predictDone <- err
	}()
	<-entered

	unloaded := make(chan struct{})
	go func() {
		_ = c.Unload()
		close(unloaded)
	}()
	select {
	case <-unloaded:
		t.Fatalf("unload completed while inference was running")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	if err := <-predictDone; err != nil {
		t.Fatalf("Predict: %v", err)
	}
	<-unloaded
	if c.Loaded() {
		t.Fatalf("expected unloaded after drain")
	}
}

func TestPredict_ReloadsAfterUnload(t *testing.T) {
	rt := &fakeRuntime{newSession: fixedOutput([]float32{0, 1}, 1, 2)}
	c := newTestClassifier(rt, nil)
	p, err := c.Preprocess(context.Background(), Input{FileBytes: pngBytes(t, solidRGB(2, 2, color.RGBA{9, 9, 9, 255}))})
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := c.Predict(context.Background(), p); err != nil {
			t.Fatalf("Predict %d: %v", i, err)
		}
		if err := c.Unload(); err != nil {
			t.Fatalf("Unload %d: %v", i, err)
		}
	}
	if got := rt.opens.Load(); got != 2 {
		t.Fatalf("expected a new load per epoch, got %d", got)
	}
}

func TestEnsureLoaded_RejectsInputArity(t *testing.T) {
	rt := &fakeRuntime{newSession: func(string) *fakeSession {
		return &fakeSession{inputs: []string{"image", "mask"}}
	}}
	c := newTestClassifier(rt, nil)
	if err := c.EnsureLoaded(context.Background()); !IsModelLoad(err) {
		t.Fatalf("expected model load error for two-input model, got %v", err)
	}
	s := rt.opened()
	if len(s) != 1 || s[0].closed.Load() != 1 || c.Loaded() {
		t.Fatalf("mismatched session not released")
	}

	ok := newTestClassifier(&fakeRuntime{newSession: func(string) *fakeSession {
		return &fakeSession{inputs: []string{"image"}}
	}}, nil)
	if err := ok.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("single-input model: %v", err)
	}
}
