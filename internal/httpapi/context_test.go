package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"predictd/internal/handler"
	"predictd/internal/registry"
	"predictd/internal/session"
	"predictd/pkg/types"
)

// stallSession blocks Run until the caller's context ends.
type stallSession struct {
	once    sync.Once
	entered chan struct{}
}

func (s *stallSession) Inputs() []string  { return []string{"input"} }
func (s *stallSession) Outputs() []string { return []string{"logits"} }
func (s *stallSession) Close() error      { return nil }

func (s *stallSession) Run(ctx context.Context, _ []session.Tensor) ([]session.Tensor, error) {
	s.once.Do(func() { close(s.entered) })
	<-ctx.Done()
	return nil, ctx.Err()
}

// oneModel serves a single real handler.
type oneModel struct{ h handler.Handler }

func (o oneModel) Get(name string) (handler.Handler, error) {
	if name != o.h.Name() {
		return nil, registry.ErrModelNotFound(name)
	}
	return o.h, nil
}

func (o oneModel) Unload(string) (bool, error)   { return false, nil }
func (o oneModel) Snapshot() []types.ModelStatus { return nil }
func (o oneModel) Status() types.StatusResponse  { return types.StatusResponse{} }
func (o oneModel) Ready() bool                   { return true }

func (o oneModel) Subscribe(int) (<-chan registry.Event, func()) {
	return nil, func() {}
}

func stallingClassifier(t *testing.T) (oneModel, *stallSession) {
	t.Helper()
	sess := &stallSession{entered: make(chan struct{})}
	rt := session.RuntimeFunc(func(string) (session.Session, error) { return sess, nil })
	h := handler.NewClassification(
		handler.ClassificationConfig{Name: "cls", Path: "cls.onnx", Labels: []string{"A", "B"}},
		handler.Options{Runtime: rt, Logger: zerolog.Nop()},
	)
	return oneModel{h: h}, sess
}

func rgbPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 10, 20, 30, 255
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func decodeError(t *testing.T, b []byte) types.ErrorResponse {
	t.Helper()
	var body types.ErrorResponse
	if err := json.Unmarshal(b, &body); err != nil {
		t.Fatalf("json: %v (%s)", err, b)
	}
	return body
}

func TestPredict_TimeoutIs504(t *testing.T) {
	SetPredictTimeoutSeconds(1)
	defer SetPredictTimeoutSeconds(0)
	svc, _ := stallingClassifier(t)

	w := doPredict(t, svc, "cls", rgbPNG(t), "")
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if body := decodeError(t, w.Body.Bytes()); body.Kind != "timeout" || body.Code != http.StatusGatewayTimeout {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestPredict_ShutdownCancelsInflight(t *testing.T) {
	svc, sess := stallingClassifier(t)
	base, stop := context.WithCancel(context.Background())
	defer stop()
	mux := NewMux(svc, WithBaseContext(base))

	body, ct := multipartBody(t, rgbPNG(t), "")
	req := httptest.NewRequest(http.MethodPost, "/predict/cls", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		mux.ServeHTTP(w, req)
	}()

	select {
	case <-sess.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("inference never started")
	}
	stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("predict did not return after shutdown")
	}
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if got := decodeError(t, w.Body.Bytes()); got.Kind != "shutdown" {
		t.Fatalf("kind=%q", got.Kind)
	}
}

func TestRequestContext(t *testing.T) {
	base, stop := context.WithCancel(context.Background())
	ctx, cancel := requestContext(base, context.Background())
	defer cancel()
	stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("request context not canceled by base")
	}
	if !shuttingDown(ctx) {
		t.Fatalf("cause=%v, want shutdown", context.Cause(ctx))
	}

	req, cancelReq := context.WithCancel(context.Background())
	ctx2, cancel2 := requestContext(context.Background(), req)
	defer cancel2()
	cancelReq()
	<-ctx2.Done()
	if shuttingDown(ctx2) {
		t.Fatalf("client cancel reported as shutdown")
	}

	// Ending the request detaches it from base.
	base3, stop3 := context.WithCancel(context.Background())
	defer stop3()
	ctx3, cancel3 := requestContext(base3, context.Background())
	cancel3()
	stop3()
	if shuttingDown(ctx3) {
		t.Fatalf("finished request picked up a later shutdown")
	}
}

func TestWithBaseContext_NilKeepsBackground(t *testing.T) {
	o := muxOptions{base: context.Background()}
	WithBaseContext(nil)(&o) //nolint:staticcheck // nil is the case under test
	if o.base == nil || o.base.Err() != nil {
		t.Fatalf("nil base context not ignored")
	}
}
