package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"predictd/internal/config"
	"predictd/internal/session"
	"predictd/pkg/types"
)

type logitsSession struct{ closed *atomic.Int32 }

func (s logitsSession) Inputs() []string  { return []string{"input"} }
func (s logitsSession) Outputs() []string { return []string{"logits"} }
func (s logitsSession) Run(context.Context, []session.Tensor) ([]session.Tensor, error) {
	return []session.Tensor{{Shape: []int64{1, 2}, Data: []float32{2, 0}}}, nil
}
func (s logitsSession) Close() error {
	s.closed.Add(1)
	return nil
}

type fakeRuntime struct {
	opens, sessionsClosed, closed atomic.Int32
}

func (r *fakeRuntime) Open(string) (session.Session, error) {
	r.opens.Add(1)
	return logitsSession{closed: &r.sessionsClosed}, nil
}

func (r *fakeRuntime) Close() error {
	r.closed.Add(1)
	return nil
}

func pngUpload(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	src := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := 3; i < len(src.Pix); i += 4 {
		src.Pix[i] = 255
	}
	var img bytes.Buffer
	if err := png.Encode(&img, src); err != nil {
		t.Fatalf("png: %v", err)
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "x.png")
	_, _ = fw.Write(img.Bytes())
	_ = mw.Close()
	return &body, mw.FormDataContentType()
}

func TestServe_LifecycleAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cfg := config.Config{
		ModelsDir: t.TempDir(),
		Models: []config.Model{
			{Name: "cls", Kind: config.KindClassification, Path: "cls.onnx", Labels: []string{"A", "B"}},
		},
	}.Merge(config.Defaults())
	rt := &fakeRuntime{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, ln, rt, zerolog.Nop()) }()

	base := "http://" + ln.Addr().String()
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(base + "/readyz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("server not ready: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	body, ct := pngUpload(t)
	resp, err := http.Post(base+"/predict/cls", ct, body)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	var pr types.PredictResponse
	_ = json.NewDecoder(resp.Body).Decode(&pr)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !pr.ModelLoaded {
		t.Fatalf("predict status=%d body=%+v", resp.StatusCode, pr)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not return after cancel")
	}
	if rt.opens.Load() != 1 || rt.sessionsClosed.Load() != 1 {
		t.Fatalf("opens=%d sessions closed=%d", rt.opens.Load(), rt.sessionsClosed.Load())
	}
	if rt.closed.Load() != 1 {
		t.Fatalf("runtime not closed on shutdown")
	}
}
