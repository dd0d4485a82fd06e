package e2e

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"predictd/internal/bootstrap"
	"predictd/internal/config"
	"predictd/internal/httpapi"
	"predictd/internal/registry"
	"predictd/internal/session"
)

// fileRuntime opens a session for any artifact that exists on disk and
// returns outputs chosen by file name, mimicking a real runtime's failure on
// missing files.
type fileRuntime struct {
	mu     sync.Mutex
	opens  map[string]int
	closes map[string]int
}

func newFileRuntime() *fileRuntime {
	return &fileRuntime{opens: map[string]int{}, closes: map[string]int{}}
}

func (r *fileRuntime) Open(path string) (session.Session, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	r.mu.Lock()
	r.opens[filepath.Base(path)]++
	r.mu.Unlock()
	return &fileSession{rt: r, name: filepath.Base(path)}, nil
}

func (r *fileRuntime) count(m map[string]int, name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return m[name]
}

type fileSession struct {
	rt   *fileRuntime
	name string
}

func (s *fileSession) Inputs() []string  { return []string{"input"} }
func (s *fileSession) Outputs() []string { return []string{"output"} }

func (s *fileSession) Run(_ context.Context, in []session.Tensor) ([]session.Tensor, error) {
	switch s.name {
	case "seg.onnx":
		// Foreground everywhere: the mask covers the whole image.
		shape := in[0].Shape
		data := make([]float32, len(in[0].Data))
		for i := range data {
			data[i] = 0.9
		}
		return []session.Tensor{{Shape: shape, Data: data}}, nil
	default:
		return []session.Tensor{{Shape: []int64{1, 2}, Data: []float32{2, 0}}}, nil
	}
}

func (s *fileSession) Close() error {
	s.rt.mu.Lock()
	s.rt.closes[s.name]++
	s.rt.mu.Unlock()
	return nil
}

type stack struct {
	srv *httptest.Server
	reg *registry.Registry
	rt  *fileRuntime
	pub *registry.MemoryPublisher
	dir string
}

// newStack wires config, bootstrap, registry and HTTP exactly as serve does.
// Artifacts named in present are created on disk.
func newStack(t *testing.T, present ...string) *stack {
	t.Helper()
	dir := t.TempDir()
	for _, n := range present {
		if err := os.WriteFile(filepath.Join(dir, n), []byte(""), 0o644); err != nil {
			t.Fatalf("write temp model %s: %v", n, err)
		}
	}
	cfg := config.Config{
		ModelsDir: dir,
		Models: []config.Model{
			{Name: "cls", Kind: config.KindClassification, Path: "cls.onnx", Labels: []string{"A", "B"}},
			{Name: "seg", Kind: config.KindSegmentation, Path: "seg.onnx", InputSize: 8},
		},
	}.Merge(config.Defaults())
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	pub := registry.NewMemoryPublisher()
	reg := registry.New(registry.Config{Logger: zerolog.Nop(), Publisher: pub})
	rt := newFileRuntime()
	if err := bootstrap.Register(cfg, rt, reg, zerolog.Nop()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(reg))
	t.Cleanup(srv.Close)
	return &stack{srv: srv, reg: reg, rt: rt, pub: pub, dir: dir}
}

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png: %v", err)
	}
	return buf.Bytes()
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	return do(t, req)
}

func httpPredict(t *testing.T, url string, file []byte) (*http.Response, []byte) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if file != nil {
		fw, err := mw.CreateFormFile("file", "img.png")
		if err != nil {
			t.Fatalf("form: %v", err)
		}
		_, _ = fw.Write(file)
	}
	_ = mw.Close()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, &body)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return do(t, req)
}

func httpPost(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	return do(t, req)
}

func do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}
