package onnx

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
)

func TestOpenMissingArtifactDoesNotInitialize(t *testing.T) {
	rt := New(Options{})
	_, err := rt.Open(filepath.Join(t.TempDir(), "absent.onnx"))
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
	if rt.inited {
		t.Fatalf("environment initialized for a missing artifact")
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close without init: %v", err)
	}
}

func TestClosedSessionIsIdempotent(t *testing.T) {
	s := &Session{}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
