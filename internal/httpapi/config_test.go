package httpapi

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestSetMaxBodyBytes_DefaultWhenNonPositive(t *testing.T) {
	SetMaxBodyBytes(-1)
	if maxBodyBytes != 32<<20 {
		t.Fatalf("expected default 32MiB, got %d", maxBodyBytes)
	}
	SetMaxBodyBytes(1234)
	if maxBodyBytes != 1234 {
		t.Fatalf("expected 1234, got %d", maxBodyBytes)
	}
	SetMaxBodyBytes(0)
}

func TestSetPredictTimeoutSeconds_NormalizesNegativeToZero(t *testing.T) {
	SetPredictTimeoutSeconds(-5)
	if predictTimeout != 0 {
		t.Fatalf("expected 0, got %d", predictTimeout)
	}
	SetPredictTimeoutSeconds(3)
	if predictTimeout != 3 {
		t.Fatalf("expected 3, got %d", predictTimeout)
	}
	SetPredictTimeoutSeconds(0)
}
