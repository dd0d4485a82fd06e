package config

import (
	"errors"
	"fmt"
	"time"
)

// Model kinds understood by the bootstrap.
const (
	KindClassification = "classification"
	KindSegmentation   = "segmentation"
	KindFusion         = "fusion"
)

// Config holds runtime parameters for the service.
// Zero values (nil for pointer fields) mean "unspecified" and are replaced
// by Defaults.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	StaticDir    string `json:"static_dir" yaml:"static_dir" toml:"static_dir"`
	LogLevel     string `json:"log_level" yaml:"log_level" toml:"log_level"`
	MaxBodyBytes int64  `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	// PredictTimeoutSeconds bounds one predict request. nil takes the default;
	// an explicit 0 disables the timeout.
	PredictTimeoutSeconds *int `json:"predict_timeout_seconds,omitempty" yaml:"predict_timeout_seconds,omitempty" toml:"predict_timeout_seconds,omitempty"`
	// MaxImagePixels rejects uploads whose declared width*height exceeds it.
	MaxImagePixels int64 `json:"max_image_pixels" yaml:"max_image_pixels" toml:"max_image_pixels"`
	// ORTLibrary is the path of the onnxruntime shared library; empty uses
	// the platform default.
	ORTLibrary string  `json:"ort_library" yaml:"ort_library" toml:"ort_library"`
	CORS       CORS    `json:"cors" yaml:"cors" toml:"cors"`
	Models     []Model `json:"models" yaml:"models" toml:"models"`
}

// CORS configures cross-origin access for a browser frontend.
type CORS struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// Model describes one handler to register at startup.
type Model struct {
	Name string `json:"name" yaml:"name" toml:"name"`
	Kind string `json:"kind" yaml:"kind" toml:"kind"`
	// Path is absolute, relative to ModelsDir, or empty to pick the first
	// *.onnx under ModelsDir/<name>.
	Path      string   `json:"path" yaml:"path" toml:"path"`
	Labels    []string `json:"labels" yaml:"labels" toml:"labels"`
	InputSize int      `json:"input_size" yaml:"input_size" toml:"input_size"`
	// Threshold is the segmentation foreground cutoff; nil means 0.5.
	Threshold *float64 `json:"threshold,omitempty" yaml:"threshold,omitempty" toml:"threshold,omitempty"`
	// Features lists gjson paths read from the fusion payload.
	Features       []string `json:"features" yaml:"features" toml:"features"`
	ImageEncoder   string   `json:"image_encoder" yaml:"image_encoder" toml:"image_encoder"`
	TabularEncoder string   `json:"tabular_encoder" yaml:"tabular_encoder" toml:"tabular_encoder"`
}

// DefaultMaxImagePixels matches the decompression-bomb limit of common image
// libraries (about 89.5 megapixels).
const DefaultMaxImagePixels = 89_478_485

// Defaults returns the built-in configuration: a bacterial-morphology
// classifier and a binary segmentation model under ./models.
func Defaults() Config {
	return Config{
		Addr:                  ":8000",
		ModelsDir:             "./models",
		LogLevel:              "info",
		MaxBodyBytes:          32 << 20,
		PredictTimeoutSeconds: ptr(60),
		MaxImagePixels:        DefaultMaxImagePixels,
		Models: []Model{
			{
				Name:      KindClassification,
				Kind:      KindClassification,
				Path:      "classification/simplest_model/bacterial_cnn.onnx",
				InputSize: 64,
			},
			{
				Name:      KindSegmentation,
				Kind:      KindSegmentation,
				Path:      "segmentation/simplest_model/segmetation_unet.onnx",
				InputSize: 512,
				Threshold: ptr(0.5),
			},
		},
	}
}

// Merge fills zero fields of c from d. Models are taken from d only when c
// lists none.
func (c Config) Merge(d Config) Config {
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.ModelsDir == "" {
		c.ModelsDir = d.ModelsDir
	}
	if c.StaticDir == "" {
		c.StaticDir = d.StaticDir
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.PredictTimeoutSeconds == nil && d.PredictTimeoutSeconds != nil {
		c.PredictTimeoutSeconds = ptr(*d.PredictTimeoutSeconds)
	}
	if c.MaxImagePixels == 0 {
		c.MaxImagePixels = d.MaxImagePixels
	}
	if c.ORTLibrary == "" {
		c.ORTLibrary = d.ORTLibrary
	}
	if len(c.Models) == 0 {
		c.Models = append([]Model(nil), d.Models...)
	}
	return c
}

// Validate checks model entries: names must be non-empty and unique and
// kinds known.
func (c Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("models[%d]: empty name", i))
			continue
		}
		if seen[m.Name] {
			errs = append(errs, fmt.Errorf("models[%d]: duplicate name %q", i, m.Name))
		}
		seen[m.Name] = true
		switch m.Kind {
		case KindClassification, KindSegmentation, KindFusion:
		default:
			errs = append(errs, fmt.Errorf("models[%d] %s: unknown kind %q", i, m.Name, m.Kind))
		}
		if m.InputSize < 0 {
			errs = append(errs, fmt.Errorf("models[%d] %s: negative input_size", i, m.Name))
		}
		if m.Threshold != nil && (*m.Threshold < 0 || *m.Threshold > 1) {
			errs = append(errs, fmt.Errorf("models[%d] %s: threshold %v outside [0,1]", i, m.Name, *m.Threshold))
		}
	}
	if c.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("negative max_body_bytes"))
	}
	if c.PredictTimeoutSeconds != nil && *c.PredictTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("negative predict_timeout_seconds"))
	}
	if c.MaxImagePixels < 0 {
		errs = append(errs, fmt.Errorf("negative max_image_pixels"))
	}
	return errors.Join(errs...)
}

// PredictTimeout returns the per-request predict timeout; 0 means none.
func (c Config) PredictTimeout() time.Duration {
	if c.PredictTimeoutSeconds == nil {
		return 0
	}
	return time.Duration(*c.PredictTimeoutSeconds) * time.Second
}

func ptr[T any](v T) *T { return &v }
