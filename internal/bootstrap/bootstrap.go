// Package bootstrap builds model handlers from configuration and registers
// them with a registry at process start.
package bootstrap

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"predictd/internal/common/fsutil"
	"predictd/internal/config"
	"predictd/internal/handler"
	"predictd/internal/registry"
	"predictd/internal/session"
)

// Registrar is the subset of *registry.Registry the bootstrap needs.
type Registrar interface {
	Register(name string, h handler.Handler) error
	Seal()
	handler.Observer
}

var _ Registrar = (*registry.Registry)(nil)

// Register builds one handler per configured model, registers each with reg
// and seals it. Nothing is loaded; a missing artifact is logged and reported
// again on the model's first predict.
//
// Any build or registration error aborts the whole bootstrap and leaves reg
// unsealed.
func Register(cfg config.Config, rt session.Runtime, reg Registrar, log zerolog.Logger) error {
	opts := handler.Options{Runtime: rt, Logger: log, Observer: reg, MaxImagePixels: cfg.MaxImagePixels}
	for _, m := range cfg.Models {
		h, err := Build(cfg.ModelsDir, m, opts)
		if err != nil {
			return fmt.Errorf("model %s: %w", m.Name, err)
		}
		if !fsutil.PathExists(h.Path()) {
			log.Warn().Str("event", "register").Str("model", m.Name).Str("path", h.Path()).Msg("model artifact not found; load will fail until it exists")
		}
		if err := reg.Register(m.Name, h); err != nil {
			return err
		}
	}
	reg.Seal()
	return nil
}

// Build constructs the handler variant for m with artifact paths resolved
// against modelsDir.
func Build(modelsDir string, m config.Model, opts handler.Options) (handler.Handler, error) {
	path, err := ResolvePath(modelsDir, m.Name, m.Path)
	if err != nil {
		return nil, err
	}
	switch m.Kind {
	case config.KindClassification:
		return handler.NewClassification(handler.ClassificationConfig{
			Name:      m.Name,
			Path:      path,
			Labels:    m.Labels,
			InputSize: m.InputSize,
		}, opts), nil
	case config.KindSegmentation:
		return handler.NewSegmentation(handler.SegmentationConfig{
			Name:      m.Name,
			Path:      path,
			InputSize: m.InputSize,
			Threshold: m.Threshold,
		}, opts), nil
	case config.KindFusion:
		img, err1 := resolveOptional(modelsDir, m.ImageEncoder)
		tab, err2 := resolveOptional(modelsDir, m.TabularEncoder)
		if err := errors.Join(err1, err2); err != nil {
			return nil, err
		}
		return handler.NewFusion(handler.FusionConfig{
			Name:               m.Name,
			Path:               path,
			ImageEncoderPath:   img,
			TabularEncoderPath: tab,
			Features:           m.Features,
			Labels:             m.Labels,
			InputSize:          m.InputSize,
		}, opts), nil
	default:
		return nil, fmt.Errorf("unknown model kind %q", m.Kind)
	}
}
