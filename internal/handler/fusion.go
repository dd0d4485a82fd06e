package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"

	"predictd/internal/session"
)

// FusionConfig describes an image + tabular fusion model with optional
// per-modality encoders run ahead of the fusion head.
type FusionConfig struct {
	Name               string
	Path               string
	ImageEncoderPath   string
	TabularEncoderPath string
	// Features are gjson paths into the payload, in model input order. When
	// empty, every top-level numeric field of the payload is used in
	// document order.
	Features []string
	// Labels, when set, turn the fusion output into class probabilities.
	Labels    []string
	InputSize int // square image edge, defaults to 64
}

// FusionResult is the output of an unlabeled fusion model.
type FusionResult struct {
	Scores []float64 `json:"scores"`
}

// Fusion combines an RGB image and a tabular feature vector.
type Fusion struct {
	lifecycle
	rt       session.Runtime
	imgPath  string
	tabPath  string
	features []string
	labels   []string
	size     int

	sess   session.Session
	imgEnc session.Session
	tabEnc session.Session
}

// NewFusion constructs an unloaded fusion handler.
func NewFusion(cfg FusionConfig, opts Options) *Fusion {
	f := &Fusion{
		rt:       opts.Runtime,
		imgPath:  cfg.ImageEncoderPath,
		tabPath:  cfg.TabularEncoderPath,
		features: append([]string(nil), cfg.Features...),
		labels:   append([]string(nil), cfg.Labels...),
		size:     cfg.InputSize,
	}
	if f.size <= 0 {
		f.size = defaultClassificationSize
	}
	f.init(cfg.Name, cfg.Path, opts, f.loadModel, f.unloadModel)
	return f
}

func (f *Fusion) Kind() Kind { return KindFusion }

// loadModel opens the fusion head and any configured encoders. If one of
// them fails, the sessions opened so far are closed before returning.
func (f *Fusion) loadModel(ctx context.Context) error {
	var opened []session.Session
	open := func(path string) (session.Session, error) {
		s, err := f.openSession(f.rt, path, 0)
		if err != nil {
			for _, o := range opened {
				_ = o.Close()
			}
			return nil, ErrModelLoad(f.name, fmt.Errorf("%s: %w", path, err))
		}
		opened = append(opened, s)
		return s, nil
	}

	head, err := open(f.path)
	if err != nil {
		return err
	}
	var img, tab session.Session
	if f.imgPath != "" {
		if img, err = open(f.imgPath); err != nil {
			return err
		}
	}
	if f.tabPath != "" {
		if tab, err = open(f.tabPath); err != nil {
			return err
		}
	}
	f.sess, f.imgEnc, f.tabEnc = head, img, tab
	return nil
}

func (f *Fusion) unloadModel() error {
	var errs []error
	for _, s := range []session.Session{f.tabEnc, f.imgEnc, f.sess} {
		if s != nil {
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	f.sess, f.imgEnc, f.tabEnc = nil, nil, nil
	return errors.Join(errs...)
}

// Preprocess produces an image tensor [1,3,S,S] and a tabular tensor [1,F].
func (f *Fusion) Preprocess(ctx context.Context, in Input) (Processed, error) {
	img, orig, err := decodeRGB(f.name, in.FileBytes, f.size, f.maxPixels)
	if err != nil {
		return Processed{}, err
	}
	imgT, err := imageTensor(f.name, img)
	if err != nil {
		return Processed{}, err
	}
	vec, err := f.tabular(in.Payload)
	if err != nil {
		return Processed{}, err
	}
	tabT, err := session.NewTensor(vec, 1, int64(len(vec)))
	if err != nil {
		return Processed{}, ErrPreprocessing(f.name, "build tabular tensor", err)
	}
	return Processed{Tensors: []session.Tensor{imgT, tabT}, OriginalSize: orig}, nil
}

func (f *Fusion) tabular(payload []byte) ([]float32, error) {
	if len(payload) == 0 {
		return nil, ErrPreprocessing(f.name, "missing required field 'payload'", nil)
	}
	if !gjson.ValidBytes(payload) {
		return nil, ErrPreprocessing(f.name, "payload is not valid JSON", nil)
	}
	doc := gjson.ParseBytes(payload)
	if len(f.features) == 0 {
		var vec []float32
		doc.ForEach(func(_, v gjson.Result) bool {
			if v.Type == gjson.Number {
				vec = append(vec, float32(v.Float()))
			}
			return true
		})
		if len(vec) == 0 {
			return nil, ErrPreprocessing(f.name, "payload has no numeric fields", nil)
		}
		return vec, nil
	}
	vec := make([]float32, len(f.features))
	for i, path := range f.features {
		v := doc.Get(path)
		if !v.Exists() {
			return nil, ErrPreprocessing(f.name, fmt.Sprintf("payload is missing feature %q", path), nil)
		}
		x, err := featureValue(v)
		if err != nil {
			return nil, ErrPreprocessing(f.name, fmt.Sprintf("feature %q", path), err)
		}
		vec[i] = x
	}
	return vec, nil
}

func featureValue(v gjson.Result) (float32, error) {
	switch v.Type {
	case gjson.Number:
		return float32(v.Float()), nil
	case gjson.True:
		return 1, nil
	case gjson.False:
		return 0, nil
	case gjson.String:
		x, err := strconv.ParseFloat(v.Str, 32)
		if err != nil {
			return 0, fmt.Errorf("not numeric: %q", v.Str)
		}
		return float32(x), nil
	}
	return 0, fmt.Errorf("unsupported JSON type %s", v.Type)
}

// Predict encodes each modality when an encoder is configured, then runs
// the fusion head on [image, tabular].
func (f *Fusion) Predict(ctx context.Context, p Processed) (RawOutput, error) {
	if len(p.Tensors) != 2 {
		return RawOutput{}, ErrInference(f.name, fmt.Errorf("expected image and tabular tensors, got %d", len(p.Tensors)))
	}
	var out []session.Tensor
	err := f.use(ctx, func() error {
		img, tab := p.Tensors[0], p.Tensors[1]
		var err error
		if img, err = encode(ctx, f.imgEnc, img); err != nil {
			return fmt.Errorf("image encoder: %w", err)
		}
		if tab, err = encode(ctx, f.tabEnc, tab); err != nil {
			return fmt.Errorf("tabular encoder: %w", err)
		}
		out, err = f.sess.Run(ctx, []session.Tensor{img, tab})
		return err
	})
	if err != nil {
		if IsModelLoad(err) {
			return RawOutput{}, err
		}
		return RawOutput{}, ErrInference(f.name, err)
	}
	return RawOutput{Tensors: out, OriginalSize: p.OriginalSize}, nil
}

func encode(ctx context.Context, enc session.Session, t session.Tensor) (session.Tensor, error) {
	if enc == nil {
		return t, nil
	}
	out, err := enc.Run(ctx, []session.Tensor{t})
	if err != nil {
		return session.Tensor{}, err
	}
	if len(out) == 0 {
		return session.Tensor{}, errors.New("no embedding returned")
	}
	return out[0], nil
}

// Postprocess returns class probabilities when labels are configured and
// the raw scores otherwise.
func (f *Fusion) Postprocess(ctx context.Context, raw RawOutput) (any, error) {
	scores, err := firstRow(f.name, raw)
	if err != nil {
		return nil, err
	}
	if len(f.labels) > 0 {
		res, err := classify(f.name, f.labels, scores)
		if err != nil {
			return nil, err
		}
		return res, nil
	}
	out := FusionResult{Scores: make([]float64, len(scores))}
	for i, s := range scores {
		out.Scores[i] = float64(s)
	}
	return out, nil
}
