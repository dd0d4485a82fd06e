package handler

import (
	"context"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"predictd/internal/session"
)

// DefaultLabels are the classes of the bundled bacterial morphology model.
var DefaultLabels = []string{
	"CAM", "Control", "MP265", "Mecillinam",
	"Nalidixate", "Oblique", "Rifampicin", "Vesicle",
}

const defaultClassificationSize = 64

// ClassificationConfig describes a classification model.
type ClassificationConfig struct {
	Name      string
	Path      string
	Labels    []string // defaults to DefaultLabels
	InputSize int      // square input edge, defaults to 64
}

// ClassificationResult is the serializable output of a classifier.
type ClassificationResult struct {
	PredictedClass   string             `json:"predicted_class"`
	Confidence       float64            `json:"confidence"`
	AllProbabilities map[string]float64 `json:"all_probabilities"`
}

// Classification runs an RGB image classifier producing one logit per label.
type Classification struct {
	lifecycle
	rt     session.Runtime
	labels []string
	size   int
	sess   session.Session
}

// NewClassification constructs an unloaded classification handler.
func NewClassification(cfg ClassificationConfig, opts Options) *Classification {
	c := &Classification{
		rt:     opts.Runtime,
		labels: append([]string(nil), cfg.Labels...),
		size:   cfg.InputSize,
	}
	if len(c.labels) == 0 {
		c.labels = append([]string(nil), DefaultLabels...)
	}
	if c.size <= 0 {
		c.size = defaultClassificationSize
	}
	c.init(cfg.Name, cfg.Path, opts, c.loadModel, c.unloadModel)
	return c
}

func (c *Classification) Kind() Kind { return KindClassification }

// Labels returns a copy of the output label list.
func (c *Classification) Labels() []string { return append([]string(nil), c.labels...) }

func (c *Classification) loadModel(ctx context.Context) error {
	s, err := c.openSession(c.rt, c.path, 1)
	if err != nil {
		return ErrModelLoad(c.name, err)
	}
	c.sess = s
	return nil
}

func (c *Classification) unloadModel() error {
	s := c.sess
	c.sess = nil
	if s == nil {
		return nil
	}
	return s.Close()
}

// Preprocess decodes an RGB image into a normalized [1,3,S,S] tensor with
// values in [-1, 1].
func (c *Classification) Preprocess(ctx context.Context, in Input) (Processed, error) {
	img, orig, err := decodeRGB(c.name, in.FileBytes, c.size, c.maxPixels)
	if err != nil {
		return Processed{}, err
	}
	t, err := imageTensor(c.name, img)
	if err != nil {
		return Processed{}, err
	}
	return Processed{Tensors: []session.Tensor{t}, OriginalSize: orig}, nil
}

// Predict loads the model if needed and returns its logits.
func (c *Classification) Predict(ctx context.Context, p Processed) (RawOutput, error) {
	if len(p.Tensors) != 1 {
		return RawOutput{}, ErrInference(c.name, fmt.Errorf("expected 1 input tensor, got %d", len(p.Tensors)))
	}
	var out []session.Tensor
	err := c.use(ctx, func() error {
		var err error
		out, err = c.sess.Run(ctx, p.Tensors)
		return err
	})
	if err != nil {
		if IsModelLoad(err) {
			return RawOutput{}, err
		}
		return RawOutput{}, ErrInference(c.name, err)
	}
	return RawOutput{Tensors: out, OriginalSize: p.OriginalSize}, nil
}

// Postprocess converts logits into per-label probabilities.
func (c *Classification) Postprocess(ctx context.Context, raw RawOutput) (any, error) {
	logits, err := firstRow(c.name, raw)
	if err != nil {
		return nil, err
	}
	res, err := classify(c.name, c.labels, logits)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// decodeRGB validates and decodes an RGB image resized to size x size.
func decodeRGB(model string, b []byte, size int, maxPixels int64) (*image.RGBA, image.Point, error) {
	img, err := decodeUpload(model, b, maxPixels)
	if err != nil {
		return nil, image.Point{}, err
	}
	if ch := channels(img); ch != 3 {
		return nil, image.Point{}, ErrPreprocessing(model, fmt.Sprintf("expected 3 color channels (RGB), got %d", ch), nil)
	}
	orig := img.Bounds().Size()
	return toRGBA(img, size, size, draw.CatmullRom), orig, nil
}

// imageTensor lays img out as [1,3,H,W] normalized by (x/255 - 0.5) / 0.5.
func imageTensor(model string, img *image.RGBA) (session.Tensor, error) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	data := chwTensor(img, func(v float32) float32 { return (v/255 - 0.5) / 0.5 })
	t, err := session.NewTensor(data, 1, 3, int64(h), int64(w))
	if err != nil {
		return session.Tensor{}, ErrPreprocessing(model, "build input tensor", err)
	}
	return t, nil
}

// firstRow returns the scores of the first batch item of the first output.
func firstRow(model string, raw RawOutput) ([]float32, error) {
	if len(raw.Tensors) == 0 {
		return nil, ErrPostprocessing(model, "model returned no outputs")
	}
	t := raw.Tensors[0]
	if len(t.Data) == 0 || len(t.Shape) == 0 || t.Shape[0] <= 0 {
		return nil, ErrPostprocessing(model, fmt.Sprintf("unexpected output shape %v", t.Shape))
	}
	n := t.Elements()
	if n != int64(len(t.Data)) {
		return nil, ErrPostprocessing(model, fmt.Sprintf("output shape %v does not match %d values", t.Shape, len(t.Data)))
	}
	return t.Data[:n/t.Shape[0]], nil
}

func classify(model string, labels []string, logits []float32) (ClassificationResult, error) {
	if len(logits) != len(labels) {
		return ClassificationResult{}, ErrPostprocessing(model, fmt.Sprintf("model returned %d scores for %d labels", len(logits), len(labels)))
	}
	probs := softmax(logits)
	best := 0
	for i, p := range probs {
		if math.IsNaN(p) {
			return ClassificationResult{}, ErrPostprocessing(model, "model returned non-finite scores")
		}
		if p > probs[best] {
			best = i
		}
	}
	all := make(map[string]float64, len(labels))
	for i, l := range labels {
		all[l] = probs[i]
	}
	return ClassificationResult{
		PredictedClass:   labels[best],
		Confidence:       probs[best],
		AllProbabilities: all,
	}, nil
}

// softmax is computed in float64 and shifted by the max for stability.
func softmax(logits []float32) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxv := float64(logits[0])
	for _, v := range logits[1:] {
		maxv = math.Max(maxv, float64(v))
	}
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(float64(v) - maxv)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
