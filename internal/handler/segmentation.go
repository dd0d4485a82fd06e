package handler

import (
	"context"
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"predictd/internal/session"
)

const (
	defaultSegmentationSize = 512
	defaultMaskThreshold    = 0.5
)

// SegmentationConfig describes a binary segmentation model.
type SegmentationConfig struct {
	Name      string
	Path      string
	InputSize int      // square input edge, defaults to 512
	Threshold *float64 // foreground cutoff on model scores; nil means 0.5
}

// SegmentationResult is the serializable output of a segmenter.
type SegmentationResult struct {
	// MaskBase64 is a PNG of the mask at the original image size.
	MaskBase64 string `json:"mask_base64"`
	// MaskShape is [rows, cols] of the encoded mask.
	MaskShape          [2]int  `json:"mask_shape"`
	CoveragePercentage float64 `json:"coverage_percentage"`
	MaskArea           int     `json:"mask_area"`
	// OriginalSize is [width, height] of the uploaded image.
	OriginalSize [2]int `json:"original_size"`
}

// Segmentation runs a single-channel U-Net style segmenter.
type Segmentation struct {
	lifecycle
	rt        session.Runtime
	size      int
	threshold float32
	sess      session.Session
}

// NewSegmentation constructs an unloaded segmentation handler.
func NewSegmentation(cfg SegmentationConfig, opts Options) *Segmentation {
	s := &Segmentation{
		rt:        opts.Runtime,
		size:      cfg.InputSize,
		threshold: defaultMaskThreshold,
	}
	if s.size <= 0 {
		s.size = defaultSegmentationSize
	}
	if cfg.Threshold != nil {
		s.threshold = float32(*cfg.Threshold)
	}
	s.init(cfg.Name, cfg.Path, opts, s.loadModel, s.unloadModel)
	return s
}

func (s *Segmentation) Kind() Kind { return KindSegmentation }

func (s *Segmentation) loadModel(ctx context.Context) error {
	sess, err := s.openSession(s.rt, s.path, 1)
	if err != nil {
		return ErrModelLoad(s.name, err)
	}
	s.sess = sess
	return nil
}

func (s *Segmentation) unloadModel() error {
	sess := s.sess
	s.sess = nil
	if sess == nil {
		return nil
	}
	return sess.Close()
}

// Preprocess converts the image to grayscale, resizes it bilinearly and
// scales it to [0, 1] as a [1,1,S,S] tensor.
func (s *Segmentation) Preprocess(ctx context.Context, in Input) (Processed, error) {
	img, err := decodeUpload(s.name, in.FileBytes, s.maxPixels)
	if err != nil {
		return Processed{}, err
	}
	orig := img.Bounds().Size()
	gray := toGray(img, s.size, s.size, draw.BiLinear)
	data := make([]float32, s.size*s.size)
	for y := 0; y < s.size; y++ {
		for x := 0; x < s.size; x++ {
			data[y*s.size+x] = float32(gray.Pix[y*gray.Stride+x]) / 255
		}
	}
	t, err := session.NewTensor(data, 1, 1, int64(s.size), int64(s.size))
	if err != nil {
		return Processed{}, ErrPreprocessing(s.name, "build input tensor", err)
	}
	return Processed{Tensors: []session.Tensor{t}, OriginalSize: orig}, nil
}

// Predict loads the model if needed and returns the score map.
func (s *Segmentation) Predict(ctx context.Context, p Processed) (RawOutput, error) {
	if len(p.Tensors) != 1 {
		return RawOutput{}, ErrInference(s.name, fmt.Errorf("expected 1 input tensor, got %d", len(p.Tensors)))
	}
	var out []session.Tensor
	err := s.use(ctx, func() error {
		var err error
		out, err = s.sess.Run(ctx, p.Tensors)
		return err
	})
	if err != nil {
		if IsModelLoad(err) {
			return RawOutput{}, err
		}
		return RawOutput{}, ErrInference(s.name, err)
	}
	return RawOutput{Tensors: out, OriginalSize: p.OriginalSize}, nil
}

// Postprocess thresholds the first score plane into a binary mask, maps it
// back to the original image size and reports its coverage.
func (s *Segmentation) Postprocess(ctx context.Context, raw RawOutput) (any, error) {
	if len(raw.Tensors) == 0 {
		return nil, ErrPostprocessing(s.name, "model returned no outputs")
	}
	t := raw.Tensors[0]
	if len(t.Shape) < 2 {
		return nil, ErrPostprocessing(s.name, fmt.Sprintf("expected [.., H, W] output, got shape %v", t.Shape))
	}
	h, w := int(t.Shape[len(t.Shape)-2]), int(t.Shape[len(t.Shape)-1])
	plane := h * w
	if h <= 0 || w <= 0 || t.Elements() != int64(len(t.Data)) || len(t.Data) < plane {
		return nil, ErrPostprocessing(s.name, fmt.Sprintf("output shape %v does not match %d values", t.Shape, len(t.Data)))
	}

	mask, area := binaryMask(t.Data[:plane], w, h, s.threshold)
	out := mask
	if o := raw.OriginalSize; o.X > 0 && o.Y > 0 && (o.X != w || o.Y != h) {
		out = image.NewGray(image.Rect(0, 0, o.X, o.Y))
		draw.BiLinear.Scale(out, out.Bounds(), mask, mask.Bounds(), draw.Src, nil)
	}
	b64, err := encodePNGBase64(out)
	if err != nil {
		return nil, ErrPostprocessing(s.name, "encode mask: "+err.Error())
	}
	ob := out.Bounds()
	orig := raw.OriginalSize
	if orig.X <= 0 || orig.Y <= 0 {
		orig = image.Pt(w, h)
	}
	return SegmentationResult{
		MaskBase64:         b64,
		MaskShape:          [2]int{ob.Dy(), ob.Dx()},
		CoveragePercentage: float64(area) / float64(plane) * 100,
		MaskArea:           area,
		OriginalSize:       [2]int{orig.X, orig.Y},
	}, nil
}
