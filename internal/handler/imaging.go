package handler

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultMaxImagePixels is the decoded-size cap applied when Options leaves
// it unset (about 89.5 megapixels).
const DefaultMaxImagePixels = 89_478_485

var errImageTooLarge = errors.New("image too large")

// decodeImage decodes any registered format (png, jpeg, gif, bmp, tiff, webp).
// The header is read first so an image declaring more than maxPixels pixels
// is rejected before its pixel buffer is allocated.
func decodeImage(b []byte, maxPixels int64) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid image dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if n := int64(cfg.Width) * int64(cfg.Height); n > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", errImageTooLarge, cfg.Width, cfg.Height, maxPixels)
	}
	img, _, err := image.Decode(bytes.NewReader(b))
	return img, err
}

// decodeUpload decodes the uploaded file bytes, mapping every failure to a
// preprocessing error for model.
func decodeUpload(model string, b []byte, maxPixels int64) (image.Image, error) {
	if b == nil {
		return nil, ErrPreprocessing(model, "missing required field 'file_bytes'", nil)
	}
	if len(b) == 0 {
		return nil, ErrPreprocessing(model, "empty image file provided", nil)
	}
	img, err := decodeImage(b, maxPixels)
	if errors.Is(err, errImageTooLarge) {
		return nil, ErrPreprocessing(model, "image exceeds pixel limit", err)
	}
	if err != nil {
		return nil, ErrPreprocessing(model, "image decoding failed", err)
	}
	return img, nil
}

// channels reports the channel count of the decoded storage: 1 for gray and
// paletted images, 4 whenever the file carries an alpha channel or is CMYK,
// 3 otherwise. Alpha is judged by color model, not by pixel values, so an
// RGBA file is 4 channels even when fully opaque.
func channels(img image.Image) int {
	switch img.(type) {
	case *image.Gray, *image.Gray16, *image.Paletted:
		return 1
	case *image.CMYK, *image.NRGBA, *image.NRGBA64, *image.NYCbCrA:
		return 4
	}
	return 3
}

// toRGBA returns img as an RGBA image of w x h, resampled with s when the
// size differs.
func toRGBA(img image.Image, w, h int, s draw.Scaler) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}
	s.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// toGray converts img to 8-bit luminance of w x h, resampled with s when the
// size differs.
func toGray(img image.Image, w, h int, s draw.Scaler) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	if b.Dx() == w && b.Dy() == h {
		return gray
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	s.Scale(dst, dst.Bounds(), gray, gray.Bounds(), draw.Src, nil)
	return dst
}

// chwTensor lays out the RGB planes of img as [3][H][W], mapping each 0..255
// sample through norm.
func chwTensor(img *image.RGBA, norm func(float32) float32) []float32 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	plane := w * h
	out := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4:]
			i := y*w + x
			out[i] = norm(float32(px[0]))
			out[plane+i] = norm(float32(px[1]))
			out[2*plane+i] = norm(float32(px[2]))
		}
	}
	return out
}

// binaryMask thresholds an H x W score plane into a 0/255 gray image and
// returns it with the count of foreground pixels.
func binaryMask(scores []float32, w, h int, threshold float32) (*image.Gray, int) {
	mask := image.NewGray(image.Rect(0, 0, w, h))
	area := 0
	for i, v := range scores {
		if v > threshold {
			mask.Pix[(i/w)*mask.Stride+i%w] = 255
			area++
		}
	}
	return mask, area
}

// encodePNGBase64 encodes img as a base64 PNG.
func encodePNGBase64(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
