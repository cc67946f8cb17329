package converter

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	"convertd/internal/formats"
	"convertd/internal/settings"
)

const defaultImageQuality = 100

// Image re-encodes raster images in process. Decoding and re-encoding drops
// every metadata block, so StripMetadata needs no extra work.
type Image struct{}

// NewImage returns the in-process image converter.
func NewImage() *Image { return &Image{} }

func (c *Image) Convert(ctx context.Context, input []byte, target string, bundle settings.Bundle) ([]byte, error) {
	target = formats.NormalizeExtension(target)
	opts, ok := bundle.(settings.Image)
	if !ok && bundle != nil {
		// Document rasterization hands over its own quality.
		if doc, isDoc := bundle.(settings.Document); isDoc {
			opts = settings.Image{Quality: doc.Quality}
		}
	}
	if err := contextError(ctx, formats.Image, target); err != nil {
		return nil, err
	}

	img, err := decodeImage(input)
	if err != nil {
		return nil, newError(KindDecode, formats.Image, target, "decode source image", err)
	}
	if err := contextError(ctx, formats.Image, target); err != nil {
		return nil, err
	}
	return encodeImage(img, target, opts)
}

func decodeImage(input []byte) (image.Image, error) {
	if mimetype.Detect(input).Is("image/webp") {
		return webp.Decode(bytes.NewReader(input))
	}
	return imaging.Decode(bytes.NewReader(input), imaging.AutoOrientation(true))
}

func encodeImage(img image.Image, target string, opts settings.Image) ([]byte, error) {
	quality := clampQuality(opts.Quality)
	var buf bytes.Buffer
	var err error
	switch target {
	case "jpg", "jpeg":
		err = imaging.Encode(&buf, flattenAlpha(img), imaging.JPEG, imaging.JPEGQuality(quality))
	case "png":
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(pngLevel(opts)))
	case "gif":
		err = imaging.Encode(&buf, img, imaging.GIF)
	case "tif", "tiff":
		err = imaging.Encode(&buf, img, imaging.TIFF)
	case "bmp":
		err = imaging.Encode(&buf, img, imaging.BMP)
	case "webp":
		err = webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)})
	default:
		return nil, unsupported(formats.Image, target)
	}
	if err != nil {
		return nil, newError(KindEncode, formats.Image, target, fmt.Sprintf("encode %s", target), err)
	}
	return buf.Bytes(), nil
}

// flattenAlpha composites img over white for formats without transparency.
func flattenAlpha(img image.Image) image.Image {
	bounds := img.Bounds()
	bg := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

func clampQuality(q int) int {
	switch {
	case q <= 0:
		return defaultImageQuality
	case q > 100:
		return 100
	default:
		return q
	}
}

// pngLevel maps the 1-100 quality scale onto zlib effort: higher quality means
// less compression work.
func pngLevel(opts settings.Image) png.CompressionLevel {
	if opts.Optimize {
		return png.BestCompression
	}
	if opts.Quality <= 0 {
		return png.DefaultCompression
	}
	switch level := 9 - opts.Quality/11; {
	case level >= 7:
		return png.BestCompression
	case level <= 2:
		return png.BestSpeed
	default:
		return png.DefaultCompression
	}
}
