// Package imgproc prepares inbound images for the vision model: decode to
// validate the media, downscale the longest side to a bound, re-encode as
// JPEG. Everything happens in memory; nothing is written to disk.
package imgproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// MaxDimension is the longest side sent to the model; larger images are
	// downscaled preserving aspect ratio, never upscaled.
	MaxDimension = 1920

	// MaxInputBytes bounds the raw payload accepted for processing.
	MaxInputBytes = 20 << 20

	jpegQuality = 85
)

// Failure classes. Both are permanent: retrying the same payload cannot help.
var (
	ErrUnsupported = errors.New("imgproc: unsupported image")
	ErrTooLarge    = errors.New("imgproc: image too large")
)

// Prepare validates and normalizes raw image bytes for inference. JPEG input
// already within the dimension bound passes through untouched; everything
// else is re-encoded as JPEG.
func Prepare(data []byte) ([]byte, error) {
	return prepare(data, MaxDimension)
}

func prepare(data []byte, maxDimension int) ([]byte, error) {
	if len(data) > MaxInputBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := w
	if h > longest {
		longest = h
	}

	if longest <= maxDimension {
		if format == "jpeg" {
			return data, nil
		}
		return encodeJPEG(img)
	}

	ratio := float64(maxDimension) / float64(longest)
	nw := int(float64(w) * ratio)
	nh := int(float64(h) * ratio)
	dst := whiteCanvas(nw, nh)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	log.Printf("image resized: %dx%d -> %dx%d", w, h, nw, nh)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrUnsupported, err)
	}
	return buf.Bytes(), nil
}

// encodeJPEG flattens onto a white background before encoding, since JPEG
// carries no alpha channel.
func encodeJPEG(img image.Image) ([]byte, error) {
	b := img.Bounds()
	dst := whiteCanvas(b.Dx(), b.Dy())
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrUnsupported, err)
	}
	return buf.Bytes(), nil
}

func whiteCanvas(w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	return dst
}
