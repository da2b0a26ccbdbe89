// File: internal/imaging/imaging.go

// Package imaging normalizes fetched pictures into the JPEG data-URL
// form the rest of the pipeline exchanges.
package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"strings"

	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultJPEGQuality matches the page-side canvas encoder.
const DefaultJPEGQuality = 92

// Decode parses raw image bytes in any registered format (JPEG, PNG,
// GIF, WebP) and returns the image plus the detected format name.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decoding image: %w", err)
	}
	return img, format, nil
}

// DecodeDataURL parses a "data:image/...;base64," URL.
func DecodeDataURL(dataURL string) (image.Image, string, error) {
	_, payload, ok := strings.Cut(dataURL, ",")
	if !ok {
		return nil, "", fmt.Errorf("malformed data URL")
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decoding data URL payload: %w", err)
	}
	return Decode(raw)
}

// EncodeJPEGDataURL renders img as a base64 JPEG data URL. Transparent
// pixels are flattened onto white first, since JPEG has no alpha.
func EncodeJPEGDataURL(img image.Image, quality int) (string, error) {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	img = flatten(img)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("encoding jpeg: %w", err)
	}
	return JPEGDataURL(buf.Bytes()), nil
}

// NormalizeToJPEG converts raw image bytes of any supported format into
// a JPEG data URL at the given quality.
func NormalizeToJPEG(data []byte, quality int) (string, error) {
	img, _, err := Decode(data)
	if err != nil {
		return "", err
	}
	return EncodeJPEGDataURL(img, quality)
}

// JPEGDataURL wraps already-encoded JPEG bytes in a data URL.
func JPEGDataURL(data []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
}

// StripDataURL returns the decoded payload bytes of a data URL, or the
// input decoded as plain base64 when no header is present.
func StripDataURL(s string) ([]byte, error) {
	if _, payload, ok := strings.Cut(s, ","); ok && strings.HasPrefix(s, "data:") {
		s = payload
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding base64 image: %w", err)
	}
	return raw, nil
}

// flatten composites img over a white background when it may carry alpha.
func flatten(img image.Image) image.Image {
	if _, opaque := img.(interface{ Opaque() bool }); opaque {
		if img.(interface{ Opaque() bool }).Opaque() {
			return img
		}
	}
	bounds := img.Bounds()
	flat := image.NewRGBA(bounds)
	draw.Draw(flat, bounds, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, bounds, img, bounds.Min, draw.Over)
	return flat
}
