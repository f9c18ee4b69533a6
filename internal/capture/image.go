package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoder for image.Decode
	"strings"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// jpegQuality is used when a downscaled image is re-encoded.
const jpegQuality = 85

// prepareImage extracts EXIF hints for the prompt and downscales JPEG/PNG
// images whose longest side exceeds maxDim. On any decode problem the
// original bytes are returned unchanged.
func prepareImage(data []byte, mimeType string, maxDim int) ([]byte, string, map[string]string) {
	metadata := extractImageMetadata(data)

	if mimeType != "image/jpeg" && mimeType != "image/png" {
		return data, mimeType, metadata
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Str("mime_type", mimeType).Msg("Could not read image dimensions, sending original")
		return data, mimeType, metadata
	}
	if metadata == nil {
		metadata = make(map[string]string)
	}
	metadata["dimensions"] = fmt.Sprintf("%dx%d", cfg.Width, cfg.Height)

	if maxDim <= 0 || (cfg.Width <= maxDim && cfg.Height <= maxDim) {
		return data, mimeType, metadata
	}

	resized, err := downscale(data, maxDim)
	if err != nil {
		log.Warn().Err(err).Msg("Image downscale failed, sending original")
		return data, mimeType, metadata
	}

	log.Debug().
		Int("original_bytes", len(data)).
		Int("resized_bytes", len(resized)).
		Int("max_dimension", maxDim).
		Msg("Image downscaled for inline submission")
	return resized, "image/jpeg", metadata
}

// downscale resizes an image so its longest side equals maxDim, preserving
// aspect ratio, and encodes it as JPEG.
func downscale(data []byte, maxDim int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	newW, newH := maxDim, maxDim
	if w >= h {
		newH = h * maxDim / w
	} else {
		newW = w * maxDim / h
	}
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// extractImageMetadata reads camera and date EXIF fields. It returns nil when
// the image carries no usable EXIF block.
func extractImageMetadata(data []byte) map[string]string {
	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Msg("No EXIF metadata in image")
		return nil
	}

	metadata := make(map[string]string)
	camera := strings.TrimSpace(strings.TrimSpace(exifData.Make) + " " + strings.TrimSpace(exifData.Model))
	if camera != "" {
		metadata["camera"] = camera
	}
	if taken := exifData.DateTimeOriginal(); !taken.IsZero() {
		metadata["date_taken"] = taken.Format("2006-01-02 15:04")
	} else if created := exifData.CreateDate(); !created.IsZero() {
		metadata["date_taken"] = created.Format("2006-01-02 15:04")
	}

	if len(metadata) == 0 {
		return nil
	}
	return metadata
}
