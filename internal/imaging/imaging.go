package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"

	"github.com/ravel/photoflow/internal/domain"
	"github.com/ravel/photoflow/internal/storage"
	_ "golang.org/x/image/webp"
)

const jpegQuality = 85

// Loader materializes photo image payloads for analysis tasks. It downloads
// the original bytes from object storage, optionally draws rule-of-thirds
// guidelines (used by topology prompts so the model can reference regions),
// and produces a base64 data URL for the model gateway.
type Loader struct {
	storage storage.ObjectStorage
}

// NewLoader creates a new Loader.
func NewLoader(objectStorage storage.ObjectStorage) *Loader {
	return &Loader{storage: objectStorage}
}

// Load downloads and prepares one photo's image payload. The returned bytes
// are the (possibly re-encoded) image and the data URL is ready for an
// OpenAI-style image_url content part.
func (l *Loader) Load(ctx context.Context, photo domain.Photo, withGuidelines bool) ([]byte, string, error) {
	reader, err := l.storage.Download(ctx, photo.StorageKey)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download photo %s: %w", photo.ID, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read photo %s: %w", photo.ID, err)
	}

	format := photo.Format
	if withGuidelines {
		data, err = drawGuidelines(data)
		if err != nil {
			return nil, "", fmt.Errorf("failed to draw guidelines on %s: %w", photo.ID, err)
		}
		format = "jpeg"
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType(format), base64.StdEncoding.EncodeToString(data))
	return data, dataURL, nil
}

// drawGuidelines decodes the image, overlays rule-of-thirds lines and
// re-encodes as JPEG.
func drawGuidelines(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)

	lineColor := color.RGBA{R: 255, G: 64, B: 64, A: 255}
	w, h := bounds.Dx(), bounds.Dy()
	thickness := maxInt(1, minInt(w, h)/400)

	for i := 1; i <= 2; i++ {
		x := bounds.Min.X + w*i/3
		vertical := image.Rect(x, bounds.Min.Y, x+thickness, bounds.Max.Y)
		draw.Draw(dst, vertical, &image.Uniform{C: lineColor}, image.Point{}, draw.Src)

		y := bounds.Min.Y + h*i/3
		horizontal := image.Rect(bounds.Min.X, y, bounds.Max.X, y+thickness)
		draw.Draw(dst, horizontal, &image.Uniform{C: lineColor}, image.Point{}, draw.Src)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ColorHistogram computes a normalized RGB histogram vector for an image.
// Each channel contributes bins buckets; the vector sums to 1 per channel.
// Used as the photo's color embedding, no model call involved.
func ColorHistogram(data []byte, bins int) ([]float32, error) {
	if bins <= 0 {
		return nil, fmt.Errorf("bins must be positive, got %d", bins)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	counts := make([]float64, bins*3)
	bounds := src.Bounds()
	total := float64(bounds.Dx() * bounds.Dy())
	if total == 0 {
		return nil, fmt.Errorf("empty image")
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := src.At(x, y).RGBA()
			counts[bucket(r, bins)]++
			counts[bins+bucket(g, bins)]++
			counts[2*bins+bucket(b, bins)]++
		}
	}

	vec := make([]float32, len(counts))
	for i, c := range counts {
		vec[i] = float32(c / total)
	}
	return vec, nil
}

// bucket maps a 16-bit channel value into one of bins buckets.
func bucket(v uint32, bins int) int {
	idx := int(v) * bins / 0x10000
	if idx >= bins {
		idx = bins - 1
	}
	return idx
}

func mimeType(format string) string {
	switch format {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
