package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"net/http"
	"strings"

	// decoders registered for image.Decode
	_ "image/gif"
	_ "image/png"

	"github.com/blacktop/crosspost/internal/logutil"
	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultMaxPixels and DefaultQuality are the single-pass settings used when no ladder applies.
	DefaultMaxPixels = 1280
	DefaultQuality   = 0.90

	jpegMIME = "image/jpeg"
)

// Blob is a materialized image payload.
type Blob struct {
	Data     []byte
	MimeType string
}

// NewBlob wraps raw bytes, sniffing the MIME type when it is not known.
func NewBlob(data []byte, mimeType string) Blob {
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return Blob{Data: data, MimeType: mimeType}
}

// Size returns the payload length in bytes.
func (b Blob) Size() int { return len(b.Data) }

// Step is one rung of a compression ladder.
type Step struct {
	MaxPixels int
	Quality   float64
}

func (s Step) String() string {
	return fmt.Sprintf("%dpx q%.2f", s.MaxPixels, s.Quality)
}

var (
	// Ladder is strictly decreasing in (MaxPixels, Quality) aggressiveness.
	Ladder = []Step{
		{1280, 0.90},
		{1280, 0.80},
		{1024, 0.80},
		{1024, 0.70},
		{800, 0.75},
		{800, 0.65},
		{640, 0.70},
	}
	// FinalStep is applied when the ladder is exhausted, whatever size it produces.
	FinalStep = Step{640, 0.60}
)

// Resize decodes b (applying any EXIF orientation), scales it so its longer edge is at most maxPixels and re-encodes it as JPEG
// at the given quality (0-1). Images already within bounds keep their dimensions.
func Resize(b Blob, maxPixels int, quality float64) (Blob, error) {
	if maxPixels <= 0 {
		return Blob{}, fmt.Errorf("resize: invalid max dimension %d", maxPixels)
	}
	if len(b.Data) == 0 {
		return Blob{}, errors.New("resize: empty image")
	}

	src, err := imaging.Decode(bytes.NewReader(b.Data), imaging.AutoOrientation(true))
	if err != nil {
		return Blob{}, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	w, h := ScaledSize(bounds.Dx(), bounds.Dy(), maxPixels)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)

	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, dst, &jpeg.Options{Quality: jpegQuality(quality)}); err != nil {
		return Blob{}, fmt.Errorf("encode jpeg: %w", err)
	}

	return Blob{Data: buf.Bytes(), MimeType: jpegMIME}, nil
}

// ScaledSize returns the dimensions of a w×h image fitted so its longer edge is maxPixels.
// It never grows an image.
func ScaledSize(w, h, maxPixels int) (int, int) {
	if w <= maxPixels && h <= maxPixels {
		return w, h
	}
	if w > h {
		h = int(math.Round(float64(h) * float64(maxPixels) / float64(w)))
		w = maxPixels
	} else {
		w = int(math.Round(float64(w) * float64(maxPixels) / float64(h)))
		h = maxPixels
	}
	return max(w, 1), max(h, 1)
}

// CompressToLimit walks the default ladder until the encoded image fits in limit bytes.
func CompressToLimit(b Blob, limit int) (Blob, error) {
	return CompressWithLadder(b, limit, Ladder, FinalStep)
}

// CompressWithLadder returns b untouched when it already fits. Otherwise it tries each step in
// order and returns the first result at or under limit; if none fits, the final step's output is
// returned even when it is still over the limit.
func CompressWithLadder(b Blob, limit int, ladder []Step, final Step) (Blob, error) {
	if b.Size() <= limit {
		return b, nil
	}

	for _, step := range ladder {
		resized, err := Resize(b, step.MaxPixels, step.Quality)
		if err != nil {
			return Blob{}, err
		}
		logutil.Debugf("compress: %s -> %dKB (limit %dKB)", step, resized.Size()/1024, limit/1024)
		if resized.Size() <= limit {
			return resized, nil
		}
	}

	resized, err := Resize(b, final.MaxPixels, final.Quality)
	if err != nil {
		return Blob{}, err
	}
	if resized.Size() > limit {
		logutil.Warnf("compress: final step %s still %dKB over %dKB limit", final, resized.Size()/1024, limit/1024)
	}
	return resized, nil
}

func jpegQuality(q float64) int {
	v := int(math.Round(q * 100))
	return min(max(v, 1), 100)
}
