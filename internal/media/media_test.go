package media

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noisePNG(t *testing.T, w, h int) Blob {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return NewBlob(buf.Bytes(), "")
}

func decodedSize(t *testing.T, b Blob) (int, int) {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(b.Data))
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

func TestNewBlobSniffsMIME(t *testing.T) {
	b := noisePNG(t, 4, 4)
	assert.Equal(t, "image/png", b.MimeType)
	assert.Equal(t, "image/jpeg", NewBlob([]byte{0xff, 0xd8, 0xff}, "image/jpeg; charset=binary").MimeType)
}

func TestScaledSize(t *testing.T) {
	tests := []struct {
		name         string
		w, h, max    int
		wantW, wantH int
	}{
		{"landscape", 2000, 1000, 1280, 1280, 640},
		{"portrait", 1000, 2000, 1280, 640, 1280},
		{"square", 3000, 3000, 800, 800, 800},
		{"within bounds", 640, 480, 1280, 640, 480},
		{"thin strip", 5000, 1, 640, 640, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := ScaledSize(tt.w, tt.h, tt.max)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestResizeNeverGrows(t *testing.T) {
	small := noisePNG(t, 100, 50)
	out, err := Resize(small, 1280, 0.9)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", out.MimeType)

	w, h := decodedSize(t, out)
	assert.Equal(t, 100, w)
	assert.Equal(t, 50, h)
}

func TestResizeShrinksLongerEdge(t *testing.T) {
	big := noisePNG(t, 400, 200)
	out, err := Resize(big, 100, 0.8)
	require.NoError(t, err)

	w, h := decodedSize(t, out)
	assert.Equal(t, 100, w)
	assert.Equal(t, 50, h)
}

func TestResizeIsDeterministic(t *testing.T) {
	img := noisePNG(t, 300, 300)
	a, err := Resize(img, 200, 0.7)
	require.NoError(t, err)
	b, err := Resize(img, 200, 0.7)
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)
}

func TestResizeRejectsGarbage(t *testing.T) {
	_, err := Resize(Blob{Data: []byte("not an image")}, 640, 0.5)
	require.Error(t, err)

	_, err = Resize(Blob{}, 640, 0.5)
	require.Error(t, err)

	_, err = Resize(noisePNG(t, 2, 2), 0, 0.5)
	require.Error(t, err)
}

func TestCompressToLimitUnderLimitIsIdentity(t *testing.T) {
	img := noisePNG(t, 64, 64)
	out, err := CompressToLimit(img, img.Size())
	require.NoError(t, err)
	assert.Equal(t, img.MimeType, out.MimeType)
	assert.Equal(t, img.Data, out.Data)
	assert.Same(t, &img.Data[0], &out.Data[0], "under-limit images must not be re-encoded")
}

func TestCompressToLimitReachesLimit(t *testing.T) {
	img := noisePNG(t, 1600, 1200)

	target, err := Resize(img, 1024, 0.80)
	require.NoError(t, err)
	require.Greater(t, img.Size(), target.Size())

	out, err := CompressToLimit(img, target.Size())
	require.NoError(t, err)
	assert.LessOrEqual(t, out.Size(), target.Size())
	assert.Equal(t, "image/jpeg", out.MimeType)

	w, h := decodedSize(t, out)
	assert.LessOrEqual(t, w, 1280)
	assert.LessOrEqual(t, h, 1280)
}

func TestCompressToLimitFallsBackToFinalStep(t *testing.T) {
	img := noisePNG(t, 900, 700)

	out, err := CompressToLimit(img, 100)
	require.NoError(t, err)

	forced, err := Resize(img, FinalStep.MaxPixels, FinalStep.Quality)
	require.NoError(t, err)
	assert.Equal(t, forced.Data, out.Data)
	assert.Greater(t, out.Size(), 100, "final step is best effort")
}

func TestCompressWithLadderStopsAtFirstFit(t *testing.T) {
	img := noisePNG(t, 500, 500)
	ladder := []Step{{400, 0.9}, {200, 0.5}, {100, 0.5}}

	second, err := Resize(img, 200, 0.5)
	require.NoError(t, err)

	out, err := CompressWithLadder(img, second.Size(), ladder, Step{50, 0.1})
	require.NoError(t, err)
	assert.Equal(t, second.Data, out.Data)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Width)
}

// withOrientation inserts a minimal big-endian EXIF APP1 segment carrying the given
// orientation tag right after the JPEG SOI marker.
func withOrientation(jpg []byte, orientation byte) []byte {
	app1 := []byte{
		0xFF, 0xE1, 0x00, 0x22, // APP1, length 34
		'E', 'x', 'i', 'f', 0x00, 0x00,
		'M', 'M', 0x00, 0x2A, 0x00, 0x00, 0x00, 0x08, // TIFF header, IFD at 8
		0x00, 0x01, // one entry
		0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, 0x00, orientation, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, // no next IFD
	}
	out := append([]byte{}, jpg[:2]...)
	out = append(out, app1...)
	return append(out, jpg[2:]...)
}

func TestResizeAppliesEXIFOrientation(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	buf := &bytes.Buffer{}
	require.NoError(t, jpeg.Encode(buf, img, nil))

	// orientation 6: the camera was rotated, so the upright picture is portrait
	rotated := NewBlob(withOrientation(buf.Bytes(), 6), "image/jpeg")
	out, err := Resize(rotated, 1280, 0.9)
	require.NoError(t, err)
	w, h := decodedSize(t, out)
	assert.Equal(t, 20, w)
	assert.Equal(t, 40, h)

	plain, err := Resize(NewBlob(buf.Bytes(), "image/jpeg"), 1280, 0.9)
	require.NoError(t, err)
	w, h = decodedSize(t, plain)
	assert.Equal(t, 40, w)
	assert.Equal(t, 20, h)
}
