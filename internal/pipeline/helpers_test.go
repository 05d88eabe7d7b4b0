package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/dunamismax/pixelserve/internal/domain"
)

func buildTestImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}
	return img
}

func buildTestPNG(tb testing.TB, w, h int) []byte {
	tb.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, buildTestImage(w, h)); err != nil {
		tb.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func buildTestJPEG(tb testing.TB, w, h int) []byte {
	tb.Helper()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, buildTestImage(w, h), &jpeg.Options{Quality: 90}); err != nil {
		tb.Fatalf("encode source jpeg: %v", err)
	}
	return buf.Bytes()
}

func decodeDims(tb testing.TB, data []byte) (int, int, string) {
	tb.Helper()

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		tb.Fatalf("decode output: %v", err)
	}
	return img.Bounds().Dx(), img.Bounds().Dy(), format
}

type staticFetcher struct {
	data  []byte
	err   error
	calls int
}

func (f *staticFetcher) Fetch(_ context.Context, _ string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

type fixedTransformer struct {
	out domain.EncodedOutput
}

func (t fixedTransformer) Transform(_ context.Context, _ []byte, _ domain.Dimensions, _ domain.Format) (domain.EncodedOutput, error) {
	return t.out, nil
}

func (fixedTransformer) CanEncode(domain.Codec) bool {
	return true
}
