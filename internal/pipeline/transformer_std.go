package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/dunamismax/pixelserve/internal/domain"
)

type stdlibTransformer struct {
	opts Options
}

func (t stdlibTransformer) Transform(ctx context.Context, input []byte, target domain.Dimensions, format domain.Format) (domain.EncodedOutput, error) {
	select {
	case <-ctx.Done():
		return domain.EncodedOutput{}, ctx.Err()
	default:
	}

	src, err := Decode(input, t.opts.MaxSourcePixels)
	if err != nil {
		return domain.EncodedOutput{}, err
	}

	out := Resize(src, target, t.opts.Filter)
	return Encode(out, format, t.opts.JPEGQuality)
}

func (stdlibTransformer) CanEncode(codec domain.Codec) bool {
	_, ok := imagingFormat(codec)
	return ok
}

// Decode reads PNG, JPEG, GIF (first frame), BMP, TIFF or WebP input. JPEG
// EXIF orientation is applied. Sources above maxPixels are rejected before
// the pixel data is decoded.
func Decode(input []byte, maxPixels int) (img image.Image, err error) {
	if len(input) == 0 {
		return nil, decodeError(errors.New("empty input"))
	}

	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = decodeError(fmt.Errorf("decoder panic: %v", r))
		}
	}()

	cfg, _, err := image.DecodeConfig(bytes.NewReader(input))
	if err != nil {
		return nil, decodeError(err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, decodeError(fmt.Errorf("invalid source dimensions %dx%d", cfg.Width, cfg.Height))
	}
	if maxPixels > 0 && cfg.Width*cfg.Height > maxPixels {
		return nil, decodeError(fmt.Errorf("source %dx%d exceeds %d pixels", cfg.Width, cfg.Height, maxPixels))
	}

	img, err = imaging.Decode(bytes.NewReader(input), imaging.AutoOrientation(true))
	if err != nil {
		return nil, decodeError(err)
	}
	return img, nil
}

// Resize scales img to exactly target, ignoring the source aspect ratio.
func Resize(img image.Image, target domain.Dimensions, filter Filter) image.Image {
	return imaging.Resize(img, int(target.Width), int(target.Height), resampleFilter(filter))
}

func Encode(img image.Image, format domain.Format, jpegQuality int) (domain.EncodedOutput, error) {
	f, ok := imagingFormat(format.Codec)
	if !ok {
		return domain.EncodedOutput{}, encodeError(format.Codec, errors.New("codec not available in this build"))
	}
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = DefaultJPEGQuality
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, f, imaging.JPEGQuality(jpegQuality)); err != nil {
		return domain.EncodedOutput{}, encodeError(format.Codec, err)
	}
	if buf.Len() == 0 {
		return domain.EncodedOutput{}, encodeError(format.Codec, errors.New("encoder produced no data"))
	}

	bounds := img.Bounds()
	return domain.EncodedOutput{
		Bytes:       buf.Bytes(),
		ContentType: format.MimeType,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
	}, nil
}

func imagingFormat(codec domain.Codec) (imaging.Format, bool) {
	switch codec {
	case domain.CodecPNG:
		return imaging.PNG, true
	case domain.CodecJPEG:
		return imaging.JPEG, true
	case domain.CodecGIF:
		return imaging.GIF, true
	case domain.CodecBMP:
		return imaging.BMP, true
	case domain.CodecTIFF:
		return imaging.TIFF, true
	default:
		return 0, false
	}
}

func resampleFilter(f Filter) imaging.ResampleFilter {
	switch f {
	case FilterNearest:
		return imaging.NearestNeighbor
	case FilterLinear:
		return imaging.Linear
	case FilterCatmullRom:
		return imaging.CatmullRom
	case FilterGaussian:
		return imaging.Gaussian
	default:
		return imaging.Lanczos
	}
}
