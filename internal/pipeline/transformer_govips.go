//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"

	"github.com/dunamismax/pixelserve/internal/domain"
)

type govipsTransformer struct {
	opts Options
}

func (t govipsTransformer) Transform(ctx context.Context, input []byte, target domain.Dimensions, format domain.Format) (domain.EncodedOutput, error) {
	select {
	case <-ctx.Done():
		return domain.EncodedOutput{}, ctx.Err()
	default:
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return domain.EncodedOutput{}, decodeError(err)
	}
	defer img.Close()

	if img.Width() <= 0 || img.Height() <= 0 {
		return domain.EncodedOutput{}, decodeError(fmt.Errorf("invalid source dimensions %dx%d", img.Width(), img.Height()))
	}
	if img.Width()*img.Height() > t.opts.MaxSourcePixels {
		return domain.EncodedOutput{}, decodeError(fmt.Errorf("source %dx%d exceeds %d pixels", img.Width(), img.Height(), t.opts.MaxSourcePixels))
	}
	if err := img.AutoRotate(); err != nil {
		return domain.EncodedOutput{}, decodeError(err)
	}

	if err := applyGovipsResize(img, target, t.opts.Filter); err != nil {
		return domain.EncodedOutput{}, err
	}

	data, err := exportGovipsImage(img, format.Codec, t.opts.JPEGQuality)
	if err != nil {
		return domain.EncodedOutput{}, err
	}
	if len(data) == 0 {
		return domain.EncodedOutput{}, encodeError(format.Codec, fmt.Errorf("encoder produced no data"))
	}

	return domain.EncodedOutput{
		Bytes:       data,
		ContentType: format.MimeType,
		Width:       img.Width(),
		Height:      img.Height(),
	}, nil
}

func (govipsTransformer) CanEncode(codec domain.Codec) bool {
	switch codec {
	case domain.CodecPNG, domain.CodecJPEG, domain.CodecGIF, domain.CodecTIFF, domain.CodecWebP:
		return true
	default:
		return false
	}
}

func applyGovipsResize(img *vips.ImageRef, target domain.Dimensions, filter Filter) error {
	if int(target.Width) == img.Width() && int(target.Height) == img.Height() {
		return nil
	}

	hscale := float64(target.Width) / float64(img.Width())
	vscale := float64(target.Height) / float64(img.Height())
	if err := img.ResizeWithVScale(hscale, vscale, vipsKernel(filter)); err != nil {
		return fmt.Errorf("resize image: %w", err)
	}
	if img.Width() != int(target.Width) || img.Height() != int(target.Height) {
		return fmt.Errorf("resize produced %dx%d, want %s", img.Width(), img.Height(), target)
	}
	return nil
}

// libvips has no gaussian kernel; mitchell is the closest smoothing cubic.
func vipsKernel(f Filter) vips.Kernel {
	switch f {
	case FilterNearest:
		return vips.KernelNearest
	case FilterLinear:
		return vips.KernelLinear
	case FilterCatmullRom:
		return vips.KernelCubic
	case FilterGaussian:
		return vips.KernelMitchell
	default:
		return vips.KernelLanczos3
	}
}

func exportGovipsImage(img *vips.ImageRef, codec domain.Codec, quality int) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch codec {
	case domain.CodecJPEG:
		params := vips.NewJpegExportParams()
		params.Quality = quality
		data, _, err = img.ExportJpeg(params)
	case domain.CodecPNG:
		data, _, err = img.ExportPng(vips.NewPngExportParams())
	case domain.CodecWebP:
		params := vips.NewWebpExportParams()
		params.Quality = quality
		data, _, err = img.ExportWebp(params)
	case domain.CodecGIF:
		data, _, err = img.ExportGIF(vips.NewGifExportParams())
	case domain.CodecTIFF:
		data, _, err = img.ExportTiff(vips.NewTiffExportParams())
	default:
		err = fmt.Errorf("codec not available in this build")
	}
	if err != nil {
		return nil, encodeError(codec, err)
	}
	return data, nil
}
