package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dunamismax/pixelserve/internal/domain"
)

var (
	ErrDecode        = errors.New("decode source image")
	ErrEncode        = errors.New("encode image")
	ErrResponseBuild = errors.New("build image response")
)

// Transformer decodes input, resizes it to exactly target and encodes it as
// format. Implementations are safe for concurrent use.
type Transformer interface {
	Transform(ctx context.Context, input []byte, target domain.Dimensions, format domain.Format) (domain.EncodedOutput, error)
	CanEncode(codec domain.Codec) bool
}

// Filter names the resampling kernel used for resizing.
type Filter string

const (
	FilterLanczos    Filter = "lanczos"
	FilterCatmullRom Filter = "catmullrom"
	FilterLinear     Filter = "linear"
	FilterGaussian   Filter = "gaussian"
	// FilterNearest is the low quality mode; it is never chosen implicitly.
	FilterNearest Filter = "nearest"
)

const (
	DefaultJPEGQuality     = 85
	DefaultMaxSourcePixels = 64 * 1024 * 1024
)

type Options struct {
	Filter          Filter
	JPEGQuality     int
	MaxSourcePixels int
}

func ParseFilter(raw string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FilterLanczos, nil
	case FilterLanczos, FilterCatmullRom, FilterLinear, FilterGaussian, FilterNearest:
		return f, nil
	case "bilinear":
		return FilterLinear, nil
	default:
		return "", fmt.Errorf("unknown resize filter: %s", raw)
	}
}

func (o Options) withDefaults() Options {
	if o.Filter == "" {
		o.Filter = FilterLanczos
	}
	if o.JPEGQuality <= 0 || o.JPEGQuality > 100 {
		o.JPEGQuality = DefaultJPEGQuality
	}
	if o.MaxSourcePixels <= 0 {
		o.MaxSourcePixels = DefaultMaxSourcePixels
	}
	return o
}

func decodeError(err error) error {
	return fmt.Errorf("%w: %w", ErrDecode, err)
}

func encodeError(codec domain.Codec, err error) error {
	return fmt.Errorf("%w as %s: %w", ErrEncode, codec, err)
}
