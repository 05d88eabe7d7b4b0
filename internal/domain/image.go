package domain

import (
	"errors"
	"fmt"
	"strings"
)

type Codec string

const (
	CodecPNG  Codec = "png"
	CodecJPEG Codec = "jpeg"
	CodecGIF  Codec = "gif"
	CodecBMP  Codec = "bmp"
	CodecTIFF Codec = "tiff"
	CodecWebP Codec = "webp"
)

// Format is one entry of the server's ordered output set. Earlier entries win
// negotiation ties.
type Format struct {
	MimeType string
	Codec    Codec
}

var (
	FormatPNG  = Format{MimeType: "image/png", Codec: CodecPNG}
	FormatJPEG = Format{MimeType: "image/jpeg", Codec: CodecJPEG}
	FormatGIF  = Format{MimeType: "image/gif", Codec: CodecGIF}
	FormatBMP  = Format{MimeType: "image/bmp", Codec: CodecBMP}
	FormatTIFF = Format{MimeType: "image/tiff", Codec: CodecTIFF}
	FormatWebP = Format{MimeType: "image/webp", Codec: CodecWebP}
)

var ErrUnknownFormat = errors.New("unknown output format")

// ParseFormats turns a list like ["png", "jpg", "image/webp"] into an ordered,
// de-duplicated format set.
func ParseFormats(names []string) ([]Format, error) {
	out := make([]Format, 0, len(names))
	seen := make(map[Codec]bool, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		f, ok := lookupFormat(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, name)
		}
		if seen[f.Codec] {
			continue
		}
		seen[f.Codec] = true
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, errors.New("at least one output format is required")
	}
	return out, nil
}

func lookupFormat(name string) (Format, bool) {
	name = strings.TrimPrefix(name, "image/")
	switch name {
	case "png":
		return FormatPNG, true
	case "jpeg", "jpg":
		return FormatJPEG, true
	case "gif":
		return FormatGIF, true
	case "bmp":
		return FormatBMP, true
	case "tiff", "tif":
		return FormatTIFF, true
	case "webp":
		return FormatWebP, true
	default:
		return Format{}, false
	}
}

type Dimensions struct {
	Width  uint32
	Height uint32
}

func (d Dimensions) Valid() bool {
	return d.Width > 0 && d.Height > 0
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

type EncodedOutput struct {
	Bytes       []byte
	ContentType string
	Width       int
	Height      int
}
