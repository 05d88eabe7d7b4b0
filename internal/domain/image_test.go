package domain

import (
	"errors"
	"testing"
)

func TestParseFormats(t *testing.T) {
	formats, err := ParseFormats([]string{"png", " JPG ", "image/webp", "png", ""})
	if err != nil {
		t.Fatalf("expected valid format list, got error: %v", err)
	}
	if len(formats) != 3 {
		t.Fatalf("expected 3 formats, got %d", len(formats))
	}
	if formats[0] != FormatPNG || formats[1] != FormatJPEG || formats[2] != FormatWebP {
		t.Fatalf("unexpected order: %+v", formats)
	}

	if _, err := ParseFormats([]string{"png", "heic"}); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}

	if _, err := ParseFormats(nil); err == nil {
		t.Fatal("expected error for empty format list")
	}
}

func TestDimensionsValid(t *testing.T) {
	if !(Dimensions{Width: 1, Height: 1}).Valid() {
		t.Fatal("expected 1x1 to be valid")
	}
	if (Dimensions{Width: 0, Height: 10}).Valid() {
		t.Fatal("expected zero width to be invalid")
	}
	if got := (Dimensions{Width: 50, Height: 75}).String(); got != "50x75" {
		t.Fatalf("expected 50x75, got %s", got)
	}
}
