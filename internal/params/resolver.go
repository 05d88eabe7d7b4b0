package params

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/dunamismax/pixelserve/internal/domain"
)

const (
	Width  = "width"
	Height = "height"
)

type Policy string

const (
	// PolicyRequired rejects requests without a valid width and height.
	PolicyRequired Policy = "required"
	// PolicyDefault falls back to Resolver.Default for both dimensions
	// unless both are valid.
	PolicyDefault Policy = "default"
)

const DefaultMaxDimension = 8192

var (
	ErrMissing = errors.New("missing parameter")
	ErrInvalid = errors.New("invalid parameter")
)

type Error struct {
	Name string
	Err  error
	// Value is the raw query value for ErrInvalid.
	Value string
}

func (e *Error) Error() string {
	if errors.Is(e.Err, ErrMissing) {
		return fmt.Sprintf("%s: %s", e.Err, e.Name)
	}
	return fmt.Sprintf("%s: %s=%q", e.Err, e.Name, e.Value)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Resolver struct {
	Policy       Policy
	Default      domain.Dimensions
	MaxDimension uint32
}

func ParsePolicy(raw string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PolicyRequired:
		return PolicyRequired, nil
	case PolicyDefault:
		return PolicyDefault, nil
	default:
		return "", fmt.Errorf("unknown dimension policy: %s", raw)
	}
}

func (r Resolver) Resolve(query url.Values) (domain.Dimensions, error) {
	width, widthErr := r.dimension(query, Width)
	height, heightErr := r.dimension(query, Height)

	if r.Policy == PolicyDefault {
		if widthErr != nil || heightErr != nil {
			return r.Default, nil
		}
		return domain.Dimensions{Width: width, Height: height}, nil
	}

	if widthErr != nil {
		return domain.Dimensions{}, widthErr
	}
	if heightErr != nil {
		return domain.Dimensions{}, heightErr
	}
	return domain.Dimensions{Width: width, Height: height}, nil
}

func (r Resolver) dimension(query url.Values, name string) (uint32, error) {
	if !query.Has(name) {
		return 0, &Error{Name: name, Err: ErrMissing}
	}

	raw := strings.TrimSpace(query.Get(name))
	if raw == "" {
		return 0, &Error{Name: name, Err: ErrMissing}
	}

	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || v == 0 {
		return 0, &Error{Name: name, Err: ErrInvalid, Value: raw}
	}

	limit := r.MaxDimension
	if limit == 0 {
		limit = DefaultMaxDimension
	}
	if v > uint64(limit) {
		return 0, &Error{Name: name, Err: ErrInvalid, Value: raw}
	}
	return uint32(v), nil
}
