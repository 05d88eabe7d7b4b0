// Package negotiate selects an output image format from an Accept header.
package negotiate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMalformed          = errors.New("malformed accept header")
	ErrNoAcceptableFormat = errors.New("no acceptable format")
)

// MediaRange is one element of an Accept header, e.g. "image/*;q=0.8".
type MediaRange struct {
	Type    string
	Subtype string
	Quality float64
	Params  [][2]string
}

func (m MediaRange) String() string {
	var b strings.Builder
	b.WriteString(m.Type)
	b.WriteByte('/')
	b.WriteString(m.Subtype)
	for _, p := range m.Params {
		b.WriteString(";")
		b.WriteString(p[0])
		b.WriteByte('=')
		b.WriteString(p[1])
	}
	if m.Quality != 1 {
		b.WriteString(";q=")
		b.WriteString(strconv.FormatFloat(m.Quality, 'f', -1, 64))
	}
	return b.String()
}

// ParseAccept parses a weighted media-range list. Ranges are returned in
// header order. Empty list elements are skipped.
func ParseAccept(header string) ([]MediaRange, error) {
	elements, err := splitQuoted(header, ',')
	if err != nil {
		return nil, err
	}

	ranges := make([]MediaRange, 0, len(elements))
	for _, element := range elements {
		element = strings.TrimSpace(element)
		if element == "" {
			continue
		}
		mr, err := parseMediaRange(element)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, mr)
	}
	return ranges, nil
}

func parseMediaRange(element string) (MediaRange, error) {
	parts, err := splitQuoted(element, ';')
	if err != nil {
		return MediaRange{}, err
	}

	typ, subtype, ok := strings.Cut(strings.TrimSpace(parts[0]), "/")
	typ = strings.ToLower(strings.TrimSpace(typ))
	subtype = strings.ToLower(strings.TrimSpace(subtype))
	if !ok || !isToken(typ) || !isToken(subtype) {
		return MediaRange{}, fmt.Errorf("%w: invalid media range %q", ErrMalformed, element)
	}
	if typ == "*" && subtype != "*" {
		return MediaRange{}, fmt.Errorf("%w: invalid wildcard %q", ErrMalformed, element)
	}

	mr := MediaRange{Type: typ, Subtype: subtype, Quality: 1}
	for _, raw := range parts[1:] {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		name, value, ok := strings.Cut(raw, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if !ok || !isToken(name) {
			return MediaRange{}, fmt.Errorf("%w: invalid parameter %q", ErrMalformed, raw)
		}
		value, err := parseParamValue(value)
		if err != nil {
			return MediaRange{}, fmt.Errorf("%w: parameter %q: %v", ErrMalformed, name, err)
		}
		if name == "q" {
			q, err := parseQuality(value)
			if err != nil {
				return MediaRange{}, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			mr.Quality = q
			continue
		}
		mr.Params = append(mr.Params, [2]string{name, value})
	}
	return mr, nil
}

// parseQuality accepts the qvalue grammar: 0, 0.xxx, 1, 1.000.
func parseQuality(v string) (float64, error) {
	if v == "" || len(v) > 5 {
		return 0, fmt.Errorf("invalid quality %q", v)
	}
	whole, frac, hasDot := strings.Cut(v, ".")
	if whole != "0" && whole != "1" {
		return 0, fmt.Errorf("invalid quality %q", v)
	}
	if hasDot {
		for _, r := range frac {
			if r < '0' || r > '9' || (whole == "1" && r != '0') {
				return 0, fmt.Errorf("invalid quality %q", v)
			}
		}
	}
	q, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid quality %q", v)
	}
	return q, nil
}

func parseParamValue(v string) (string, error) {
	if strings.HasPrefix(v, `"`) {
		if len(v) < 2 || !strings.HasSuffix(v, `"`) {
			return "", errors.New("unterminated quoted string")
		}
		unquoted, err := strconv.Unquote(v)
		if err != nil {
			return "", errors.New("invalid quoted string")
		}
		return unquoted, nil
	}
	if !isToken(v) {
		return "", fmt.Errorf("invalid value %q", v)
	}
	return v, nil
}

// splitQuoted splits s on sep, ignoring separators inside double quotes.
func splitQuoted(s string, sep byte) ([]string, error) {
	var (
		out     []string
		start   int
		inQuote bool
		escaped bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inQuote && c == '\\':
			escaped = true
		case c == '"':
			inQuote = !inQuote
		case c == sep && !inQuote:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if inQuote {
		return nil, fmt.Errorf("%w: unterminated quoted string", ErrMalformed)
	}
	return append(out, s[start:]), nil
}

func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0:
		default:
			return false
		}
	}
	return true
}
