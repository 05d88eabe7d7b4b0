package negotiate

import (
	"fmt"
	"strings"

	"github.com/dunamismax/pixelserve/internal/domain"
)

const AnyMediaRange = "*/*"

const (
	matchNone = iota
	matchAny
	matchType
	matchExact
)

// Negotiate picks the supported format with the highest quality in accept.
// Each format is scored by its most specific matching range, so
// "image/png;q=0, */*" rules png out. Ties go to the earlier supported entry.
// An empty header accepts anything.
func Negotiate(accept string, supported []domain.Format) (domain.Format, error) {
	if strings.TrimSpace(accept) == "" {
		accept = AnyMediaRange
	}

	ranges, err := ParseAccept(accept)
	if err != nil {
		return domain.Format{}, err
	}
	if len(ranges) == 0 {
		ranges = []MediaRange{{Type: "*", Subtype: "*", Quality: 1}}
	}

	var (
		best      domain.Format
		bestScore float64
	)
	for _, format := range supported {
		score := formatScore(format, ranges)
		if score > bestScore {
			best = format
			bestScore = score
		}
	}

	if bestScore == 0 {
		return domain.Format{}, fmt.Errorf("%w: accept=%q", ErrNoAcceptableFormat, accept)
	}
	return best, nil
}

func formatScore(format domain.Format, ranges []MediaRange) float64 {
	typ, subtype, _ := strings.Cut(strings.ToLower(format.MimeType), "/")

	specificity := matchNone
	quality := 0.0
	for _, r := range ranges {
		m := match(r, typ, subtype)
		if m == matchNone {
			continue
		}
		if m > specificity || (m == specificity && r.Quality > quality) {
			specificity = m
			quality = r.Quality
		}
	}
	return quality
}

func match(r MediaRange, typ, subtype string) int {
	switch {
	case r.Type == "*" && r.Subtype == "*":
		return matchAny
	case r.Type != typ:
		return matchNone
	case r.Subtype == "*":
		return matchType
	case r.Subtype == subtype:
		return matchExact
	default:
		return matchNone
	}
}
