// Package problem maps pipeline failures to application/problem+json responses.
package problem

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dunamismax/pixelserve/internal/domain"
	"github.com/dunamismax/pixelserve/internal/negotiate"
	"github.com/dunamismax/pixelserve/internal/params"
	"github.com/dunamismax/pixelserve/internal/pipeline"
	"github.com/dunamismax/pixelserve/internal/storage"
)

const ContentType = "application/problem+json"

// ErrRateLimited is reported by the HTTP layer, not the pipeline.
var ErrRateLimited = errors.New("rate limit exceeded")

type Details struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	// Error carries the underlying error text for diagnostics. It is left
	// empty where the text could leak infrastructure details.
	Error string `json:"error,omitempty"`
}

// Map converts any error into problem details. Unknown errors map to 500.
func Map(err error, supported []domain.Format) Details {
	var (
		paramErr  *params.Error
		objectErr *storage.ObjectError
	)

	switch {
	case err == nil:
		return Details{Status: http.StatusInternalServerError, Title: "Internal server error"}

	case errors.Is(err, negotiate.ErrMalformed):
		return Details{
			Status: http.StatusBadRequest,
			Title:  "Malformed Accept header",
			Detail: "The Accept header could not be parsed as a list of media ranges.",
			Error:  err.Error(),
		}

	case errors.Is(err, negotiate.ErrNoAcceptableFormat):
		return Details{
			Status: http.StatusUnsupportedMediaType,
			Title:  "No acceptable image format",
			Detail: "Supported formats: " + mimeList(supported) + ".",
		}

	case errors.As(err, &paramErr) && errors.Is(err, params.ErrMissing):
		return Details{
			Status: http.StatusBadRequest,
			Title:  "Missing parameter",
			Detail: fmt.Sprintf("Query parameter %q is required.", paramErr.Name),
		}

	case errors.As(err, &paramErr):
		return Details{
			Status: http.StatusBadRequest,
			Title:  "Invalid parameter",
			Detail: fmt.Sprintf("Query parameter %q must be a positive integer within the allowed range.", paramErr.Name),
			Error:  paramErr.Error(),
		}

	case errors.Is(err, storage.ErrNotFound):
		key := ""
		if errors.As(err, &objectErr) {
			key = objectErr.Key
		}
		return Details{
			Status: http.StatusNotFound,
			Title:  "Image not found",
			Detail: fmt.Sprintf("No image exists at %q.", key),
		}

	case errors.Is(err, storage.ErrTransient):
		return Details{
			Status: http.StatusInternalServerError,
			Title:  "Image storage unavailable",
			Detail: "The image could not be retrieved. Try again later.",
		}

	case errors.Is(err, pipeline.ErrDecode):
		return Details{
			Status: http.StatusInternalServerError,
			Title:  "Could not decode image",
			Detail: "The stored object is not a supported or valid image.",
			Error:  err.Error(),
		}

	case errors.Is(err, pipeline.ErrEncode):
		return Details{
			Status: http.StatusInternalServerError,
			Title:  "Could not encode image",
			Error:  err.Error(),
		}

	case errors.Is(err, pipeline.ErrResponseBuild):
		return Details{
			Status: http.StatusInternalServerError,
			Title:  "Could not build response",
			Error:  err.Error(),
		}

	case errors.Is(err, ErrRateLimited):
		return Details{
			Status: http.StatusTooManyRequests,
			Title:  "Rate limit exceeded",
		}

	default:
		return Details{Status: http.StatusInternalServerError, Title: "Internal server error"}
	}
}

func Write(w http.ResponseWriter, d Details) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal problem details: %w", err)
	}

	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(d.Status)
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write problem details: %w", err)
	}
	return nil
}

func mimeList(formats []domain.Format) string {
	names := make([]string, 0, len(formats))
	for _, f := range formats {
		names = append(names, f.MimeType)
	}
	return strings.Join(names, ", ")
}
