package store

import (
	"context"

	"github.com/dunamismax/pixelserve/internal/domain"
)

// UsageStore records one entry per successfully served transform.
type UsageStore interface {
	CreateUsageLog(ctx context.Context, log domain.UsageLog) error
}
