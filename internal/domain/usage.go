package domain

import "time"

type UsageLog struct {
	RequestID     string
	ObjectKey     string
	Format        Codec
	Width         int
	Height        int
	InputBytes    int64
	OutputBytes   int64
	ComputeTimeMS int64
	CreatedAt     time.Time
}
