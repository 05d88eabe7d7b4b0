package id

import (
	"strings"

	"github.com/google/uuid"
)

const maxRequestIDLength = 128

func New() string {
	return uuid.NewString()
}

// FromHeader returns a caller-supplied request id if it is short and
// printable, otherwise a new one.
func FromHeader(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || len(value) > maxRequestIDLength {
		return New()
	}
	for i := 0; i < len(value); i++ {
		if value[i] < 0x21 || value[i] > 0x7e {
			return New()
		}
	}
	return value
}
