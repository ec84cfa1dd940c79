package utils

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NewCorrelationID returns a random identifier for matching an outgoing
// message to its echo.
func NewCorrelationID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		// Fallback to timestamp if the random source is unavailable.
		return "ts-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return id.String()
}

// IDFunc generates identifiers; tests substitute a deterministic sequence.
type IDFunc func() string

// Sequence returns an IDFunc yielding prefix-1, prefix-2, ...
func Sequence(prefix string) IDFunc {
	var n int
	return func() string {
		n++
		return prefix + "-" + strconv.Itoa(n)
	}
}
