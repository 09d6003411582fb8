package models

import (
	"strconv"

	"github.com/google/uuid"
)

// NewUUID generates a new UUID string
func NewUUID() string {
	return uuid.New().String()
}

// ShortUUID returns the first eight characters of a new UUID.
func ShortUUID() string {
	return NewUUID()[:8]
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
