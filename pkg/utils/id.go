package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateID returns a prefixed unique identifier.
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}

// GenerateUserID generates an identifier for anonymous viewers.
func GenerateUserID() string {
	return GenerateID("user")
}
