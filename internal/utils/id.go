package utils

import "github.com/google/uuid"

// GenerateID returns a new random identifier for folders and requests.
func GenerateID() string {
	return uuid.New().String()
}
