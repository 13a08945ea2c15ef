package common

import (
	"github.com/google/uuid"
)

// NewClientID generates a unique client-side correlation ID with the
// "client_" prefix. Used to scope logs for a submission before the
// backend has assigned a run ID.
// Format: client_<uuid>
func NewClientID() string {
	return "client_" + uuid.New().String()
}
