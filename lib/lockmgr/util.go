package lockmgr

import (
	"crypto/rand"
)

const (
	ownerIDLength = 32 // 256 bit
)

// generateOwnerID creates a new random owner ID
func generateOwnerID() ([]byte, error) {
	id := make([]byte, ownerIDLength)
	_, err := rand.Read(id)
	return id, err
}
