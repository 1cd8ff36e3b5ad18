package testutil

import (
	"crypto/sha256"
	"encoding/hex"

	"kisync/internal/encryption"
	"kisync/internal/kis"
	"kisync/internal/objectstore"
)

// NewTestStore returns an empty in-memory object store.
func NewTestStore() *objectstore.MemoryStore {
	return objectstore.NewMemoryStore()
}

// NewTestEncryptor returns the marker-based encryptor stand-in.
func NewTestEncryptor() kis.Encryptor {
	return encryption.NewTestEncryptor()
}

// SHA256Hex computes the lowercase hex SHA-256 of data, the same checksum
// format blob records carry.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
