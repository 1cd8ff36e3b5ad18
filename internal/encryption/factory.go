package encryption

import (
	"fmt"

	"kisync/internal/config"
	"kisync/internal/kis"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration
// type. Returns (nil, nil) for type "none": blob content is then stored
// as plaintext and the object store is used unwrapped.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (kis.Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
