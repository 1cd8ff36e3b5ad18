package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"kisync/internal/kis"
)

// EncryptedStore wraps another ObjectStore and encrypts content at rest.
// Writes need only the public key, so unattended syncs can always store
// new content. Reads require the store to be unlocked first with the key
// passphrase; commands that upload to the index provider or print blob
// content unlock once per session.
type EncryptedStore struct {
	inner kis.ObjectStore
	enc   kis.Encryptor
	dctx  kis.DecryptionContext
}

// NewEncryptedStore wraps inner with at-rest encryption.
func NewEncryptedStore(inner kis.ObjectStore, enc kis.Encryptor) *EncryptedStore {
	return &EncryptedStore{inner: inner, enc: enc}
}

// Unlock decrypts the private key with the passphrase. Until Unlock
// succeeds, Get returns an error.
func (s *EncryptedStore) Unlock(passphrase string) error {
	dctx, err := s.enc.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking store: %w", err)
	}
	s.dctx = dctx
	return nil
}

// Unlocked reports whether Get can currently decrypt content.
func (s *EncryptedStore) Unlocked() bool { return s.dctx != nil }

// Put encrypts content and stores the ciphertext under key. The declared
// size is checked against the plaintext before encryption changes it.
func (s *EncryptedStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	var ciphertext bytes.Buffer
	counter := &countingReader{r: r}
	if err := s.enc.Encrypt(counter, &ciphertext); err != nil {
		return fmt.Errorf("encrypting object %s: %w", key, err)
	}
	if counter.n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, counter.n)
	}

	return s.inner.Put(ctx, key, &ciphertext, int64(ciphertext.Len()))
}

// Get retrieves the object under key, decrypts it and writes the
// plaintext to w.
func (s *EncryptedStore) Get(ctx context.Context, key string, w io.Writer) error {
	if s.dctx == nil {
		return fmt.Errorf("store is locked: unlock with passphrase first")
	}

	var ciphertext bytes.Buffer
	if err := s.inner.Get(ctx, key, &ciphertext); err != nil {
		return err
	}

	if err := s.dctx.Decrypt(&ciphertext, w); err != nil {
		return fmt.Errorf("decrypting object %s: %w", key, err)
	}
	return nil
}

// Delete removes the object under key.
func (s *EncryptedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

// ValidateSetup verifies the inner store and that encryption keys exist.
func (s *EncryptedStore) ValidateSetup(ctx context.Context) error {
	if !s.enc.IsConfigured() {
		return fmt.Errorf("encryption keys not configured")
	}
	return s.inner.ValidateSetup(ctx)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Compile-time check that EncryptedStore implements kis.ObjectStore
var _ kis.ObjectStore = (*EncryptedStore)(nil)
