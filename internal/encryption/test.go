package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"kisync/internal/kis"
)

// marker prefixes everything a TestEncryptor produces. It keeps test
// ciphertext distinguishable from plaintext without any real cryptography.
var marker = []byte("kisync-enc\n")

// TestEncryptor is a stand-in Encryptor for tests. Encrypt prepends a fixed
// marker and Decrypt strips it again, so stored bytes never equal the
// plaintext but round-trip exactly. It never touches the filesystem and
// accepts any passphrase.
type TestEncryptor struct{}

var _ kis.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(string) error { return nil }

func (e *TestEncryptor) IsConfigured() bool { return true }

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(marker); err != nil {
		return err
	}
	_, err := io.Copy(w, r)
	return err
}

func (e *TestEncryptor) Unlock(string) (kis.DecryptionContext, error) {
	return testUnlocked{}, nil
}

type testUnlocked struct{}

func (testUnlocked) Decrypt(r io.Reader, w io.Writer) error {
	prefix := make([]byte, len(marker))
	if _, err := io.ReadFull(r, prefix); err != nil {
		return fmt.Errorf("reading marker: %w", err)
	}
	if !bytes.Equal(prefix, marker) {
		return errors.New("content was not produced by TestEncryptor")
	}
	_, err := io.Copy(w, r)
	return err
}
