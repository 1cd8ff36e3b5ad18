package encryption

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"kisync/internal/config"
)

func keyPairEncryptor(t *testing.T) *AgeEncryptor {
	t.Helper()
	dir := t.TempDir()
	return NewAgeEncryptor(config.EncryptionConfig{
		PublicKeyPath:  filepath.Join(dir, "keys", "content.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "content.key"),
	})
}

func TestAgeEncryptor_Setup(t *testing.T) {
	t.Parallel()
	e := keyPairEncryptor(t)

	if e.IsConfigured() {
		t.Fatal("IsConfigured() = true before Setup")
	}
	if err := e.Setup("open sesame"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !e.IsConfigured() {
		t.Error("IsConfigured() = false after Setup")
	}

	pub, err := os.ReadFile(e.recipientPath)
	if err != nil {
		t.Fatalf("reading recipient key: %v", err)
	}
	if !bytes.HasPrefix(pub, []byte("age1")) {
		t.Errorf("recipient key = %q, want age1... plaintext", pub)
	}

	priv, err := os.ReadFile(e.identityPath)
	if err != nil {
		t.Fatalf("reading identity key: %v", err)
	}
	if bytes.Contains(priv, []byte("AGE-SECRET-KEY")) {
		t.Error("identity key stored in plaintext")
	}
}

func TestAgeEncryptor_RoundTrip(t *testing.T) {
	t.Parallel()
	e := keyPairEncryptor(t)
	if err := e.Setup("open sesame"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	plaintext := []byte("# Runbook\n\nRestart the indexer before every deploy.\n")
	var ciphertext bytes.Buffer
	if err := e.Encrypt(bytes.NewReader(plaintext), &ciphertext); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if bytes.Contains(ciphertext.Bytes(), []byte("Runbook")) {
		t.Error("ciphertext contains plaintext")
	}

	dc, err := e.Unlock("open sesame")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	var got bytes.Buffer
	if err := dc.Decrypt(&ciphertext, &got); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(got.Bytes(), plaintext) {
		t.Errorf("Decrypt() = %q, want %q", got.Bytes(), plaintext)
	}
}

func TestAgeEncryptor_UnlockWrongPassphrase(t *testing.T) {
	t.Parallel()
	e := keyPairEncryptor(t)
	if err := e.Setup("correct"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if _, err := e.Unlock("incorrect"); err == nil {
		t.Error("Unlock() with wrong passphrase succeeded")
	}
}

func TestAgeEncryptor_WithoutKeys(t *testing.T) {
	t.Parallel()
	e := keyPairEncryptor(t)

	if _, err := e.Unlock("anything"); err == nil {
		t.Error("Unlock() without Setup succeeded")
	}
	var out bytes.Buffer
	if err := e.Encrypt(bytes.NewReader([]byte("x")), &out); err == nil {
		t.Error("Encrypt() without Setup succeeded")
	}
}

func TestAgeEncryptor_IsConfiguredPartialKeys(t *testing.T) {
	t.Parallel()
	e := keyPairEncryptor(t)
	if err := e.Setup("open sesame"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := os.Remove(e.identityPath); err != nil {
		t.Fatalf("removing identity key: %v", err)
	}
	if e.IsConfigured() {
		t.Error("IsConfigured() = true with identity key missing")
	}
}
