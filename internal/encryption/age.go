package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"

	"kisync/internal/config"
	"kisync/internal/kis"
)

// AgeEncryptor provides at-rest encryption of blob content with age X25519
// keys. The recipient (public) key sits on disk in plaintext so content can
// be encrypted without a passphrase; the identity (private) key is sealed
// with a passphrase through age's scrypt recipient and only leaves disk
// during Unlock.
type AgeEncryptor struct {
	recipientPath string
	identityPath  string
}

var _ kis.Encryptor = (*AgeEncryptor)(nil)

func NewAgeEncryptor(cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{
		recipientPath: cfg.PublicKeyPath,
		identityPath:  cfg.PrivateKeyPath,
	}
}

// Setup generates a fresh X25519 key pair and persists both halves. A second
// call overwrites the pair, so callers should gate it on IsConfigured.
func (e *AgeEncryptor) Setup(passphrase string) error {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating identity: %w", err)
	}

	sealed, err := sealIdentity(identity, passphrase)
	if err != nil {
		return err
	}

	if err := writeKeyFile(e.recipientPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing recipient key: %w", err)
	}
	if err := writeKeyFile(e.identityPath, sealed, 0600); err != nil {
		return fmt.Errorf("writing identity key: %w", err)
	}
	return nil
}

// Encrypt streams plaintext from r into w as an age ciphertext addressed to
// the stored recipient key.
func (e *AgeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	recipient, err := e.readRecipient()
	if err != nil {
		return err
	}

	cw, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("starting ciphertext: %w", err)
	}
	if _, err := io.Copy(cw, r); err != nil {
		return fmt.Errorf("encrypting content: %w", err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("sealing ciphertext: %w", err)
	}
	return nil
}

// Unlock opens the passphrase-sealed identity key and returns a context able
// to decrypt content until the process exits. The identity is held in memory
// only.
func (e *AgeEncryptor) Unlock(passphrase string) (kis.DecryptionContext, error) {
	sealed, err := os.ReadFile(e.identityPath)
	if err != nil {
		return nil, fmt.Errorf("reading identity key: %w", err)
	}

	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("deriving passphrase identity: %w", err)
	}

	opened, err := age.Decrypt(bytes.NewReader(sealed), scrypt)
	if err != nil {
		return nil, fmt.Errorf("unsealing identity key: %w", err)
	}
	raw, err := io.ReadAll(opened)
	if err != nil {
		return nil, fmt.Errorf("reading unsealed identity: %w", err)
	}

	identities, err := age.ParseIdentities(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing identity key: %w", err)
	}
	if len(identities) == 0 {
		return nil, errors.New("identity key file holds no identities")
	}
	return &ageUnlocked{identity: identities[0]}, nil
}

// IsConfigured reports whether a key pair has been generated.
func (e *AgeEncryptor) IsConfigured() bool {
	for _, p := range []string{e.recipientPath, e.identityPath} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func (e *AgeEncryptor) readRecipient() (age.Recipient, error) {
	data, err := os.ReadFile(e.recipientPath)
	if err != nil {
		return nil, fmt.Errorf("reading recipient key: %w", err)
	}
	recipients, err := age.ParseRecipients(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing recipient key: %w", err)
	}
	if len(recipients) == 0 {
		return nil, errors.New("recipient key file holds no recipients")
	}
	return recipients[0], nil
}

// sealIdentity encrypts the identity string with the passphrase and returns
// the resulting age ciphertext.
func sealIdentity(identity *age.X25519Identity, passphrase string) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("deriving passphrase recipient: %w", err)
	}

	var buf bytes.Buffer
	cw, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("sealing identity: %w", err)
	}
	if _, err := io.WriteString(cw, identity.String()+"\n"); err != nil {
		return nil, fmt.Errorf("sealing identity: %w", err)
	}
	if err := cw.Close(); err != nil {
		return nil, fmt.Errorf("sealing identity: %w", err)
	}
	return buf.Bytes(), nil
}

func writeKeyFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, perm)
}

// ageUnlocked is the DecryptionContext returned by AgeEncryptor.Unlock.
type ageUnlocked struct {
	identity age.Identity
}

func (c *ageUnlocked) Decrypt(r io.Reader, w io.Writer) error {
	pr, err := age.Decrypt(r, c.identity)
	if err != nil {
		return fmt.Errorf("opening ciphertext: %w", err)
	}
	if _, err := io.Copy(w, pr); err != nil {
		return fmt.Errorf("decrypting content: %w", err)
	}
	return nil
}
