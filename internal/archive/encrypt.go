package archive

import (
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// AgeSuffix is appended to the name of encrypted exports.
const AgeSuffix = ".age"

// PassphraseRecipient returns an age recipient that encrypts to passphrase.
// It cannot be combined with other recipients.
func PassphraseRecipient(passphrase string) (*age.ScryptRecipient, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase must not be empty")
	}
	r, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating passphrase recipient: %w", err)
	}
	return r, nil
}

// ParseRecipient parses an age X25519 public key ("age1...").
func ParseRecipient(s string) (*age.X25519Recipient, error) {
	r, err := age.ParseX25519Recipient(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parsing age recipient: %w", err)
	}
	return r, nil
}

// Encrypt returns a writer that encrypts to recipients and writes to dst.
// The caller must Close it to flush the final chunk.
func Encrypt(dst io.Writer, recipients ...age.Recipient) (io.WriteCloser, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	w, err := age.Encrypt(dst, recipients...)
	if err != nil {
		return nil, fmt.Errorf("starting encryption: %w", err)
	}
	return w, nil
}
