package credentials

import (
	"fmt"

	"github.com/fernet/fernet-go"
)

// Cipher encrypts credential values at rest using Fernet (AES-128-CBC with
// HMAC-SHA256 signing). The token format is compatible with keys managed by
// other Fernet implementations, so an existing deployment's ENCRYPTION_KEY
// keeps working.
type Cipher struct {
	key *fernet.Key
}

// NewCipher constructs a Cipher from a base64-encoded Fernet key.
func NewCipher(encodedKey string) (*Cipher, error) {
	key, err := fernet.DecodeKey(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	return &Cipher{key: key}, nil
}

// GenerateKey produces a fresh base64-encoded Fernet key, for provisioning.
func GenerateKey() (string, error) {
	var key fernet.Key
	if err := key.Generate(); err != nil {
		return "", fmt.Errorf("generate encryption key: %w", err)
	}
	return key.Encode(), nil
}

// Encrypt seals a plaintext value into a Fernet token.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	tok, err := fernet.EncryptAndSign([]byte(plaintext), c.key)
	if err != nil {
		return "", fmt.Errorf("encrypt value: %w", err)
	}
	return string(tok), nil
}

// Decrypt opens a Fernet token. Tokens do not expire; rotation is handled by
// re-encrypting under a new key, not by TTL.
func (c *Cipher) Decrypt(token string) (string, error) {
	b := fernet.VerifyAndDecrypt([]byte(token), 0, []*fernet.Key{c.key})
	if b == nil {
		return "", fmt.Errorf("decrypt value: invalid token or wrong key")
	}
	return string(b), nil
}
