package jwt

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of derived signing keys.
const KeySize = 32

// DeriveKey stretches secret into a KeySize signing key bound to purpose.
// Different purposes yield unrelated keys, so one configured secret can back
// several token types without a token of one kind verifying as another.
func DeriveKey(secret, purpose string) ([]byte, error) {
	if secret == "" {
		return nil, ErrMissingSigningKey
	}
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("workspacekit/"+purpose))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, errors.Join(ErrKeyDerivation, err)
	}
	return key, nil
}
