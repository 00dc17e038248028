package jwt

import "errors"

var (
	ErrInvalidToken       = errors.New("jwt: invalid token")
	ErrExpiredToken       = errors.New("jwt: token is expired")
	ErrMissingSigningKey  = errors.New("jwt: missing signing key")
	ErrKeyDerivation      = errors.New("jwt: key derivation failed")
	ErrMissingClaims      = errors.New("jwt: missing claims")
	ErrMissingBearerToken = errors.New("jwt: missing bearer token")
)
