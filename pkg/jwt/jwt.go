package jwt

import (
	"errors"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Signer issues and verifies HS256 tokens.
type Signer struct {
	key    []byte
	issuer string
	now    func() time.Time
}

type SignerOption func(*Signer)

// WithIssuer sets the iss claim written on Sign and required on Parse.
func WithIssuer(iss string) SignerOption {
	return func(s *Signer) { s.issuer = iss }
}

// WithClock replaces time.Now for temporal claim checks.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) { s.now = now }
}

func NewSigner(key []byte, opts ...SignerOption) (*Signer, error) {
	if len(key) == 0 {
		return nil, ErrMissingSigningKey
	}
	s := &Signer{key: key, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issuer returns the configured iss claim.
func (s *Signer) Issuer() string {
	return s.issuer
}

// Sign returns the compact serialization of claims.
func (s *Signer) Sign(claims gojwt.Claims) (string, error) {
	if claims == nil {
		return "", ErrMissingClaims
	}
	return gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Parse verifies token and decodes it into claims, including expiry checks.
func (s *Signer) Parse(token string, claims gojwt.Claims) error {
	return s.parse(token, claims, gojwt.WithExpirationRequired())
}

// ParseExpired verifies the signature of token but accepts it after expiry.
// Callers use it to decide whether an expired token may still be refreshed.
func (s *Signer) ParseExpired(token string, claims gojwt.Claims) error {
	return s.parse(token, claims, gojwt.WithoutClaimsValidation())
}

func (s *Signer) parse(token string, claims gojwt.Claims, extra ...gojwt.ParserOption) error {
	if claims == nil {
		return ErrMissingClaims
	}
	opts := append([]gojwt.ParserOption{
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithTimeFunc(s.now),
	}, extra...)
	if s.issuer != "" {
		opts = append(opts, gojwt.WithIssuer(s.issuer))
	}

	_, err := gojwt.ParseWithClaims(token, claims, func(*gojwt.Token) (any, error) {
		return s.key, nil
	}, opts...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gojwt.ErrTokenExpired):
		return errors.Join(ErrExpiredToken, err)
	default:
		return errors.Join(ErrInvalidToken, err)
	}
}
