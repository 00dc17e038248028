// Package jwt issues and verifies HS256 tokens on top of golang-jwt/jwt/v5.
//
// Signing keys are derived from a configured secret with HKDF, one key per
// purpose:
//
//	key, err := jwt.DeriveKey(cfg.TokenSecret, "device-session")
//	signer, err := jwt.NewSigner(key, jwt.WithIssuer("workspacekit"))
//	token, err := signer.Sign(claims)
//
// Middleware verifies bearer tokens and exposes the typed claims through
// ClaimsFromContext.
package jwt
