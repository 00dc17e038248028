package tenant

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// MaxIdentifierLength bounds workspace identifiers accepted from clients.
const MaxIdentifierLength = 64

var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// Resolver extracts a workspace identifier candidate from a request.
// It returns an empty string when the request carries none.
type Resolver func(r *http.Request) (string, error)

// ValidateIdentifier reports whether id is a well-formed workspace identifier.
func ValidateIdentifier(id string) error {
	if len(id) > MaxIdentifierLength || !identifierPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidTenantIdentifier, id)
	}
	return nil
}

// NewHeaderResolver reads the workspace identifier from the named header.
func NewHeaderResolver(header string) Resolver {
	if header == "" {
		header = DefaultHeader
	}
	return func(r *http.Request) (string, error) {
		value := strings.TrimSpace(r.Header.Get(header))
		if value == "" {
			return "", nil
		}
		if err := ValidateIdentifier(value); err != nil {
			return "", err
		}
		return value, nil
	}
}
