package auth

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	ErrMissingToken     = errors.New("missing bearer token")
	ErrMissingSemicolon = errors.New("missing semicolon in key token")
	ErrInvalidKeyID     = errors.New("invalid key id")
)

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, error) {
	if r == nil {
		return "", ErrMissingToken
	}
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" || !utf8.ValidString(token) {
		return "", ErrMissingToken
	}
	return token, nil
}

// SplitKeyToken splits a data-plane token of the form "{id};{secret}" on the
// first semicolon and validates the id.
func SplitKeyToken(token string) (id, secret string, err error) {
	id, secret, found := strings.Cut(token, ";")
	if !found {
		return "", "", ErrMissingSemicolon
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", "", ErrInvalidKeyID
	}
	return id, secret, nil
}
