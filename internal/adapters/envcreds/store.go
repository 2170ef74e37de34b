// Package envcreds resolves per-user venue API credentials from the
// process environment. It is the development-grade credential store; a
// production deployment swaps in a secret-manager backed implementation
// of the same port.
package envcreds

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Mahd-Mehn/MM-zypherfunk/internal/ports"
)

// Store implements ports.CredentialStore using environment variables of
// the form CREDS_<VENUE>_<USER>_API_KEY and CREDS_<VENUE>_<USER>_API_SECRET.
type Store struct{}

// New creates an environment-backed credential store.
func New() *Store { return &Store{} }

// CredentialsFor resolves the credentials a user holds for a venue.
func (s *Store) CredentialsFor(ctx context.Context, venue, userID string) (*ports.Credentials, error) {
	prefix := fmt.Sprintf("CREDS_%s_%s", sanitize(venue), sanitize(userID))
	apiKey := os.Getenv(prefix + "_API_KEY")
	apiSecret := os.Getenv(prefix + "_API_SECRET")
	if apiKey == "" || apiSecret == "" {
		return nil, fmt.Errorf("user %s has no credentials for venue %s: %w", userID, venue, ports.ErrNoCredentials)
	}
	return &ports.Credentials{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}, nil
}

// sanitize maps an identifier to the character set valid in env var names.
func sanitize(id string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(id) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
