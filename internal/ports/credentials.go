package ports

import "context"

// Credentials holds decrypted API credentials for one venue.
type Credentials struct {
	APIKey    string
	APISecret string
	// Extra carries venue-specific fields (passphrase, wallet address, RPC
	// endpoint, ...).
	Extra map[string]string
}

// CredentialStore hands out decrypted credentials for a (venue, user)
// pair. The concrete implementation (encrypted vault, permission checks,
// audit logging) is an external collaborator; the core only consumes this
// interface and must return ErrNoCredentials-wrapped errors when a user
// has no usable credential for a venue.
type CredentialStore interface {
	CredentialsFor(ctx context.Context, venue, userID string) (*Credentials, error)
}
