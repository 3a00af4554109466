package interfaces

import (
	"context"

	"github.com/customeros/sendstack/internal/models"
)

// DkimService signs outbound messages on behalf of verified sending domains
// and manages key lifecycle.
type DkimService interface {
	// Sign produces the DKIM-Signature header line(s) for the message. The
	// selector falls back to the configured default when empty. Returns
	// ErrNoActiveKey when the domain has no active key.
	Sign(ctx context.Context, domain, selector string, message []byte) (string, error)
	// GenerateKey creates and activates a key pair for the domain, replacing
	// nothing; it fails if an active key already exists for the selector.
	GenerateKey(ctx context.Context, tenant, domain, selector string) (*models.DkimKey, error)
	// Rotate generates a fresh key pair, activates it and deactivates the
	// previous key. The old public record stays resolvable until revocation.
	Rotate(ctx context.Context, tenant, domain, selector string) (*models.DkimKey, error)
	// DNSRecord renders the TXT record value for publishing the active key.
	DNSRecord(ctx context.Context, domain, selector string) (name, value string, err error)
	// ListKeys returns every key recorded for the domain, active and retired,
	// newest first. Retired keys stay visible so their DNS records can be
	// cleaned up after rotation.
	ListKeys(ctx context.Context, domain string) ([]models.DkimKey, error)
}
