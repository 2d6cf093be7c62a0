// Package notify is the credential-delivery port used by bulk provisioning.
// Actual delivery (email bodies, SMS gateways) is an external collaborator;
// this package defines the contract and a logging implementation for
// environments without a delivery backend.
package notify

import (
	"context"
	"log/slog"

	"github.com/voteguard/voteguard-identity/internal/protocol"
)

// Credentials is everything a freshly provisioned voter needs out-of-band:
// the initial password, the TOTP enrollment artifact and the signed
// certificate. Implementations must treat all fields as secret.
type Credentials struct {
	Email          string
	PhoneNumber    string
	Username       string
	Password       string
	Enrollment     protocol.Enrollment
	CertificatePEM string
}

type Notifier interface {
	DeliverCredentials(ctx context.Context, creds Credentials) error
}

// LogNotifier records that a delivery happened without logging any of the
// credential material.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) DeliverCredentials(ctx context.Context, creds Credentials) error {
	n.Logger.InfoContext(ctx, "credentials ready for delivery",
		slog.String("username", creds.Username),
		slog.String("email", creds.Email),
	)
	return nil
}
