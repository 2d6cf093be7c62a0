package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	vgcrypto "github.com/voteguard/voteguard-identity/internal/crypto"
	"github.com/voteguard/voteguard-identity/internal/notify"
	"github.com/voteguard/voteguard-identity/internal/pki"
	"github.com/voteguard/voteguard-identity/internal/protocol"
	"github.com/voteguard/voteguard-identity/internal/storage"
)

// CertificateIssuer is the slice of the certificate authority the
// provisioning flow needs.
type CertificateIssuer interface {
	Issue(ctx context.Context, username string) (string, error)
}

// Import pipeline stage names reported in per-record outcomes.
const (
	ImportStageValidate    = "validate"
	ImportStagePersist     = "persist"
	ImportStageCertificate = "store_certificate"
	ImportStageNotify      = "notify"
)

const initialPasswordLength = 12

// ProvisionService bulk-imports voter identities. Every roster record is an
// independent unit of work: a record that fails at any stage is reported in
// its outcome and does not stop the rest of the batch.
type ProvisionService struct {
	store          storage.Store
	authority      CertificateIssuer
	notifier       notify.Notifier
	totpIssuer     string
	maxConcurrency int
}

type ProvisionParams struct {
	Store          storage.Store
	Authority      CertificateIssuer
	Notifier       notify.Notifier
	TOTPIssuer     string
	MaxConcurrency int
}

func NewProvision(params ProvisionParams) (*ProvisionService, error) {
	if params.Store == nil {
		return nil, errors.New("store is required")
	}
	if params.Authority == nil {
		return nil, errors.New("certificate authority is required")
	}
	if params.Notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if params.TOTPIssuer == "" {
		params.TOTPIssuer = "Voteguard Voting System"
	}
	if params.MaxConcurrency <= 0 {
		params.MaxConcurrency = 4
	}
	return &ProvisionService{
		store:          params.Store,
		authority:      params.Authority,
		notifier:       params.Notifier,
		totpIssuer:     params.TOTPIssuer,
		maxConcurrency: params.MaxConcurrency,
	}, nil
}

func (s *ProvisionService) ImportIdentities(ctx context.Context, records []protocol.ImportRecord) []protocol.ImportOutcome {
	outcomes := make([]protocol.ImportOutcome, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrency)
	for i, record := range records {
		g.Go(func() error {
			outcomes[i] = s.provisionOne(gctx, record)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (s *ProvisionService) provisionOne(ctx context.Context, record protocol.ImportRecord) protocol.ImportOutcome {
	outcome := protocol.ImportOutcome{FullName: record.FullName, Status: protocol.ImportStatusFailed}

	if strings.TrimSpace(record.FullName) == "" || strings.TrimSpace(record.Email) == "" {
		outcome.Stage = ImportStageValidate
		outcome.Error = "full_name and email are required"
		return outcome
	}

	password, err := protocol.RandomPassword(initialPasswordLength)
	if err != nil {
		outcome.Stage = ImportStagePersist
		outcome.Error = err.Error()
		return outcome
	}
	hash, err := vgcrypto.HashPassword(password)
	if err != nil {
		outcome.Stage = ImportStagePersist
		outcome.Error = err.Error()
		return outcome
	}

	identity, enrollment, err := s.persistWithFreshUsername(ctx, record, hash)
	if err != nil {
		outcome.Stage = ImportStagePersist
		outcome.Error = err.Error()
		return outcome
	}
	outcome.Username = identity.Username

	certPEM, err := s.authority.Issue(ctx, identity.Username)
	if err != nil {
		outcome.Stage = importStageForPipelineError(err)
		outcome.Error = err.Error()
		return outcome
	}
	if err := s.store.SetIdentityCertificate(ctx, identity.ID, certPEM); err != nil {
		outcome.Stage = ImportStageCertificate
		outcome.Error = err.Error()
		return outcome
	}

	err = s.notifier.DeliverCredentials(ctx, notify.Credentials{
		Email:          record.Email,
		PhoneNumber:    record.PhoneNumber,
		Username:       identity.Username,
		Password:       password,
		Enrollment:     enrollment,
		CertificatePEM: certPEM,
	})
	if err != nil {
		outcome.Stage = ImportStageNotify
		outcome.Error = err.Error()
		return outcome
	}

	outcome.Status = protocol.ImportStatusProvisioned
	outcome.Stage = ""
	return outcome
}

// persistWithFreshUsername synthesizes a username from the full name,
// provisions the TOTP secret under that label, and inserts the identity,
// retrying once with a fresh suffix if the synthesized username collides.
// The returned enrollment matches the stored secret.
func (s *ProvisionService) persistWithFreshUsername(ctx context.Context, record protocol.ImportRecord, passwordHash string) (protocol.Identity, protocol.Enrollment, error) {
	for attempt := 0; attempt < 2; attempt++ {
		username, err := synthesizeUsername(record.FullName)
		if err != nil {
			return protocol.Identity{}, protocol.Enrollment{}, err
		}
		secret, enrollment, err := vgcrypto.ProvisionTOTP(s.totpIssuer, username)
		if err != nil {
			return protocol.Identity{}, protocol.Enrollment{}, err
		}
		identity := protocol.Identity{
			ID:           uuid.NewString(),
			Username:     username,
			Email:        record.Email,
			PasswordHash: passwordHash,
			FullName:     record.FullName,
			Role:         protocol.RoleVoter,
			TOTPSecret:   secret,
			CreatedAt:    time.Now().UTC(),
		}
		err = s.store.CreateIdentity(ctx, identity)
		if err == nil {
			return identity, enrollment, nil
		}
		if errors.Is(err, storage.ErrDuplicateUsername) && attempt == 0 {
			continue
		}
		return protocol.Identity{}, protocol.Enrollment{}, err
	}
	return protocol.Identity{}, protocol.Enrollment{}, storage.ErrDuplicateUsername
}

// synthesizeUsername builds a username from the record's full name. Only
// lowercase letters and digits survive; anything else (punctuation, path
// characters) is stripped, since the username becomes a certificate subject
// and a file name under the certs directory.
func synthesizeUsername(fullName string) (string, error) {
	var parts []string
	for _, field := range strings.Fields(strings.ToLower(fullName)) {
		var part strings.Builder
		for _, r := range field {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				part.WriteRune(r)
			}
		}
		if part.Len() > 0 {
			parts = append(parts, part.String())
		}
	}
	if len(parts) == 0 {
		return "", errors.New("full name contains no usable username characters")
	}
	suffix, err := protocol.RandomDigits(3)
	if err != nil {
		return "", err
	}
	return strings.Join(parts, "_") + suffix, nil
}

func importStageForPipelineError(err error) string {
	var stageErr *pki.StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return ImportStageCertificate
}
