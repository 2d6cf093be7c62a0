package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	vgcrypto "github.com/voteguard/voteguard-identity/internal/crypto"
	"github.com/voteguard/voteguard-identity/internal/protocol"
	"github.com/voteguard/voteguard-identity/internal/storage"
	"github.com/voteguard/voteguard-identity/internal/token"
)

// AuthService implements registration and the two-phase login state machine:
// Unauthenticated -> PasswordCertVerified -> FullyAuthenticated. Phase 1
// validates password and certificate and issues an intermediate token; phase
// 2 validates a TOTP code against the intermediate token's identity and
// issues a full session token.
type AuthService struct {
	store           storage.Store
	tokens          *token.Issuer
	totpIssuer      string
	intermediateTTL time.Duration
	sessionTTL      time.Duration
}

type AuthParams struct {
	Store           storage.Store
	Tokens          *token.Issuer
	TOTPIssuer      string
	IntermediateTTL time.Duration
	SessionTTL      time.Duration
}

func NewAuth(params AuthParams) (*AuthService, error) {
	if params.Store == nil {
		return nil, errors.New("store is required")
	}
	if params.Tokens == nil {
		return nil, errors.New("token issuer is required")
	}
	if params.TOTPIssuer == "" {
		params.TOTPIssuer = "Voteguard Voting System"
	}
	if params.IntermediateTTL <= 0 {
		params.IntermediateTTL = 5 * time.Minute
	}
	if params.SessionTTL <= 0 {
		params.SessionTTL = time.Hour
	}
	return &AuthService{
		store:           params.Store,
		tokens:          params.Tokens,
		totpIssuer:      params.TOTPIssuer,
		intermediateTTL: params.IntermediateTTL,
		sessionTTL:      params.SessionTTL,
	}, nil
}

func (s *AuthService) Register(ctx context.Context, req protocol.RegisterRequest) (protocol.RegisterResponse, error) {
	if err := validateRegister(req); err != nil {
		return protocol.RegisterResponse{}, NewAppError(http.StatusBadRequest, CodeBadRequest, err.Error(), false, err)
	}

	hash, err := vgcrypto.HashPassword(req.Password)
	if err != nil {
		return protocol.RegisterResponse{}, Internal("hash password", err)
	}
	secret, enrollment, err := vgcrypto.ProvisionTOTP(s.totpIssuer, req.Username)
	if err != nil {
		return protocol.RegisterResponse{}, Internal("provision totp secret", err)
	}

	identity := protocol.Identity{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		FullName:     req.FullName,
		Role:         protocol.RoleVoter,
		TOTPSecret:   secret,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateIdentity(ctx, identity); err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicateUsername):
			return protocol.RegisterResponse{}, NewAppError(http.StatusBadRequest, CodeDuplicateUsername, "username already exists", false, err)
		case errors.Is(err, storage.ErrDuplicateEmail):
			return protocol.RegisterResponse{}, NewAppError(http.StatusBadRequest, CodeDuplicateEmail, "email already exists", false, err)
		default:
			return protocol.RegisterResponse{}, Internal("persist identity", err)
		}
	}
	return protocol.RegisterResponse{Identity: identity, Enrollment: enrollment}, nil
}

// LoginPhase1 performs the Unauthenticated -> PasswordCertVerified
// transition. Password and certificate failures are indistinguishable to the
// caller, and an absent certificate takes the same path as a wrong one.
func (s *AuthService) LoginPhase1(ctx context.Context, username, password string, certificate []byte) (protocol.LoginResponse, error) {
	identity, found, err := s.store.GetIdentityByUsername(ctx, username)
	if err != nil {
		return protocol.LoginResponse{}, Internal("look up identity", err)
	}
	if !found {
		return protocol.LoginResponse{}, invalidCredentials(nil)
	}

	passwordOK := vgcrypto.VerifyPassword(identity.PasswordHash, password)
	certificateOK := len(certificate) > 0 && identity.CertificatePEM != "" &&
		subtle.ConstantTimeCompare(certificate, []byte(identity.CertificatePEM)) == 1

	if !passwordOK || !certificateOK {
		return protocol.LoginResponse{}, invalidCredentials(nil)
	}

	intermediate, err := s.tokens.Mint(identity.ID, token.KindIntermediate, s.intermediateTTL)
	if err != nil {
		return protocol.LoginResponse{}, Internal("mint intermediate token", err)
	}
	return protocol.LoginResponse{Token: intermediate, Identity: identity.Summary()}, nil
}

// Verify2FA performs the PasswordCertVerified -> FullyAuthenticated
// transition. The intermediate token is the only record of phase-1 success,
// so it must be valid, of the intermediate kind, and bound to the same
// identity the request names. A bad code leaves the caller in
// PasswordCertVerified: the intermediate token stays usable until it expires.
func (s *AuthService) Verify2FA(ctx context.Context, intermediateToken string, req protocol.Verify2FARequest) (protocol.LoginResponse, error) {
	tokenIdentityID, kind, err := s.tokens.Verify(intermediateToken)
	if err != nil || kind != token.KindIntermediate {
		return protocol.LoginResponse{}, invalidToken(err)
	}
	if req.IdentityID == "" || tokenIdentityID != req.IdentityID {
		return protocol.LoginResponse{}, invalidToken(nil)
	}

	identity, found, err := s.store.GetIdentityByID(ctx, req.IdentityID)
	if err != nil {
		return protocol.LoginResponse{}, Internal("look up identity", err)
	}
	if !found {
		return protocol.LoginResponse{}, NewAppError(http.StatusNotFound, CodeIdentityNotFound, "identity not found", false, nil)
	}

	if !vgcrypto.VerifyTOTP(identity.TOTPSecret, strings.TrimSpace(req.Code)) {
		return protocol.LoginResponse{}, NewAppError(http.StatusBadRequest, CodeInvalid2FA, "invalid 2fa code", false, nil)
	}

	full, err := s.tokens.Mint(identity.ID, token.KindFull, s.sessionTTL)
	if err != nil {
		return protocol.LoginResponse{}, Internal("mint session token", err)
	}
	return protocol.LoginResponse{Token: full, Identity: identity.Summary()}, nil
}

// Logout is a client-side operation: tokens carry no revocation list and
// expire on their own.
func (s *AuthService) Logout(ctx context.Context) error {
	return nil
}

// Authenticate resolves a full session token to its identity. Used by the
// API middleware; intermediate tokens are rejected here so a phase-1 token
// can never reach an endpoint that requires complete authentication.
func (s *AuthService) Authenticate(ctx context.Context, sessionToken string) (protocol.Identity, error) {
	identityID, kind, err := s.tokens.Verify(sessionToken)
	if err != nil || kind != token.KindFull {
		return protocol.Identity{}, invalidToken(err)
	}
	identity, found, err := s.store.GetIdentityByID(ctx, identityID)
	if err != nil {
		return protocol.Identity{}, Internal("look up identity", err)
	}
	if !found {
		return protocol.Identity{}, invalidToken(nil)
	}
	return identity, nil
}

func validateRegister(req protocol.RegisterRequest) error {
	if strings.TrimSpace(req.Username) == "" {
		return errors.New("username is required")
	}
	if len(req.Password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return errors.New("email is invalid")
	}
	if strings.TrimSpace(req.FullName) == "" {
		return errors.New("full_name is required")
	}
	return nil
}
