package protocol

import "time"

// Identity is one voter or admin account. The password hash, TOTP secret and
// certificate are credentials, not payload: they never serialize.
type Identity struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	FullName       string    `json:"full_name"`
	Role           string    `json:"role"`
	TOTPSecret     string    `json:"-"`
	CertificatePEM string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

const (
	RoleVoter = "voter"
	RoleAdmin = "admin"
)

// IdentitySummary is the caller-visible slice of an identity returned by the
// login endpoints.
type IdentitySummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (i Identity) Summary() IdentitySummary {
	return IdentitySummary{ID: i.ID, Username: i.Username, Role: i.Role}
}

// Ballot is one cast vote. The (ElectionID, VoterID) pair is unique across
// all ballots, enforced by the storage layer.
type Ballot struct {
	ElectionID  string    `json:"election_id"`
	VoterID     string    `json:"voter_id"`
	CandidateID string    `json:"candidate_id"`
	CastAt      time.Time `json:"cast_at"`
}

// Enrollment carries the out-of-band TOTP enrollment artifact produced at
// registration: the otpauth URL plus a scannable QR rendering of it.
type Enrollment struct {
	OTPAuthURL string `json:"otpauth_url"`
	QRCode     string `json:"qr_code"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

type RegisterResponse struct {
	Identity   Identity   `json:"identity"`
	Enrollment Enrollment `json:"enrollment"`
}

type LoginResponse struct {
	Token    string          `json:"token"`
	Identity IdentitySummary `json:"identity"`
}

type Verify2FARequest struct {
	IdentityID string `json:"identity_id"`
	Code       string `json:"code"`
}

type CastVoteRequest struct {
	VoterID     string `json:"voter_id"`
	CandidateID string `json:"candidate_id"`
	Password    string `json:"password"`
}

type UpdateRoleRequest struct {
	Role string `json:"role"`
}

// ImportRecord is one row of a bulk-provisioning roster.
type ImportRecord struct {
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
}

// ImportOutcome reports what happened to a single roster record. Stage is
// set only on failure and names the step that failed.
type ImportOutcome struct {
	FullName string `json:"full_name"`
	Username string `json:"username,omitempty"`
	Status   string `json:"status"`
	Stage    string `json:"stage,omitempty"`
	Error    string `json:"error,omitempty"`
}

const (
	ImportStatusProvisioned = "provisioned"
	ImportStatusFailed      = "failed"
)

type ImportResponse struct {
	Outcomes []ImportOutcome `json:"outcomes"`
}

type HealthResponse struct {
	Service       string `json:"service"`
	Version       string `json:"version"`
	IdentityCount int    `json:"identity_count"`
	BallotCount   int    `json:"ballot_count"`
}

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}
