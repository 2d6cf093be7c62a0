package storage

import (
	"context"
	"errors"

	"github.com/voteguard/voteguard-identity/internal/protocol"
)

var (
	ErrDuplicateUsername = errors.New("username already exists")
	ErrDuplicateEmail    = errors.New("email already exists")
	ErrDuplicateVote     = errors.New("ballot already cast for this election and voter")
	ErrIdentityMissing   = errors.New("identity not found")
)

type Store interface {
	Close()

	CreateIdentity(ctx context.Context, identity protocol.Identity) error
	GetIdentityByUsername(ctx context.Context, username string) (protocol.Identity, bool, error)
	GetIdentityByID(ctx context.Context, id string) (protocol.Identity, bool, error)
	ListIdentities(ctx context.Context) ([]protocol.Identity, error)
	UpdateIdentityRole(ctx context.Context, id, role string) error
	SetIdentityCertificate(ctx context.Context, id, certificatePEM string) error
	DeleteIdentity(ctx context.Context, id string) error
	CountIdentities(ctx context.Context) (int, error)

	// InsertBallot appends a ballot. The (election_id, voter_id) uniqueness
	// constraint lives in the storage layer so concurrent inserts for the
	// same pair cannot both succeed; the loser gets ErrDuplicateVote.
	InsertBallot(ctx context.Context, ballot protocol.Ballot) (protocol.Ballot, error)
	GetBallot(ctx context.Context, electionID, voterID string) (protocol.Ballot, bool, error)
	ListBallotsByElection(ctx context.Context, electionID string) ([]protocol.Ballot, error)
	ListBallotsByVoter(ctx context.Context, voterID string) ([]protocol.Ballot, error)
	CountBallots(ctx context.Context) (int, error)
}
