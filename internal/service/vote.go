package service

import (
	"context"
	"errors"
	"net/http"

	vgcrypto "github.com/voteguard/voteguard-identity/internal/crypto"
	"github.com/voteguard/voteguard-identity/internal/protocol"
	"github.com/voteguard/voteguard-identity/internal/storage"
)

// VoteService casts ballots. The one-ballot-per-(election, voter) invariant
// is enforced by the storage layer's uniqueness constraint, not by the
// existence pre-check: under concurrent submissions exactly one insert
// succeeds and the rest observe ErrDuplicateVote.
type VoteService struct {
	store storage.Store
}

func NewVote(store storage.Store) (*VoteService, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &VoteService{store: store}, nil
}

func (s *VoteService) CastVote(ctx context.Context, electionID string, req protocol.CastVoteRequest) (protocol.Ballot, error) {
	if electionID == "" || req.VoterID == "" || req.CandidateID == "" {
		return protocol.Ballot{}, NewAppError(http.StatusBadRequest, CodeBadRequest, "election_id, voter_id and candidate_id are required", false, nil)
	}

	identity, found, err := s.store.GetIdentityByID(ctx, req.VoterID)
	if err != nil {
		return protocol.Ballot{}, Internal("look up voter", err)
	}
	if !found || !vgcrypto.VerifyPassword(identity.PasswordHash, req.Password) {
		return protocol.Ballot{}, invalidCredentials(nil)
	}

	// Friendly rejection for the common retry; the insert below is what
	// actually holds the invariant under races.
	if _, exists, err := s.store.GetBallot(ctx, electionID, req.VoterID); err != nil {
		return protocol.Ballot{}, Internal("check prior ballot", err)
	} else if exists {
		return protocol.Ballot{}, duplicateVote(nil)
	}

	ballot, err := s.store.InsertBallot(ctx, protocol.Ballot{
		ElectionID:  electionID,
		VoterID:     req.VoterID,
		CandidateID: req.CandidateID,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateVote) {
			return protocol.Ballot{}, duplicateVote(err)
		}
		return protocol.Ballot{}, Internal("insert ballot", err)
	}
	return ballot, nil
}

func (s *VoteService) VotesByElection(ctx context.Context, electionID string) ([]protocol.Ballot, error) {
	ballots, err := s.store.ListBallotsByElection(ctx, electionID)
	if err != nil {
		return nil, Internal("list ballots by election", err)
	}
	return ballots, nil
}

func (s *VoteService) VotesByVoter(ctx context.Context, voterID string) ([]protocol.Ballot, error) {
	ballots, err := s.store.ListBallotsByVoter(ctx, voterID)
	if err != nil {
		return nil, Internal("list ballots by voter", err)
	}
	return ballots, nil
}

func duplicateVote(cause error) *AppError {
	return NewAppError(http.StatusBadRequest, CodeDuplicateVote, "a ballot was already cast in this election", false, cause)
}
