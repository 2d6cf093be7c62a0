package service

import (
	"context"
	"testing"

	"github.com/voteguard/voteguard-identity/internal/protocol"
	"github.com/voteguard/voteguard-identity/internal/storage/storagetest"
)

func TestUpdateRoleValidatesAndPersists(t *testing.T) {
	store := storagetest.New()
	svc, err := NewIdentityAdmin(store)
	if err != nil {
		t.Fatalf("new identity admin: %v", err)
	}
	voter := seedVoter(t, store, "Secret123!")

	if _, err := svc.UpdateRole(context.Background(), voter.ID, "superuser"); !IsCode(err, CodeBadRequest) {
		t.Fatalf("expected bad request for unknown role, got %v", err)
	}

	updated, err := svc.UpdateRole(context.Background(), voter.ID, protocol.RoleAdmin)
	if err != nil {
		t.Fatalf("update role: %v", err)
	}
	if updated.Role != protocol.RoleAdmin {
		t.Fatalf("expected admin role, got %q", updated.Role)
	}
}

func TestUpdateRoleUnknownIdentity(t *testing.T) {
	store := storagetest.New()
	svc, _ := NewIdentityAdmin(store)
	if _, err := svc.UpdateRole(context.Background(), "ghost", protocol.RoleAdmin); !IsCode(err, CodeIdentityNotFound) {
		t.Fatalf("expected identity not found, got %v", err)
	}
}

func TestDeleteIdentityRetainsBallots(t *testing.T) {
	store := storagetest.New()
	admin, _ := NewIdentityAdmin(store)
	votes, _ := NewVote(store)
	voter := seedVoter(t, store, "Secret123!")

	if _, err := votes.CastVote(context.Background(), "E1", protocol.CastVoteRequest{
		VoterID: voter.ID, CandidateID: "C1", Password: "Secret123!",
	}); err != nil {
		t.Fatalf("cast vote: %v", err)
	}

	if err := admin.Delete(context.Background(), voter.ID); err != nil {
		t.Fatalf("delete identity: %v", err)
	}
	if _, err := admin.Get(context.Background(), voter.ID); !IsCode(err, CodeIdentityNotFound) {
		t.Fatalf("expected identity gone, got %v", err)
	}
	if n, _ := store.CountBallots(context.Background()); n != 1 {
		t.Fatalf("ballots must survive identity deletion, have %d", n)
	}
}
