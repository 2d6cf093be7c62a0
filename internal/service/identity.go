package service

import (
	"context"
	"errors"
	"net/http"

	"github.com/voteguard/voteguard-identity/internal/protocol"
	"github.com/voteguard/voteguard-identity/internal/storage"
)

// IdentityAdminService covers the administrative identity operations: listing,
// lookup, role changes and deletion. Deleting an identity does not touch its
// ballots; the ledger is retained for audit.
type IdentityAdminService struct {
	store storage.Store
}

func NewIdentityAdmin(store storage.Store) (*IdentityAdminService, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &IdentityAdminService{store: store}, nil
}

func (s *IdentityAdminService) List(ctx context.Context) ([]protocol.Identity, error) {
	identities, err := s.store.ListIdentities(ctx)
	if err != nil {
		return nil, Internal("list identities", err)
	}
	return identities, nil
}

func (s *IdentityAdminService) Get(ctx context.Context, id string) (protocol.Identity, error) {
	identity, found, err := s.store.GetIdentityByID(ctx, id)
	if err != nil {
		return protocol.Identity{}, Internal("look up identity", err)
	}
	if !found {
		return protocol.Identity{}, identityNotFound()
	}
	return identity, nil
}

func (s *IdentityAdminService) UpdateRole(ctx context.Context, id, role string) (protocol.Identity, error) {
	switch role {
	case protocol.RoleVoter, protocol.RoleAdmin:
	default:
		return protocol.Identity{}, NewAppError(http.StatusBadRequest, CodeBadRequest, "role must be one of voter|admin", false, nil)
	}
	if err := s.store.UpdateIdentityRole(ctx, id, role); err != nil {
		if errors.Is(err, storage.ErrIdentityMissing) {
			return protocol.Identity{}, identityNotFound()
		}
		return protocol.Identity{}, Internal("update role", err)
	}
	return s.Get(ctx, id)
}

func (s *IdentityAdminService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteIdentity(ctx, id); err != nil {
		if errors.Is(err, storage.ErrIdentityMissing) {
			return identityNotFound()
		}
		return Internal("delete identity", err)
	}
	return nil
}

func identityNotFound() *AppError {
	return NewAppError(http.StatusNotFound, CodeIdentityNotFound, "identity not found", false, nil)
}
