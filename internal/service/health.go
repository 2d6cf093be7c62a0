package service

import (
	"context"
	"errors"

	"github.com/voteguard/voteguard-identity/internal/protocol"
	"github.com/voteguard/voteguard-identity/internal/storage"
)

type HealthService struct {
	store   storage.Store
	service string
	version string
}

func NewHealth(store storage.Store, serviceName, version string) (*HealthService, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &HealthService{store: store, service: serviceName, version: version}, nil
}

func (s *HealthService) Health(ctx context.Context) (protocol.HealthResponse, error) {
	identities, err := s.store.CountIdentities(ctx)
	if err != nil {
		return protocol.HealthResponse{}, Internal("count identities", err)
	}
	ballots, err := s.store.CountBallots(ctx)
	if err != nil {
		return protocol.HealthResponse{}, Internal("count ballots", err)
	}
	return protocol.HealthResponse{
		Service:       s.service,
		Version:       s.version,
		IdentityCount: identities,
		BallotCount:   ballots,
	}, nil
}
