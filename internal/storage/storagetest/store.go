// Package storagetest provides an in-memory storage.Store for tests. It
// mirrors the postgres implementation's uniqueness behavior, including the
// atomic constrained ballot insert.
package storagetest

import (
	"context"
	"sync"
	"time"

	"github.com/voteguard/voteguard-identity/internal/protocol"
	"github.com/voteguard/voteguard-identity/internal/storage"
)

type MemStore struct {
	mu         sync.Mutex
	identities map[string]protocol.Identity
	ballots    map[[2]string]protocol.Ballot
}

func New() *MemStore {
	return &MemStore{
		identities: make(map[string]protocol.Identity),
		ballots:    make(map[[2]string]protocol.Ballot),
	}
}

var _ storage.Store = (*MemStore)(nil)

func (m *MemStore) Close() {}

func (m *MemStore) CreateIdentity(ctx context.Context, identity protocol.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.identities {
		if existing.Username == identity.Username {
			return storage.ErrDuplicateUsername
		}
		if existing.Email == identity.Email {
			return storage.ErrDuplicateEmail
		}
	}
	m.identities[identity.ID] = identity
	return nil
}

func (m *MemStore) GetIdentityByUsername(ctx context.Context, username string) (protocol.Identity, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, identity := range m.identities {
		if identity.Username == username {
			return identity, true, nil
		}
	}
	return protocol.Identity{}, false, nil
}

func (m *MemStore) GetIdentityByID(ctx context.Context, id string) (protocol.Identity, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.identities[id]
	return identity, ok, nil
}

func (m *MemStore) ListIdentities(ctx context.Context) ([]protocol.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.Identity, 0, len(m.identities))
	for _, identity := range m.identities {
		out = append(out, identity)
	}
	return out, nil
}

func (m *MemStore) UpdateIdentityRole(ctx context.Context, id, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.identities[id]
	if !ok {
		return storage.ErrIdentityMissing
	}
	identity.Role = role
	m.identities[id] = identity
	return nil
}

func (m *MemStore) SetIdentityCertificate(ctx context.Context, id, certificatePEM string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.identities[id]
	if !ok {
		return storage.ErrIdentityMissing
	}
	identity.CertificatePEM = certificatePEM
	m.identities[id] = identity
	return nil
}

func (m *MemStore) DeleteIdentity(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[id]; !ok {
		return storage.ErrIdentityMissing
	}
	delete(m.identities, id)
	return nil
}

func (m *MemStore) CountIdentities(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.identities), nil
}

func (m *MemStore) InsertBallot(ctx context.Context, ballot protocol.Ballot) (protocol.Ballot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{ballot.ElectionID, ballot.VoterID}
	if _, exists := m.ballots[key]; exists {
		return protocol.Ballot{}, storage.ErrDuplicateVote
	}
	ballot.CastAt = time.Now().UTC()
	m.ballots[key] = ballot
	return ballot, nil
}

func (m *MemStore) GetBallot(ctx context.Context, electionID, voterID string) (protocol.Ballot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ballot, ok := m.ballots[[2]string{electionID, voterID}]
	return ballot, ok, nil
}

func (m *MemStore) ListBallotsByElection(ctx context.Context, electionID string) ([]protocol.Ballot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.Ballot, 0)
	for key, ballot := range m.ballots {
		if key[0] == electionID {
			out = append(out, ballot)
		}
	}
	return out, nil
}

func (m *MemStore) ListBallotsByVoter(ctx context.Context, voterID string) ([]protocol.Ballot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.Ballot, 0)
	for key, ballot := range m.ballots {
		if key[1] == voterID {
			out = append(out, ballot)
		}
	}
	return out, nil
}

func (m *MemStore) CountBallots(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ballots), nil
}
