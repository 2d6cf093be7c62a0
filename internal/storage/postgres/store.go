package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voteguard/voteguard-identity/internal/protocol"
	"github.com/voteguard/voteguard-identity/internal/storage"
)

//go:embed migrations/001_init.sql
var migration001 string

type Store struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, dsn string, maxConns, minConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns >= 0 {
		cfg.MinConns = minConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := &Store{pool: pool}
	if err := store.applyMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) applyMigrations(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, migration001); err != nil {
		return fmt.Errorf("apply migration 001: %w", err)
	}
	return nil
}

func (s *Store) CreateIdentity(ctx context.Context, identity protocol.Identity) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO identities (id, username, email, password_hash, full_name, role, totp_secret, certificate_pem, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`,
		identity.ID,
		identity.Username,
		identity.Email,
		identity.PasswordHash,
		identity.FullName,
		identity.Role,
		identity.TOTPSecret,
		identity.CertificatePEM,
		identity.CreatedAt.UTC(),
	)
	if err != nil {
		switch {
		case isUniqueViolationFor(err, "username"):
			return storage.ErrDuplicateUsername
		case isUniqueViolationFor(err, "email"):
			return storage.ErrDuplicateEmail
		default:
			return fmt.Errorf("insert identity: %w", err)
		}
	}
	return nil
}

const identityColumns = `id, username, email, password_hash, full_name, role, totp_secret, certificate_pem, created_at`

func (s *Store) GetIdentityByUsername(ctx context.Context, username string) (protocol.Identity, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE username = $1`, username)
	return scanIdentity(row)
}

func (s *Store) GetIdentityByID(ctx context.Context, id string) (protocol.Identity, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
	return scanIdentity(row)
}

func (s *Store) ListIdentities(ctx context.Context) ([]protocol.Identity, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+identityColumns+` FROM identities ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]protocol.Identity, 0)
	for rows.Next() {
		identity, ok, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, identity)
		}
	}
	return out, rows.Err()
}

func (s *Store) UpdateIdentityRole(ctx context.Context, id, role string) error {
	cmd, err := s.pool.Exec(ctx, `UPDATE identities SET role = $2 WHERE id = $1`, id, role)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return storage.ErrIdentityMissing
	}
	return nil
}

func (s *Store) SetIdentityCertificate(ctx context.Context, id, certificatePEM string) error {
	cmd, err := s.pool.Exec(ctx, `UPDATE identities SET certificate_pem = $2 WHERE id = $1`, id, certificatePEM)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return storage.ErrIdentityMissing
	}
	return nil
}

func (s *Store) DeleteIdentity(ctx context.Context, id string) error {
	cmd, err := s.pool.Exec(ctx, `DELETE FROM identities WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return storage.ErrIdentityMissing
	}
	return nil
}

func (s *Store) CountIdentities(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM identities`).Scan(&count)
	return count, err
}

func (s *Store) InsertBallot(ctx context.Context, ballot protocol.Ballot) (protocol.Ballot, error) {
	var castAt time.Time
	err := s.pool.QueryRow(ctx, `
INSERT INTO ballots (election_id, voter_id, candidate_id, cast_at)
VALUES ($1, $2, $3, NOW())
RETURNING cast_at
`, ballot.ElectionID, ballot.VoterID, ballot.CandidateID).Scan(&castAt)
	if err != nil {
		if isUniqueViolationFor(err, "election_voter") {
			return protocol.Ballot{}, storage.ErrDuplicateVote
		}
		return protocol.Ballot{}, fmt.Errorf("insert ballot: %w", err)
	}
	ballot.CastAt = castAt.UTC()
	return ballot, nil
}

func (s *Store) GetBallot(ctx context.Context, electionID, voterID string) (protocol.Ballot, bool, error) {
	var out protocol.Ballot
	err := s.pool.QueryRow(ctx, `
SELECT election_id, voter_id, candidate_id, cast_at
FROM ballots
WHERE election_id = $1 AND voter_id = $2
`, electionID, voterID).Scan(&out.ElectionID, &out.VoterID, &out.CandidateID, &out.CastAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	out.CastAt = out.CastAt.UTC()
	return out, true, nil
}

func (s *Store) ListBallotsByElection(ctx context.Context, electionID string) ([]protocol.Ballot, error) {
	return s.listBallots(ctx, `
SELECT election_id, voter_id, candidate_id, cast_at
FROM ballots
WHERE election_id = $1
ORDER BY cast_at ASC
`, electionID)
}

func (s *Store) ListBallotsByVoter(ctx context.Context, voterID string) ([]protocol.Ballot, error) {
	return s.listBallots(ctx, `
SELECT election_id, voter_id, candidate_id, cast_at
FROM ballots
WHERE voter_id = $1
ORDER BY cast_at ASC
`, voterID)
}

func (s *Store) listBallots(ctx context.Context, query string, arg string) ([]protocol.Ballot, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]protocol.Ballot, 0)
	for rows.Next() {
		var b protocol.Ballot
		if err := rows.Scan(&b.ElectionID, &b.VoterID, &b.CandidateID, &b.CastAt); err != nil {
			return nil, err
		}
		b.CastAt = b.CastAt.UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) CountBallots(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ballots`).Scan(&count)
	return count, err
}

func scanIdentity(row pgx.Row) (protocol.Identity, bool, error) {
	var out protocol.Identity
	err := row.Scan(
		&out.ID,
		&out.Username,
		&out.Email,
		&out.PasswordHash,
		&out.FullName,
		&out.Role,
		&out.TOTPSecret,
		&out.CertificatePEM,
		&out.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	out.CreatedAt = out.CreatedAt.UTC()
	return out, true, nil
}

func isUniqueViolationFor(err error, field string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != "23505" {
		return false
	}
	if strings.Contains(pgErr.ConstraintName, field) {
		return true
	}
	detail := strings.ToLower(pgErr.Detail)
	if detail == "" {
		return false
	}
	return strings.Contains(detail, "("+strings.ToLower(field)+")")
}
