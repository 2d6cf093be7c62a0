package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/voteguard/voteguard-identity/internal/logging"
	"github.com/voteguard/voteguard-identity/internal/protocol"
	"github.com/voteguard/voteguard-identity/internal/service"
)

// maxCertificateBytes bounds the uploaded certificate file. A 2048-bit PEM
// certificate is around 2 KB; anything near the limit is not a certificate.
const maxCertificateBytes = 64 << 10

type Handler struct {
	auth      *service.AuthService
	votes     *service.VoteService
	admin     *service.IdentityAdminService
	provision *service.ProvisionService
	health    HealthReporter
	logger    *slog.Logger
}

type HealthReporter interface {
	Health(ctx context.Context) (protocol.HealthResponse, error)
}

type HandlerParams struct {
	Auth      *service.AuthService
	Votes     *service.VoteService
	Admin     *service.IdentityAdminService
	Provision *service.ProvisionService
	Health    HealthReporter
	Logger    *slog.Logger
}

func NewHandler(params HandlerParams) *Handler {
	return &Handler{
		auth:      params.Auth,
		votes:     params.Votes,
		admin:     params.Admin,
		provision: params.Provision,
		health:    params.Health,
		logger:    params.Logger,
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)

	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/verify-2fa", h.handleVerify2FA)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)

	mux.Handle("POST /votes/{electionID}", h.requireSession(h.handleCastVote))
	mux.Handle("GET /votes/{electionID}", h.requireAdmin(h.handleVotesByElection))
	mux.Handle("GET /votes/voter/{voterID}", h.requireAdmin(h.handleVotesByVoter))

	mux.Handle("POST /admin/users/import", h.requireAdmin(h.handleImport))
	mux.Handle("GET /admin/users", h.requireAdmin(h.handleListIdentities))
	mux.Handle("GET /admin/users/{id}", h.requireAdmin(h.handleGetIdentity))
	mux.Handle("PUT /admin/users/{id}/role", h.requireAdmin(h.handleUpdateRole))
	mux.Handle("DELETE /admin/users/{id}", h.requireAdmin(h.handleDeleteIdentity))
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp, err := h.health.Health(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "health")
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req protocol.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, service.NewAppError(http.StatusBadRequest, service.CodeBadRequest, err.Error(), false, err))
		return
	}
	resp, err := h.auth.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "register")
	logging.AddField(r.Context(), "identity_id", resp.Identity.ID)
	writeJSON(w, http.StatusCreated, resp)
}

// handleLogin is phase 1 of the login state machine. The certificate arrives
// as a multipart file part so browsers can submit the user's .pem directly.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxCertificateBytes); err != nil {
		h.writeError(w, r, service.NewAppError(http.StatusBadRequest, service.CodeBadRequest, "expected multipart form", false, err))
		return
	}
	username := r.FormValue("username")
	password := r.FormValue("password")

	var certificate []byte
	if file, _, err := r.FormFile("certificate"); err == nil {
		certificate, err = io.ReadAll(io.LimitReader(file, maxCertificateBytes))
		file.Close()
		if err != nil {
			h.writeError(w, r, service.NewAppError(http.StatusBadRequest, service.CodeBadRequest, "read certificate", false, err))
			return
		}
	}
	// A missing certificate part falls through with nil bytes and fails the
	// credential check the same way a wrong certificate does.

	resp, err := h.auth.LoginPhase1(r.Context(), username, password, certificate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "login_phase1")
	logging.AddField(r.Context(), "identity_id", resp.Identity.ID)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleVerify2FA(w http.ResponseWriter, r *http.Request) {
	var req protocol.Verify2FARequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, service.NewAppError(http.StatusBadRequest, service.CodeBadRequest, err.Error(), false, err))
		return
	}
	resp, err := h.auth.Verify2FA(r.Context(), r.Header.Get(authTokenHeader), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "verify_2fa")
	logging.AddField(r.Context(), "identity_id", resp.Identity.ID)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "logout")
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *Handler) handleCastVote(w http.ResponseWriter, r *http.Request) {
	var req protocol.CastVoteRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, service.NewAppError(http.StatusBadRequest, service.CodeBadRequest, err.Error(), false, err))
		return
	}
	ballot, err := h.votes.CastVote(r.Context(), r.PathValue("electionID"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "cast_vote")
	logging.AddField(r.Context(), "election_id", ballot.ElectionID)
	writeJSON(w, http.StatusCreated, ballot)
}

func (h *Handler) handleVotesByElection(w http.ResponseWriter, r *http.Request) {
	ballots, err := h.votes.VotesByElection(r.Context(), r.PathValue("electionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "votes_by_election")
	logging.AddField(r.Context(), "ballot_count", len(ballots))
	writeJSON(w, http.StatusOK, ballots)
}

func (h *Handler) handleVotesByVoter(w http.ResponseWriter, r *http.Request) {
	ballots, err := h.votes.VotesByVoter(r.Context(), r.PathValue("voterID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "votes_by_voter")
	logging.AddField(r.Context(), "ballot_count", len(ballots))
	writeJSON(w, http.StatusOK, ballots)
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	var records []protocol.ImportRecord
	if err := decodeJSON(r, &records); err != nil {
		h.writeError(w, r, service.NewAppError(http.StatusBadRequest, service.CodeBadRequest, err.Error(), false, err))
		return
	}
	outcomes := h.provision.ImportIdentities(r.Context(), records)
	provisioned := 0
	for _, outcome := range outcomes {
		if outcome.Status == protocol.ImportStatusProvisioned {
			provisioned++
		}
	}
	logging.AddField(r.Context(), "op", "import_identities")
	logging.AddField(r.Context(), "records", len(records))
	logging.AddField(r.Context(), "provisioned", provisioned)
	writeJSON(w, http.StatusOK, protocol.ImportResponse{Outcomes: outcomes})
}

func (h *Handler) handleListIdentities(w http.ResponseWriter, r *http.Request) {
	identities, err := h.admin.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "list_identities")
	logging.AddField(r.Context(), "identity_count", len(identities))
	writeJSON(w, http.StatusOK, identities)
}

func (h *Handler) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	identity, err := h.admin.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "get_identity")
	logging.AddField(r.Context(), "identity_id", identity.ID)
	writeJSON(w, http.StatusOK, identity)
}

func (h *Handler) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req protocol.UpdateRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, service.NewAppError(http.StatusBadRequest, service.CodeBadRequest, err.Error(), false, err))
		return
	}
	identity, err := h.admin.UpdateRole(r.Context(), r.PathValue("id"), req.Role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "update_role")
	logging.AddField(r.Context(), "identity_id", identity.ID)
	logging.AddField(r.Context(), "role", identity.Role)
	writeJSON(w, http.StatusOK, identity)
}

func (h *Handler) handleDeleteIdentity(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "delete_identity")
	logging.AddField(r.Context(), "identity_id", r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *service.AppError
	if errors.As(err, &appErr) {
		logging.AddField(r.Context(), "error_code", appErr.Code)
		logging.AddField(r.Context(), "error_message", appErr.Message)
		writeJSON(w, appErr.HTTPStatus, protocol.ErrorResponse{Error: protocol.ErrorBody{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Retryable: appErr.Retryable,
		}})
		return
	}
	logging.AddField(r.Context(), "error_code", service.CodeInternal)
	logging.AddField(r.Context(), "error_message", err.Error())
	writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{Error: protocol.ErrorBody{
		Code:      service.CodeInternal,
		Message:   "internal server error",
		Retryable: true,
	}})
}

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, 2<<20)
	dec := json.NewDecoder(limited)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
