package api

import (
	"context"
	"net/http"

	"github.com/voteguard/voteguard-identity/internal/logging"
	"github.com/voteguard/voteguard-identity/internal/protocol"
	"github.com/voteguard/voteguard-identity/internal/service"
)

const authTokenHeader = "X-Auth-Token"

type contextKey struct{ name string }

var identityKey = contextKey{"identity"}

// CallerIdentity returns the identity resolved by the auth middleware.
func CallerIdentity(ctx context.Context) (protocol.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(protocol.Identity)
	return identity, ok
}

// requireSession admits only requests carrying a full session token. The
// resolved identity is attached to the request context.
func (h *Handler) requireSession(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := h.auth.Authenticate(r.Context(), r.Header.Get(authTokenHeader))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		logging.AddField(r.Context(), "caller_id", identity.ID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	})
}

// requireAdmin admits only full sessions whose identity holds the admin role.
func (h *Handler) requireAdmin(next http.HandlerFunc) http.Handler {
	return h.requireSession(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := CallerIdentity(r.Context())
		if identity.Role != protocol.RoleAdmin {
			h.writeError(w, r, service.NewAppError(http.StatusForbidden, service.CodeForbidden, "admin role required", false, nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}
