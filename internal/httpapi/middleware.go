package httpapi

import (
	"context"
	"net/http"

	"managervnc/internal/apperr"
	"managervnc/internal/identity"
	"managervnc/internal/policy"
)

type ctxKey int

const (
	principalKey ctxKey = iota
	requestUserKey
)

// requestUser lets the auth middleware report the user id back to the
// request logger, which sits outside it.
type requestUser struct{ id string }

func withRequestUser(ctx context.Context, u *requestUser) context.Context {
	return context.WithValue(ctx, requestUserKey, u)
}

func principalFrom(ctx context.Context) *identity.Principal {
	p, _ := ctx.Value(principalKey).(*identity.Principal)
	return p
}

// actor returns the authenticated actor. Only valid behind withAuth.
func actor(r *http.Request) policy.Actor {
	if p := principalFrom(r.Context()); p != nil {
		return p.Actor
	}
	return policy.Actor{}
}

// withAuth resolves the bearer token into a principal or answers 401.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.Identity.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
		if u, ok := r.Context().Value(requestUserKey).(*requestUser); ok {
			u.id = p.Actor.ID
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}

// withAdmin requires an ADMIN actor calling from an allowed network.
func (s *Server) withAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !actor(r).IsAdmin() {
			s.writeErr(w, r, apperr.Forbidden(policy.ReasonAdminRequired))
			return
		}
		if !s.adminAllowed(r) {
			s.Logger.Warn("admin request from disallowed address", "remote_ip", clientIP(r), "user_id", actor(r).ID)
			writeError(w, http.StatusForbidden, "admin access not allowed from this address")
			return
		}
		next.ServeHTTP(w, r)
	})
}
