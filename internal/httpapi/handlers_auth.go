package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"managervnc/internal/identity"
	"managervnc/internal/policy"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := s.Identity.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if ok, wait := s.loginLimiter.Allow(ip); !ok {
		s.Logger.Warn("login rate limited", "remote_ip", ip)
		w.Header().Set("retry-after", retryAfterSeconds(wait))
		writeError(w, http.StatusTooManyRequests, "too many login attempts, try again later")
		return
	}
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := s.Identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if identity.IsInvalidCredentials(err) {
			s.Logger.Warn("login failed", "remote_ip", ip)
		}
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.Identity.Logout(r.Context(), principalFrom(r.Context())); err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.Identity.Me(r.Context(), actor(r))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.Identity.ChangePassword(r.Context(), principalFrom(r.Context()), req.CurrentPassword, req.NewPassword); err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed"})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.Identity.ListUsers(r.Context(), actor(r))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role                    *policy.Role `json:"role"`
		CanManageSharedMachines *bool        `json:"canManageSharedMachines"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := s.Identity.UpdateUser(r.Context(), actor(r), chi.URLParam(r, "id"), identity.UserPatch{
		Role:                    req.Role,
		CanManageSharedMachines: req.CanManageSharedMachines,
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.Identity.DeleteUser(r.Context(), actor(r), chi.URLParam(r, "id")); err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "User deleted successfully"})
}
