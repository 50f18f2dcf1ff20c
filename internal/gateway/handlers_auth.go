package gateway

import (
	"net/http"
	"strings"

	"github.com/haasonsaas/stockd/internal/auth"
	"github.com/haasonsaas/stockd/pkg/models"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// authResponse is the shape returned by register, login, and refresh.
type authResponse struct {
	User *models.UserSnapshot `json:"user,omitempty"`
	*auth.TokenPair
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, s.logger, badRequest("email and password are required"))
		return
	}

	user, pair, err := s.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		if isValidationError(err) {
			writeError(w, r, s.logger, badRequest(err.Error()))
			return
		}
		writeError(w, r, s.logger, err)
		return
	}

	snapshot := user.Snapshot()
	writeJSON(w, http.StatusCreated, authResponse{User: &snapshot, TokenPair: pair})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	user, pair, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	snapshot := user.Snapshot()
	writeJSON(w, http.StatusOK, authResponse{User: &snapshot, TokenPair: pair})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if req.RefreshToken == "" {
		writeError(w, r, s.logger, badRequest("refresh_token is required"))
		return
	}

	pair, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{TokenPair: pair})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	if err := s.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, r, s.logger, apiError(CodeTokenInvalid, "Authorization bearer token is required.", false))
		return
	}

	user, err := s.auth.CurrentUser(r.Context(), token)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user.Snapshot())
}

// isValidationError picks out register's input complaints (bad email, short
// password), which are 4xx rather than internal failures.
func isValidationError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid email") || strings.Contains(msg, "password must be")
}
