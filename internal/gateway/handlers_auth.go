package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sermonforge/server/internal/auth"
)

const minPasswordLength = 8

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		g.writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	if len(req.Password) < minPasswordLength {
		g.writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	user, err := g.auth.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			g.writeError(w, http.StatusConflict, "an account with this email already exists")
			return
		}
		g.logger.Error("registration failed", zap.Error(err))
		g.writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	g.writeJSON(w, http.StatusCreated, map[string]string{
		"id":    user.ID,
		"email": user.Email,
		"name":  user.Name,
	})
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := g.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			g.writeError(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		g.logger.Error("login failed", zap.Error(err))
		g.writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
