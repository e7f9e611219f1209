package web

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirrobot01/reclaimarr/internal/request"
	"golang.org/x/crypto/bcrypt"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (wb *Web) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		wb.sendJSONError(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if !wb.cfg.VerifyAuth(req.Username, req.Password) {
		wb.sendJSONError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	session, _ := wb.cookie.Get(r, "auth-session")
	session.Values["authenticated"] = true
	session.Values["username"] = req.Username
	if err := session.Save(r, w); err != nil {
		wb.sendJSONError(w, "failed to save session", http.StatusInternalServerError)
		return
	}
	request.JSONResponse(w, map[string]any{"success": true}, http.StatusOK)
}

func (wb *Web) handleLogout(w http.ResponseWriter, r *http.Request) {
	session, _ := wb.cookie.Get(r, "auth-session")
	session.Values["authenticated"] = false
	session.Options.MaxAge = -1
	_ = session.Save(r, w)
	request.JSONResponse(w, map[string]any{"success": true}, http.StatusOK)
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleRegister creates the operator account on first run.
func (wb *Web) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !wb.cfg.NeedsAuth() {
		wb.sendJSONError(w, "already configured", http.StatusConflict)
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		wb.sendJSONError(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.Username == "" || len(req.Password) < 8 {
		wb.sendJSONError(w, "username required, password must be at least 8 characters", http.StatusBadRequest)
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		wb.sendJSONError(w, "failed to hash password", http.StatusInternalServerError)
		return
	}
	auth := wb.cfg.GetAuth()
	auth.Username = req.Username
	auth.Password = string(hashed)
	if auth.APIToken == "" {
		if auth.APIToken, err = generateAPIToken(); err != nil {
			wb.sendJSONError(w, "failed to generate token", http.StatusInternalServerError)
			return
		}
	}
	if err := wb.cfg.SaveAuth(auth); err != nil {
		wb.sendJSONError(w, "failed to save auth", http.StatusInternalServerError)
		return
	}
	request.JSONResponse(w, map[string]any{"success": true, "api_token": auth.APIToken}, http.StatusCreated)
}

func (wb *Web) handleRefreshAPIToken(w http.ResponseWriter, r *http.Request) {
	token, err := wb.refreshAPIToken()
	if err != nil {
		wb.sendJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	request.JSONResponse(w, map[string]string{"api_token": token}, http.StatusOK)
}

func (wb *Web) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !wb.cfg.UseAuth {
			next.ServeHTTP(w, r)
			return
		}
		if wb.cfg.NeedsAuth() {
			wb.sendJSONError(w, "authentication setup required", http.StatusUnauthorized)
			return
		}
		if wb.isValidAPIToken(r) {
			next.ServeHTTP(w, r)
			return
		}

		session, _ := wb.cookie.Get(r, "auth-session")
		auth, ok := session.Values["authenticated"].(bool)
		if !ok || !auth {
			wb.sendJSONError(w, "authentication required: provide a Bearer token or log in", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isValidAPIToken accepts both "Bearer <token>" and "Token <token>".
func (wb *Web) isValidAPIToken(r *http.Request) bool {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return false
	}
	var token string
	switch {
	case strings.HasPrefix(authHeader, "Bearer "):
		token = strings.TrimPrefix(authHeader, "Bearer ")
	case strings.HasPrefix(authHeader, "Token "):
		token = strings.TrimPrefix(authHeader, "Token ")
	default:
		return false
	}
	if token == "" {
		return false
	}
	auth := wb.cfg.GetAuth()
	if auth == nil || auth.APIToken == "" {
		return false
	}
	return token == auth.APIToken
}

func generateAPIToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func (wb *Web) refreshAPIToken() (string, error) {
	auth := wb.cfg.GetAuth()
	if auth == nil {
		return "", fmt.Errorf("authentication not configured")
	}
	token, err := generateAPIToken()
	if err != nil {
		return "", err
	}
	auth.APIToken = token
	if err := wb.cfg.SaveAuth(auth); err != nil {
		return "", err
	}
	return token, nil
}
