package auth

import (
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/halayachts/admin/httpx"
	"github.com/halayachts/admin/rbac"
)

var (
	// ErrRateLimited is returned when a client exceeds its login budget.
	ErrRateLimited = errors.New("too many login attempts")
	// ErrLocked is returned while an account is locked out.
	ErrLocked = errors.New("account temporarily locked")
)

// Messages returned to the client.
const (
	MessageInvalidCredentials = "Invalid email or password"
	MessageTooManyAttempts    = "Too many login attempts. Please try again later."
)

// Handler manages password login and the session lifecycle.
type Handler struct {
	sessions *SessionManager
	verifier *Verifier
	limiter  *Limiter
	logger   *zap.Logger
}

// NewHandler constructs an auth handler.
func NewHandler(sessions *SessionManager, verifier *Verifier, limiter *Limiter, logger *zap.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		verifier: verifier,
		limiter:  limiter,
		logger:   logger,
	}
}

// Routes exposes the auth endpoints.
func (h *Handler) Routes(enforcer *rbac.Enforcer) chi.Router {
	r := chi.NewRouter()
	r.Post("/login", h.login)
	r.Post("/logout", h.logout)
	r.With(enforcer.Authorize(rbac.PermissionViewSession)).Get("/session", h.sessionInfo)
	return r
}

// LoginError carries how long the caller should wait before retrying.
type LoginError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *LoginError) Error() string { return e.Err.Error() }
func (e *LoginError) Unwrap() error { return e.Err }

// RetryAfterSeconds is the Retry-After header value, rounded up.
func (e *LoginError) RetryAfterSeconds() string {
	return strconv.Itoa(int(math.Ceil(e.RetryAfter.Seconds())))
}

// Login checks the attempt budget, verifies the credentials and issues a
// session cookie on success.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request, email, password string) (*Claims, error) {
	ip := clientIP(r)
	if !h.limiter.AllowIP(ip) {
		h.logger.Warn("login rate limited", zap.String("ip", ip))
		return nil, &LoginError{Err: ErrRateLimited, RetryAfter: time.Minute}
	}

	if remaining, locked := h.limiter.Locked(email); locked {
		h.logger.Warn("login attempt on locked account", zap.String("email", normalizeEmail(email)), zap.String("ip", ip))
		return nil, &LoginError{Err: ErrLocked, RetryAfter: remaining}
	}

	account, err := h.verifier.Verify(email, password)
	if err != nil {
		if h.limiter.RecordFailure(email) {
			h.logger.Warn("account locked after repeated failures", zap.String("email", normalizeEmail(email)))
		}
		h.logger.Info("login failed", zap.String("email", normalizeEmail(email)), zap.String("ip", ip))
		return nil, err
	}
	h.limiter.RecordSuccess(email)

	claims, err := h.sessions.Issue(w, r, Claims{
		Email: account.Email,
		Roles: []string{string(account.Role)},
	})
	if err != nil {
		h.logger.Error("failed to issue session", zap.Error(err))
		return nil, err
	}

	h.logger.Info("login succeeded", zap.String("email", account.Email), zap.String("ip", ip))
	return claims, nil
}

// Logout clears the current session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if claims := FromContext(r.Context()); claims != nil {
		h.logger.Info("logout", zap.String("email", claims.Email))
	}
	h.sessions.Clear(w, r)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Success   bool     `json:"success"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
	ExpiresAt int64    `json:"expires_at"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var payload loginRequest
	if err := httpx.DecodeJSON(w, r, &payload); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	if strings.TrimSpace(payload.Email) == "" || payload.Password == "" {
		httpx.Error(w, http.StatusBadRequest, "email and password are required")
		return
	}

	claims, err := h.Login(w, r, payload.Email, payload.Password)
	if err != nil {
		WriteLoginError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, sessionResponse{
		Success:   true,
		Email:     claims.Email,
		Roles:     claims.Roles,
		ExpiresAt: claims.ExpiresAt,
	})
}

// WriteLoginError maps a Login error to its JSON response.
func WriteLoginError(w http.ResponseWriter, err error) {
	var loginErr *LoginError
	switch {
	case errors.As(err, &loginErr):
		w.Header().Set("Retry-After", loginErr.RetryAfterSeconds())
		httpx.Error(w, http.StatusTooManyRequests, MessageTooManyAttempts)
	case errors.Is(err, ErrInvalidCredentials):
		httpx.Error(w, http.StatusUnauthorized, MessageInvalidCredentials)
	default:
		httpx.Error(w, http.StatusInternalServerError, "failed to create session")
	}
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	h.Logout(w, r)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) sessionInfo(w http.ResponseWriter, r *http.Request) {
	claims := FromContext(r.Context())
	if claims == nil {
		httpx.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, sessionResponse{
		Success:   true,
		Email:     claims.Email,
		Roles:     claims.Roles,
		ExpiresAt: claims.ExpiresAt,
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
