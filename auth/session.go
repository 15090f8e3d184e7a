package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"

	"github.com/halayachts/admin/rbac"
)

// Claims represents the authenticated admin carried by a session cookie.
// Roles are expressed as their canonical lowercase string value.
type Claims struct {
	SessionID string   `json:"-"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
	IssuedAt  int64    `json:"iat"`
	ExpiresAt int64    `json:"exp"`
}

// RoleSet converts the claim roles for the RBAC enforcer.
func (c *Claims) RoleSet() []rbac.Role {
	roles := make([]rbac.Role, 0, len(c.Roles))
	for _, role := range c.Roles {
		roles = append(roles, rbac.Role(role))
	}
	return roles
}

type contextKey string

const claimsKey contextKey = "authClaims"

const (
	sessionCookieName = "hala_admin_session"
	flashCookieName   = "hala_admin_flash"
	sessionLifetime   = 24 * time.Hour
)

// Session value keys.
const (
	keySessionID = "sid"
	keyEmail     = "email"
	keyRoles     = "roles"
	keyIssuedAt  = "iat"
	keyExpiresAt = "exp"
)

// SessionManager signs and encrypts admin sessions into cookies and checks
// every presented session against the server-side registry.
type SessionManager struct {
	store    *sessions.CookieStore
	registry *Registry
	lifetime time.Duration
	now      func() time.Time
}

// NewSessionManager constructs a session manager whose signing and
// encryption keys are derived from secret. The secret is required and should
// be randomly generated for production deployments.
func NewSessionManager(secret string, secure bool) (*SessionManager, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, errors.New("session secret must be configured")
	}

	hashKey := sha256.Sum256([]byte("auth:" + trimmed))
	blockKey := sha256.Sum256([]byte("enc:" + trimmed))

	store := sessions.NewCookieStore(hashKey[:], blockKey[:])
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(sessionLifetime / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}

	return &SessionManager{
		store:    store,
		registry: NewRegistry(),
		lifetime: sessionLifetime,
		now:      time.Now,
	}, nil
}

// Issue creates a session for the supplied claims and writes it to the
// response. The claims are returned with their id and timestamps filled in.
func (m *SessionManager) Issue(w http.ResponseWriter, r *http.Request, claims Claims) (*Claims, error) {
	now := m.now()
	claims.SessionID = uuid.NewString()
	claims.IssuedAt = now.Unix()
	claims.ExpiresAt = now.Add(m.lifetime).Unix()

	// New never fails hard; an undecodable old cookie just yields a fresh session.
	sess, _ := m.store.New(r, sessionCookieName)
	sess.Values[keySessionID] = claims.SessionID
	sess.Values[keyEmail] = claims.Email
	sess.Values[keyRoles] = strings.Join(claims.Roles, ",")
	sess.Values[keyIssuedAt] = claims.IssuedAt
	sess.Values[keyExpiresAt] = claims.ExpiresAt

	if err := sess.Save(r, w); err != nil {
		return nil, err
	}

	m.registry.Register(claims.SessionID, time.Unix(claims.ExpiresAt, 0))
	return &claims, nil
}

// Clear revokes the current session, if any, and expires the cookie.
func (m *SessionManager) Clear(w http.ResponseWriter, r *http.Request) {
	if claims, ok := m.load(r); ok {
		m.registry.Revoke(claims.SessionID)
	}

	sess, _ := m.store.New(r, sessionCookieName)
	sess.Options.MaxAge = -1
	_ = sess.Save(r, w)
}

// Middleware attaches claims from the inbound session, if present and valid.
// Invalid, expired or revoked sessions are treated as absent.
func (m *SessionManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := m.load(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

// RequireSession redirects requests without a session to loginPath before
// any protected content is rendered.
func RequireSession(loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if FromContext(r.Context()) == nil {
				http.Redirect(w, r, loginPath, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Roles resolves the session roles of a request for the RBAC enforcer.
func Roles(r *http.Request) []rbac.Role {
	claims := FromContext(r.Context())
	if claims == nil {
		return nil
	}
	return claims.RoleSet()
}

// FromContext retrieves the active session claims, if any.
func FromContext(ctx context.Context) *Claims {
	if ctx == nil {
		return nil
	}
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}

func withClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func (m *SessionManager) load(r *http.Request) (*Claims, bool) {
	if _, err := r.Cookie(sessionCookieName); err != nil {
		return nil, false
	}

	sess, err := m.store.Get(r, sessionCookieName)
	if err != nil || sess.IsNew {
		return nil, false
	}

	sid, _ := sess.Values[keySessionID].(string)
	email, _ := sess.Values[keyEmail].(string)
	roles, _ := sess.Values[keyRoles].(string)
	issuedAt, _ := sess.Values[keyIssuedAt].(int64)
	expiresAt, _ := sess.Values[keyExpiresAt].(int64)

	if sid == "" || email == "" {
		return nil, false
	}
	if expiresAt <= m.now().Unix() {
		return nil, false
	}
	if !m.registry.Active(sid) {
		return nil, false
	}

	claims := &Claims{
		SessionID: sid,
		Email:     email,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}
	if roles != "" {
		claims.Roles = strings.Split(roles, ",")
	}
	return claims, true
}

// Flash kinds.
const (
	FlashSuccess = "success"
	FlashError   = "error"
	FlashInfo    = "info"
)

// Flash is a one-shot notification shown on the next rendered page.
type Flash struct {
	Kind    string
	Message string
}

// AddFlash queues a notification for the next page render.
func (m *SessionManager) AddFlash(w http.ResponseWriter, r *http.Request, kind, message string) error {
	sess, _ := m.store.Get(r, flashCookieName)
	sess.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		Secure:   m.store.Options.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	sess.AddFlash(kind + "|" + message)
	return sess.Save(r, w)
}

// Flashes drains queued notifications.
func (m *SessionManager) Flashes(w http.ResponseWriter, r *http.Request) []Flash {
	if _, err := r.Cookie(flashCookieName); err != nil {
		return nil
	}
	sess, err := m.store.Get(r, flashCookieName)
	if err != nil {
		return nil
	}

	raw := sess.Flashes()
	if len(raw) == 0 {
		return nil
	}
	_ = sess.Save(r, w)

	flashes := make([]Flash, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			continue
		}
		kind, message, found := strings.Cut(s, "|")
		if !found {
			kind, message = FlashInfo, s
		}
		flashes = append(flashes, Flash{Kind: kind, Message: message})
	}
	return flashes
}
