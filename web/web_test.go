package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/halayachts/admin/auth"
	"github.com/halayachts/admin/rbac"
	"github.com/halayachts/admin/store"
)

const (
	adminEmail    = "admin@halayachts.com"
	adminPassword = "correct horse battery"
	viewerEmail   = "crew@halayachts.com"
)

type fakeSubscribers struct {
	subs    []store.Subscriber
	listErr error
	deleted []string
}

func (f *fakeSubscribers) List(context.Context) ([]store.Subscriber, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]store.Subscriber, len(f.subs))
	copy(out, f.subs)
	return out, nil
}

func (f *fakeSubscribers) DeleteByEmail(_ context.Context, email string) (int64, error) {
	var n int64
	kept := f.subs[:0]
	for _, s := range f.subs {
		if store.NormalizeEmail(s.Email) == store.NormalizeEmail(email) {
			n++
			continue
		}
		kept = append(kept, s)
	}
	f.subs = kept
	f.deleted = append(f.deleted, email)
	return n, nil
}

// browser replays cookies between requests.
type browser struct {
	t       *testing.T
	handler http.Handler
	cookies map[string]*http.Cookie
}

func (b *browser) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	b.t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for _, c := range b.cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	b.handler.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
	return rec
}

func (b *browser) login(email, password string) *httptest.ResponseRecorder {
	b.t.Helper()
	return b.do(http.MethodPost, "/admin/login", url.Values{"email": {email}, "password": {password}})
}

func newBrowser(t *testing.T, subs *fakeSubscribers) *browser {
	t.Helper()
	return newBrowserWith(t, subs, nil)
}

func newBrowserWith(t *testing.T, subs *fakeSubscribers, protect func(http.Handler) http.Handler) *browser {
	t.Helper()

	hash := func(pw string) string {
		h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		return string(h)
	}
	verifier, err := auth.NewVerifier(
		auth.Account{Email: adminEmail, PasswordHash: hash(adminPassword), Role: rbac.RoleAdmin},
		auth.Account{Email: viewerEmail, PasswordHash: hash(adminPassword), Role: rbac.RoleViewer},
	)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	sessions, err := auth.NewSessionManager("web-test-secret", false)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	authHandler := auth.NewHandler(sessions, verifier, auth.NewLimiter(auth.DefaultLimiterConfig), zap.NewNop())

	pages, err := NewHandler(Options{
		Sessions:     sessions,
		Auth:         authHandler,
		Subscribers:  subs,
		Location:     time.UTC,
		StoreTimeout: time.Second,
		Logger:       zap.NewNop(),
		Protect:      protect,
	})
	if err != nil {
		t.Fatalf("pages: %v", err)
	}

	r := chi.NewRouter()
	r.Use(sessions.Middleware)
	r.Mount(LoginPath, pages.Routes())
	return &browser{t: t, handler: r, cookies: map[string]*http.Cookie{}}
}

func sampleSubscribers() *fakeSubscribers {
	return &fakeSubscribers{subs: []store.Subscriber{
		{Email: "guest@example.com", SubscribedAt: "2025-01-15T10:30:00.000Z", Status: "active"},
		{Email: "broken@example.com", SubscribedAt: "not a date"},
	}}
}

func TestProtectedPagesRedirectWithoutSession(t *testing.T) {
	b := newBrowser(t, sampleSubscribers())
	for _, path := range []string{DashboardPath, SubscribersPath} {
		rec := b.do(http.MethodGet, path, nil)
		if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != LoginPath {
			t.Fatalf("%s: expected redirect to login, got %d %q", path, rec.Code, rec.Header().Get("Location"))
		}
		if strings.Contains(rec.Body.String(), "Subscribers") {
			t.Fatalf("%s: protected content rendered", path)
		}
	}
}

func TestLoginFlow(t *testing.T) {
	b := newBrowser(t, sampleSubscribers())

	rec := b.do(http.MethodGet, LoginPath, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Administrator Login") {
		t.Fatalf("expected login page, got %d", rec.Code)
	}

	rec = b.login(adminEmail, "admin123")
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), auth.MessageInvalidCredentials) {
		t.Fatalf("expected invalid credentials page, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `value="admin@halayachts.com"`) {
		t.Fatalf("expected submitted email to be kept")
	}

	rec = b.login(adminEmail, "")
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), MessageCredentialsRequired) {
		t.Fatalf("expected missing credentials page, got %d", rec.Code)
	}

	rec = b.login(adminEmail, adminPassword)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != DashboardPath {
		t.Fatalf("expected redirect to dashboard, got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = b.do(http.MethodGet, DashboardPath, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Manage Subscribers") {
		t.Fatalf("expected dashboard, got %d", rec.Code)
	}

	rec = b.do(http.MethodGet, LoginPath, nil)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != DashboardPath {
		t.Fatalf("signed-in login page should redirect, got %d", rec.Code)
	}
}

func TestLogout(t *testing.T) {
	b := newBrowser(t, sampleSubscribers())
	b.login(adminEmail, adminPassword)

	rec := b.do(http.MethodPost, "/admin/logout", url.Values{})
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != LoginPath {
		t.Fatalf("expected redirect to login, got %d", rec.Code)
	}

	rec = b.do(http.MethodGet, LoginPath, nil)
	if !strings.Contains(rec.Body.String(), MessageSignedOut) {
		t.Fatalf("expected signed out notice")
	}

	rec = b.do(http.MethodGet, DashboardPath, nil)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected dashboard to require login again, got %d", rec.Code)
	}
}

func TestSubscribersPageStates(t *testing.T) {
	cases := []struct {
		name    string
		subs    *fakeSubscribers
		want    []string
		notWant []string
	}{
		{
			name: "loaded",
			subs: sampleSubscribers(),
			want: []string{
				"Total 2 subscribers",
				"guest@example.com",
				"15 Jan 2025, 10:30 am",
				"Invalid Date",
				"badge-active",
				"confirm(",
			},
			notWant: []string{"No subscribers found", "Retry"},
		},
		{
			name:    "empty",
			subs:    &fakeSubscribers{},
			want:    []string{"Total 0 subscribers", "No subscribers found", "Get started by promoting your newsletter."},
			notWant: []string{"Retry", "<table>"},
		},
		{
			name: "error",
			subs: &fakeSubscribers{listErr: store.ErrUnavailable},
			want: []string{
				"Failed to fetch subscribers",
				"Database connection issue. Please try again later.",
				"Retry",
			},
			notWant: []string{"<table>"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newBrowser(t, tc.subs)
			b.login(adminEmail, adminPassword)

			rec := b.do(http.MethodGet, SubscribersPath, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			body := rec.Body.String()
			for _, s := range tc.want {
				if !strings.Contains(body, s) {
					t.Errorf("expected page to contain %q", s)
				}
			}
			for _, s := range tc.notWant {
				if strings.Contains(body, s) {
					t.Errorf("expected page not to contain %q", s)
				}
			}
		})
	}
}

func TestDeleteSubscriber(t *testing.T) {
	subs := sampleSubscribers()
	b := newBrowser(t, subs)
	b.login(adminEmail, adminPassword)

	rec := b.do(http.MethodPost, "/admin/dashboard/subscribers/delete", url.Values{"email": {"guest@example.com"}})
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != SubscribersPath {
		t.Fatalf("expected redirect back to list, got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = b.do(http.MethodGet, SubscribersPath, nil)
	body := rec.Body.String()
	if !strings.Contains(body, "Subscriber deleted successfully") || !strings.Contains(body, "Total 1 subscribers") {
		t.Fatalf("expected refreshed list with success notice, got %s", body)
	}
	if strings.Contains(body, "guest@example.com") {
		t.Fatalf("deleted subscriber still listed")
	}

	b.do(http.MethodPost, "/admin/dashboard/subscribers/delete", url.Values{"email": {"guest@example.com"}})
	rec = b.do(http.MethodGet, SubscribersPath, nil)
	if !strings.Contains(rec.Body.String(), "Subscriber not found") {
		t.Fatalf("expected not found notice")
	}
}

func TestViewerCannotDelete(t *testing.T) {
	subs := sampleSubscribers()
	b := newBrowser(t, subs)
	b.login(viewerEmail, adminPassword)

	rec := b.do(http.MethodGet, SubscribersPath, nil)
	if strings.Contains(rec.Body.String(), "confirm(") {
		t.Fatalf("viewer should not see delete actions")
	}

	b.do(http.MethodPost, "/admin/dashboard/subscribers/delete", url.Values{"email": {"guest@example.com"}})
	if len(subs.deleted) != 0 {
		t.Fatalf("viewer delete reached the store")
	}
	rec = b.do(http.MethodGet, SubscribersPath, nil)
	if !strings.Contains(rec.Body.String(), MessageForbidden) {
		t.Fatalf("expected permission notice")
	}
}

func TestNewHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHandler(Options{}); err == nil {
		t.Fatalf("expected error")
	}
}


var csrfFieldPattern = regexp.MustCompile(`name="gorilla\.csrf\.Token" value="([^"]+)"`)

func csrfToken(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	m := csrfFieldPattern.FindStringSubmatch(rec.Body.String())
	if m == nil {
		t.Fatalf("no CSRF field in page:\n%s", rec.Body.String())
	}
	return m[1]
}

func TestFormsRequireCSRFToken(t *testing.T) {
	subs := sampleSubscribers()
	key := []byte("0123456789abcdef0123456789abcdef")
	b := newBrowserWith(t, subs, CSRF(key, false))

	page := b.do(http.MethodGet, LoginPath, nil)
	if page.Code != http.StatusOK {
		t.Fatalf("expected login page, got %d", page.Code)
	}
	token := csrfToken(t, page)

	rec := b.login(adminEmail, adminPassword)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for login without token, got %d", rec.Code)
	}

	rec = b.do(http.MethodPost, "/admin/login", url.Values{
		"email":              {adminEmail},
		"password":           {adminPassword},
		"gorilla.csrf.Token": {token},
	})
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != DashboardPath {
		t.Fatalf("expected login with token to redirect, got %d", rec.Code)
	}

	page = b.do(http.MethodGet, SubscribersPath, nil)
	if page.Code != http.StatusOK {
		t.Fatalf("expected subscribers page, got %d", page.Code)
	}
	token = csrfToken(t, page)

	rec = b.do(http.MethodPost, "/admin/dashboard/subscribers/delete", url.Values{"email": {"guest@example.com"}})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for delete without token, got %d", rec.Code)
	}
	if len(subs.deleted) != 0 {
		t.Fatalf("delete without token reached the store")
	}

	rec = b.do(http.MethodPost, "/admin/dashboard/subscribers/delete", url.Values{
		"email":              {"guest@example.com"},
		"gorilla.csrf.Token": {token},
	})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected delete with token to redirect, got %d", rec.Code)
	}
	if len(subs.deleted) != 1 {
		t.Fatalf("expected one delete, got %v", subs.deleted)
	}
}
