// Package web serves the server-rendered admin pages.
package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	"github.com/halayachts/admin/auth"
	"github.com/halayachts/admin/rbac"
	"github.com/halayachts/admin/store"
	"github.com/halayachts/admin/view"
)

// Paths relative to the host, used for redirects and form actions.
const (
	LoginPath       = "/admin"
	DashboardPath   = "/admin/dashboard"
	SubscribersPath = "/admin/dashboard/subscribers"
)

// Page copy not owned by the subscriber view.
const (
	MessageCredentialsRequired = "Email and password are required"
	MessageLoginFailed         = "Login failed. Please try again."
	MessageSignedOut           = "You have been signed out"
	MessageForbidden           = "You do not have permission to delete subscribers"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pageNames = []string{"login", "dashboard", "subscribers"}

// Options wires the pages to the rest of the server.
type Options struct {
	Sessions     *auth.SessionManager
	Auth         *auth.Handler
	Subscribers  store.SubscriberStore
	Location     *time.Location
	StoreTimeout time.Duration
	Logger       *zap.Logger
	// Enforcer decides which page actions are offered. Defaults to the
	// session roles over rbac.RoleMatrix.
	Enforcer *rbac.Enforcer
	// Protect wraps every page route, normally with CSRF middleware.
	Protect func(http.Handler) http.Handler
}

// Handler renders the admin pages.
type Handler struct {
	sessions    *auth.SessionManager
	auth        *auth.Handler
	subscribers store.SubscriberStore
	loc         *time.Location
	timeout     time.Duration
	logger      *zap.Logger
	enforcer    *rbac.Enforcer
	protect     func(http.Handler) http.Handler
	pages       map[string]*template.Template
}

// NewHandler parses the embedded templates.
func NewHandler(opts Options) (*Handler, error) {
	if opts.Sessions == nil || opts.Auth == nil || opts.Subscribers == nil {
		return nil, errors.New("web: sessions, auth and subscribers are required")
	}

	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tpl, err := template.ParseFS(templatesFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		pages[name] = tpl
	}

	h := &Handler{
		sessions:    opts.Sessions,
		auth:        opts.Auth,
		subscribers: opts.Subscribers,
		loc:         opts.Location,
		timeout:     opts.StoreTimeout,
		logger:      opts.Logger,
		enforcer:    opts.Enforcer,
		protect:     opts.Protect,
		pages:       pages,
	}
	if h.loc == nil {
		h.loc = time.UTC
	}
	if h.timeout <= 0 {
		h.timeout = 5 * time.Second
	}
	if h.enforcer == nil {
		h.enforcer = rbac.NewEnforcer(auth.Roles)
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	return h, nil
}

// Routes configures the page routes. Mount it at LoginPath.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	if h.protect != nil {
		r.Use(h.protect)
	}

	r.Get("/", h.loginPage)
	r.Post("/login", h.login)
	r.Post("/logout", h.logout)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireSession(LoginPath))
		r.Get("/dashboard", h.dashboard)
		r.Get("/dashboard/subscribers", h.subscriberList)
		r.Post("/dashboard/subscribers/delete", h.deleteSubscriber)
	})
	return r
}

// CSRF protects the page forms. Over plain HTTP the origin checks are told
// not to expect TLS.
func CSRF(key []byte, secure bool) func(http.Handler) http.Handler {
	protect := csrf.Protect(
		key,
		csrf.Secure(secure),
		csrf.Path(LoginPath),
		csrf.CookieName("hala_admin_csrf"),
	)
	return func(next http.Handler) http.Handler {
		protected := protect(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !secure {
				r = csrf.PlaintextHTTPRequest(r)
			}
			protected.ServeHTTP(w, r)
		})
	}
}

type pageData struct {
	Title     string
	Email     string
	CSRFField template.HTML
	Flashes   []auth.Flash
	Error     string
	FormEmail string
	List      view.Snapshot
	CanManage bool
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, page string, status int, data pageData) {
	tpl, ok := h.pages[page]
	if !ok {
		http.Error(w, "page not found", http.StatusNotFound)
		return
	}

	if claims := auth.FromContext(r.Context()); claims != nil {
		data.Email = claims.Email
	}
	data.CSRFField = csrf.TemplateField(r)
	data.Flashes = h.sessions.Flashes(w, r)

	var buf bytes.Buffer
	if err := tpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		h.logger.Error("render page", zap.String("page", page), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) flash(w http.ResponseWriter, r *http.Request, kind, message string) {
	if err := h.sessions.AddFlash(w, r, kind, message); err != nil {
		h.logger.Warn("store flash", zap.Error(err))
	}
}

func (h *Handler) loginPage(w http.ResponseWriter, r *http.Request) {
	if auth.FromContext(r.Context()) != nil {
		http.Redirect(w, r, DashboardPath, http.StatusSeeOther)
		return
	}
	h.render(w, r, "login", http.StatusOK, pageData{Title: "Login"})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render(w, r, "login", http.StatusBadRequest, pageData{Title: "Login", Error: MessageLoginFailed})
		return
	}

	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")
	data := pageData{Title: "Login", FormEmail: email}
	if email == "" || password == "" {
		data.Error = MessageCredentialsRequired
		h.render(w, r, "login", http.StatusBadRequest, data)
		return
	}

	if _, err := h.auth.Login(w, r, email, password); err != nil {
		var loginErr *auth.LoginError
		switch {
		case errors.As(err, &loginErr):
			w.Header().Set("Retry-After", loginErr.RetryAfterSeconds())
			data.Error = auth.MessageTooManyAttempts
			h.render(w, r, "login", http.StatusTooManyRequests, data)
		case errors.Is(err, auth.ErrInvalidCredentials):
			data.Error = auth.MessageInvalidCredentials
			h.render(w, r, "login", http.StatusUnauthorized, data)
		default:
			data.Error = MessageLoginFailed
			h.render(w, r, "login", http.StatusInternalServerError, data)
		}
		return
	}

	http.Redirect(w, r, DashboardPath, http.StatusSeeOther)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	h.auth.Logout(w, r)
	h.flash(w, r, auth.FlashInfo, MessageSignedOut)
	http.Redirect(w, r, LoginPath, http.StatusSeeOther)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "dashboard", http.StatusOK, pageData{Title: "Dashboard"})
}

func (h *Handler) subscriberList(w http.ResponseWriter, r *http.Request) {
	list := view.NewSubscriberList(h.loc)
	snapshot := list.Load(r.Context(), func(ctx context.Context) ([]store.Subscriber, error) {
		ctx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		return h.subscribers.List(ctx)
	})
	if snapshot.State == view.StateError {
		h.logger.Warn("subscriber page rendered without data")
	}

	h.render(w, r, "subscribers", http.StatusOK, pageData{
		Title:     "Newsletter Subscribers",
		List:      snapshot,
		CanManage: h.enforcer.Can(r, rbac.PermissionManageSubscribers),
	})
}

func (h *Handler) deleteSubscriber(w http.ResponseWriter, r *http.Request) {
	defer http.Redirect(w, r, SubscribersPath, http.StatusSeeOther)

	if !h.enforcer.Can(r, rbac.PermissionManageSubscribers) {
		h.flash(w, r, auth.FlashError, MessageForbidden)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.flash(w, r, auth.FlashError, view.MessageDeleteFailed)
		return
	}
	email := strings.TrimSpace(r.PostFormValue("email"))
	if email == "" {
		h.flash(w, r, auth.FlashError, view.MessageDeleteFailed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	deleted, err := h.subscribers.DeleteByEmail(ctx, email)
	switch {
	case err != nil:
		h.logger.Error("delete subscriber", zap.String("email", store.NormalizeEmail(email)), zap.Error(err))
		h.flash(w, r, auth.FlashError, view.MessageDeleteFailed)
	case deleted == 0:
		h.flash(w, r, auth.FlashInfo, view.MessageNotFound)
	default:
		h.logger.Info("subscriber deleted", zap.String("email", store.NormalizeEmail(email)), zap.Int64("deleted", deleted))
		h.flash(w, r, auth.FlashSuccess, view.MessageDeleted)
	}
}
