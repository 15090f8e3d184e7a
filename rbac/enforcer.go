package rbac

import (
	"net/http"

	"github.com/halayachts/admin/httpx"
)

// RoleResolver extracts roles for the current request context.
type RoleResolver func(r *http.Request) []Role

// Enforcer applies the permission matrix to HTTP requests.
type Enforcer struct {
	resolve RoleResolver
	matrix  map[Permission][]Role
}

// NewEnforcer constructs an enforcer over RoleMatrix.
func NewEnforcer(resolver RoleResolver) *Enforcer {
	return &Enforcer{resolve: resolver, matrix: RoleMatrix}
}

// Can reports whether the caller of r holds permission.
func (e *Enforcer) Can(r *http.Request, permission Permission) bool {
	return hasIntersection(e.resolve(r), e.matrix[permission])
}

// Authorize rejects callers without a session with 401 and callers whose
// roles do not grant permission with 403.
func (e *Enforcer) Authorize(permission Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			roles := e.resolve(r)
			switch {
			case len(roles) == 0:
				httpx.Error(w, http.StatusUnauthorized, "authentication required")
			case !hasIntersection(roles, e.matrix[permission]):
				httpx.Error(w, http.StatusForbidden, "insufficient permissions")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
