package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthenticated is returned by a TenantResolver when the request
// carries no tenant identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the caller of a tenant-facing endpoint.
type Identity struct {
	TenantID string
	UserID   string
}

// TenantResolver extracts the caller's identity from a request.
type TenantResolver interface {
	Resolve(r *http.Request) (Identity, error)
}

// HeaderTenantResolver reads X-Tenant-ID and X-User-ID, as set by the
// authenticating gateway in front of the service.
type HeaderTenantResolver struct{}

func (HeaderTenantResolver) Resolve(r *http.Request) (Identity, error) {
	id := Identity{
		TenantID: strings.TrimSpace(r.Header.Get("X-Tenant-ID")),
		UserID:   strings.TrimSpace(r.Header.Get("X-User-ID")),
	}
	if id.TenantID == "" {
		return Identity{}, ErrUnauthenticated
	}
	return id, nil
}

type identityKey struct{}

func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored by the tenant middleware.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func (s *Server) requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.tenants.Resolve(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "tenant authentication required"})
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}
