package user

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// Well-known groups.
const (
	GroupAdmin = "admin"
	GroupUser  = "user"
)

// User is the identity a request runs as.
type User struct {
	ID     string   `json:"id"`
	Email  string   `json:"email"`
	Groups []string `json:"group_memberships"`
}

// InGroup reports whether u belongs to any of groups.
func (u *User) InGroup(groups ...string) bool {
	for _, g := range groups {
		if slices.Contains(u.Groups, g) {
			return true
		}
	}
	return false
}

// IsAdmin reports whether u is in the admin group.
func (u *User) IsAdmin() bool { return u.InGroup(GroupAdmin) }

// Resolver determines the user behind a request. It performs no
// authentication of its own.
type Resolver interface {
	Resolve(r *http.Request) (*User, error)
}

// CookieResolver trusts an email cookie, falling back to a guest identity.
type CookieResolver struct {
	CookieName   string
	DefaultEmail string
	AdminEmails  []string
}

// Resolve implements Resolver.
func (c *CookieResolver) Resolve(r *http.Request) (*User, error) {
	email := c.DefaultEmail
	if ck, err := r.Cookie(c.CookieName); err == nil && strings.TrimSpace(ck.Value) != "" {
		email = strings.TrimSpace(ck.Value)
	}
	group := GroupUser
	if slices.Contains(c.AdminEmails, email) {
		group = GroupAdmin
	}
	return &User{ID: email, Email: email, Groups: []string{group}}, nil
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying u.
func NewContext(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext returns the user stored by Middleware, if any.
func FromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(ctxKey{}).(*User)
	return u, ok
}

// Middleware resolves the user for every request and stores it in the
// request context. Resolution failures are answered with 401.
func Middleware(res Resolver, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, err := res.Resolve(r)
			if err != nil {
				logger.Warn("user resolution failed", zap.Error(err))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), u)))
		})
	}
}
