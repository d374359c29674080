package auth

import (
	"log/slog"
	"net/http"
)

type RBACAuthorization struct {
	logger *slog.Logger
}

func NewRBACAuthorization(logger *slog.Logger) *RBACAuthorization {
	return &RBACAuthorization{logger: logger}
}

// RequireRole lets the request through when the caller holds any of roles.
func (ra *RBACAuthorization) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				ra.logger.Warn("authorization check failed: user not found in context")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			for _, role := range roles {
				if user.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}

			ra.logger.WarnContext(r.Context(), "access denied: missing role",
				"user_id", user.ID,
				"required_roles", roles,
				"user_roles", user.Roles)
			http.Error(w, "Forbidden: insufficient permissions", http.StatusForbidden)
		})
	}
}

func (ra *RBACAuthorization) RequireApprover() func(http.Handler) http.Handler {
	return ra.RequireRole(RoleApprover, RoleAdmin)
}
