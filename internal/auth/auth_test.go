package auth_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/frahmantamala/purchase-approval/internal/auth"
	"github.com/frahmantamala/purchase-approval/pkg/logger"
)

func TestAuth(t *testing.T) {
	gomega.RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "Auth Module Suite")
}

const testSecret = "test-secret-key-with-at-least-32-characters"

func signToken(secret string, claims *auth.Claims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return s
}

func approverClaims(ttl time.Duration) *auth.Claims {
	return &auth.Claims{
		UserID: "u-42",
		Email:  "dana@example.com",
		Name:   "Dana Approver",
		Title:  "Finance Lead",
		Roles:  []string{auth.RoleApprover},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "idp",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

var _ = ginkgo.Describe("TokenVerifier", func() {
	var verifier *auth.TokenVerifier

	ginkgo.BeforeEach(func() {
		verifier = auth.NewTokenVerifier(testSecret, "idp")
	})

	ginkgo.It("should accept a valid token and expose the user", func() {
		claims, err := verifier.ValidateAccessToken(signToken(testSecret, approverClaims(time.Hour)))
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		user := claims.User()
		gomega.Expect(user.ID).To(gomega.Equal("u-42"))
		gomega.Expect(user.IsApprover()).To(gomega.BeTrue())
	})

	ginkgo.It("should report expired tokens", func() {
		_, err := verifier.ValidateAccessToken(signToken(testSecret, approverClaims(-time.Minute)))
		gomega.Expect(err).To(gomega.Equal(auth.ErrTokenExpired))
	})

	ginkgo.It("should reject tokens signed with another secret", func() {
		_, err := verifier.ValidateAccessToken(signToken("another-secret-key-with-32-characters!!", approverClaims(time.Hour)))
		gomega.Expect(err).To(gomega.Equal(auth.ErrInvalidToken))
	})

	ginkgo.It("should reject a foreign issuer", func() {
		c := approverClaims(time.Hour)
		c.Issuer = "someone-else"
		_, err := verifier.ValidateAccessToken(signToken(testSecret, c))
		gomega.Expect(err).To(gomega.Equal(auth.ErrInvalidToken))
	})

	ginkgo.It("should reject garbage and empty tokens", func() {
		_, err := verifier.ValidateAccessToken("invalid.token")
		gomega.Expect(err).To(gomega.Equal(auth.ErrInvalidToken))
		_, err = verifier.ValidateAccessToken("")
		gomega.Expect(err).To(gomega.Equal(auth.ErrInvalidToken))
	})
})

var _ = ginkgo.Describe("Middleware", func() {
	var (
		handler *auth.Handler
		rbac    *auth.RBACAuthorization
		seen    *auth.User
		scoped  *slog.Logger
		next    http.Handler
	)

	ginkgo.BeforeEach(func() {
		handler = auth.NewHandler(auth.NewTokenVerifier(testSecret, ""))
		rbac = auth.NewRBACAuthorization(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
		seen = nil
		scoped = nil
		next = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = auth.UserFromContext(r.Context())
			scoped = logger.FromOr(r.Context(), nil)
			w.WriteHeader(http.StatusNoContent)
		})
	})

	ginkgo.Context("AuthMiddleware", func() {
		ginkgo.It("should reject a request without a bearer token", func() {
			rec := httptest.NewRecorder()
			handler.AuthMiddleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusUnauthorized))
			gomega.Expect(seen).To(gomega.BeNil())
		})

		ginkgo.It("should put the user on the context", func() {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+signToken(testSecret, approverClaims(time.Hour)))
			rec := httptest.NewRecorder()

			handler.AuthMiddleware(next).ServeHTTP(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusNoContent))
			gomega.Expect(seen).NotTo(gomega.BeNil())
			gomega.Expect(seen.Name).To(gomega.Equal("Dana Approver"))
			gomega.Expect(seen.ID).To(gomega.Equal("u-42"))
			gomega.Expect(scoped).NotTo(gomega.BeNil())
		})
	})

	ginkgo.Context("RequireApprover", func() {
		ginkgo.It("should forbid employees", func() {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: "e1", Roles: []string{auth.RoleEmployee}}))
			rec := httptest.NewRecorder()

			rbac.RequireApprover()(next).ServeHTTP(rec, req)
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusForbidden))
		})

		ginkgo.It("should allow admins", func() {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: "a1", Roles: []string{auth.RoleAdmin}}))
			rec := httptest.NewRecorder()

			rbac.RequireApprover()(next).ServeHTTP(rec, req)
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusNoContent))
		})

		ginkgo.It("should reject anonymous callers", func() {
			rec := httptest.NewRecorder()
			rbac.RequireApprover()(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusUnauthorized))
		})
	})
})
