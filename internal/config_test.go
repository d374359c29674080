package internal_test

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/purchase-approval/internal"
)

func TestInternal(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Internal Suite")
}

func validConfig() *internal.Config {
	cfg := &internal.Config{
		Server: internal.ServerConfig{
			Port:              8080,
			AllowedOrigins:    "*",
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
		},
		Database: internal.DatabaseConfig{MaxOpenConns: 10, MaxIdleConns: 5},
		Security: internal.SecurityConfig{JWTSecret: "0123456789abcdef0123456789abcdef"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func setEnv(key, value string) {
	old, had := os.LookupEnv(key)
	Expect(os.Setenv(key, value)).To(Succeed())
	DeferCleanup(func() {
		if had {
			_ = os.Setenv(key, old)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

var _ = Describe("Config", func() {
	Describe("ApplyDefaults", func() {
		It("fills vendor, vision and matching defaults", func() {
			cfg := &internal.Config{}
			cfg.ApplyDefaults()

			Expect(cfg.Vendor.BaseURL).To(Equal(internal.DefaultVendorBaseURL))
			Expect(cfg.Vendor.FamilyName).To(Equal("GoDaddy"))
			Expect(cfg.Vendor.LookbackDays).To(Equal(30))
			Expect(cfg.Vision.Model).To(Equal("gpt-4o"))
			Expect(cfg.Vision.MaxImageBytes).To(Equal(int64(20 * 1024 * 1024)))
			Expect(cfg.Matching.MatchThreshold).To(Equal(50))
			Expect(cfg.Matching.AutoLinkThreshold).To(Equal(70))
			Expect(cfg.Observability.Logging.Format).To(Equal("text"))
		})

		It("keeps explicit values", func() {
			cfg := &internal.Config{Matching: internal.MatchingConfig{MatchThreshold: 60, AutoLinkThreshold: 90}}
			cfg.ApplyDefaults()

			Expect(cfg.Matching.MatchThreshold).To(Equal(60))
			Expect(cfg.Matching.AutoLinkThreshold).To(Equal(90))
		})
	})

	Describe("Validate", func() {
		It("accepts a complete configuration", func() {
			Expect(validConfig().Validate()).To(Succeed())
		})

		It("rejects a short jwt secret", func() {
			cfg := validConfig()
			cfg.Security.JWTSecret = "short"
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("jwt secret must be at least 32 characters")))
		})

		It("rejects an auto-link threshold below the match threshold", func() {
			cfg := validConfig()
			cfg.Matching.AutoLinkThreshold = 40
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("auto_link_threshold")))
		})

		It("reports every failing section together", func() {
			cfg := validConfig()
			cfg.Database.MaxIdleConns = 50
			cfg.Security.JWTSecret = ""
			err := cfg.Validate()
			Expect(err).To(MatchError(ContainSubstring("database config")))
			Expect(err).To(MatchError(ContainSubstring("security config")))
		})

		It("treats missing vendor, vision and storage credentials as not configured", func() {
			cfg := validConfig()
			Expect(cfg.Validate()).To(Succeed())
			Expect(cfg.Vendor.Configured()).To(BeFalse())
			Expect(cfg.Vision.Configured()).To(BeFalse())
			Expect(cfg.Storage.Configured()).To(BeFalse())
		})
	})

	Describe("GormConfig", func() {
		It("translates driver errors into gorm sentinels", func() {
			Expect(validConfig().Database.GormConfig().TranslateError).To(BeTrue())
		})
	})

	Describe("LoadConfigFromEnv", func() {
		It("reads plain environment variables", func() {
			setEnv("PORT", "9090")
			setEnv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
			setEnv("GODADDY_API_KEY", "key")
			setEnv("GODADDY_API_SECRET", "secret")
			setEnv("OPENAI_TIMEOUT", "45s")
			setEnv("MINIO_ENDPOINT", "minio:9000")
			setEnv("MINIO_USE_SSL", "true")
			setEnv("AUTO_LINK_THRESHOLD", "80")

			cfg := internal.LoadConfigFromEnv()

			Expect(cfg.Server.Port).To(Equal(9090))
			Expect(cfg.Vendor.Configured()).To(BeTrue())
			Expect(cfg.Vision.Timeout).To(Equal(45 * time.Second))
			Expect(cfg.Storage.Endpoint).To(Equal("minio:9000"))
			Expect(cfg.Storage.Bucket).To(Equal("receipts"))
			Expect(cfg.Storage.UseSSL).To(BeTrue())
			Expect(cfg.Matching.AutoLinkThreshold).To(Equal(80))
			Expect(cfg.Validate()).To(Succeed())
		})

		It("ignores malformed numbers", func() {
			setEnv("PORT", "not-a-port")
			Expect(internal.LoadConfigFromEnv().Server.Port).To(Equal(8080))
		})
	})
})

var _ = Describe("AppError", func() {
	It("maps domain errors to their HTTP status", func() {
		status, _ := internal.ErrRequestNotFound.ToHTTPResponse()
		Expect(status).To(Equal(http.StatusNotFound))

		status, _ = internal.ErrUnauthorizedAccess.ToHTTPResponse()
		Expect(status).To(Equal(http.StatusForbidden))

		status, _ = internal.NewExternalError("vendor down", errors.New("boom")).ToHTTPResponse()
		Expect(status).To(Equal(http.StatusBadGateway))
	})

	It("gives every domain sentinel its own code", func() {
		sentinels := []*internal.AppError{
			internal.ErrRequestNotFound, internal.ErrReceiptNotFound, internal.ErrAnalysisNotFound,
			internal.ErrSyncRunNotFound, internal.ErrUnauthorizedAccess, internal.ErrInvalidRequestStatus,
			internal.ErrRequestImmutable, internal.ErrRequestAlreadyLinked, internal.ErrReceiptStatusInvalid,
			internal.ErrInvalidToken, internal.ErrTokenExpired,
		}
		codes := map[internal.ErrorCode]bool{}
		for _, e := range sentinels {
			codes[e.Code] = true
		}
		Expect(codes).To(HaveLen(len(sentinels)))
	})

	It("is found through wrapping", func() {
		err := fmt.Errorf("loading: %w", internal.ErrReceiptNotFound)
		appErr, ok := internal.IsAppError(err)
		Expect(ok).To(BeTrue())
		Expect(appErr.StatusCode).To(Equal(http.StatusNotFound))
	})

	It("keeps the cause reachable", func() {
		cause := errors.New("connection reset")
		err := internal.NewInternalError("failed to save", cause)
		Expect(errors.Is(err, cause)).To(BeTrue())
	})
})
