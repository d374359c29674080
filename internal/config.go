package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security" validate:"required"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Vendor        VendorConfig        `mapstructure:"vendor"`
	Vision        VisionConfig        `mapstructure:"vision"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Matching      MatchingConfig      `mapstructure:"matching"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source"`
}

// GormConfig is the gorm setup shared by the server and the repository tests.
// Driver errors are translated so unique-index clashes surface as
// gorm.ErrDuplicatedKey.
func (c DatabaseConfig) GormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	}
}

// SecurityConfig holds the shared secret used to verify access tokens.
// Tokens are minted by the identity provider, never by this service.
type SecurityConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
	Issuer    string `mapstructure:"issuer"`
}

// VendorConfig points at the vendor order history API (GoDaddy by default).
// Empty credentials leave order sync in the not-configured state.
type VendorConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	APISecret      string        `mapstructure:"api_secret"`
	ShopperID      string        `mapstructure:"shopper_id"`
	FamilyName     string        `mapstructure:"family_name"`
	Timeout        time.Duration `mapstructure:"timeout"`
	PageSize       int           `mapstructure:"page_size"`
	LookbackDays   int           `mapstructure:"lookback_days"`
	ReceiptWorkers int           `mapstructure:"receipt_workers"`
	ReceiptQueue   int           `mapstructure:"receipt_queue"`
}

type VisionConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxImageBytes int64         `mapstructure:"max_image_bytes"`
}

type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type MatchingConfig struct {
	MatchThreshold    int `mapstructure:"match_threshold"`
	AutoLinkThreshold int `mapstructure:"auto_link_threshold"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// ----------------- DEFAULTS -----------------

const (
	DefaultVendorBaseURL     = "https://api.godaddy.com"
	DefaultVendorFamily      = "GoDaddy"
	DefaultVisionModel       = "gpt-4o"
	DefaultMaxImageBytes     = 20 * 1024 * 1024
	DefaultMatchThreshold    = 50
	DefaultAutoLinkThreshold = 70
)

// ApplyDefaults fills zero values that have a sensible fallback.
func (c *Config) ApplyDefaults() {
	if c.Vendor.BaseURL == "" {
		c.Vendor.BaseURL = DefaultVendorBaseURL
	}
	if c.Vendor.FamilyName == "" {
		c.Vendor.FamilyName = DefaultVendorFamily
	}
	if c.Vendor.Timeout <= 0 {
		c.Vendor.Timeout = 15 * time.Second
	}
	if c.Vendor.PageSize <= 0 {
		c.Vendor.PageSize = 100
	}
	if c.Vendor.LookbackDays <= 0 {
		c.Vendor.LookbackDays = 30
	}
	if c.Vision.Model == "" {
		c.Vision.Model = DefaultVisionModel
	}
	if c.Vision.Timeout <= 0 {
		c.Vision.Timeout = 30 * time.Second
	}
	if c.Vision.MaxImageBytes <= 0 {
		c.Vision.MaxImageBytes = DefaultMaxImageBytes
	}
	if c.Matching.MatchThreshold <= 0 {
		c.Matching.MatchThreshold = DefaultMatchThreshold
	}
	if c.Matching.AutoLinkThreshold <= 0 {
		c.Matching.AutoLinkThreshold = DefaultAutoLinkThreshold
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = "text"
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
}

// LoadConfigFromEnv builds the configuration from plain environment
// variables, used for container deployments without a config file.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("PORT", 8080),
			BaseURL:           getEnv("BASE_URL", ""),
			AllowedOrigins:    getEnv("ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("WRITE_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
		},
		Security: SecurityConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", ""),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
		Vendor: VendorConfig{
			BaseURL:        getEnv("GODADDY_BASE_URL", DefaultVendorBaseURL),
			APIKey:         getEnv("GODADDY_API_KEY", ""),
			APISecret:      getEnv("GODADDY_API_SECRET", ""),
			ShopperID:      getEnv("GODADDY_SHOPPER_ID", ""),
			FamilyName:     getEnv("VENDOR_FAMILY", DefaultVendorFamily),
			Timeout:        getEnvAsDuration("GODADDY_TIMEOUT", 15*time.Second),
			PageSize:       getEnvAsInt("GODADDY_PAGE_SIZE", 100),
			LookbackDays:   getEnvAsInt("GODADDY_LOOKBACK_DAYS", 30),
			ReceiptWorkers: getEnvAsInt("RECEIPT_WORKERS", 4),
			ReceiptQueue:   getEnvAsInt("RECEIPT_QUEUE", 100),
		},
		Vision: VisionConfig{
			APIKey:        getEnv("OPENAI_API_KEY", ""),
			BaseURL:       getEnv("OPENAI_BASE_URL", ""),
			Model:         getEnv("OPENAI_MODEL", DefaultVisionModel),
			Timeout:       getEnvAsDuration("OPENAI_TIMEOUT", 30*time.Second),
			MaxImageBytes: int64(getEnvAsInt("MAX_IMAGE_BYTES", DefaultMaxImageBytes)),
		},
		Storage: StorageConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "receipts"),
			Region:    getEnv("MINIO_REGION", ""),
			UseSSL:    getEnv("MINIO_USE_SSL", "false") == "true",
		},
		Matching: MatchingConfig{
			MatchThreshold:    getEnvAsInt("MATCH_THRESHOLD", DefaultMatchThreshold),
			AutoLinkThreshold: getEnvAsInt("AUTO_LINK_THRESHOLD", DefaultAutoLinkThreshold),
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Matching.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("matching config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *SecurityConfig) Validate() error {
	if len(c.JWTSecret) < 32 {
		return errors.New("jwt secret must be at least 32 characters")
	}
	return nil
}

func (c *MatchingConfig) Validate() error {
	if c.MatchThreshold < 0 || c.MatchThreshold > 100 {
		return errors.New("match_threshold must be within 0..100")
	}
	if c.AutoLinkThreshold < c.MatchThreshold || c.AutoLinkThreshold > 100 {
		return errors.New("auto_link_threshold must be within match_threshold..100")
	}
	return nil
}

// Configured reports whether vendor credentials are present.
func (c *VendorConfig) Configured() bool {
	return c.APIKey != "" && c.APISecret != ""
}

func (c *VisionConfig) Configured() bool {
	return c.APIKey != ""
}

func (c *StorageConfig) Configured() bool {
	return c.Endpoint != "" && c.Bucket != ""
}
