package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pandolabs/mockidp/pkg/directory"
	"github.com/pandolabs/mockidp/pkg/idp"
	"github.com/pandolabs/mockidp/pkg/observability"
	"github.com/pandolabs/mockidp/pkg/signer"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Directory connection settings
	Directory directory.Config

	// SAML issuance settings
	SAML SAMLConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// SAMLConfig holds the identity provider issuance settings.
type SAMLConfig struct {
	EntityID string
	SSOURL   string
	LoginURL string

	// Policy selects the issuance variant: "permissive" or "directory".
	Policy string

	// AllowedDomains restricts issuance to emails under these domains.
	// Empty means every domain is allowed.
	AllowedDomains []string

	// Signing key material: either file paths or inline PEM. Inline wins.
	CertificateFile string
	KeyFile         string
	CertificatePEM  string
	KeyPEM          string

	AssertionTTL time.Duration

	// DefaultDomain seeds profile discovery when the host tool is absent.
	DefaultDomain string

	// ProfileDiscovery exposes the host profile scraping endpoint.
	ProfileDiscovery bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Directory:     loadDirectoryConfig(),
		SAML:          loadSAMLConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("MOCKIDP_HOST", "0.0.0.0"),
		Port:            getEnv("MOCKIDP_PORT", "4000"),
		ReadTimeout:     getEnvDuration("MOCKIDP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("MOCKIDP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("MOCKIDP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("MOCKIDP_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("MOCKIDP_MAX_BODY_BYTES", 1<<20),
		HealthPort:      getEnv("MOCKIDP_HEALTH_PORT", "9090"),
	}
}

// loadDirectoryConfig loads directory connection settings from environment
func loadDirectoryConfig() directory.Config {
	return directory.Config{
		URL:            getEnv("MOCKIDP_DIRECTORY_URL", directory.DefaultURL),
		BaseDN:         getEnv("MOCKIDP_DIRECTORY_BASE_DN", directory.DefaultBaseDN),
		BindDN:         getEnv("MOCKIDP_DIRECTORY_BIND_DN", ""),
		BindPassword:   getEnv("MOCKIDP_DIRECTORY_BIND_PASSWORD", ""),
		Timeout:        getEnvDuration("MOCKIDP_DIRECTORY_TIMEOUT", directory.DefaultTimeout),
		ConnectTimeout: getEnvDuration("MOCKIDP_DIRECTORY_CONNECT_TIMEOUT", directory.DefaultConnectTimeout),
		Certificate:    getEnv("MOCKIDP_DIRECTORY_CA_CERT", ""),
		InsecureTLS:    getEnvBool("MOCKIDP_DIRECTORY_INSECURE_TLS", false),
	}
}

// loadSAMLConfig loads issuance settings from environment
func loadSAMLConfig() SAMLConfig {
	return SAMLConfig{
		EntityID:         getEnv("MOCKIDP_ENTITY_ID", "urn:mockidp:idp"),
		SSOURL:           getEnv("MOCKIDP_SSO_URL", "http://localhost:4000/api/saml/auth"),
		LoginURL:         getEnv("MOCKIDP_LOGIN_URL", idp.DefaultLoginPath),
		Policy:           getEnv("MOCKIDP_POLICY", string(idp.PolicyPermissive)),
		AllowedDomains:   splitList(getEnv("MOCKIDP_ALLOWED_DOMAINS", "")),
		CertificateFile:  getEnv("MOCKIDP_SIGNING_CERT_FILE", ""),
		KeyFile:          getEnv("MOCKIDP_SIGNING_KEY_FILE", ""),
		CertificatePEM:   getEnv("MOCKIDP_SIGNING_CERT", ""),
		KeyPEM:           getEnv("MOCKIDP_SIGNING_KEY", ""),
		AssertionTTL:     getEnvDuration("MOCKIDP_ASSERTION_TTL", signer.DefaultAssertionTTL),
		DefaultDomain:    getEnv("MOCKIDP_DEFAULT_DOMAIN", "example.com"),
		ProfileDiscovery: getEnvBool("MOCKIDP_PROFILE_DISCOVERY", false),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("MOCKIDP_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("MOCKIDP_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("MOCKIDP_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("MOCKIDP_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("MOCKIDP_OTEL_SERVICE_NAME", "mockidp"),
		OTelServiceVersion: getEnv("MOCKIDP_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("MOCKIDP_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if err := c.Directory.Validate(); err != nil {
		return err
	}

	// Validate SAML config
	switch idp.Policy(c.SAML.Policy) {
	case idp.PolicyPermissive, idp.PolicyDirectory:
	default:
		return fmt.Errorf("invalid policy: %s (must be permissive or directory)", c.SAML.Policy)
	}
	if c.SAML.EntityID == "" {
		return fmt.Errorf("entity id is required")
	}
	hasCert := c.SAML.CertificatePEM != "" || c.SAML.CertificateFile != ""
	hasKey := c.SAML.KeyPEM != "" || c.SAML.KeyFile != ""
	if hasCert != hasKey {
		return fmt.Errorf("signing certificate and key must be configured together")
	}
	if c.SAML.AssertionTTL <= 0 {
		return fmt.Errorf("assertion TTL must be positive")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// KeyMaterial returns the signing certificate and key as PEM bytes. Inline
// configuration wins over file paths; when neither is set both returns are
// nil and the caller generates an ephemeral keypair.
func (s *SAMLConfig) KeyMaterial() (certPEM, keyPEM []byte, err error) {
	if s.CertificatePEM != "" && s.KeyPEM != "" {
		return []byte(s.CertificatePEM), []byte(s.KeyPEM), nil
	}
	if s.CertificateFile == "" || s.KeyFile == "" {
		return nil, nil, nil
	}
	certPEM, err = os.ReadFile(s.CertificateFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read signing certificate: %w", err)
	}
	keyPEM, err = os.ReadFile(s.KeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	return certPEM, keyPEM, nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// splitList splits a comma-separated list, trimming whitespace and
// dropping empty entries.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
