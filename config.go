package auth

import (
	stderrors "errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/joeshaw/envdecode"
)

// Default configuration values
const (
	DefaultModel                 = "User"
	DefaultTokenLookup           = "header:Authorization"
	DefaultAuthScheme            = "Bearer"
	DefaultJWKSRequestsPerMinute = 5
	DefaultJWKSRefreshInterval   = time.Hour
	DefaultJWKSRefreshTimeout    = 10 * time.Second
	DefaultDatabaseDSN           = "file::memory:?cache=shared"
	SessionBackendSQL            = "sql"
	SessionBackendRedis          = "redis"
)

// Config holds bridge options. Tags serve both viper (mapstructure) and
// envdecode (env).
type Config struct {
	// AudienceAttr is the API identifier tokens must be issued for
	AudienceAttr string `mapstructure:"audience_attr" env:"AUTH_AUDIENCE_ATTR"`
	// KeySourceDomain is the identity provider domain publishing the JWKS
	KeySourceDomain string `mapstructure:"key_source_domain" env:"AUTH_KEY_SOURCE_DOMAIN"`
	// Issuer overrides the issuer derived from KeySourceDomain
	Issuer            string        `mapstructure:"issuer" env:"AUTH_ISSUER"`
	AllowedAlgorithms []string      `mapstructure:"allowed_algorithms" env:"AUTH_ALLOWED_ALGORITHMS"`
	Leeway            time.Duration `mapstructure:"leeway" env:"AUTH_LEEWAY"`
	// Discovery resolves the JWKS URI through OIDC discovery instead of
	// the well-known path
	Discovery             bool          `mapstructure:"discovery" env:"AUTH_DISCOVERY"`
	JWKSRefreshInterval   time.Duration `mapstructure:"jwks_refresh_interval" env:"AUTH_JWKS_REFRESH_INTERVAL"`
	JWKSRequestsPerMinute int           `mapstructure:"jwks_requests_per_minute" env:"AUTH_JWKS_REQUESTS_PER_MINUTE"`
	JWKSRefreshTimeout    time.Duration `mapstructure:"jwks_refresh_timeout" env:"AUTH_JWKS_REFRESH_TIMEOUT"`
	// HMACSecret is the given key used when HS256 is allowed
	HMACSecret string `mapstructure:"hmac_secret" env:"AUTH_HMAC_SECRET"`

	// Model names the local user entity. It selects the users table.
	Model              string `mapstructure:"model" env:"AUTH_MODEL"`
	Identifier         string `mapstructure:"identifier" env:"AUTH_IDENTIFIER"`
	SharedSecret       string `mapstructure:"shared_secret" env:"AUTH_SHARED_SECRET"`
	MappingStrategy    string `mapstructure:"mapping_strategy" env:"AUTH_MAPPING_STRATEGY"`
	NamespaceDelimiter string `mapstructure:"namespace_delimiter" env:"AUTH_NAMESPACE_DELIMITER"`

	TokenLookup string `mapstructure:"token_lookup" env:"AUTH_TOKEN_LOOKUP"`
	AuthScheme  string `mapstructure:"auth_scheme" env:"AUTH_SCHEME"`

	SessionBackend string `mapstructure:"session_backend" env:"AUTH_SESSION_BACKEND"`
	RedisAddr      string `mapstructure:"redis_addr" env:"AUTH_REDIS_ADDR"`
	RedisPrefix    string `mapstructure:"redis_prefix" env:"AUTH_REDIS_PREFIX"`
	DatabaseDSN    string `mapstructure:"database_dsn" env:"AUTH_DATABASE_DSN"`

	// PurgeInterval spaces expired session cleanups, zero disables them
	PurgeInterval time.Duration `mapstructure:"purge_interval" env:"AUTH_PURGE_INTERVAL"`

	ListenAddr string `mapstructure:"listen_addr" env:"AUTH_LISTEN_ADDR"`
	LogLevel   string `mapstructure:"log_level" env:"AUTH_LOG_LEVEL"`
	LogFormat  string `mapstructure:"log_format" env:"AUTH_LOG_FORMAT"`
}

// DefaultConfig returns a Config with defaults applied
func DefaultConfig() Config {
	return Config{}.WithDefaults()
}

// ConfigFromEnv decodes a Config from environment variables and applies
// defaults. It does not validate.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !stderrors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return cfg, WrapError(ErrInvalidConfig, err, map[string]any{"source": "env"})
	}
	return cfg.WithDefaults(), nil
}

// WithDefaults fills zero values
func (c Config) WithDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.MappingStrategy == "" {
		c.MappingStrategy = string(MappingDerivedEmail)
	}
	if c.Identifier == "" {
		c.Identifier = c.identifier()
	}
	if c.NamespaceDelimiter == "" {
		c.NamespaceDelimiter = DefaultNamespaceDelimiter
	}
	if len(c.AllowedAlgorithms) == 0 {
		c.AllowedAlgorithms = []string{"RS256"}
	}
	if c.JWKSRefreshInterval == 0 {
		c.JWKSRefreshInterval = DefaultJWKSRefreshInterval
	}
	if c.JWKSRequestsPerMinute == 0 {
		c.JWKSRequestsPerMinute = DefaultJWKSRequestsPerMinute
	}
	if c.JWKSRefreshTimeout == 0 {
		c.JWKSRefreshTimeout = DefaultJWKSRefreshTimeout
	}
	if c.TokenLookup == "" {
		c.TokenLookup = DefaultTokenLookup
	}
	if c.AuthScheme == "" {
		c.AuthScheme = DefaultAuthScheme
	}
	if c.SessionBackend == "" {
		c.SessionBackend = SessionBackendSQL
	}
	if c.RedisPrefix == "" {
		c.RedisPrefix = "bridge:"
	}
	if c.DatabaseDSN == "" {
		c.DatabaseDSN = DefaultDatabaseDSN
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8572"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	return c
}

// Validate checks the configuration. A malformed key source domain is a
// startup error.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.AudienceAttr, validation.Required),
		validation.Field(&c.KeySourceDomain, validation.Required, validation.By(validateDomain)),
		validation.Field(&c.MappingStrategy, validation.Required, validation.In(
			string(MappingDerivedEmail),
			string(MappingDirectAttribute),
		)),
		validation.Field(&c.SharedSecret, validation.By(func(value interface{}) error {
			if c.strategy() == MappingDerivedEmail && c.SharedSecret == "" {
				return fmt.Errorf("is required for %s", MappingDerivedEmail)
			}
			return nil
		})),
		validation.Field(&c.AllowedAlgorithms, validation.Required, validation.By(validateAlgorithms)),
		validation.Field(&c.HMACSecret, validation.By(func(value interface{}) error {
			if c.allows("HS256") && c.HMACSecret == "" {
				return fmt.Errorf("is required when HS256 is allowed")
			}
			return nil
		})),
		validation.Field(&c.SessionBackend, validation.In(SessionBackendSQL, SessionBackendRedis)),
		validation.Field(&c.RedisAddr, validation.By(func(value interface{}) error {
			if c.SessionBackend == SessionBackendRedis && c.RedisAddr == "" {
				return fmt.Errorf("is required for the redis session backend")
			}
			return nil
		})),
		validation.Field(&c.JWKSRequestsPerMinute, validation.Min(0)),
	)
	if err != nil {
		return WrapError(ErrInvalidConfig, err, nil)
	}
	return nil
}

// JWKSURL joins the key source domain with the well-known JWKS path
func (c Config) JWKSURL() (string, error) {
	base, err := parseDomain(c.KeySourceDomain)
	if err != nil {
		return "", WrapError(ErrInvalidConfig, err, map[string]any{"field": "key_source_domain"})
	}
	return base.JoinPath(".well-known", "jwks.json").String(), nil
}

// IssuerURL returns the configured issuer or the domain with a trailing slash
func (c Config) IssuerURL() string {
	if c.Issuer != "" {
		return normalizeIssuer(c.Issuer)
	}
	base, err := parseDomain(c.KeySourceDomain)
	if err != nil {
		return ""
	}
	return normalizeIssuer(base.String())
}

// JWKSRefreshRateLimit spaces unknown kid refreshes so the endpoint is hit at
// most JWKSRequestsPerMinute times a minute
func (c Config) JWKSRefreshRateLimit() time.Duration {
	if c.JWKSRequestsPerMinute <= 0 {
		return 0
	}
	return time.Minute / time.Duration(c.JWKSRequestsPerMinute)
}

// UsersTable derives the users table from Model, "User" becomes "users"
func (c Config) UsersTable() string {
	model := strings.TrimSpace(c.Model)
	if model == "" {
		model = DefaultModel
	}

	var b strings.Builder
	for i, r := range model {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}

	table := b.String()
	if !strings.HasSuffix(table, "s") {
		table += "s"
	}
	return table
}

func (c Config) strategy() MappingStrategy {
	if c.MappingStrategy == "" {
		return MappingDerivedEmail
	}
	return MappingStrategy(c.MappingStrategy)
}

func (c Config) identifier() string {
	if c.Identifier != "" {
		return c.Identifier
	}
	if c.strategy() == MappingDirectAttribute {
		return ClaimSubject
	}
	return "email"
}

func (c Config) allows(alg string) bool {
	for _, a := range c.AllowedAlgorithms {
		if strings.EqualFold(a, alg) {
			return true
		}
	}
	return false
}

var supportedAlgorithms = map[string]struct{}{
	"RS256": {}, "RS384": {}, "RS512": {},
	"PS256": {}, "PS384": {}, "PS512": {},
	"ES256": {}, "ES384": {}, "ES512": {},
	"HS256": {},
}

func validateAlgorithms(value interface{}) error {
	algs, _ := value.([]string)
	for _, alg := range algs {
		if _, ok := supportedAlgorithms[alg]; !ok {
			return fmt.Errorf("unsupported algorithm %q", alg)
		}
	}
	return nil
}

func validateDomain(value interface{}) error {
	domain, _ := value.(string)
	if domain == "" {
		return nil
	}
	_, err := parseDomain(domain)
	return err
}

func parseDomain(domain string) (*url.URL, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil, fmt.Errorf("domain is empty")
	}

	if !strings.HasPrefix(domain, "http://") && !strings.HasPrefix(domain, "https://") {
		domain = "https://" + domain
	}

	u, err := url.Parse(domain)
	if err != nil {
		return nil, fmt.Errorf("invalid domain: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid domain %q: missing host", domain)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("invalid domain %q: query and fragment are not allowed", domain)
	}
	if strings.ContainsAny(u.Host, " |") {
		return nil, fmt.Errorf("invalid domain %q: bad host", domain)
	}
	return u, nil
}

func normalizeIssuer(issuer string) string {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" || strings.HasSuffix(issuer, "/") {
		return issuer
	}
	return issuer + "/"
}
