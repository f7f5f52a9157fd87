package auth0

import (
	"context"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-auth-bridge"
)

// DefaultHMACKeyID is the kid HS256 tokens must carry to select the given secret
const DefaultHMACKeyID = "hmac"

// Config holds Auth0 configuration for token verification.
type Config struct {
	// Domain is the Auth0 tenant domain (e.g., "example.us.auth0.com").
	Domain string

	// Audience is the API identifier(s) to validate against.
	Audience []string

	// Issuer overrides the default issuer URL (optional).
	// Default: "https://{Domain}/".
	Issuer string

	// JWKSURL overrides the key set location (optional).
	// Default: "https://{Domain}/.well-known/jwks.json".
	JWKSURL string

	// Discovery resolves the key set location from the issuer's
	// openid-configuration document.
	Discovery bool

	// AllowedAlgorithms restricts accepted signing algorithms.
	// Default: RS256.
	AllowedAlgorithms []string

	// Leeway tolerates clock skew on exp, nbf and iat.
	Leeway time.Duration

	RefreshInterval  time.Duration
	RefreshRateLimit time.Duration
	RefreshTimeout   time.Duration

	// HMACSecret enables HS256 tokens signed with a shared secret and
	// carrying HMACKeyID as kid.
	HMACSecret string
	HMACKeyID  string

	// ClaimsMapper customizes claim mapping (optional).
	ClaimsMapper ClaimsMapper

	Logger auth.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(domain string, audience []string) Config {
	return Config{
		Domain:            domain,
		Audience:          audience,
		AllowedAlgorithms: []string{"RS256"},
		RefreshInterval:   auth.DefaultJWKSRefreshInterval,
		RefreshRateLimit:  time.Minute / auth.DefaultJWKSRequestsPerMinute,
		RefreshTimeout:    auth.DefaultJWKSRefreshTimeout,
	}
}

// FromConfig builds the verifier configuration from the bridge configuration
func FromConfig(cfg auth.Config) Config {
	cfg = cfg.WithDefaults()
	out := DefaultConfig(cfg.KeySourceDomain, []string{cfg.AudienceAttr})
	out.Issuer = cfg.Issuer
	out.Discovery = cfg.Discovery
	out.AllowedAlgorithms = append([]string(nil), cfg.AllowedAlgorithms...)
	out.Leeway = cfg.Leeway
	out.RefreshInterval = cfg.JWKSRefreshInterval
	out.RefreshRateLimit = cfg.JWKSRefreshRateLimit()
	out.RefreshTimeout = cfg.JWKSRefreshTimeout
	out.HMACSecret = cfg.HMACSecret
	return out
}

// Validate checks the verifier configuration
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Domain, validation.By(func(value interface{}) error {
			if c.Domain == "" && (c.Issuer == "" || (c.JWKSURL == "" && !c.Discovery)) {
				return fmt.Errorf("is required unless issuer and a key set location are given")
			}
			return nil
		})),
		validation.Field(&c.Audience, validation.Required, validation.By(func(value interface{}) error {
			for _, aud := range c.Audience {
				if strings.TrimSpace(aud) == "" {
					return fmt.Errorf("must not contain empty values")
				}
			}
			return nil
		})),
		validation.Field(&c.HMACSecret, validation.By(func(value interface{}) error {
			if c.allows("HS256") && c.HMACSecret == "" {
				return fmt.Errorf("is required when HS256 is allowed")
			}
			return nil
		})),
	)
	if err != nil {
		return auth.WrapError(auth.ErrInvalidConfig, err, map[string]any{"provider": "auth0"})
	}
	return nil
}

func (c Config) issuerURL() string {
	if c.Issuer != "" {
		return normalizeIssuer(c.Issuer)
	}
	return auth.Config{KeySourceDomain: c.Domain}.IssuerURL()
}

// jwksURL resolves the key set location
func (c Config) jwksURL(ctx context.Context) (string, error) {
	if c.JWKSURL != "" {
		return c.JWKSURL, nil
	}
	if c.Discovery {
		return DiscoverJWKSURL(ctx, c.issuerURL())
	}
	return auth.Config{KeySourceDomain: c.Domain}.JWKSURL()
}

func (c Config) algorithms() []string {
	if len(c.AllowedAlgorithms) == 0 {
		return []string{"RS256"}
	}
	return c.AllowedAlgorithms
}

func (c Config) allows(alg string) bool {
	for _, a := range c.algorithms() {
		if strings.EqualFold(a, alg) {
			return true
		}
	}
	return false
}

func (c Config) hmacKeyID() string {
	if c.HMACKeyID == "" {
		return DefaultHMACKeyID
	}
	return c.HMACKeyID
}

func normalizeIssuer(issuer string) string {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return issuer
	}
	if strings.HasSuffix(issuer, "/") {
		return issuer
	}
	return issuer + "/"
}
