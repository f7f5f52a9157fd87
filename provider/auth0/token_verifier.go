package auth0

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-auth-bridge"
	goerrors "github.com/goliatone/go-errors"
)

// TokenVerifier verifies Auth0-issued JWTs against the tenant JWKS.
type TokenVerifier struct {
	config       Config
	keys         *KeySource
	parser       *jwt.Parser
	issuer       string
	claimsMapper ClaimsMapper
}

var _ auth.Verifier = (*TokenVerifier)(nil)

// NewTokenVerifier creates a verifier, resolving the key set location and
// performing the first key fetch.
func NewTokenVerifier(ctx context.Context, cfg Config) (*TokenVerifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	jwksURL, err := cfg.jwksURL(ctx)
	if err != nil {
		return nil, err
	}

	keys, err := NewKeySource(ctx, jwksURL, cfg)
	if err != nil {
		return nil, err
	}

	return NewTokenVerifierWithKeys(cfg, keys), nil
}

// NewTokenVerifierWithKeys creates a verifier using an existing key source.
func NewTokenVerifierWithKeys(cfg Config, keys *KeySource) *TokenVerifier {
	issuer := cfg.issuerURL()

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(cfg.algorithms()),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if len(cfg.Audience) == 1 {
		opts = append(opts, jwt.WithAudience(cfg.Audience[0]))
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}

	mapper := cfg.ClaimsMapper
	if mapper == nil {
		mapper = &Auth0ClaimsMapper{}
	}

	return &TokenVerifier{
		config:       cfg,
		keys:         keys,
		parser:       jwt.NewParser(opts...),
		issuer:       issuer,
		claimsMapper: mapper,
	}
}

// Verify implements auth.Verifier.
func (v *TokenVerifier) Verify(ctx context.Context, rawToken string) (*auth.Claim, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, normalizeVerificationError(jwt.ErrTokenMalformed)
	}

	claims := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(rawToken, claims, v.keys.Keyfunc)
	if err != nil {
		return nil, normalizeVerificationError(err)
	}
	if !token.Valid {
		return nil, normalizeVerificationError(jwt.ErrTokenSignatureInvalid)
	}

	if len(v.config.Audience) > 1 && !audienceMatches(claims, v.config.Audience) {
		return nil, normalizeVerificationError(jwt.ErrTokenInvalidAudience)
	}

	return v.claimsMapper.Map(ctx, claims)
}

// Close stops background key refreshes
func (v *TokenVerifier) Close() {
	if v.keys != nil {
		v.keys.Close()
	}
}

func audienceMatches(claims jwt.MapClaims, expected []string) bool {
	aud, err := claims.GetAudience()
	if err != nil {
		return false
	}
	for _, got := range aud {
		for _, want := range expected {
			if got == want {
				return true
			}
		}
	}
	return false
}

func normalizeVerificationError(err error) error {
	if err == nil {
		return nil
	}

	var base *goerrors.Error
	switch {
	case stderrors.Is(err, errKeyRetrieval):
		base = auth.ErrKeyRetrievalFailed
	case stderrors.Is(err, errUnknownKey), stderrors.Is(err, jwt.ErrTokenSignatureInvalid):
		base = auth.ErrSignatureInvalid
	case stderrors.Is(err, jwt.ErrTokenExpired):
		base = auth.ErrClaimExpired
	case stderrors.Is(err, jwt.ErrTokenInvalidAudience), stderrors.Is(err, jwt.ErrTokenInvalidIssuer):
		base = auth.ErrAudienceOrIssuerMismatch
	case stderrors.Is(err, jwt.ErrTokenUnverifiable):
		base = auth.ErrSignatureInvalid
	default:
		base = auth.ErrMalformedToken
	}

	return auth.WrapError(base, err, map[string]any{
		"provider": "auth0",
		"cause":    fmt.Sprint(err),
	})
}
