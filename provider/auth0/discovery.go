package auth0

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/goliatone/go-auth-bridge"
)

// DiscoverJWKSURL reads jwks_uri from the issuer's openid-configuration
// document. The document issuer must match issuer exactly.
func DiscoverJWKSURL(ctx context.Context, issuer string) (string, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return "", auth.WrapError(auth.ErrKeyRetrievalFailed, err, map[string]any{
			"provider": "auth0",
			"issuer":   issuer,
		})
	}

	var metadata struct {
		JWKSURL string `json:"jwks_uri"`
	}
	if err := provider.Claims(&metadata); err != nil {
		return "", auth.WrapError(auth.ErrKeyRetrievalFailed, err, map[string]any{
			"provider": "auth0",
			"issuer":   issuer,
		})
	}

	if metadata.JWKSURL == "" {
		return "", auth.WrapError(auth.ErrInvalidConfig, fmt.Errorf("discovery document has no jwks_uri"), map[string]any{
			"provider": "auth0",
			"issuer":   issuer,
		})
	}

	return metadata.JWKSURL, nil
}
