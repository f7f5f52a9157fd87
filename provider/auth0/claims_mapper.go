package auth0

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-auth-bridge"
)

// ClaimsMapper transforms verified token claims into an auth.Claim.
type ClaimsMapper interface {
	// Map converts provider-specific claims. Implementations must copy the
	// registered claims verbatim; only Attributes may be enriched.
	Map(ctx context.Context, claims jwt.MapClaims) (*auth.Claim, error)
}

// Auth0ClaimsMapper maps Auth0 JWT claims. Auth0 requires custom claims to
// be namespaced, so attributes found under Namespace are also exposed under
// their bare name unless a top level claim already uses it.
type Auth0ClaimsMapper struct {
	Namespace string
}

// Map implements ClaimsMapper.
func (m *Auth0ClaimsMapper) Map(ctx context.Context, claims jwt.MapClaims) (*auth.Claim, error) {
	if claims == nil {
		return nil, auth.ErrMalformedToken
	}

	subject, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return nil, auth.WrapError(auth.ErrMalformedToken, err, map[string]any{
			"provider": "auth0",
			"reason":   "missing sub",
		})
	}

	issuer, _ := claims.GetIssuer()
	audience, _ := claims.GetAudience()

	out := &auth.Claim{
		Subject:    subject,
		Issuer:     issuer,
		Audience:   []string(audience),
		IssuedAt:   numericTime(claims.GetIssuedAt()),
		ExpiresAt:  numericTime(claims.GetExpirationTime()),
		Attributes: make(map[string]any, len(claims)),
	}

	for key, val := range claims {
		out.Attributes[key] = val
	}

	if prefix := m.namespacePrefix(); prefix != "" {
		for key, val := range claims {
			bare, ok := strings.CutPrefix(key, prefix)
			if !ok || bare == "" {
				continue
			}
			if _, taken := claims[bare]; taken {
				continue
			}
			out.Attributes[bare] = val
		}
	}

	return out, nil
}

func (m *Auth0ClaimsMapper) namespacePrefix() string {
	namespace := strings.TrimSpace(m.Namespace)
	if namespace == "" {
		return ""
	}
	if strings.HasSuffix(namespace, "/") || strings.HasSuffix(namespace, ":") {
		return namespace
	}
	return namespace + "/"
}

func numericTime(d *jwt.NumericDate, err error) time.Time {
	if err != nil || d == nil {
		return time.Time{}
	}
	return d.Time
}
