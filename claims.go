package auth

import (
	"fmt"
	"time"
)

// ClaimSubject is the attribute name that resolves to Claim.Subject
const ClaimSubject = "sub"

// Claim is the verified payload of a bearer token. It is built once by a
// Verifier and must be treated as read only for the rest of the request.
type Claim struct {
	Subject    string
	Issuer     string
	Audience   []string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Attributes map[string]any
}

// Attribute returns a string attribute by name. "sub" always resolves to
// the verified subject.
func (c *Claim) Attribute(name string) (string, bool) {
	if c == nil || name == "" {
		return "", false
	}

	if name == ClaimSubject {
		return c.Subject, c.Subject != ""
	}

	raw, ok := c.Attributes[name]
	if !ok || raw == nil {
		return "", false
	}

	switch typed := raw.(type) {
	case string:
		return typed, typed != ""
	case fmt.Stringer:
		s := typed.String()
		return s, s != ""
	}

	return "", false
}

// TTL returns the time left until the claim expires, truncated to whole
// seconds. A zero or negative value means the claim can not back a session.
func (c *Claim) TTL(now time.Time) time.Duration {
	if c == nil || c.ExpiresAt.IsZero() {
		return 0
	}
	return c.ExpiresAt.Sub(now).Truncate(time.Second)
}

func (c Claim) String() string {
	return fmt.Sprintf(
		"sub=%s iss=%s aud=%v exp=%s",
		c.Subject,
		c.Issuer,
		c.Audience,
		c.ExpiresAt.Format(time.RFC3339),
	)
}
