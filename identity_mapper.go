package auth

import (
	"fmt"
	"strings"
)

// MappingStrategy selects how a Claim becomes a local identity
type MappingStrategy string

const (
	// MappingDerivedEmail synthesizes an email from the subject
	MappingDerivedEmail MappingStrategy = "derived-email"
	// MappingDirectAttribute reads a configured claim attribute verbatim
	MappingDirectAttribute MappingStrategy = "direct-attribute"
)

// DefaultNamespaceDelimiter separates the provider namespace from the
// provider scoped id in a subject, e.g. "auth0|abc123"
const DefaultNamespaceDelimiter = "|"

// LocalIdentity is what the user store knows a claim by
type LocalIdentity struct {
	Identifier string
	// Credential only satisfies the local login call. It is never
	// something the external user knows.
	Credential string
}

// IdentityMapper turns a verified claim into a local identity. Implementations
// must be pure and map distinct subjects to distinct identifiers.
type IdentityMapper interface {
	Map(claim *Claim) (LocalIdentity, error)
}

// IdentityMapperFunc adapts a function into an IdentityMapper
type IdentityMapperFunc func(claim *Claim) (LocalIdentity, error)

// Map implements IdentityMapper
func (f IdentityMapperFunc) Map(claim *Claim) (LocalIdentity, error) {
	return f(claim)
}

// DerivedEmailMapper builds "<subject>@loopback.<namespace>.com". The full
// subject is kept in the local part so the mapping stays injective.
type DerivedEmailMapper struct {
	Delimiter    string
	SharedSecret string
}

// Map implements IdentityMapper
func (m DerivedEmailMapper) Map(claim *Claim) (LocalIdentity, error) {
	if claim == nil || strings.TrimSpace(claim.Subject) == "" {
		return LocalIdentity{}, mappingError("subject is empty", nil)
	}

	delimiter := m.Delimiter
	if delimiter == "" {
		delimiter = DefaultNamespaceDelimiter
	}

	namespace, _, _ := strings.Cut(claim.Subject, delimiter)
	if namespace == "" {
		return LocalIdentity{}, mappingError("subject has no namespace prefix", map[string]any{
			"subject": claim.Subject,
		})
	}

	return LocalIdentity{
		Identifier: claim.Subject + "@loopback." + namespace + ".com",
		Credential: m.SharedSecret,
	}, nil
}

// DirectAttributeMapper uses a claim attribute as both identifier and
// credential placeholder
type DirectAttributeMapper struct {
	Attribute string
}

// Map implements IdentityMapper
func (m DirectAttributeMapper) Map(claim *Claim) (LocalIdentity, error) {
	attr := m.Attribute
	if attr == "" {
		attr = ClaimSubject
	}

	value, ok := claim.Attribute(attr)
	if !ok {
		return LocalIdentity{}, mappingError("claim attribute is missing", map[string]any{
			"attribute": attr,
		})
	}

	return LocalIdentity{
		Identifier: value,
		Credential: value,
	}, nil
}

// NewIdentityMapper builds the mapper selected by cfg
func NewIdentityMapper(cfg Config) (IdentityMapper, error) {
	switch cfg.strategy() {
	case MappingDerivedEmail:
		if cfg.SharedSecret == "" {
			return nil, WrapError(ErrInvalidConfig, fmt.Errorf("shared_secret is required for %s", MappingDerivedEmail), nil)
		}
		return DerivedEmailMapper{
			Delimiter:    cfg.NamespaceDelimiter,
			SharedSecret: cfg.SharedSecret,
		}, nil
	case MappingDirectAttribute:
		return DirectAttributeMapper{
			Attribute: cfg.identifier(),
		}, nil
	}

	return nil, WrapError(ErrInvalidConfig, fmt.Errorf("unknown mapping strategy %q", cfg.MappingStrategy), nil)
}

func mappingError(reason string, metadata map[string]any) error {
	meta := map[string]any{"reason": reason}
	for k, v := range metadata {
		meta[k] = v
	}
	return WrapError(ErrIdentityMapping, fmt.Errorf("%s", reason), meta)
}
