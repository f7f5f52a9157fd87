// Package auth0 verifies Auth0-issued bearer tokens against the tenant JWKS
// and maps them into auth.Claim values.
//
// The TokenVerifier satisfies auth.Verifier and is the first stage of the
// bridge pipeline. Keys are cached and refreshed in the background; a key
// set that can not be fetched surfaces as auth.ErrKeyRetrievalFailed so
// callers can tell an outage from a bad token.
package auth0
