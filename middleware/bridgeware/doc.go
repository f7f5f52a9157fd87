// Package bridgeware mounts the bridge pipeline on fiber: a verify stage
// that turns the bearer token into an auth.Claim, a reconcile stage that
// binds the claim to a local user and session, and a logout handler.
//
// The claim, session and user are stored in fiber locals and in the request
// user context, see auth.ClaimFromContext and auth.SessionFromContext.
package bridgeware
