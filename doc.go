// Package auth bridges externally issued bearer tokens to local users and
// sessions.
//
// Request flow:
//   - A Verifier (see provider/auth0) checks the token signature against the
//     identity provider key set plus its audience, issuer and expiry, and
//     returns a Claim.
//   - An IdentityMapper turns the Claim into a LocalIdentity. The
//     derived-email policy builds "<sub>@loopback.<namespace>.com", the
//     direct-attribute policy reads one claim attribute.
//   - SessionReconciler classifies the identity as NO_USER, USER_NO_SESSION or
//     USER_HAS_SESSION and provisions a user, logs in, or reuses the earliest
//     live session. The minted session lives as long as the claim.
//
// Storage:
//   - Store implements UserStore over the bun backed Users and Sessions
//     repositories. repository.RedisSessions can replace the SQL sessions.
//
// Activity sinks:
//   - ActivitySink receives provisioning, session and failure events. Sinks
//     run best-effort (errors are logged) so auditing never blocks a request.
package auth
