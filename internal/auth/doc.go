// Package auth provides bearer-token authentication for beacon's HTTP surface.
//
// # Authentication Methods
//
// Two verifiers implement TokenVerifier:
//
//   - StaticVerifier: the request token must equal a shared secret. The
//     comparison runs in constant time.
//
//   - JWTVerifier: the request token must be an HS256 JWT signed with the
//     shared secret. Tokens carry a subject and an expiry and are issued with
//     `beacon token`.
//
// The expected secret is fixed when the middleware is built and never changes
// while the server runs.
//
// # Middleware
//
//	protected := auth.BearerAuth(verifier, logger, metrics)(mcpServer)
//
// Every failure (missing header, wrong scheme, empty token, bad token) gets
// the same HTTP 401 response:
//
//	HTTP/1.1 401 Unauthorized
//	WWW-Authenticate: Bearer realm="beacon"
//
//	{"error":"unauthorized"}
//
// The specific reason is only logged and counted. On success the request
// continues with an Identity attached to its context.
package auth
