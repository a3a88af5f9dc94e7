// Package auth provides bearer-credential authentication for coven-chat.
//
// # Authentication
//
// Every user identity carries a bearer credential: a JWT
// signed with HS256 using the configured jwt_secret. The "sub" claim holds
// the user id; the "exp" claim holds an absolute expiry. Password-based
// login verifies against a bcrypt hash before a token is issued.
//
//	token, err := verifier.Generate(userID, ttl)
//	userID, err := verifier.Verify(token)
//
// # HTTP Middleware
//
// HTTPAuthMiddleware extracts the bearer token from the Authorization
// header, verifies it, confirms the named user still exists, and attaches
// an AuthContext to the request. OptionalAuthMiddleware does the same but
// lets the request through unauthenticated on any failure, for endpoints
// that behave differently for anonymous callers (e.g. public webhook
// verification probes) without requiring a credential.
//
// # Context Propagation
//
// WithAuth/FromContext/MustFromContext propagate the authenticated user's
// identity through request handlers and downstream calls.
//
// # Password Storage
//
// Passwords are hashed with bcrypt (HashPassword/VerifyPassword). The
// platform never stores plaintext credentials.
package auth
