// Package auth authenticates chat users.
//
// # Tokens
//
// Users present an HS256 JWT whose "sub" claim is their numeric user ID. The
// secret comes from auth.jwt_secret and must be at least MinSecretLength
// bytes.
//
// # Where tokens are read
//
// Authenticator looks in three places, in order:
//
//   - Authorization: Bearer <token>
//   - the "token" query parameter
//   - the cookie named by auth.cookie_name
//
// The WebSocket endpoint calls Authenticate before upgrading so a rejected
// client never reaches the registry. Plain HTTP routes use Middleware, which
// attaches an Identity retrievable with FromContext.
package auth
