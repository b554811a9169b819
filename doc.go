// Package auth implements email/password authentication with server side
// sessions and short lived signed tokens.
//
// Tokens:
//   - TokenService signs five kinds of HS256 tokens (access, refresh, confirm
//     email, confirm new email, forgot password). Each kind has its own secret
//     and TTL from a SecretsProvider, and carries a kind claim, so a token is
//     only ever accepted as the kind it was minted for.
//
// Sessions:
//   - A login creates a Session row holding a random hash. The refresh token
//     embeds the session id and the hash; every refresh rotates the hash with a
//     compare-and-set on the SessionStore, so a replayed refresh token fails
//     with SESSION_HASH_MISMATCH. Access tokens are bound to the session id and
//     stop working once the session is removed.
//
// Flows:
//   - AuthService orchestrates login, registration, email confirmation, email
//     change confirmation, forgot/reset password, profile updates, logout and
//     soft delete. Mail delivery and activity events are best-effort side
//     channels that are logged and never fail the calling operation, except
//     for the forgot password mail the caller asked for.
//
// Transport:
//   - HTTPController exposes the flows on a go-router registrar, and
//     RequireAccess / RequireRefresh verify bearer tokens and store the result
//     in the request locals.
package auth
