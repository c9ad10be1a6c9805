// Package auth provides identities, credentials and bearer token
// verification.
//
// # Identities
//
// An Identity has one Role from a closed set. Roles are grouped into realms,
// one per application:
//
//	survey    admin, researcher, analyst, viewer
//	commerce  admin, business_owner, customer
//	learning  admin, instructor, student
//
// Passwords are stored as bcrypt hashes (CredentialHash) and never leave
// the package: every identity returned by the Verifier or the Service is
// Sanitized.
//
// # Tokens
//
// TokenIssuer signs RS256 JWTs whose subject is the identity ID:
//
//	issuer, _ := auth.NewTokenIssuer(key, "warden", "warden-api", 24*time.Hour)
//	token, expiresAt, _ := issuer.Issue(identity)
//
// Verifier checks signature, issuer, audience and expiry against the
// public half of the key, then loads the identity:
//
//	verifier := auth.NewVerifier(&key.PublicKey, "warden", "warden-api", store)
//	identity, err := verifier.Verify(ctx, auth.ExtractBearer(r.Header.Get("Authorization")), true)
//
// Required verification distinguishes a missing credential
// (unauthenticated), a bad or orphaned credential (invalid_token) and a
// disabled account (account_deactivated). Optional verification returns
// (nil, nil) for all of them.
//
// # Stores
//
// IdentityStore has an in-memory implementation for development and tests
// and a Postgres implementation over the identities table.
package auth
