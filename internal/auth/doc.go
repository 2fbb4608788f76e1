// Package auth turns request credentials into application principals.
//
// Two credential forms are accepted: HMAC signed JWT bearer tokens issued by
// the identity provider, and "ApiKey <name>.<secret>" service keys checked
// against argon2id hashes from configuration. Resolution is stateless and
// performs no authorization.
package auth
