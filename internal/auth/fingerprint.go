package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// platformSalt pins fingerprints to this deployment. It is not a secret;
// the fingerprint is a public identity anchor.
const platformSalt = "unityplan"

// Fingerprint derives the stable public identity string from registration
// attributes: SHA-256 over email, username, and the platform salt. The
// same inputs always produce the same 64-character hex string. Accounts
// without an email hash the empty string in its place.
func Fingerprint(email, username string) string {
	h := sha256.New()
	h.Write([]byte(email))
	h.Write([]byte("::"))
	h.Write([]byte(username))
	h.Write([]byte("::" + platformSalt))
	return hex.EncodeToString(h.Sum(nil))
}
