package invite

import (
	"fmt"

	"unityplan.org/internal/ids"
)

const (
	tokenPrefix      = "inv_"
	tokenSecretBytes = 16
)

// NewTokenString generates an opaque invitation token: "inv_" followed by
// 32 hexadecimal characters (128 bits of entropy). Collisions are not
// retried; the unique constraint on the column surfaces one as an
// internal error instead of a silent overwrite.
func NewTokenString() (string, error) {
	secret, err := ids.NewSecret(tokenSecretBytes)
	if err != nil {
		return "", fmt.Errorf("generate invitation token: %w", err)
	}
	return tokenPrefix + secret, nil
}
