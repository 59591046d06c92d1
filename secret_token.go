package credentials

import (
	"crypto/rand"
	"encoding/hex"

	goerrors "github.com/goliatone/go-errors"
)

// secretTokenBytes yields 20 hex characters, the minimum entropy for a
// capability token that is looked up by exact value rather than verified
// by signature.
const secretTokenBytes = 10

// SecretTokenGenerator produces opaque high entropy strings used as
// confirmation and password reset tokens.
type SecretTokenGenerator interface {
	Generate() (string, error)
}

type hexTokenGenerator struct {
	size int
}

// NewSecretTokenGenerator returns the default crypto/rand backed
// generator.
func NewSecretTokenGenerator() SecretTokenGenerator {
	return hexTokenGenerator{size: secretTokenBytes}
}

func (g hexTokenGenerator) Generate() (string, error) {
	buf := make([]byte, g.size)
	if _, err := rand.Read(buf); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate secret token")
	}
	return hex.EncodeToString(buf), nil
}

// SecretTokenFunc adapts a function to the SecretTokenGenerator
// interface, mostly for tests that need deterministic tokens.
type SecretTokenFunc func() (string, error)

func (f SecretTokenFunc) Generate() (string, error) {
	return f()
}
