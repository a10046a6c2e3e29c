package credential

import (
	"fmt"

	"github.com/alexedwards/argon2id"
)

type Argon2idHasher struct {
	params *argon2id.Params
}

// NewArgon2idHasher creates a hasher with the given difficulty parameters.
//
// memory must be provided in Kilobytes (KB).
func NewArgon2idHasher(iterations, memory uint32, parallelism uint8) *Argon2idHasher {
	return &Argon2idHasher{
		params: &argon2id.Params{
			Memory:      memory,
			Iterations:  iterations,
			Parallelism: parallelism,
			SaltLength:  16,
			KeyLength:   32,
		},
	}
}

func (h *Argon2idHasher) Hash(password string) (string, error) {
	hash, err := argon2id.CreateHash(password, h.params)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// Compare verifies a password against a hash produced by Hash.
func (h *Argon2idHasher) Compare(hash, password string) (bool, error) {
	match, err := argon2id.ComparePasswordAndHash(password, hash)
	if err != nil {
		return false, fmt.Errorf("compare password: %w", err)
	}
	return match, nil
}
