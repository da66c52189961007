package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// argon2.Version is 0x13.
const argon2Version = 19

var b64 = base64.RawStdEncoding

// Hash derives an Argon2id hash for password and returns it in the standard
// encoded form:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	key := c.Params.derive([]byte(password), salt, c.Params.KeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version,
		c.Params.MemoryKiB,
		c.Params.Iterations,
		c.Params.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encodedHash. (false, nil) is a
// clean mismatch; ErrInvalidHash covers malformed or unsupported encodings.
func (c Config) Verify(encodedHash, password string) (bool, error) {
	params, salt, want, err := parseEncoded(encodedHash)
	if err != nil {
		return false, err
	}

	// Params come out of the stored string, which an attacker may control
	// in some injection scenarios. Refuse anything wildly above our own
	// configured cost so verification cannot be turned into a DoS.
	if !params.verifiableAgainst(c.Params) {
		return false, ErrInvalidHash
	}

	got := params.derive([]byte(password), salt, uint32(len(want))) // #nosec G115 -- length bounded by parseEncoded.

	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func (p Argon2idParams) derive(password, salt []byte, keyLen uint32) []byte {
	return argon2.IDKey(password, salt, p.Iterations, p.MemoryKiB, p.Parallelism, keyLen)
}

// verifiableAgainst allows hashes minted with older/cheaper settings but
// rejects ones costlier than twice our configured maximums.
func (p Argon2idParams) verifiableAgainst(limits Argon2idParams) bool {
	switch {
	case p.MemoryKiB > limits.MemoryKiB*2,
		p.Iterations > limits.Iterations*2,
		p.Parallelism > limits.Parallelism*2,
		p.SaltLength < 8, p.SaltLength > 64,
		p.KeyLength < 16, p.KeyLength > 128:
		return false
	}
	return true
}

// parseEncoded splits an encoded hash into its params, salt, and key.
func parseEncoded(encoded string) (Argon2idParams, []byte, []byte, error) {
	fail := func() (Argon2idParams, []byte, []byte, error) {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return fail()
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2Version) {
		return fail()
	}

	var mem, iter, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iter, &par); err != nil {
		return fail()
	}
	if mem == 0 || iter == 0 || par == 0 || par > 255 {
		return fail()
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return fail()
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return fail()
	}

	params := Argon2idParams{
		MemoryKiB:   mem,
		Iterations:  iter,
		Parallelism: uint8(par),
		SaltLength:  uint32(len(salt)), // #nosec G115 -- bounded by verifiableAgainst.
		KeyLength:   uint32(len(key)),  // #nosec G115 -- bounded by verifiableAgainst.
	}
	return params, salt, key, nil
}
