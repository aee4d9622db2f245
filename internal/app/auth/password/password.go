package password

import (
	"unicode"
	"unicode/utf8"

	customErrors "github.com/Zydiag/learn-backend/internal/domain/user/errors"

	"github.com/alexedwards/argon2id"
)

var argonParams = &argon2id.Params{
	Memory:      64 * 1024, // 64 MiB
	Iterations:  2,
	Parallelism: 4,
	SaltLength:  16,
	KeyLength:   32,
}

// Hasher hashes and verifies passwords with argon2id. The pepper is a
// server-side secret mixed into every plaintext before hashing, so the
// digests are useless without it even if the database leaks.
type Hasher struct {
	pepper string
}

func NewHasher(pepper string) *Hasher {
	return &Hasher{pepper: pepper}
}

func (h *Hasher) Hash(plaintext string) (string, error) {
	digest, err := argon2id.CreateHash(plaintext+h.pepper, argonParams)
	if err != nil {
		return "", customErrors.WrapInternal(err, "hash password")
	}
	return digest, nil
}

// Verify reports whether plaintext matches digest. A mismatch is not an
// error; only a corrupt digest is, and that is folded into false as well
// so callers get a single rejection path.
func (h *Hasher) Verify(plaintext, digest string) bool {
	ok, err := argon2id.ComparePasswordAndHash(plaintext+h.pepper, digest)
	return err == nil && ok
}

// IsStrong is the registration/change-password policy: at least 8 runes,
// one upper-case letter and one digit.
func IsStrong(pwd string) bool {
	var hasUpper, hasDigit bool
	for _, r := range pwd {
		if unicode.IsUpper(r) {
			hasUpper = true
		}
		if unicode.IsDigit(r) {
			hasDigit = true
		}
	}
	return utf8.RuneCountInString(pwd) >= 8 && hasUpper && hasDigit
}
