package auth

import (
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the work factor for new hashes.
var BcryptCost = 12

func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckPassword compares in constant effort for a given hash cost. Hashes
// minted by PHP ("$2y$") are accepted as their "$2b$" equivalent.
func CheckPassword(hash, password string) bool {
	if strings.HasPrefix(hash, "$2y$") {
		hash = "$2b$" + hash[4:]
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

var (
	dummyOnce sync.Once
	dummyHash string
)

// burnCompare spends the same effort as a real comparison so an unknown
// email is indistinguishable from a wrong password.
func burnCompare(password string) {
	dummyOnce.Do(func() {
		b, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), BcryptCost)
		if err == nil {
			dummyHash = string(b)
		}
	})
	if dummyHash != "" {
		_ = CheckPassword(dummyHash, password)
	}
}
