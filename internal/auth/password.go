// Password hashing for human user accounts.

package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordMismatch is returned by VerifyPassword when the supplied
// password does not match the stored hash.
var ErrPasswordMismatch = errors.New("auth: password mismatch")

// DefaultBcryptCost matches bcrypt.DefaultCost; named here so callers don't
// need to import bcrypt just to pass the default.
const DefaultBcryptCost = bcrypt.DefaultCost

// HashPassword returns a bcrypt hash of password suitable for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), DefaultBcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks password against a bcrypt hash produced by
// HashPassword. Returns ErrPasswordMismatch on mismatch.
func VerifyPassword(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return err
	}
	return nil
}
