package session

import (
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/vikasavn/packetgate/pkg/config"
	"github.com/vikasavn/packetgate/pkg/protocol"
)

// Authenticator decides whether a login is validated. Logins that fail the
// check are still accepted, as unvalidated sessions.
type Authenticator struct {
	hashes map[string][]byte
}

// NewAuthenticator indexes accounts by upper-cased username.
func NewAuthenticator(accounts []config.Account) *Authenticator {
	a := &Authenticator{hashes: make(map[string][]byte, len(accounts))}
	for _, acc := range accounts {
		a.hashes[strings.ToUpper(strings.TrimSpace(acc.Username))] = []byte(acc.PasscodeHash)
	}
	return a
}

// Validate reports whether l carries the configured passcode for its user.
func (a *Authenticator) Validate(l protocol.Login) bool {
	if l.Passcode == "" || l.Passcode == protocol.UnverifiedPasscode {
		return false
	}
	hash, ok := a.hashes[strings.ToUpper(l.Username)]
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(l.Passcode)) == nil
}

// HashPasscode returns the bcrypt hash to put in an account's passcode_hash.
func HashPasscode(passcode string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(passcode), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
