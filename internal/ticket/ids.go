package ticket

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/cockroachdb/errors"
)

const ticketPrefix = "FEL-"

// NewTicketID returns "FEL-" followed by 8 uppercase hex characters.
func NewTicketID() (string, error) {
	code, err := randomHex(4)
	if err != nil {
		return "", err
	}
	return ticketPrefix + code, nil
}

// NewInviteCode returns 8 uppercase hex characters.
func NewInviteCode() (string, error) {
	return randomHex(4)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "read random bytes")
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

// ValidTicketID reports whether id has the FEL-XXXXXXXX shape.
func ValidTicketID(id string) bool {
	if !strings.HasPrefix(id, ticketPrefix) {
		return false
	}
	return isUpperHex(strings.TrimPrefix(id, ticketPrefix), 8)
}

// ValidInviteCode reports whether code is 8 uppercase hex characters.
func ValidInviteCode(code string) bool {
	return isUpperHex(code, 8)
}

func isUpperHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
