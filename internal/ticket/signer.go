// Package ticket issues and verifies signed ticket payloads.
package ticket

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// SigLength is the number of hex characters kept from the HMAC digest.
const SigLength = 12

// Claims is the signed part of a ticket. Field order is the wire order.
type Claims struct {
	TicketID    string `json:"ticketID"`
	Event       string `json:"event"`
	EventID     string `json:"eventId"`
	Participant string `json:"participant"`
	Email       string `json:"email"`
}

// Signed is the QR payload handed to the participant.
type Signed struct {
	Claims
	Sig string `json:"sig"`
}

// JSON returns the payload as embedded in the QR code.
func (s Signed) JSON() ([]byte, error) {
	return encode(s)
}

type Signer struct {
	key []byte
}

func NewSigner(key string) (*Signer, error) {
	if key == "" {
		return nil, errors.New("ticket signing key is empty")
	}
	return &Signer{key: []byte(key)}, nil
}

func (s *Signer) Issue(c Claims) (Signed, error) {
	sig, err := s.sign(c)
	if err != nil {
		return Signed{}, err
	}
	return Signed{Claims: c, Sig: sig}, nil
}

// Verify re-serializes c and compares the signature in constant time.
func (s *Signer) Verify(c Claims, sig string) bool {
	want, err := s.sign(c)
	if err != nil || len(sig) != SigLength {
		return false
	}
	return hmac.Equal([]byte(want), []byte(sig))
}

func (s *Signer) sign(c Claims) (string, error) {
	payload, err := encode(c)
	if err != nil {
		return "", errors.Wrap(err, "encode ticket claims")
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))[:SigLength], nil
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
