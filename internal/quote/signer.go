package quote

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a signed, time-bounded assertion of an exchange rate.
type Quote struct {
	Rate      decimal.Decimal
	ExpiresAt int64
	Signature string
}

// Signer issues and verifies HMAC-SHA256 rate quotes under a shared secret.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner constructs a Signer.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

// Issue signs a rate valid for ttl from now.
func (s *Signer) Issue(rate decimal.Decimal, ttl time.Duration) Quote {
	expiresAt := s.now().Add(ttl).Unix()
	return Quote{
		Rate:      rate,
		ExpiresAt: expiresAt,
		Signature: s.sign(rate.String(), strconv.FormatInt(expiresAt, 10)),
	}
}

// Verify recomputes the signature over the client-supplied rate and expiry
// strings and compares in constant time, then separately requires the
// expiry to lie strictly in the future. Malformed input is a plain
// rejection, never a fault.
func (s *Signer) Verify(rate, expiresAt, signature string) bool {
	if rate == "" || expiresAt == "" || signature == "" {
		return false
	}
	if _, err := decimal.NewFromString(rate); err != nil {
		return false
	}

	expected := s.sign(rate, expiresAt)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return false
	}

	exp, err := strconv.ParseFloat(expiresAt, 64)
	if err != nil {
		return false
	}
	now := float64(s.now().UnixNano()) / float64(time.Second)
	return exp > now
}

func (s *Signer) sign(rate, expiresAt string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(rate + "|" + expiresAt))
	return hex.EncodeToString(mac.Sum(nil))
}
