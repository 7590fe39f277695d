package telephony

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// DefaultSignatureTolerance bounds the accepted webhook timestamp skew.
const DefaultSignatureTolerance = 300 * time.Second

var (
	// ErrBadSignature indicates the webhook signature does not match.
	ErrBadSignature = errors.New("telephony: bad webhook signature")

	// ErrStaleTimestamp indicates the webhook timestamp lies outside the
	// accepted tolerance window.
	ErrStaleTimestamp = errors.New("telephony: webhook timestamp outside tolerance")
)

// SignPayload computes the hex HMAC-SHA256 over "<unix timestamp>.<body>".
// Exposed for adapter tests and outbound request signing.
func SignPayload(secret []byte, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an inbound webhook: the timestamp must lie within
// tolerance of now and the signature must match the signed payload. The
// comparison is constant-time.
func VerifySignature(secret []byte, timestamp int64, body []byte, signature string, now time.Time, tolerance time.Duration) error {
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}
	skew := now.Unix() - timestamp
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > tolerance {
		return fmt.Errorf("%w: skew %ds", ErrStaleTimestamp, skew)
	}

	want := SignPayload(secret, timestamp, body)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}
