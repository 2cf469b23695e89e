package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// SignatureHeader carries the delivery signature in the
	// `t={unixMillis},v1={hexDigest}` format.
	SignatureHeader = "X-Signature"

	// WebhookIDHeader carries the id of the webhook subscription the
	// delivery belongs to.
	WebhookIDHeader = "X-Webhook-Id"
)

// Sign computes the hex-encoded HMAC-SHA256 of "{timestamp}.{payload}" with
// the webhook secret. The timestamp is bound into the digest to prevent
// replay of captured deliveries.
func Sign(secret string, timestamp int64, payload []byte) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: payload cannot be empty", ErrInvalidPayload)
	}

	h := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(h, "%d.%s", timestamp, payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SignatureHeaderValue formats a timestamp and digest into the wire form
// sent in the X-Signature header.
func SignatureHeaderValue(timestamp int64, signature string) string {
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}

// ParseSignatureHeader splits an X-Signature header value into its
// millisecond timestamp and v1 digest.
func ParseSignatureHeader(value string) (timestamp int64, signature string, err error) {
	for _, part := range strings.Split(value, ",") {
		key, val, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp, err = strconv.ParseInt(val, 10, 64)
			if err != nil {
				return 0, "", fmt.Errorf("%w: malformed timestamp", ErrInvalidSignature)
			}
		case "v1":
			signature = val
		}
	}

	if timestamp == 0 || signature == "" {
		return 0, "", fmt.Errorf("%w: missing t or v1 component", ErrInvalidSignature)
	}
	return timestamp, signature, nil
}

// Verify checks an X-Signature header against the payload using the same
// HMAC-SHA256 scheme Sign produces. A positive maxAge rejects signatures
// whose timestamp is older than the window, or more than a minute in the
// future (clock skew allowance). Comparison is constant-time.
func Verify(secret, header string, payload []byte, maxAge time.Duration) error {
	timestamp, signature, err := ParseSignatureHeader(header)
	if err != nil {
		return err
	}

	if maxAge > 0 {
		age := time.Since(time.UnixMilli(timestamp))
		if age > maxAge {
			return fmt.Errorf("%w: signed %v ago", ErrSignatureExpired, age)
		}
		if age < -time.Minute {
			return fmt.Errorf("%w: timestamp is in the future", ErrSignatureExpired)
		}
	}

	expected, err := Sign(secret, timestamp, payload)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("%w: digest mismatch", ErrInvalidSignature)
	}
	return nil
}
