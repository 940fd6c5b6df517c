package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultSignatureTolerance bounds how old a signed timestamp may be before
// the payload is treated as a replay.
const DefaultSignatureTolerance = 5 * time.Minute

// SignatureConfig holds the webhook shared secret and replay tolerance.
// Injected explicitly so tests can verify with synthetic secrets and clocks.
type SignatureConfig struct {
	Secret    string
	Tolerance time.Duration
}

// SignatureFailure classifies why verification rejected a payload.
type SignatureFailure string

const (
	SigFailureMissing   SignatureFailure = "missing"
	SigFailureMalformed SignatureFailure = "malformed"
	SigFailureMismatch  SignatureFailure = "mismatch"
	SigFailureStale     SignatureFailure = "stale"
)

// SignatureError reports a failed verification with its classified reason.
type SignatureError struct {
	Reason SignatureFailure
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("webhook signature invalid: %s", e.Reason)
}

// VerifyWebhookSignature checks a provider signature header of the form
// "t=<unix>,v1=<hex>[,v1=<hex>...]" against payload: each v1 digest is an
// HMAC-SHA256 over "{t}.{payload}" keyed with the shared secret. Comparison
// is constant time and any digest match passes (the provider sends multiple
// digests during secret rotation). Timestamps older than the tolerance are
// rejected regardless of digest validity. Pure check, no side effects.
func VerifyWebhookSignature(payload []byte, signatureHeader string, cfg SignatureConfig, now time.Time) error {
	header := strings.TrimSpace(signatureHeader)
	if header == "" || strings.TrimSpace(cfg.Secret) == "" {
		return &SignatureError{Reason: SigFailureMissing}
	}

	timestamp, digests, err := parseSignatureHeader(header)
	if err != nil {
		return &SignatureError{Reason: SigFailureMalformed}
	}

	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}
	signedAt := time.Unix(timestamp, 0)
	if now.Sub(signedAt) > tolerance || signedAt.Sub(now) > tolerance {
		return &SignatureError{Reason: SigFailureStale}
	}

	mac := hmac.New(sha256.New, []byte(cfg.Secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, digest := range digests {
		if hmac.Equal(expected, digest) {
			return nil
		}
	}
	return &SignatureError{Reason: SigFailureMismatch}
}

// SignWebhookPayload produces a header value VerifyWebhookSignature accepts.
// Used by tests and the local webhook replay tooling.
func SignWebhookPayload(payload []byte, secret string, signedAt time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", signedAt.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", signedAt.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func parseSignatureHeader(header string) (int64, [][]byte, error) {
	var timestamp int64 = -1
	var digests [][]byte

	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			return 0, nil, fmt.Errorf("malformed signature element %q", part)
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil || ts <= 0 {
				return 0, nil, fmt.Errorf("malformed signature timestamp %q", kv[1])
			}
			timestamp = ts
		case "v1":
			digest, err := hex.DecodeString(strings.ToLower(kv[1]))
			if err != nil || len(digest) == 0 {
				return 0, nil, fmt.Errorf("malformed signature digest %q", kv[1])
			}
			digests = append(digests, digest)
		default:
			// Unknown schemes (v0 test digests) are ignored, as the provider
			// may add them alongside v1.
		}
	}

	if timestamp < 0 || len(digests) == 0 {
		return 0, nil, fmt.Errorf("signature header missing timestamp or v1 digest")
	}
	return timestamp, digests, nil
}
