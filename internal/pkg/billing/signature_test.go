package billing

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sigFailure(t *testing.T, err error) SignatureFailure {
	t.Helper()
	var sigErr *SignatureError
	require.True(t, errors.As(err, &sigErr), "expected SignatureError, got %v", err)
	return sigErr.Reason
}

func TestVerifyWebhookSignatureRoundTrip(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"id":"evt_1","type":"customer.subscription.updated"}`)
	now := time.Unix(1700000000, 0)
	header := SignWebhookPayload(payload, "whsec_test", now)

	err := VerifyWebhookSignature(payload, header, SignatureConfig{Secret: "whsec_test"}, now)
	assert.NoError(t, err)

	// Still valid shortly after signing.
	err = VerifyWebhookSignature(payload, header, SignatureConfig{Secret: "whsec_test"}, now.Add(2*time.Minute))
	assert.NoError(t, err)
}

func TestVerifyWebhookSignatureTamperedPayload(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1700000000, 0)
	header := SignWebhookPayload(payload, "whsec_test", now)

	err := VerifyWebhookSignature([]byte(`{"id":"evt_2"}`), header, SignatureConfig{Secret: "whsec_test"}, now)
	assert.Equal(t, SigFailureMismatch, sigFailure(t, err))
}

func TestVerifyWebhookSignatureWrongSecret(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1700000000, 0)
	header := SignWebhookPayload(payload, "whsec_test", now)

	err := VerifyWebhookSignature(payload, header, SignatureConfig{Secret: "whsec_other"}, now)
	assert.Equal(t, SigFailureMismatch, sigFailure(t, err))
}

func TestVerifyWebhookSignatureStaleTimestamp(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"id":"evt_1"}`)
	signedAt := time.Unix(1700000000, 0)
	header := SignWebhookPayload(payload, "whsec_test", signedAt)
	cfg := SignatureConfig{Secret: "whsec_test", Tolerance: 5 * time.Minute}

	err := VerifyWebhookSignature(payload, header, cfg, signedAt.Add(6*time.Minute))
	assert.Equal(t, SigFailureStale, sigFailure(t, err))

	// Timestamps from the future are rejected the same way.
	err = VerifyWebhookSignature(payload, header, cfg, signedAt.Add(-6*time.Minute))
	assert.Equal(t, SigFailureStale, sigFailure(t, err))
}

func TestVerifyWebhookSignatureToleranceBoundary(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"id":"evt_1"}`)
	signedAt := time.Unix(1700000000, 0)
	header := SignWebhookPayload(payload, "whsec_test", signedAt)
	cfg := SignatureConfig{Secret: "whsec_test", Tolerance: 5 * time.Minute}

	// Exactly at the tolerance edge still passes; one second past fails.
	assert.NoError(t, VerifyWebhookSignature(payload, header, cfg, signedAt.Add(5*time.Minute)))
	err := VerifyWebhookSignature(payload, header, cfg, signedAt.Add(5*time.Minute+time.Second))
	assert.Equal(t, SigFailureStale, sigFailure(t, err))
}

func TestVerifyWebhookSignatureMissing(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)

	err := VerifyWebhookSignature([]byte(`{}`), "", SignatureConfig{Secret: "whsec_test"}, now)
	assert.Equal(t, SigFailureMissing, sigFailure(t, err))

	// Unconfigured secret can never authenticate anything.
	header := SignWebhookPayload([]byte(`{}`), "whsec_test", now)
	err = VerifyWebhookSignature([]byte(`{}`), header, SignatureConfig{}, now)
	assert.Equal(t, SigFailureMissing, sigFailure(t, err))
}

func TestVerifyWebhookSignatureMalformedHeaders(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	cfg := SignatureConfig{Secret: "whsec_test"}

	for _, header := range []string{
		"not-a-signature",
		"t=abc,v1=deadbeef",
		"t=1700000000",
		"v1=deadbeef",
		"t=1700000000,v1=zzzz",
		"t=-5,v1=deadbeef",
	} {
		err := VerifyWebhookSignature([]byte(`{}`), header, cfg, now)
		assert.Equalf(t, SigFailureMalformed, sigFailure(t, err), "header %q", header)
	}
}

func TestVerifyWebhookSignatureSecretRotation(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1700000000, 0)

	// During rotation the provider signs with old and new secret; a header
	// carrying both digests verifies against either configured secret.
	oldHeader := SignWebhookPayload(payload, "whsec_old", now)
	newHeader := SignWebhookPayload(payload, "whsec_new", now)
	combined := fmt.Sprintf("%s,%s", oldHeader, strings.TrimPrefix(newHeader, fmt.Sprintf("t=%d,", now.Unix())))

	assert.NoError(t, VerifyWebhookSignature(payload, combined, SignatureConfig{Secret: "whsec_old"}, now))
	assert.NoError(t, VerifyWebhookSignature(payload, combined, SignatureConfig{Secret: "whsec_new"}, now))
}

func TestVerifyWebhookSignatureIgnoresUnknownSchemes(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1700000000, 0)
	header := SignWebhookPayload(payload, "whsec_test", now) + ",v0=0011"

	assert.NoError(t, VerifyWebhookSignature(payload, header, SignatureConfig{Secret: "whsec_test"}, now))
}
