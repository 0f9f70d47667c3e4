// Package webhook applies signed lifecycle callbacks from the ingestion
// platform to session state. Deliveries are at-least-once and may arrive out
// of order, so every transition is evaluated against the currently persisted
// status instead of an assumed sequence.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the platform's payload signature.
const SignatureHeader = "Pulse-Signature"

// DefaultTolerance bounds how old a signed timestamp may be before the
// delivery is treated as a replay.
const DefaultTolerance = 5 * time.Minute

// ErrInvalidSignature is returned for missing, malformed, stale, or
// mismatched signatures. The boundary rejects these with no side effects and
// no detail beyond the status code.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Verifier checks platform signatures of the form
// "t=<unix>,v1=<hex hmac-sha256>" computed over "<t>.<body>".
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier builds a Verifier for the shared signing secret.
func NewVerifier(secret string, tolerance time.Duration) (*Verifier, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{
		secret:    []byte(trimmed),
		tolerance: tolerance,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Verify validates the signature header against the raw request body.
func (v *Verifier) Verify(header string, body []byte) error {
	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}
	issued := time.Unix(timestamp, 0)
	age := v.now().Sub(issued)
	if age > v.tolerance || age < -v.tolerance {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	expected := mac.Sum(nil)

	for _, signature := range signatures {
		decoded, decodeErr := hex.DecodeString(signature)
		if decodeErr != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// parseSignatureHeader splits "t=...,v1=...[,v1=...]". Multiple v1 values
// are accepted so the platform can rotate secrets without dropping events.
func parseSignatureHeader(header string) (int64, []string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, nil, ErrInvalidSignature
	}
	var timestamp int64
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return 0, nil, ErrInvalidSignature
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, ErrInvalidSignature
			}
			timestamp = parsed
		case "v1":
			if value != "" {
				signatures = append(signatures, value)
			}
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return 0, nil, ErrInvalidSignature
	}
	return timestamp, signatures, nil
}

// Sign produces a header value for the given body, used by tests and the
// local platform simulator.
func (v *Verifier) Sign(body []byte, at time.Time) string {
	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%d.", at.Unix())
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}
