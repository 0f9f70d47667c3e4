package webhook

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestVerifier(t *testing.T, secret string) *Verifier {
	t.Helper()
	verifier, err := NewVerifier(secret, 0)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return verifier
}

func TestVerifyRoundTrip(t *testing.T) {
	verifier := newTestVerifier(t, "topsecret")
	body := []byte(`{"type":"stream.active","data":{"ingestId":"ing-1"}}`)

	header := verifier.Sign(body, time.Now())
	if err := verifier.Verify(header, body); err != nil {
		t.Fatalf("verify signed payload: %v", err)
	}
	if err := verifier.Verify(header, []byte(`{"tampered":true}`)); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("tampered body should fail, got %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	signer := newTestVerifier(t, "theirs")
	verifier := newTestVerifier(t, "ours")
	body := []byte(`{}`)
	if err := verifier.Verify(signer.Sign(body, time.Now()), body); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("foreign signature should fail, got %v", err)
	}
}

func TestVerifyRejectsStaleTimestamps(t *testing.T) {
	verifier := newTestVerifier(t, "topsecret")
	body := []byte(`{}`)

	if err := verifier.Verify(verifier.Sign(body, time.Now().Add(-10*time.Minute)), body); !errors.Is(err, ErrInvalidSignature) {
		t.Fatal("timestamps past the tolerance window should be rejected")
	}
	if err := verifier.Verify(verifier.Sign(body, time.Now().Add(10*time.Minute)), body); !errors.Is(err, ErrInvalidSignature) {
		t.Fatal("timestamps from the future should be rejected")
	}
	if err := verifier.Verify(verifier.Sign(body, time.Now().Add(-time.Minute)), body); err != nil {
		t.Fatalf("recent timestamps should verify: %v", err)
	}
}

func TestVerifyRejectsMalformedHeaders(t *testing.T) {
	verifier := newTestVerifier(t, "topsecret")
	body := []byte(`{}`)

	headers := []string{
		"",
		"garbage",
		"t=notanumber,v1=abcd",
		"v1=abcd",
		fmt.Sprintf("t=%d", time.Now().Unix()),
		fmt.Sprintf("t=%d,v1=zzzz", time.Now().Unix()),
	}
	for _, header := range headers {
		if err := verifier.Verify(header, body); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("header %q should be rejected, got %v", header, err)
		}
	}
}

func TestVerifyAcceptsRotatedSignature(t *testing.T) {
	oldSigner := newTestVerifier(t, "old-secret")
	newSigner := newTestVerifier(t, "new-secret")
	body := []byte(`{"type":"stream.idle"}`)
	now := time.Now()

	// During rotation the platform signs with both secrets in one header.
	oldHeader := oldSigner.Sign(body, now)
	newHeader := newSigner.Sign(body, now)
	_, newPart, _ := splitHeader(newHeader)
	combined := oldHeader + "," + newPart

	if err := newSigner.Verify(combined, body); err != nil {
		t.Fatalf("header with rotated v1 should verify: %v", err)
	}
	if err := oldSigner.Verify(combined, body); err != nil {
		t.Fatalf("previous secret should still verify during rotation: %v", err)
	}
}

func splitHeader(header string) (string, string, bool) {
	for i := 0; i < len(header); i++ {
		if header[i] == ',' {
			return header[:i], header[i+1:], true
		}
	}
	return header, "", false
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier("   ", time.Minute); err == nil {
		t.Fatal("blank secret must be rejected")
	}
}
