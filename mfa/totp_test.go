package mfa

import (
	"context"
	"strings"
	"testing"
	"time"
)

type mapSecrets map[string][]byte

func (m mapSecrets) TOTPSecret(_ context.Context, userID string) ([]byte, error) {
	return m[userID], nil
}

func rfcVerifier(t *testing.T, algorithm string, secret []byte) *TOTPVerifier {
	t.Helper()
	return NewTOTPVerifier(mapSecrets{"u1": secret}, Config{
		Issuer:    "TaxPoynt",
		Digits:    8,
		Period:    30,
		Algorithm: algorithm,
		Skew:      -1, // no drift window for exact vector checks
	})
}

func TestVerifyRFCVectors(t *testing.T) {
	vectors := []struct {
		algorithm string
		secret    string
		codes     map[int64]string
	}{
		{
			algorithm: "SHA1",
			secret:    "12345678901234567890",
			codes: map[int64]string{
				59:          "94287082",
				1111111109:  "07081804",
				1111111111:  "14050471",
				1234567890:  "89005924",
				2000000000:  "69279037",
				20000000000: "65353130",
			},
		},
		{
			algorithm: "SHA256",
			secret:    "12345678901234567890123456789012",
			codes: map[int64]string{
				59:          "46119246",
				1111111109:  "68084774",
				1234567890:  "91819424",
				20000000000: "77737706",
			},
		},
		{
			algorithm: "SHA512",
			secret:    "1234567890123456789012345678901234567890123456789012345678901234",
			codes: map[int64]string{
				59:          "90693936",
				1111111109:  "25091201",
				1234567890:  "93441116",
				20000000000: "47863826",
			},
		},
	}

	for _, vec := range vectors {
		t.Run(vec.algorithm, func(t *testing.T) {
			for ts, code := range vec.codes {
				v := rfcVerifier(t, vec.algorithm, []byte(vec.secret))
				v.WithClock(func() time.Time { return time.Unix(ts, 0) })
				ok, err := v.Verify(context.Background(), "u1", code)
				if err != nil || !ok {
					t.Errorf("%s vector at t=%d: ok=%v err=%v", vec.algorithm, ts, ok, err)
				}
			}
		})
	}
}

func TestDriftWindowAcceptsAdjacentStep(t *testing.T) {
	secret := []byte("12345678901234567890")
	now := time.Unix(1234567890, 0)

	v := NewTOTPVerifier(mapSecrets{"u1": secret}, Config{Issuer: "TaxPoynt"})
	v.WithClock(func() time.Time { return now })

	code, err := hotpCode(secret, now.Unix()/30-1, 6, "SHA1")
	if err != nil {
		t.Fatalf("hotpCode() error = %v", err)
	}

	ok, err := v.Verify(context.Background(), "u1", code)
	if err != nil || !ok {
		t.Fatalf("Verify(previous step) = (%v, %v), want accepted within skew", ok, err)
	}
}

func TestReplayRejected(t *testing.T) {
	secret := []byte("12345678901234567890")
	now := time.Unix(1234567890, 0)

	v := NewTOTPVerifier(mapSecrets{"u1": secret}, Config{Issuer: "TaxPoynt"})
	v.WithClock(func() time.Time { return now })

	code, err := hotpCode(secret, now.Unix()/30, 6, "SHA1")
	if err != nil {
		t.Fatalf("hotpCode() error = %v", err)
	}

	if ok, err := v.Verify(context.Background(), "u1", code); err != nil || !ok {
		t.Fatalf("first Verify() = (%v, %v), want accepted", ok, err)
	}
	if ok, err := v.Verify(context.Background(), "u1", code); err != nil || ok {
		t.Fatalf("replayed Verify() = (%v, %v), want rejected", ok, err)
	}
}

func TestMalformedCodesRejectedWithoutError(t *testing.T) {
	v := NewTOTPVerifier(mapSecrets{"u1": []byte("12345678901234567890")}, Config{Issuer: "TaxPoynt"})

	for _, code := range []string{"", "12345", "12345678", "12345a", "  123456  "} {
		if ok, err := v.Verify(context.Background(), "u1", code); err != nil || ok {
			t.Errorf("Verify(%q) = (%v, %v), want (false, nil)", code, ok, err)
		}
	}
}

func TestVerifyWithoutEnrollment(t *testing.T) {
	v := NewTOTPVerifier(mapSecrets{}, Config{Issuer: "TaxPoynt"})
	if ok, err := v.Verify(context.Background(), "ghost", "123456"); err != ErrNoSecret || ok {
		t.Errorf("Verify(unenrolled) = (%v, %v), want ErrNoSecret", ok, err)
	}
}

func TestProvisionURI(t *testing.T) {
	v := NewTOTPVerifier(mapSecrets{}, Config{Issuer: "TaxPoynt"})

	_, encoded, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}

	uri := v.ProvisionURI(encoded, "adaeze@example.com")
	if !strings.HasPrefix(uri, "otpauth://totp/TaxPoynt:") {
		t.Errorf("ProvisionURI() = %q, want otpauth scheme with issuer label", uri)
	}
	for _, want := range []string{"secret=" + encoded, "issuer=TaxPoynt", "period=30", "digits=6", "algorithm=SHA1"} {
		if !strings.Contains(uri, want) {
			t.Errorf("ProvisionURI() missing %q in %q", want, uri)
		}
	}
}
