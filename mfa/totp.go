package mfa

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const secretBytes = 20

// ErrNoSecret is returned when a user has no enrolled TOTP secret.
var ErrNoSecret = errors.New("no totp secret enrolled")

// SecretProvider resolves the enrolled TOTP secret for a user.
type SecretProvider interface {
	TOTPSecret(ctx context.Context, userID string) ([]byte, error)
}

// Config tunes TOTP generation and verification.
type Config struct {
	Issuer    string
	Period    int    // seconds per step, default 30
	Digits    int    // code length, default 6
	Skew      int    // accepted steps either side of now, default 1
	Algorithm string // SHA1 (default), SHA256, or SHA512
}

func (c Config) withDefaults() Config {
	if c.Period <= 0 {
		c.Period = 30
	}
	if c.Digits <= 0 {
		c.Digits = 6
	}
	if c.Skew < 0 {
		c.Skew = 0
	} else if c.Skew == 0 {
		c.Skew = 1
	}
	if c.Algorithm == "" {
		c.Algorithm = "SHA1"
	}
	return c
}

// TOTPVerifier checks RFC 6238 time-based one-time codes. A counter that
// verified once is burned per user, so the same code cannot be replayed
// within its validity window.
type TOTPVerifier struct {
	secrets SecretProvider
	config  Config
	clock   func() time.Time

	mu          sync.Mutex
	lastCounter map[string]int64
}

// NewTOTPVerifier creates a verifier reading secrets from the provider.
func NewTOTPVerifier(secrets SecretProvider, config Config) *TOTPVerifier {
	return &TOTPVerifier{
		secrets:     secrets,
		config:      config.withDefaults(),
		clock:       time.Now,
		lastCounter: make(map[string]int64),
	}
}

// WithClock overrides the verifier clock. Test hook.
func (v *TOTPVerifier) WithClock(clock func() time.Time) *TOTPVerifier {
	v.clock = clock
	return v
}

// Verify checks the code for the user. A malformed code or a wrong code is
// (false, nil); errors are reserved for secret lookup and configuration
// failures.
func (v *TOTPVerifier) Verify(ctx context.Context, userID, code string) (bool, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != v.config.Digits || !numeric(trimmed) {
		return false, nil
	}

	secret, err := v.secrets.TOTPSecret(ctx, userID)
	if err != nil {
		return false, err
	}
	if len(secret) == 0 {
		return false, ErrNoSecret
	}

	baseCounter := v.clock().Unix() / int64(v.config.Period)
	for step := -v.config.Skew; step <= v.config.Skew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := hotpCode(secret, counter, v.config.Digits, v.config.Algorithm)
		if err != nil {
			return false, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			if !v.burn(userID, counter) {
				return false, nil
			}
			return true, nil
		}
	}
	return false, nil
}

// burn records the counter as used and rejects counters at or below the
// last accepted one.
func (v *TOTPVerifier) burn(userID string, counter int64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if last, ok := v.lastCounter[userID]; ok && counter <= last {
		return false
	}
	v.lastCounter[userID] = counter
	return true
}

// GenerateSecret produces a fresh random secret and its base32 form for
// enrollment.
func GenerateSecret() ([]byte, string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return raw, enc.EncodeToString(raw), nil
}

// ProvisionURI renders the otpauth:// enrollment URI for authenticator
// apps.
func (v *TOTPVerifier) ProvisionURI(secretBase32, account string) string {
	label := url.PathEscape(v.config.Issuer + ":" + account)

	values := url.Values{}
	values.Set("secret", secretBase32)
	values.Set("issuer", v.config.Issuer)
	values.Set("period", strconv.Itoa(v.config.Period))
	values.Set("digits", strconv.Itoa(v.config.Digits))
	values.Set("algorithm", strings.ToUpper(v.config.Algorithm))

	return "otpauth://totp/" + label + "?" + values.Encode()
}

func hotpCode(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errors.New("unsupported totp algorithm")
	}
}

func numeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
