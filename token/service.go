package token

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/taxpoynt/authcore/internal/ttlcache"
	"github.com/taxpoynt/authcore/keyring"
)

// Config holds the token service tuning parameters. Zero values fall back
// to the platform defaults set by withDefaults.
type Config struct {
	Issuer   string
	Audience string
	Leeway   time.Duration

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	IDTTL      time.Duration
	APIKeyTTL  time.Duration
	SessionTTL time.Duration

	CacheTTL  time.Duration
	Retention time.Duration
}

func (c Config) withDefaults() Config {
	if c.AccessTTL <= 0 {
		c.AccessTTL = time.Hour
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = 30 * 24 * time.Hour
	}
	if c.IDTTL <= 0 {
		c.IDTTL = time.Hour
	}
	if c.APIKeyTTL <= 0 {
		c.APIKeyTTL = 365 * 24 * time.Hour
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 8 * time.Hour
	}
	if c.Leeway < 0 {
		c.Leeway = 0
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	return c
}

// IssueRequest describes one token to mint.
type IssueRequest struct {
	Subject     string
	Kind        Kind
	Roles       []string
	Permissions []string
	TenantID    string
	SessionID   string
	Scope       string
	IP          string
	UserAgent   string
	DeviceID    string
	TTLOverride time.Duration
}

// ValidateOptions narrows what a token must carry to pass validation.
type ValidateOptions struct {
	ExpectedKind        Kind
	RequiredPermissions []string
	RequiredRoles       []string
}

// ValidationResult is the outcome of one Validate call. Invalid tokens are
// reported through Valid=false and Error, never through a Go error: a bad
// token is expected traffic, not a fault.
type ValidationResult struct {
	Valid    bool
	Claims   *Claims
	JTI      string
	Error    string
	CacheHit bool
}

type cachedValidation struct {
	claims    Claims
	jti       string
	expiresAt time.Time
}

// Service issues, validates, refreshes, and revokes tokens. Signature
// verification results are cached for a short TTL keyed by a hash of the
// raw token string; revocation invalidates the cached entry immediately.
type Service struct {
	store  Store
	keys   *keyring.Manager
	config Config
	cache  *ttlcache.Cache[cachedValidation]
	clock  func() time.Time

	mu         sync.Mutex
	cacheByJTI map[string]string
}

// NewService creates a token Service over the given store and keyring.
func NewService(store Store, keys *keyring.Manager, cfg Config) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		store:      store,
		keys:       keys,
		config:     cfg,
		cache:      ttlcache.New[cachedValidation](cfg.CacheTTL),
		clock:      time.Now,
		cacheByJTI: make(map[string]string),
	}
}

// WithClock overrides the time source. Test hook.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// TTLFor returns the configured lifetime for a token kind.
func (s *Service) TTLFor(kind Kind) time.Duration {
	switch kind {
	case KindRefresh:
		return s.config.RefreshTTL
	case KindID:
		return s.config.IDTTL
	case KindAPIKey:
		return s.config.APIKeyTTL
	case KindSession:
		return s.config.SessionTTL
	default:
		return s.config.AccessTTL
	}
}

// Issue signs a new token and records it in the store under a fresh jti.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (string, *Token, error) {
	if req.Subject == "" {
		return "", nil, errors.New("token subject required")
	}
	if req.Kind == "" {
		req.Kind = KindAccess
	}

	ttl := req.TTLOverride
	if ttl <= 0 {
		ttl = s.TTLFor(req.Kind)
	}

	now := s.clock().UTC()
	jti := uuid.NewString()
	keyID, private := s.keys.SigningKey()

	claims := Claims{
		Kind:        string(req.Kind),
		Roles:       req.Roles,
		Permissions: req.Permissions,
		TenantID:    req.TenantID,
		SessionID:   req.SessionID,
		Scope:       req.Scope,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   req.Subject,
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if s.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.config.Audience}
	}

	jwtToken := jwt.NewWithClaims(s.signingMethod(), claims)
	jwtToken.Header["kid"] = keyID

	signed, err := jwtToken.SignedString(s.signKey(private))
	if err != nil {
		return "", nil, err
	}

	record := &Token{
		JTI:         jti,
		Subject:     req.Subject,
		Kind:        req.Kind,
		KeyID:       keyID,
		IssuedAt:    now,
		NotBefore:   now,
		ExpiresAt:   now.Add(ttl),
		Status:      StatusActive,
		IP:          req.IP,
		UserAgent:   req.UserAgent,
		DeviceID:    req.DeviceID,
		Roles:       req.Roles,
		Permissions: req.Permissions,
		TenantID:    req.TenantID,
		SessionID:   req.SessionID,
		Scope:       req.Scope,
	}
	if err := s.store.Save(ctx, record); err != nil {
		return "", nil, err
	}

	return signed, record, nil
}

// Validate decodes and verifies a raw token string. It fails closed on
// signature errors, issuer/audience mismatch, expiry, revocation, kind
// mismatch, and missing required roles or permissions.
func (s *Service) Validate(ctx context.Context, raw string, opts ValidateOptions) ValidationResult {
	cacheKey := hashToken(raw)

	if cached, ok := s.cache.Get(cacheKey); ok {
		if s.clock().Add(-s.config.Leeway).Before(cached.expiresAt) {
			claims := cached.claims
			if failed := s.checkOptions(&claims, opts); failed != "" {
				return ValidationResult{Valid: false, JTI: cached.jti, Error: failed, CacheHit: true}
			}
			s.touch(ctx, cached.jti)
			return ValidationResult{Valid: true, Claims: &claims, JTI: cached.jti, CacheHit: true}
		}
		s.cache.Delete(cacheKey)
	}

	claims, err := s.parse(raw)
	if err != nil {
		s.markExpiredIfKnown(ctx, raw, err)
		return ValidationResult{Valid: false, Error: validationError(err)}
	}

	jti := claims.ID
	revoked, err := s.store.IsRevoked(ctx, jti)
	if err == nil && revoked {
		return ValidationResult{Valid: false, JTI: jti, Error: "token revoked"}
	}

	if failed := s.checkOptions(claims, opts); failed != "" {
		return ValidationResult{Valid: false, JTI: jti, Error: failed}
	}

	s.touch(ctx, jti)

	s.cache.Set(cacheKey, cachedValidation{
		claims:    *claims,
		jti:       jti,
		expiresAt: claims.ExpiresAt.Time,
	})
	s.mu.Lock()
	s.cacheByJTI[jti] = cacheKey
	s.mu.Unlock()

	return ValidationResult{Valid: true, Claims: claims, JTI: jti}
}

// Revoke marks a token revoked and invalidates any cached validation.
// Accepts either a raw token string or a bare jti. Idempotent: revoking an
// unknown or already-terminal token returns false.
func (s *Service) Revoke(ctx context.Context, tokenOrJTI, reason string) bool {
	jti := tokenOrJTI
	if strings.Count(tokenOrJTI, ".") == 2 {
		parsed, _, err := jwt.NewParser().ParseUnverified(tokenOrJTI, &Claims{})
		if err != nil {
			return false
		}
		if claims, ok := parsed.Claims.(*Claims); ok {
			jti = claims.ID
		}
	}

	record, err := s.store.Get(ctx, jti)
	if err != nil || record.Status != StatusActive {
		return false
	}

	now := s.clock().UTC()
	record.Status = StatusRevoked
	record.RevokedAt = now
	record.Reason = reason
	if err := s.store.Update(ctx, record); err != nil {
		return false
	}
	if err := s.store.MarkRevoked(ctx, jti, record.ExpiresAt); err != nil {
		return false
	}

	s.invalidateCached(jti)
	return true
}

// Refresh validates a refresh token and mints a fresh access token carrying
// the same subject, roles, permissions, tenant, and session. An invalid or
// expired refresh token yields ok=false, never an error.
func (s *Service) Refresh(ctx context.Context, refreshRaw string) (string, *Token, bool) {
	result := s.Validate(ctx, refreshRaw, ValidateOptions{ExpectedKind: KindRefresh})
	if !result.Valid {
		return "", nil, false
	}

	claims := result.Claims
	signed, record, err := s.Issue(ctx, IssueRequest{
		Subject:     claims.Subject,
		Kind:        KindAccess,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
		TenantID:    claims.TenantID,
		SessionID:   claims.SessionID,
		Scope:       claims.Scope,
	})
	if err != nil {
		return "", nil, false
	}
	return signed, record, true
}

// Get returns the stored record for a jti.
func (s *Service) Get(ctx context.Context, jti string) (*Token, error) {
	return s.store.Get(ctx, jti)
}

// SubjectTokens returns the jtis recorded for a subject.
func (s *Service) SubjectTokens(ctx context.Context, subject string) ([]string, error) {
	return s.store.SubjectTokens(ctx, subject)
}

// RevokeSubject revokes every active token recorded for a subject and
// returns the count revoked.
func (s *Service) RevokeSubject(ctx context.Context, subject, reason string) int {
	jtis, err := s.store.SubjectTokens(ctx, subject)
	if err != nil {
		return 0
	}

	revoked := 0
	for _, jti := range jtis {
		if s.Revoke(ctx, jti, reason) {
			revoked++
		}
	}
	return revoked
}

// Sweep relabels expired tokens and drops terminal records past the
// retention window. Per-record failures are skipped, not fatal.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	records, err := s.store.All(ctx)
	if err != nil {
		return 0, err
	}

	now := s.clock().UTC()
	touched := 0
	for _, record := range records {
		switch {
		case record.Status == StatusActive && record.Expired(now):
			record.Status = StatusExpired
			if err := s.store.Update(ctx, record); err != nil {
				continue
			}
			s.invalidateCached(record.JTI)
			touched++
		case record.Status != StatusActive && now.After(record.ExpiresAt.Add(s.config.Retention)):
			if err := s.store.Delete(ctx, record.JTI); err != nil {
				continue
			}
			touched++
		}
	}
	return touched, nil
}

// SweepCache evicts stale validation cache entries.
func (s *Service) SweepCache(_ context.Context) (int, error) {
	return s.cache.Sweep(), nil
}

// CacheStats returns validation cache hit and miss counts.
func (s *Service) CacheStats() (hits, misses uint64) {
	return s.cache.Hits(), s.cache.Misses()
}

func (s *Service) parse(raw string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.signingMethod().Alg()}),
		jwt.WithTimeFunc(s.clock),
	}
	if s.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(s.config.Leeway))
	}
	if s.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(s.config.Issuer))
	}
	if s.config.Audience != "" {
		options = append(options, jwt.WithAudience(s.config.Audience))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		_, material := s.keys.VerificationKey(kid)
		return s.verifyKey(material), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func (s *Service) checkOptions(claims *Claims, opts ValidateOptions) string {
	if opts.ExpectedKind != "" && claims.Kind != string(opts.ExpectedKind) {
		return fmt.Sprintf("token kind %q does not match expected kind %q", claims.Kind, opts.ExpectedKind)
	}

	if len(opts.RequiredPermissions) > 0 {
		held := make(map[string]struct{}, len(claims.Permissions))
		for _, p := range claims.Permissions {
			held[p] = struct{}{}
		}
		for _, required := range opts.RequiredPermissions {
			if _, ok := held[required]; !ok {
				return fmt.Sprintf("missing required permission %q", required)
			}
		}
	}

	if len(opts.RequiredRoles) > 0 {
		held := make(map[string]struct{}, len(claims.Roles))
		for _, r := range claims.Roles {
			held[r] = struct{}{}
		}
		matched := false
		for _, required := range opts.RequiredRoles {
			if _, ok := held[required]; ok {
				matched = true
				break
			}
		}
		if !matched {
			return "none of the required roles held"
		}
	}

	return ""
}

func (s *Service) touch(ctx context.Context, jti string) {
	record, err := s.store.Get(ctx, jti)
	if err != nil {
		return
	}
	record.UseCount++
	record.LastUsedAt = s.clock().UTC()
	_ = s.store.Update(ctx, record)
}

// markExpiredIfKnown moves the stored record to expired when a parse failed
// on expiry, so the lazy transition happens on validate and not only on the
// hourly sweep.
func (s *Service) markExpiredIfKnown(ctx context.Context, raw string, parseErr error) {
	if !errors.Is(parseErr, jwt.ErrTokenExpired) {
		return
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(raw, &Claims{})
	if err != nil {
		return
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.ID == "" {
		return
	}
	record, err := s.store.Get(ctx, claims.ID)
	if err != nil || record.Status != StatusActive {
		return
	}
	record.Status = StatusExpired
	_ = s.store.Update(ctx, record)
	s.invalidateCached(claims.ID)
}

func (s *Service) invalidateCached(jti string) {
	s.mu.Lock()
	cacheKey, ok := s.cacheByJTI[jti]
	if ok {
		delete(s.cacheByJTI, jti)
	}
	s.mu.Unlock()

	if ok {
		s.cache.Delete(cacheKey)
	}
}

func (s *Service) signingMethod() jwt.SigningMethod {
	switch s.keys.Algorithm() {
	case keyring.AlgorithmEd25519:
		return jwt.SigningMethodEdDSA
	default:
		return jwt.SigningMethodHS256
	}
}

func (s *Service) signKey(private []byte) interface{} {
	switch s.keys.Algorithm() {
	case keyring.AlgorithmEd25519:
		return ed25519.PrivateKey(private)
	default:
		return private
	}
}

func (s *Service) verifyKey(material []byte) interface{} {
	switch s.keys.Algorithm() {
	case keyring.AlgorithmEd25519:
		return ed25519.PublicKey(material)
	default:
		return material
	}
}

func validationError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return "token not yet valid"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "invalid token signature"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "invalid token issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "invalid token audience"
	default:
		return "malformed token"
	}
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
