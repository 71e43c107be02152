package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/GandRedZ/RedZ/internal/auth"
	"github.com/GandRedZ/RedZ/internal/observability"
	"github.com/GandRedZ/RedZ/internal/store"
)

// Config represents token service configuration.
type Config struct {
	// Issuer is the iss claim stamped on and required of every token.
	Issuer string `yaml:"issuer"`

	// Audience is the aud claim stamped on and required of every token.
	Audience string `yaml:"audience"`

	// AccessTTL is the lifetime of access tokens.
	AccessTTL time.Duration `yaml:"accessTTL"`

	// RefreshTTL is the lifetime of refresh tokens.
	RefreshTTL time.Duration `yaml:"refreshTTL"`

	// ClockSkew is the allowed clock skew for time-based claims.
	ClockSkew time.Duration `yaml:"clockSkew"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Issuer:     "redz",
		Audience:   "redz-api",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		ClockSkew:  30 * time.Second,
	}
}

// IssueRequest carries the identity attributes minted into an access
// token.
type IssueRequest struct {
	Subject     string
	Email       string
	Role        string
	Department  string
	Permissions []string
}

// Service issues, verifies and revokes tokens. A single signing
// algorithm is fixed at construction; tokens signed with any other
// algorithm are rejected outright.
type Service struct {
	cfg     Config
	keys    *KeyPair
	store   store.Store
	logger  observability.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option is a functional option for the service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// WithStore sets the store backing revocation records. Without a
// store, issued tokens cannot be revoked before expiry.
func WithStore(st store.Store) Option {
	return func(s *Service) {
		s.store = st
	}
}

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new token service.
func NewService(cfg Config, keys *KeyPair, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		keys:   keys,
		logger: observability.NopLogger(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// revocationKey builds the store key of a token's backing record.
func revocationKey(tokenID string) string {
	return "token:jti:" + tokenID
}

// IssueAccessToken mints a signed access token carrying the caller's
// authorization claims, and persists its backing record so the token
// can later be revoked.
func (s *Service) IssueAccessToken(ctx context.Context, req IssueRequest) (string, *Claims, error) {
	return s.issue(ctx, string(auth.KindAccess), req, s.cfg.AccessTTL)
}

// IssueRefreshToken mints a signed refresh token for the subject.
// Refresh tokens carry no authorization claims: role and permissions
// are minted fresh on exchange.
func (s *Service) IssueRefreshToken(ctx context.Context, subject string) (string, *Claims, error) {
	return s.issue(ctx, string(auth.KindRefresh), IssueRequest{Subject: subject}, s.cfg.RefreshTTL)
}

func (s *Service) issue(ctx context.Context, kind string, req IssueRequest, ttl time.Duration) (string, *Claims, error) {
	start := time.Now()
	now := s.now()

	if req.Subject == "" {
		s.metrics.RecordIssue("error", kind, time.Since(start))
		return "", nil, fmt.Errorf("subject is required")
	}

	claims := &Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   req.Subject,
			Audience:  jwt.ClaimStrings{s.cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}

	if kind == string(auth.KindAccess) {
		claims.Email = req.Email
		claims.Role = req.Role
		claims.Department = req.Department
		claims.Permissions = req.Permissions
	}

	signed, err := jwt.NewWithClaims(s.keys.method, claims).SignedString(s.keys.signKey)
	if err != nil {
		s.metrics.RecordIssue("error", kind, time.Since(start))
		return "", nil, fmt.Errorf("signing token: %w", err)
	}

	if s.store != nil {
		// The backing record outlives the token by the clock skew so
		// a token accepted within the leeway still resolves.
		recordTTL := ttl + s.cfg.ClockSkew
		if err := s.store.SetEx(ctx, revocationKey(claims.ID), req.Subject, recordTTL); err != nil {
			s.metrics.RecordIssue("error", kind, time.Since(start))
			return "", nil, fmt.Errorf("persisting token record: %w", err)
		}
	}

	s.metrics.RecordIssue("success", kind, time.Since(start))
	s.logger.WithContext(ctx).Debug("token issued",
		observability.String("kind", kind),
		observability.String("subject", req.Subject),
		observability.String("token_id", claims.ID),
	)

	return signed, claims, nil
}

// Verify checks an access token end to end: signature, algorithm,
// issuer, audience, expiry, kind and revocation. On success it
// returns the principal the token authenticates.
func (s *Service) Verify(ctx context.Context, tokenString string) (*auth.Principal, error) {
	claims, err := s.verify(ctx, tokenString, string(auth.KindAccess))
	if err != nil {
		return nil, err
	}
	return claims.Principal(), nil
}

// VerifyRefresh checks a refresh token and returns its claims for the
// exchange flow.
func (s *Service) VerifyRefresh(ctx context.Context, tokenString string) (*Claims, error) {
	return s.verify(ctx, tokenString, string(auth.KindRefresh))
}

func (s *Service) verify(ctx context.Context, tokenString, kind string) (*Claims, error) {
	start := time.Now()

	if tokenString == "" {
		s.metrics.RecordVerify("error", time.Since(start))
		return nil, auth.ErrTokenMissing
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, s.keyFunc,
		jwt.WithValidMethods([]string{s.keys.algorithm}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithLeeway(s.cfg.ClockSkew),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		s.metrics.RecordVerify("error", time.Since(start))
		return nil, mapParseError(err)
	}

	if claims.Kind != kind {
		s.metrics.RecordVerify("error", time.Since(start))
		return nil, auth.NewVerificationError("unexpected token kind", auth.ErrTokenInvalid)
	}

	if err := s.checkRevocation(ctx, claims); err != nil {
		s.metrics.RecordVerify("error", time.Since(start))
		return nil, err
	}

	s.metrics.RecordVerify("success", time.Since(start))
	return claims, nil
}

// checkRevocation verifies the token's backing record still exists.
// A missing record means the token was revoked. Store failures do not
// reject otherwise valid tokens; they are logged and the check is
// skipped.
func (s *Service) checkRevocation(ctx context.Context, claims *Claims) error {
	if s.store == nil || claims.ID == "" {
		return nil
	}

	exists, err := s.store.Exists(ctx, revocationKey(claims.ID))
	if err != nil {
		s.logger.WithContext(ctx).Warn("revocation check unavailable, accepting token",
			observability.String("token_id", claims.ID),
			observability.Error(err),
		)
		return nil
	}
	if !exists {
		return auth.NewVerificationError("token record missing", auth.ErrTokenRevoked)
	}
	return nil
}

// IntrospectUnsafe decodes a token's claims WITHOUT verifying the
// signature or any time-based claim. Never use its output to make an
// authorization decision.
func (s *Service) IntrospectUnsafe(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, _, err := jwt.NewParser().ParseUnverified(tokenString, claims)
	if err != nil {
		return nil, auth.NewVerificationError("decoding token", auth.ErrTokenMalformed)
	}
	return claims, nil
}

// Revoke deletes the token's backing record, invalidating the token
// for all subsequent verifications.
func (s *Service) Revoke(ctx context.Context, tokenID string) error {
	if s.store == nil {
		return fmt.Errorf("revocation requires a store")
	}
	if tokenID == "" {
		return fmt.Errorf("token id is required")
	}

	if err := s.store.Delete(ctx, revocationKey(tokenID)); err != nil {
		return fmt.Errorf("deleting token record: %w", err)
	}

	s.metrics.RecordRevoke()
	s.logger.WithContext(ctx).Info("token revoked",
		observability.String("token_id", tokenID),
	)
	return nil
}

func (s *Service) keyFunc(_ *jwt.Token) (interface{}, error) {
	return s.keys.verifyKey, nil
}

// mapParseError translates library parse errors to the package's
// error taxonomy.
func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return auth.NewVerificationError("token expired", auth.ErrTokenExpired)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return auth.NewVerificationError("token malformed", auth.ErrTokenMalformed)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return auth.NewVerificationError("signature mismatch", auth.ErrTokenInvalid)
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return auth.NewVerificationError("token not yet valid", auth.ErrTokenInvalid)
	default:
		return auth.NewVerificationError("token rejected", auth.ErrTokenInvalid)
	}
}
