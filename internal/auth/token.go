package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the lifetime of issued tokens when none is configured.
const DefaultTokenTTL = 24 * time.Hour

var reservedClaims = map[string]struct{}{
	"sub": {}, "iat": {}, "exp": {}, "nbf": {}, "iss": {}, "aud": {}, "jti": {},
}

// Claims is the decoded payload of a token.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenService issues and validates HS256 tokens with a shared secret.
// It holds no mutable state and is safe for concurrent use.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
	leeway time.Duration
	now    func() time.Time
}

type TokenOption func(*TokenService)

// WithIssuer sets the iss claim on issued tokens and requires it on parse.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) { s.issuer = issuer }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

// WithLeeway tolerates clock skew when checking expiry.
func WithLeeway(d time.Duration) TokenOption {
	return func(s *TokenService) { s.leeway = d }
}

func NewTokenService(secret []byte, ttl time.Duration, opts ...TokenOption) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	s := &TokenService{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the lifetime given to issued tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for subject with iat=now and exp=now+TTL.
func (s *TokenService) Issue(subject string) (string, error) {
	return s.IssueWithClaims(subject, nil)
}

// IssueWithClaims is Issue with additional custom claims. Registered claim
// names are rejected with ErrReservedClaim.
func (s *TokenService) IssueWithClaims(subject string, extra map[string]any) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject is required")
	}

	now := s.now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(s.ttl)),
	}
	if s.issuer != "" {
		claims["iss"] = s.issuer
	}
	for key, value := range extra {
		if _, reserved := reservedClaims[key]; reserved {
			return "", fmt.Errorf("%w: %s", ErrReservedClaim, key)
		}
		claims[key] = value
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ExtractSubject verifies the signature and returns the sub claim. Expiry is
// not checked here.
func (s *TokenService) ExtractSubject(tokenString string) (string, error) {
	claims, err := s.parse(tokenString, jwt.WithoutClaimsValidation())
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Parse fully validates the token (signature, expiry, issuer) and returns its
// claims.
func (s *TokenService) Parse(tokenString string) (*Claims, error) {
	return s.parse(tokenString, s.validationOptions()...)
}

// IsValid reports whether the token has a good signature, belongs to
// expectedSubject and has not expired. It never returns an error.
func (s *TokenService) IsValid(tokenString, expectedSubject string) bool {
	claims, err := s.Parse(tokenString)
	if err != nil {
		return false
	}
	return expectedSubject != "" && claims.Subject == expectedSubject
}

func (s *TokenService) validationOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
		jwt.WithLeeway(s.leeway),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	return opts
}

func (s *TokenService) parse(tokenString string, opts ...jwt.ParserOption) (*Claims, error) {
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, classifyTokenError(err)
	}
	if !token.Valid {
		return nil, ErrTokenMalformed
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenMalformed)
	}
	return claims, nil
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %w", ErrTokenSignatureInvalid, ErrTokenMalformed)
	default:
		return fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	}
}
