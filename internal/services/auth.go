package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jjudge-oj/authserver/internal/auth"
	"github.com/jjudge-oj/authserver/internal/logging"
	"github.com/jjudge-oj/authserver/internal/mq"
	"github.com/jjudge-oj/authserver/internal/store"
	"github.com/jjudge-oj/authserver/types"
)

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong
	// password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrEmailAlreadyExists is returned when registering a taken email.
	ErrEmailAlreadyExists = errors.New("email already exists")

	errSubjectMismatch = errors.New("token subject does not match stored user")
)

// Credentials is an email and plaintext password pair. It must not outlive
// the call that verifies it.
type Credentials struct {
	Email    string
	Password string
}

func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Email:%s Password:[REDACTED]}", c.Email)
}

// LogValue keeps the password out of structured logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(slog.String("email", c.Email))
}

// Registration is the input of Register.
type Registration struct {
	Email     string
	FirstName string
	LastName  string
	Password  string
}

// EventPublisher is the subset of mq.EventPublisher used by AuthService.
type EventPublisher interface {
	PublishAccountEvent(ctx context.Context, ev mq.AccountEvent) error
}

// AuthService implements registration, login and token-to-identity
// resolution.
type AuthService struct {
	users  *UserService
	hasher auth.PasswordHasher
	tokens *auth.TokenService
	events EventPublisher
	logger logging.Logger
}

// NewAuthService wires the service. events may be nil to disable account
// events.
func NewAuthService(
	users *UserService,
	hasher auth.PasswordHasher,
	tokens *auth.TokenService,
	events EventPublisher,
	logger logging.Logger,
) *AuthService {
	if logger == nil {
		logger = logging.Nop()
	}
	return &AuthService{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		events: events,
		logger: logger,
	}
}

// Lookup exposes the user lookup capability used by the request filter.
func (s *AuthService) Lookup() UserLookup {
	return s.users.GetByEmail
}

// Register stores a new USER account and returns a token for it. No token
// is issued unless the insert succeeded.
func (s *AuthService) Register(ctx context.Context, reg Registration) (string, error) {
	hashed, err := s.hasher.Hash(ctx, reg.Password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Create(ctx, types.User{
		Email:        reg.Email,
		FirstName:    reg.FirstName,
		LastName:     reg.LastName,
		Role:         types.RoleUser,
		PasswordHash: hashed,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return "", ErrEmailAlreadyExists
		}
		return "", fmt.Errorf("create user: %w", err)
	}

	token, err := s.issue(user)
	if err != nil {
		return "", err
	}

	s.logger.Info(ctx, "user registered", "user_id", user.ID)
	s.publish(ctx, mq.EventUserRegistered, user)
	return token, nil
}

// Login verifies creds and returns a token. Unknown email and wrong password
// both yield ErrInvalidCredentials. The unknown-email path returns before
// any bcrypt work, so the two failures differ in latency.
func (s *AuthService) Login(ctx context.Context, creds Credentials) (string, error) {
	user, err := s.users.GetByEmail(ctx, creds.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Debug(ctx, "login failed", "reason", "unknown email")
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("load user: %w", err)
	}

	if !s.hasher.Verify(ctx, creds.Password, user.PasswordHash) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		s.logger.Debug(ctx, "login failed", "reason", "password mismatch", "user_id", user.ID)
		return "", ErrInvalidCredentials
	}

	token, err := s.issue(user)
	if err != nil {
		return "", err
	}

	s.publish(ctx, mq.EventUserAuthenticated, user)
	return token, nil
}

// ResolveIdentity turns a bearer token into an identity. It extracts the
// subject, loads the user through lookup and checks the token against the
// stored email. Any failure is returned for logging; callers treat it as
// "no identity".
func (s *AuthService) ResolveIdentity(ctx context.Context, token string, lookup UserLookup) (auth.Identity, error) {
	subject, err := s.tokens.ExtractSubject(token)
	if err != nil {
		return auth.Identity{}, err
	}

	user, err := lookup(ctx, subject)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("resolve subject: %w", err)
	}

	if !s.tokens.IsValid(token, user.Email) {
		if _, err := s.tokens.Parse(token); err != nil {
			return auth.Identity{}, err
		}
		return auth.Identity{}, errSubjectMismatch
	}
	return auth.NewIdentity(user), nil
}

func (s *AuthService) issue(user types.User) (string, error) {
	token, err := s.tokens.IssueWithClaims(user.Email, map[string]any{"role": string(user.Role)})
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}

func (s *AuthService) publish(ctx context.Context, eventType string, user types.User) {
	if s.events == nil {
		return
	}
	err := s.events.PublishAccountEvent(ctx, mq.AccountEvent{
		Type:   eventType,
		UserID: user.ID,
		Email:  user.Email,
	})
	if err != nil {
		s.logger.Warn(ctx, "account event not published", "type", eventType, "user_id", user.ID, "error", err)
	}
}
