package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jjudge-oj/authserver/internal/auth"
	"github.com/jjudge-oj/authserver/internal/logging"
	"github.com/jjudge-oj/authserver/internal/mq"
	"github.com/jjudge-oj/authserver/internal/store"
	"github.com/jjudge-oj/authserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []mq.AccountEvent
	err    error
}

func (p *recordingPublisher) PublishAccountEvent(ctx context.Context, ev mq.AccountEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// failingRepo wraps a repository and fails selected calls.
type failingRepo struct {
	UserRepository
	createErr error
	getErr    error
	creates   int
}

func (r *failingRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	r.creates++
	if r.createErr != nil {
		return types.User{}, r.createErr
	}
	return r.UserRepository.Create(ctx, user)
}

func (r *failingRepo) GetByEmail(ctx context.Context, email string) (types.User, error) {
	if r.getErr != nil {
		return types.User{}, r.getErr
	}
	return r.UserRepository.GetByEmail(ctx, email)
}

type fixture struct {
	svc    *AuthService
	repo   UserRepository
	tokens *auth.TokenService
	events *recordingPublisher
}

func newFixture(t *testing.T, repo UserRepository) fixture {
	t.Helper()
	if repo == nil {
		repo = store.NewMemoryUserRepository()
	}
	tokens := auth.NewTokenService([]byte("test-secret"), time.Hour)
	events := &recordingPublisher{}
	svc := NewAuthService(
		NewUserService(repo),
		auth.NewBcryptHasher(bcrypt.MinCost, 4),
		tokens,
		events,
		logging.Nop(),
	)
	return fixture{svc: svc, repo: repo, tokens: tokens, events: events}
}

func TestAuthService_RegisterThenLogin(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	token, err := f.svc.Register(ctx, Registration{Email: "a@x.com", FirstName: "Ann", LastName: "Lee", Password: "pw123"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	sub, err := f.tokens.ExtractSubject(token)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", sub)

	stored, err := f.repo.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, types.RoleUser, stored.Role)
	assert.Equal(t, "Ann", stored.FirstName)
	assert.NotEqual(t, "pw123", stored.PasswordHash)

	loginToken, err := f.svc.Login(ctx, Credentials{Email: "a@x.com", Password: "pw123"})
	require.NoError(t, err)
	sub, err = f.tokens.ExtractSubject(loginToken)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", sub)

	claims, err := f.tokens.Parse(loginToken)
	require.NoError(t, err)
	assert.Equal(t, "USER", claims.Role)

	assert.Equal(t, []string{mq.EventUserRegistered, mq.EventUserAuthenticated}, f.events.types())
}

func TestAuthService_RegisterDuplicate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, Registration{Email: "a@x.com", Password: "pw123"})
	require.NoError(t, err)

	token, err := f.svc.Register(ctx, Registration{Email: "a@x.com", Password: "other"})
	assert.ErrorIs(t, err, ErrEmailAlreadyExists)
	assert.Empty(t, token)
	assert.Equal(t, []string{mq.EventUserRegistered}, f.events.types())
}

func TestAuthService_RegisterStoreFailureIssuesNoToken(t *testing.T) {
	repo := &failingRepo{UserRepository: store.NewMemoryUserRepository(), createErr: errors.New("db down")}
	f := newFixture(t, repo)

	token, err := f.svc.Register(context.Background(), Registration{Email: "a@x.com", Password: "pw"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEmailAlreadyExists)
	assert.Empty(t, token)
	assert.Empty(t, f.events.types())
}

func TestAuthService_RegisterConcurrentSameEmail(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	const workers = 8
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Register(ctx, Registration{Email: "race@x.com", Password: fmt.Sprintf("pw%d", i)})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var ok, dup int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrEmailAlreadyExists):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, dup)
}

func TestAuthService_LoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, Registration{Email: "a@x.com", Password: "pw123"})
	require.NoError(t, err)

	_, wrongPassword := f.svc.Login(ctx, Credentials{Email: "a@x.com", Password: "wrong"})
	_, unknownEmail := f.svc.Login(ctx, Credentials{Email: "nobody@x.com", Password: "pw123"})

	assert.ErrorIs(t, wrongPassword, ErrInvalidCredentials)
	assert.ErrorIs(t, unknownEmail, ErrInvalidCredentials)
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
}

func TestAuthService_LoginIsCaseSensitiveOnEmail(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, Registration{Email: "a@x.com", Password: "pw123"})
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, Credentials{Email: "A@X.COM", Password: "pw123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_LoginStoreFailure(t *testing.T) {
	repo := &failingRepo{UserRepository: store.NewMemoryUserRepository(), getErr: errors.New("db down")}
	f := newFixture(t, repo)

	_, err := f.svc.Login(context.Background(), Credentials{Email: "a@x.com", Password: "pw"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_EventFailureDoesNotFailRegistration(t *testing.T) {
	f := newFixture(t, nil)
	f.events.err = errors.New("broker down")

	token, err := f.svc.Register(context.Background(), Registration{Email: "a@x.com", Password: "pw"})
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestAuthService_NilEventsAndLogger(t *testing.T) {
	repo := store.NewMemoryUserRepository()
	svc := NewAuthService(NewUserService(repo), auth.NewBcryptHasher(bcrypt.MinCost, 1),
		auth.NewTokenService([]byte("k"), time.Hour), nil, nil)

	_, err := svc.Register(context.Background(), Registration{Email: "a@x.com", Password: "pw"})
	require.NoError(t, err)
}

func TestAuthService_ResolveIdentity(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	token, err := f.svc.Register(ctx, Registration{Email: "a@x.com", Password: "pw123"})
	require.NoError(t, err)

	identity, err := f.svc.ResolveIdentity(ctx, token, f.svc.Lookup())
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", identity.Email)
	assert.Equal(t, types.RoleUser, identity.Role)
	assert.Equal(t, []string{"USER"}, identity.Authorities)
}

func TestAuthService_ResolveIdentity_Failures(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.ResolveIdentity(ctx, "garbage", f.svc.Lookup())
	assert.ErrorIs(t, err, auth.ErrTokenMalformed)

	orphan, err := f.tokens.Issue("ghost@x.com")
	require.NoError(t, err)
	_, err = f.svc.ResolveIdentity(ctx, orphan, f.svc.Lookup())
	assert.ErrorIs(t, err, store.ErrNotFound)

	token, err := f.tokens.Issue("a@x.com")
	require.NoError(t, err)
	swapped := func(ctx context.Context, email string) (types.User, error) {
		return types.User{Email: "b@x.com", Role: types.RoleUser}, nil
	}
	_, err = f.svc.ResolveIdentity(ctx, token, swapped)
	assert.ErrorIs(t, err, errSubjectMismatch)
}

func TestAuthService_ResolveIdentity_Expired(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	repo := store.NewMemoryUserRepository()
	tokens := auth.NewTokenService([]byte("k"), time.Minute, auth.WithClock(clock))
	svc := NewAuthService(NewUserService(repo), auth.NewBcryptHasher(bcrypt.MinCost, 1), tokens, nil, logging.Nop())
	ctx := context.Background()

	token, err := svc.Register(ctx, Registration{Email: "a@x.com", Password: "pw"})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = svc.ResolveIdentity(ctx, token, svc.Lookup())
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestCredentials_NeverRenderPassword(t *testing.T) {
	creds := Credentials{Email: "a@x.com", Password: "hunter2"}

	assert.NotContains(t, creds.String(), "hunter2")
	assert.NotContains(t, fmt.Sprintf("%v", creds), "hunter2")

	var buf bytes.Buffer
	log := logging.New(&buf, "debug", "text")
	log.Info(context.Background(), "attempt", "creds", creds)
	assert.NotContains(t, buf.String(), "hunter2")
	assert.Contains(t, buf.String(), "a@x.com")
}

type blockingHasher struct {
	started chan struct{}
}

func (h blockingHasher) Hash(ctx context.Context, plaintext string) (string, error) {
	return "hash:" + plaintext, nil
}

func (h blockingHasher) Verify(ctx context.Context, plaintext, hashed string) bool {
	close(h.started)
	<-ctx.Done()
	return false
}

func TestAuthService_LoginCancelledWhileVerifying(t *testing.T) {
	repo := store.NewMemoryUserRepository()
	_, err := repo.Create(context.Background(), types.User{Email: "a@x.com", Role: types.RoleUser, PasswordHash: "hash:pw"})
	require.NoError(t, err)

	hasher := blockingHasher{started: make(chan struct{})}
	svc := NewAuthService(NewUserService(repo), hasher, auth.NewTokenService([]byte("k"), time.Hour), nil, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-hasher.started
		cancel()
	}()

	_, err = svc.Login(ctx, Credentials{Email: "a@x.com", Password: "pw"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}
