package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerdash/internal/broker"
	apperrors "brokerdash/internal/errors"
	"brokerdash/internal/models"
	"brokerdash/internal/security"
	"brokerdash/internal/store"
)

type fixture struct {
	svc   *Service
	store *store.SQLiteStore
	paper *broker.PaperGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	vault, err := security.NewVault("test-passphrase")
	require.NoError(t, err)

	paper := broker.NewPaperGateway(0)
	svc, err := NewService(st, st, vault, paper, Config{JWTSecret: "test-secret", TokenExpiry: time.Hour}, zerolog.Nop())
	require.NoError(t, err)
	return &fixture{svc: svc, store: st, paper: paper}
}

func (f *fixture) register(t *testing.T, email string) *models.User {
	t.Helper()
	user, _, err := f.svc.Register(context.Background(), RegisterRequest{Email: email, Password: "s3cret-pass", Name: "Test User"})
	require.NoError(t, err)
	return user
}

func TestNewServiceRequiresSecret(t *testing.T) {
	_, err := NewService(nil, nil, nil, nil, Config{}, zerolog.Nop())
	assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
}

func TestRegisterCreatesUserAndEmptyPortfolio(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, token, err := f.svc.Register(ctx, RegisterRequest{Email: "  Asha@Example.com ", Password: "s3cret-pass", Name: "Asha"})
	require.NoError(t, err)
	assert.Equal(t, "asha@example.com", user.Email)
	assert.NotEqual(t, "s3cret-pass", user.PasswordHash)
	assert.NotEmpty(t, token)

	p, err := f.store.GetPortfolio(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, p.Holdings)
	assert.Zero(t, p.TotalCurrentValue)

	claims, err := f.svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, "asha@example.com", claims.Email)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   RegisterRequest
		field string
	}{
		{"missing email", RegisterRequest{Password: "long-enough"}, "email"},
		{"bad email", RegisterRequest{Email: "not-an-email", Password: "long-enough"}, "email"},
		{"short password", RegisterRequest{Email: "a@b.co", Password: "short"}, "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.svc.Register(ctx, tt.req)
			var ve *apperrors.ValidationError
			require.True(t, apperrors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.register(t, "dup@example.com")

	_, _, err := f.svc.Register(context.Background(), RegisterRequest{Email: "DUP@example.com", Password: "another-pass"})
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registered := f.register(t, "login@example.com")

	user, token, err := f.svc.Login(ctx, "LOGIN@example.com", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)
	assert.NotEmpty(t, token)

	_, _, err = f.svc.Login(ctx, "login@example.com", "wrong-pass")
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	_, _, err = f.svc.Login(ctx, "nobody@example.com", "s3cret-pass")
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
}

func TestVerifyTokenRejections(t *testing.T) {
	f := newFixture(t)
	user := f.register(t, "tokens@example.com")

	token, err := f.svc.IssueToken(user)
	require.NoError(t, err)

	other, err := NewService(nil, nil, nil, nil, Config{JWTSecret: "different"}, zerolog.Nop())
	require.NoError(t, err)
	_, err = other.VerifyToken(token)
	assert.ErrorIs(t, err, apperrors.ErrNotAuthenticated, "wrong secret")

	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = f.svc.VerifyToken(token)
	assert.ErrorIs(t, err, apperrors.ErrNotAuthenticated, "expired")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": user.ID, "iss": issuer})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = f.svc.VerifyToken(unsigned)
	assert.ErrorIs(t, err, apperrors.ErrNotAuthenticated, "alg none")

	_, err = f.svc.VerifyToken("garbage")
	assert.ErrorIs(t, err, apperrors.ErrNotAuthenticated)
}

func TestLinkBrokerSealsToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "link@example.com")

	_, err := f.svc.Credential(ctx, user.ID)
	assert.ErrorIs(t, err, apperrors.ErrBrokerNotLinked)

	session, err := f.svc.LinkBroker(ctx, user.ID, broker.LoginRequest{ClientCode: "A123", Password: "1234", TOTP: "123456"})
	require.NoError(t, err)
	assert.Equal(t, "A123", session.ClientCode)
	assert.NotContains(t, session.EncryptedToken, "paper-token")

	stored, err := f.store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Broker)
	assert.Equal(t, session.EncryptedToken, stored.Broker.EncryptedToken)

	cred, err := f.svc.Credential(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "A123", cred.ClientCode)
	assert.Equal(t, "paper-token-A123-1", cred.AccessToken)

	linked, err := f.svc.LinkedUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{user.ID}, linked)

	require.NoError(t, f.svc.UnlinkBroker(ctx, user.ID))
	_, err = f.svc.Credential(ctx, user.ID)
	assert.ErrorIs(t, err, apperrors.ErrBrokerNotLinked)
}

func TestLinkBrokerFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "fail@example.com")

	_, err := f.svc.LinkBroker(ctx, user.ID, broker.LoginRequest{})
	var ve *apperrors.ValidationError
	require.True(t, apperrors.As(err, &ve))
	assert.Equal(t, "client_code", ve.Field)

	f.paper.FailOn(broker.PaperOpLogin, apperrors.NewBrokerError("AB1007", "Invalid totp", nil))
	_, err = f.svc.LinkBroker(ctx, user.ID, broker.LoginRequest{ClientCode: "A123", TOTP: "000000"})
	var be *apperrors.BrokerError
	require.True(t, apperrors.As(err, &be))
	assert.Equal(t, "Invalid totp", be.Message)

	stored, err := f.store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Broker, "a failed login leaves the user unlinked")
}

func TestCredentialExpiredSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "expired@example.com")

	_, err := f.svc.LinkBroker(ctx, user.ID, broker.LoginRequest{ClientCode: "A123"})
	require.NoError(t, err)

	f.svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	_, err = f.svc.Credential(ctx, user.ID)
	assert.ErrorIs(t, err, apperrors.ErrSessionExpired)

	linked, err := f.svc.LinkedUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, linked)
}
