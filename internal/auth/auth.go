// Package auth manages dashboard accounts, session tokens and the link
// between a user and their broker session.
package auth

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"brokerdash/internal/broker"
	apperrors "brokerdash/internal/errors"
	"brokerdash/internal/models"
	"brokerdash/internal/security"
	"brokerdash/internal/store"
)

const (
	issuer            = "brokerdash"
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordBytes = 72
)

// Config holds token settings.
type Config struct {
	JWTSecret   string
	TokenExpiry time.Duration
}

// Claims are the verified contents of a session token.
type Claims struct {
	UserID    string
	Email     string
	Name      string
	ExpiresAt time.Time
}

// RegisterRequest is the input to Register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Service registers users, issues tokens and links broker sessions.
type Service struct {
	users      store.UserStore
	portfolios store.PortfolioStore
	vault      *security.Vault
	broker     broker.Authenticator
	cfg        Config
	logger     zerolog.Logger
	now        func() time.Time
	newID      func() string
}

// NewService creates an auth service. The vault protects broker tokens at rest.
func NewService(users store.UserStore, portfolios store.PortfolioStore, vault *security.Vault, authenticator broker.Authenticator, cfg Config, logger zerolog.Logger) (*Service, error) {
	if cfg.JWTSecret == "" {
		return nil, apperrors.Wrap(apperrors.ErrConfigInvalid, "jwt secret is required")
	}
	if cfg.TokenExpiry <= 0 {
		cfg.TokenExpiry = 24 * time.Hour
	}
	return &Service{
		users:      users,
		portfolios: portfolios,
		vault:      vault,
		broker:     authenticator,
		cfg:        cfg,
		logger:     logger.With().Str("component", "auth").Logger(),
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

// ============ Account Methods ============

// Register creates a user together with an empty portfolio and returns a
// session token for it.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.User, string, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, "", err
	}
	if len(req.Password) < minPasswordLength {
		return nil, "", apperrors.NewValidationError("password", "", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}

	hash, err := bcrypt.GenerateFromPassword(passwordBytes(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC()
	user := &models.User{
		ID:           s.newID(),
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: string(hash),
		CreatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, "", fmt.Errorf("failed to create user: %w", err)
	}
	if err := s.portfolios.SavePortfolio(ctx, models.NewPortfolio(user.ID, now)); err != nil {
		return nil, "", fmt.Errorf("failed to create portfolio: %w", err)
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info().Str("user_id", user.ID).Msg("User registered")
	return user, token, nil
}

// Login checks the password and returns a session token. Unknown emails and
// wrong passwords both yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	user, err := s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if apperrors.Is(err, apperrors.ErrDataNotFound) {
			return nil, "", apperrors.ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("failed to load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), passwordBytes(password)); err != nil {
		return nil, "", apperrors.ErrInvalidCredentials
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// GetUser returns the user with the given id.
func (s *Service) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return s.users.GetUser(ctx, userID)
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apperrors.NewValidationError("email", raw, "is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperrors.NewValidationError("email", raw, "is not a valid address")
	}
	return email, nil
}

func passwordBytes(password string) []byte {
	b := []byte(password)
	if len(b) > maxPasswordBytes {
		b = b[:maxPasswordBytes]
	}
	return b
}

// ============ Token Methods ============

// IssueToken signs an HS256 session token for the user.
func (s *Service) IssueToken(user *models.User) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"name":  user.Name,
		"iss":   issuer,
		"iat":   now.Unix(),
		"exp":   now.Add(s.cfg.TokenExpiry).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a session token. Any failure wraps ErrNotAuthenticated.
func (s *Service) VerifyToken(tokenString string) (*Claims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrNotAuthenticated, err)
	}

	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, fmt.Errorf("%w: token has no subject", apperrors.ErrNotAuthenticated)
	}
	out := &Claims{UserID: sub}
	out.Email, _ = claims["email"].(string)
	out.Name, _ = claims["name"].(string)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

// ============ Broker Session Methods ============

// LinkBroker logs in to the broker and stores the resulting access token,
// sealed by the vault, on the user record.
func (s *Service) LinkBroker(ctx context.Context, userID string, req broker.LoginRequest) (*models.BrokerSession, error) {
	if strings.TrimSpace(req.ClientCode) == "" && req.RequestToken == "" {
		return nil, apperrors.NewValidationError("client_code", req.ClientCode, "is required")
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	session, err := s.broker.Login(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to log in to broker: %w", err)
	}

	sealed, err := s.vault.Seal(session.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to seal broker token: %w", err)
	}

	now := s.now().UTC()
	expiresAt := session.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = broker.SessionExpiry(now)
	}
	clientCode := session.ClientCode
	if clientCode == "" {
		clientCode = req.ClientCode
	}

	user.Broker = &models.BrokerSession{
		ClientCode:     clientCode,
		EncryptedToken: sealed,
		FeedToken:      session.FeedToken,
		LinkedAt:       now,
		ExpiresAt:      expiresAt.UTC(),
	}
	if err := s.users.SaveUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to save broker session: %w", err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("client_code", security.MaskCredential(clientCode)).
		Time("expires_at", expiresAt).
		Msg("Broker session linked")
	return user.Broker, nil
}

// UnlinkBroker forgets the user's broker session.
func (s *Service) UnlinkBroker(ctx context.Context, userID string) error {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.Broker == nil {
		return nil
	}
	user.Broker = nil
	return s.users.SaveUser(ctx, user)
}

// Credential returns the decrypted broker session for the user. It
// satisfies the credential source the trading services depend on.
func (s *Service) Credential(ctx context.Context, userID string) (broker.Credential, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return broker.Credential{}, err
	}
	if user.Broker == nil || user.Broker.EncryptedToken == "" {
		return broker.Credential{}, apperrors.ErrBrokerNotLinked
	}
	if !s.now().Before(user.Broker.ExpiresAt) {
		return broker.Credential{}, apperrors.Wrapf(apperrors.ErrSessionExpired, "broker session expired at %s", user.Broker.ExpiresAt.Format(time.RFC3339))
	}

	token, err := s.vault.Open(user.Broker.EncryptedToken)
	if err != nil {
		return broker.Credential{}, fmt.Errorf("failed to open broker token: %w", err)
	}
	return broker.Credential{ClientCode: user.Broker.ClientCode, AccessToken: token}, nil
}

// LinkedUsers returns the ids of users whose broker session is still valid.
func (s *Service) LinkedUsers(ctx context.Context) ([]string, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	now := s.now()
	var ids []string
	for _, u := range users {
		if u.Broker != nil && now.Before(u.Broker.ExpiresAt) {
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}
