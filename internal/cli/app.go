package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"brokerdash/internal/auth"
	"brokerdash/internal/broker"
	"brokerdash/internal/config"
	apperrors "brokerdash/internal/errors"
	"brokerdash/internal/models"
	"brokerdash/internal/resilience"
	"brokerdash/internal/security"
	"brokerdash/internal/store"
	"brokerdash/internal/trading"
	"brokerdash/pkg/utils"
)

// services is the wired application graph shared by serve and the one-shot
// commands.
type services struct {
	store     store.Store
	gateway   broker.Gateway
	breaker   *resilience.CircuitBreaker
	auth      *auth.Service
	locks     *trading.UserLocks
	orders    *trading.OrderService
	portfolio *trading.PortfolioService
	audit     *security.AuditLogger
	logger    zerolog.Logger
}

// openServices builds every collaborator from cfg. The caller owns Close.
func openServices(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*services, error) {
	if err := cfg.ValidateForServe(); err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	gw, authenticator, breaker := newGateway(cfg, logger)

	vault, err := security.NewVault(cfg.Security.VaultPassphrase)
	if err != nil {
		st.Close()
		return nil, err
	}

	authSvc, err := auth.NewService(st, st, vault, authenticator, auth.Config{
		JWTSecret:   cfg.Server.JWTSecret,
		TokenExpiry: cfg.Server.TokenExpiry,
	}, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	var audit *security.AuditLogger
	if cfg.Security.AuditEnabled {
		auditCfg := security.DefaultAuditConfig()
		auditCfg.LogDir = cfg.Security.AuditDir
		if audit, err = security.NewAuditLogger(auditCfg); err != nil {
			st.Close()
			return nil, err
		}
	}

	locks := trading.NewUserLocks()
	orders := trading.NewOrderService(gw, st, authSvc, locks, logger)
	portfolio := trading.NewPortfolioService(gw, st, orders, authSvc, locks, trading.Config{
		PriceBatchSize:  cfg.Sync.PriceBatchSize,
		PriceBatchDelay: cfg.Sync.PriceBatchDelay,
		MoversLimit:     cfg.Sync.MoversLimit,
	}, logger)

	return &services{
		store:     st,
		gateway:   gw,
		breaker:   breaker,
		auth:      authSvc,
		locks:     locks,
		orders:    orders,
		portfolio: portfolio,
		audit:     audit,
		logger:    logger,
	}, nil
}

// Close releases the store and the audit file.
func (s *services) Close() error {
	if s == nil {
		return nil
	}
	if err := s.audit.Close(); err != nil {
		s.store.Close()
		return err
	}
	return s.store.Close()
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendSurrealDB:
		sc := cfg.Storage.Surreal
		return store.NewSurrealStore(ctx, store.SurrealConfig{
			Address:   sc.Address,
			Namespace: sc.Namespace,
			Database:  sc.Database,
			Username:  sc.Username,
			Password:  sc.Password,
		}, logger)
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return store.NewSQLiteStore(cfg.Storage.Path)
	}
}

// newGateway returns the configured broker and its breaker. The paper broker
// has no breaker.
func newGateway(cfg *config.Config, logger zerolog.Logger) (broker.Gateway, broker.Authenticator, *resilience.CircuitBreaker) {
	bc := cfg.Broker
	circuit := resilience.DefaultCircuitBreakerConfig()
	if bc.CircuitFailureThreshold > 0 {
		circuit.FailureThreshold = bc.CircuitFailureThreshold
	}
	if bc.CircuitTimeout > 0 {
		circuit.Timeout = bc.CircuitTimeout
	}

	switch bc.Provider {
	case config.ProviderSmartAPI:
		retry := utils.DefaultRetryConfig()
		retry.MaxAttempts = bc.MaxRetries + 1
		client := broker.NewSmartAPIClient(bc.APIKey,
			broker.WithBaseURL(bc.BaseURL),
			broker.WithTimeout(bc.Timeout),
			broker.WithRateLimit(bc.RateLimit),
			broker.WithRetry(retry),
			broker.WithCircuitBreaker(circuit),
			broker.WithClientIdentity(bc.LocalIP, bc.PublicIP, bc.MACAddress),
			broker.WithLogger(logger.With().Str("component", "smartapi").Logger()),
		)
		return client, client, client.Breaker()
	case config.ProviderKite:
		kite := broker.NewKiteGateway(broker.KiteConfig{
			APIKey:    bc.APIKey,
			APISecret: bc.APISecret,
			BaseURI:   bc.BaseURL,
			Circuit:   circuit,
		}, logger.With().Str("component", "kite").Logger())
		return kite, kite, kite.Breaker()
	default:
		paper := broker.NewPaperGateway(bc.PaperCash)
		return paper, paper, nil
	}
}

// record writes an audit event for a CLI action. Audit failures are logged,
// not returned.
func (s *services) record(ctx context.Context, event security.AuditEvent, err error) {
	if auditErr := s.audit.Record(ctx, event, err); auditErr != nil {
		s.logger.Warn().Err(auditErr).Msg("Failed to write audit event")
	}
}

// resolveUser finds a dashboard user by email.
func (s *services) resolveUser(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, apperrors.NewValidationError("user", "", "--user <email> is required")
	}
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", email, err)
	}
	return u, nil
}
