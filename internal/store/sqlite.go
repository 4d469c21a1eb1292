package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	apperrors "brokerdash/internal/errors"
	"brokerdash/internal/models"
)

// SQLiteStore implements Store using SQLite. Each record is kept as a JSON
// document next to the few columns needed for lookups and ordering.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[string]time.Time
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:        db,
		syncTimes: make(map[string]time.Time),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Dashboard accounts
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		doc TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- One portfolio document per user, holdings embedded
	CREATE TABLE IF NOT EXISTS portfolios (
		user_id TEXT PRIMARY KEY,
		doc TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Orders, local and sync-originated. Ids are unique per user.
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		broker_order_id TEXT,
		symbol TEXT NOT NULL,
		status TEXT NOT NULL,
		order_time TEXT NOT NULL,
		doc TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, id)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_broker_id
		ON orders(user_id, broker_order_id) WHERE broker_order_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_orders_user_time ON orders(user_id, order_time);

	-- Background job bookkeeping
	CREATE TABLE IF NOT EXISTS sync_status (
		data_type TEXT PRIMARY KEY,
		last_sync TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ============================================================================
// Portfolio Methods
// ============================================================================

// GetPortfolio loads a user's portfolio.
func (s *SQLiteStore) GetPortfolio(ctx context.Context, userID string) (*models.Portfolio, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM portfolios WHERE user_id = ?`, userID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewDataError("portfolio", userID, "not found", apperrors.ErrDataNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}

	var p models.Portfolio
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("failed to decode portfolio: %w", err)
	}
	if p.Holdings == nil {
		p.Holdings = []models.Holding{}
	}
	return &p, nil
}

// SavePortfolio inserts or replaces a user's portfolio.
func (s *SQLiteStore) SavePortfolio(ctx context.Context, p *models.Portfolio) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode portfolio: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO portfolios (user_id, doc, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at
	`, p.UserID, string(doc), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save portfolio: %w", err)
	}
	return nil
}

// ============================================================================
// Order Methods
// ============================================================================

// CreateOrder inserts a new order.
func (s *SQLiteStore) CreateOrder(ctx context.Context, o *models.Order) error {
	doc, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to encode order: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, broker_order_id, symbol, status, order_time, doc, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.UserID, nullable(o.BrokerOrderID), o.Symbol, string(o.Status),
		formatTime(o.OrderTime), string(doc), formatTime(o.UpdatedAt))
	if isUniqueViolation(err) {
		return apperrors.NewDataError("order", o.ID, "duplicate order", apperrors.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// SaveOrder inserts or replaces the user's order with o's id.
func (s *SQLiteStore) SaveOrder(ctx context.Context, o *models.Order) error {
	doc, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to encode order: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, broker_order_id, symbol, status, order_time, doc, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, id) DO UPDATE SET
			broker_order_id = excluded.broker_order_id,
			symbol = excluded.symbol,
			status = excluded.status,
			order_time = excluded.order_time,
			doc = excluded.doc,
			updated_at = excluded.updated_at
	`, o.ID, o.UserID, nullable(o.BrokerOrderID), o.Symbol, string(o.Status),
		formatTime(o.OrderTime), string(doc), formatTime(o.UpdatedAt))
	if isUniqueViolation(err) {
		return apperrors.NewDataError("order", o.BrokerOrderID, "broker order id belongs to another order", apperrors.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// GetOrder finds an order by client id or broker order id.
func (s *SQLiteStore) GetOrder(ctx context.Context, userID, id string) (*models.Order, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `
		SELECT doc FROM orders
		WHERE user_id = ? AND (id = ? OR broker_order_id = ?)
		ORDER BY CASE WHEN id = ? THEN 0 ELSE 1 END
		LIMIT 1
	`, userID, id, id, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewDataError("order", id, "not found", apperrors.ErrDataNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	var o models.Order
	if err := json.Unmarshal([]byte(doc), &o); err != nil {
		return nil, fmt.Errorf("failed to decode order: %w", err)
	}
	return &o, nil
}

// ListOrders retrieves a user's orders, newest first.
func (s *SQLiteStore) ListOrders(ctx context.Context, userID string, filter OrderFilter) ([]models.Order, error) {
	query := `SELECT doc FROM orders WHERE user_id = ?`
	args := []interface{}{userID}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, strings.ToUpper(filter.Symbol))
	}
	if !filter.Since.IsZero() {
		query += " AND order_time >= ?"
		args = append(args, formatTime(filter.Since))
	}

	query += " ORDER BY order_time DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		var o models.Order
		if err := json.Unmarshal([]byte(doc), &o); err != nil {
			return nil, fmt.Errorf("failed to decode order: %w", err)
		}
		orders = append(orders, o)
	}

	return orders, rows.Err()
}

// ============================================================================
// User Methods
// ============================================================================

// CreateUser inserts a new account. Emails are unique, case-insensitively.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *models.User) error {
	doc, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, doc, created_at) VALUES (?, ?, ?, ?)
	`, u.ID, strings.ToLower(u.Email), string(doc), formatTime(u.CreatedAt))
	if isUniqueViolation(err) {
		return apperrors.NewDataError("user", u.Email, "email already registered", apperrors.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser loads an account by id.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.queryUser(ctx, `SELECT doc FROM users WHERE id = ?`, id)
}

// GetUserByEmail loads an account by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.queryUser(ctx, `SELECT doc FROM users WHERE email = ?`, strings.ToLower(email))
}

func (s *SQLiteStore) queryUser(ctx context.Context, query, key string) (*models.User, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewDataError("user", key, "not found", apperrors.ErrDataNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	var u models.User
	if err := json.Unmarshal([]byte(doc), &u); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return &u, nil
}

// SaveUser replaces an existing account.
func (s *SQLiteStore) SaveUser(ctx context.Context, u *models.User) error {
	doc, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET email = ?, doc = ? WHERE id = ?
	`, strings.ToLower(u.Email), string(doc), u.ID)
	if isUniqueViolation(err) {
		return apperrors.NewDataError("user", u.Email, "email already registered", apperrors.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return apperrors.NewDataError("user", u.ID, "not found", apperrors.ErrDataNotFound)
	}
	return nil
}

// ListUsers returns every account, oldest first.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		var u models.User
		if err := json.Unmarshal([]byte(doc), &u); err != nil {
			return nil, fmt.Errorf("failed to decode user: %w", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

// ============================================================================
// Sync Methods
// ============================================================================

// GetLastSync returns the last sync time for a job, or zero if it never ran.
func (s *SQLiteStore) GetLastSync(ctx context.Context, dataType string) (time.Time, error) {
	s.mu.RLock()
	if t, ok := s.syncTimes[dataType]; ok {
		s.mu.RUnlock()
		return t, nil
	}
	s.mu.RUnlock()

	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sync FROM sync_status WHERE data_type = ?
	`, dataType).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last sync: %w", err)
	}

	lastSync, err := time.Parse(sortableTime, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last sync: %w", err)
	}

	s.mu.Lock()
	s.syncTimes[dataType] = lastSync
	s.mu.Unlock()

	return lastSync, nil
}

// SetLastSync sets the last sync time for a job.
func (s *SQLiteStore) SetLastSync(ctx context.Context, dataType string, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_status (data_type, last_sync, updated_at)
		VALUES (?, ?, ?)
	`, dataType, formatTime(t), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}

	s.mu.Lock()
	s.syncTimes[dataType] = t.UTC()
	s.mu.Unlock()

	return nil
}
