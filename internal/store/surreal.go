package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	apperrors "brokerdash/internal/errors"
	"brokerdash/internal/models"
)

// SurrealConfig locates a SurrealDB database.
type SurrealConfig struct {
	Address   string
	Namespace string
	Database  string
	Username  string
	Password  string
}

// SurrealStore implements Store on SurrealDB. Records carry the JSON document
// plus the fields queries filter on, so the record id never clashes with the
// model's own id.
type SurrealStore struct {
	db     *surrealdb.DB
	logger zerolog.Logger
}

const (
	surrealUsers      = "dash_user"
	surrealPortfolios = "portfolio"
	surrealOrders     = "orders"
	surrealSyncStatus = "sync_status"
)

type userRecord struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
	Doc       string `json:"doc"`
}

type portfolioRecord struct {
	UserID    string `json:"user_id"`
	UpdatedAt string `json:"updated_at"`
	Doc       string `json:"doc"`
}

type orderRecord struct {
	OrderID       string `json:"order_id"`
	UserID        string `json:"user_id"`
	BrokerOrderID string `json:"broker_order_id"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	OrderTime     string `json:"order_time"`
	Doc           string `json:"doc"`
}

type syncRecord struct {
	DataType string `json:"data_type"`
	LastSync string `json:"last_sync"`
}

// NewSurrealStore connects, signs in and prepares the tables.
func NewSurrealStore(ctx context.Context, cfg SurrealConfig, logger zerolog.Logger) (*SurrealStore, error) {
	db, err := surrealdb.New(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": cfg.Username,
		"pass": cfg.Password,
	}); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	s := &SurrealStore{db: db, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		db.Close(ctx)
		return nil, err
	}

	logger.Info().
		Str("address", cfg.Address).
		Str("namespace", cfg.Namespace).
		Str("database", cfg.Database).
		Msg("SurrealDB store initialized")

	return s, nil
}

func (s *SurrealStore) initSchema(ctx context.Context) error {
	statements := []string{
		"DEFINE TABLE IF NOT EXISTS " + surrealUsers + " SCHEMALESS",
		"DEFINE TABLE IF NOT EXISTS " + surrealPortfolios + " SCHEMALESS",
		"DEFINE TABLE IF NOT EXISTS " + surrealOrders + " SCHEMALESS",
		"DEFINE TABLE IF NOT EXISTS " + surrealSyncStatus + " SCHEMALESS",
		"DEFINE INDEX IF NOT EXISTS dash_user_email ON " + surrealUsers + " FIELDS email UNIQUE",
		"DEFINE INDEX IF NOT EXISTS orders_user_time ON " + surrealOrders + " FIELDS user_id, order_time",
	}
	for _, sql := range statements {
		if _, err := surrealdb.Query[any](ctx, s.db, sql, nil); err != nil {
			return fmt.Errorf("failed to prepare schema (%s): %w", sql, err)
		}
	}
	return nil
}

// Close closes the connection.
func (s *SurrealStore) Close() error {
	return s.db.Close(context.Background())
}

func isDuplicateError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already exists")
}

func firstResult[T any](results *[]surrealdb.QueryResult[[]T]) *T {
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil
	}
	return &(*results)[0].Result[0]
}

// ============================================================================
// Portfolio Methods
// ============================================================================

// GetPortfolio loads a user's portfolio.
func (s *SurrealStore) GetPortfolio(ctx context.Context, userID string) (*models.Portfolio, error) {
	rec, err := surrealdb.Select[portfolioRecord](ctx, s.db, surrealmodels.NewRecordID(surrealPortfolios, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to select portfolio: %w", err)
	}
	if rec == nil {
		return nil, apperrors.NewDataError("portfolio", userID, "not found", apperrors.ErrDataNotFound)
	}

	var p models.Portfolio
	if err := json.Unmarshal([]byte(rec.Doc), &p); err != nil {
		return nil, fmt.Errorf("failed to decode portfolio: %w", err)
	}
	if p.Holdings == nil {
		p.Holdings = []models.Holding{}
	}
	return &p, nil
}

// SavePortfolio upserts a user's portfolio.
func (s *SurrealStore) SavePortfolio(ctx context.Context, p *models.Portfolio) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode portfolio: %w", err)
	}

	vars := map[string]any{
		"rid":    surrealmodels.NewRecordID(surrealPortfolios, p.UserID),
		"record": portfolioRecord{UserID: p.UserID, UpdatedAt: formatTime(p.UpdatedAt), Doc: string(doc)},
	}
	if _, err := surrealdb.Query[[]portfolioRecord](ctx, s.db, "UPSERT $rid CONTENT $record", vars); err != nil {
		return fmt.Errorf("failed to save portfolio: %w", err)
	}
	return nil
}

// ============================================================================
// Order Methods
// ============================================================================

// orderRID scopes order record ids to their user; client ids are only unique per user.
func orderRID(userID, orderID string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID(surrealOrders, userID+"/"+orderID)
}

func newOrderRecord(o *models.Order) (orderRecord, error) {
	doc, err := json.Marshal(o)
	if err != nil {
		return orderRecord{}, fmt.Errorf("failed to encode order: %w", err)
	}
	return orderRecord{
		OrderID:       o.ID,
		UserID:        o.UserID,
		BrokerOrderID: o.BrokerOrderID,
		Symbol:        o.Symbol,
		Status:        string(o.Status),
		OrderTime:     formatTime(o.OrderTime),
		Doc:           string(doc),
	}, nil
}

func decodeOrder(rec *orderRecord) (*models.Order, error) {
	var o models.Order
	if err := json.Unmarshal([]byte(rec.Doc), &o); err != nil {
		return nil, fmt.Errorf("failed to decode order: %w", err)
	}
	return &o, nil
}

// brokerIDTaken reports whether another order of the user carries brokerOrderID.
func (s *SurrealStore) brokerIDTaken(ctx context.Context, o *models.Order) (bool, error) {
	if o.BrokerOrderID == "" {
		return false, nil
	}
	sql := "SELECT * FROM " + surrealOrders + " WHERE user_id = $user_id AND broker_order_id = $broker_id AND order_id != $order_id LIMIT 1"
	vars := map[string]any{"user_id": o.UserID, "broker_id": o.BrokerOrderID, "order_id": o.ID}
	results, err := surrealdb.Query[[]orderRecord](ctx, s.db, sql, vars)
	if err != nil {
		return false, fmt.Errorf("failed to check broker order id: %w", err)
	}
	return firstResult(results) != nil, nil
}

// CreateOrder inserts a new order.
func (s *SurrealStore) CreateOrder(ctx context.Context, o *models.Order) error {
	rec, err := newOrderRecord(o)
	if err != nil {
		return err
	}
	taken, err := s.brokerIDTaken(ctx, o)
	if err != nil {
		return err
	}
	if taken {
		return apperrors.NewDataError("order", o.BrokerOrderID, "duplicate broker order id", apperrors.ErrAlreadyExists)
	}

	vars := map[string]any{"rid": orderRID(o.UserID, o.ID), "record": rec}
	_, err = surrealdb.Query[[]orderRecord](ctx, s.db, "CREATE $rid CONTENT $record", vars)
	if isDuplicateError(err) {
		return apperrors.NewDataError("order", o.ID, "duplicate order", apperrors.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// SaveOrder upserts the user's order with o's id.
func (s *SurrealStore) SaveOrder(ctx context.Context, o *models.Order) error {
	rec, err := newOrderRecord(o)
	if err != nil {
		return err
	}
	taken, err := s.brokerIDTaken(ctx, o)
	if err != nil {
		return err
	}
	if taken {
		return apperrors.NewDataError("order", o.BrokerOrderID, "broker order id belongs to another order", apperrors.ErrAlreadyExists)
	}

	vars := map[string]any{"rid": orderRID(o.UserID, o.ID), "record": rec}
	if _, err := surrealdb.Query[[]orderRecord](ctx, s.db, "UPSERT $rid CONTENT $record", vars); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// GetOrder finds an order by client id or broker order id.
func (s *SurrealStore) GetOrder(ctx context.Context, userID, id string) (*models.Order, error) {
	rec, err := surrealdb.Select[orderRecord](ctx, s.db, orderRID(userID, id))
	if err != nil {
		return nil, fmt.Errorf("failed to select order: %w", err)
	}
	if rec != nil {
		return decodeOrder(rec)
	}

	sql := "SELECT * FROM " + surrealOrders + " WHERE user_id = $user_id AND broker_order_id = $broker_id LIMIT 1"
	results, err := surrealdb.Query[[]orderRecord](ctx, s.db, sql, map[string]any{"user_id": userID, "broker_id": id})
	if err != nil {
		return nil, fmt.Errorf("failed to query order: %w", err)
	}
	if rec := firstResult(results); rec != nil {
		return decodeOrder(rec)
	}
	return nil, apperrors.NewDataError("order", id, "not found", apperrors.ErrDataNotFound)
}

// ListOrders retrieves a user's orders, newest first.
func (s *SurrealStore) ListOrders(ctx context.Context, userID string, filter OrderFilter) ([]models.Order, error) {
	sql := "SELECT * FROM " + surrealOrders + " WHERE user_id = $user_id"
	vars := map[string]any{"user_id": userID}

	if filter.Status != "" {
		sql += " AND status = $status"
		vars["status"] = string(filter.Status)
	}
	if filter.Symbol != "" {
		sql += " AND symbol = $symbol"
		vars["symbol"] = strings.ToUpper(filter.Symbol)
	}
	if !filter.Since.IsZero() {
		sql += " AND order_time >= $since"
		vars["since"] = formatTime(filter.Since)
	}

	sql += " ORDER BY order_time DESC, order_id DESC"
	if filter.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	results, err := surrealdb.Query[[]orderRecord](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	orders := []models.Order{}
	if results == nil || len(*results) == 0 {
		return orders, nil
	}
	for i := range (*results)[0].Result {
		o, err := decodeOrder(&(*results)[0].Result[i])
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, nil
}

// ============================================================================
// User Methods
// ============================================================================

func newUserRecord(u *models.User) (userRecord, error) {
	doc, err := json.Marshal(u)
	if err != nil {
		return userRecord{}, fmt.Errorf("failed to encode user: %w", err)
	}
	return userRecord{
		UserID:    u.ID,
		Email:     strings.ToLower(u.Email),
		CreatedAt: formatTime(u.CreatedAt),
		Doc:       string(doc),
	}, nil
}

func decodeUser(rec *userRecord) (*models.User, error) {
	var u models.User
	if err := json.Unmarshal([]byte(rec.Doc), &u); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return &u, nil
}

// CreateUser inserts a new account.
func (s *SurrealStore) CreateUser(ctx context.Context, u *models.User) error {
	rec, err := newUserRecord(u)
	if err != nil {
		return err
	}
	vars := map[string]any{"rid": surrealmodels.NewRecordID(surrealUsers, u.ID), "record": rec}
	_, err = surrealdb.Query[[]userRecord](ctx, s.db, "CREATE $rid CONTENT $record", vars)
	if isDuplicateError(err) {
		return apperrors.NewDataError("user", u.Email, "email already registered", apperrors.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser loads an account by id.
func (s *SurrealStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	rec, err := surrealdb.Select[userRecord](ctx, s.db, surrealmodels.NewRecordID(surrealUsers, id))
	if err != nil {
		return nil, fmt.Errorf("failed to select user: %w", err)
	}
	if rec == nil {
		return nil, apperrors.NewDataError("user", id, "not found", apperrors.ErrDataNotFound)
	}
	return decodeUser(rec)
}

// GetUserByEmail loads an account by email.
func (s *SurrealStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	sql := "SELECT * FROM " + surrealUsers + " WHERE email = $email LIMIT 1"
	results, err := surrealdb.Query[[]userRecord](ctx, s.db, sql, map[string]any{"email": strings.ToLower(email)})
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	rec := firstResult(results)
	if rec == nil {
		return nil, apperrors.NewDataError("user", email, "not found", apperrors.ErrDataNotFound)
	}
	return decodeUser(rec)
}

// SaveUser replaces an existing account.
func (s *SurrealStore) SaveUser(ctx context.Context, u *models.User) error {
	existing, err := surrealdb.Select[userRecord](ctx, s.db, surrealmodels.NewRecordID(surrealUsers, u.ID))
	if err != nil {
		return fmt.Errorf("failed to select user: %w", err)
	}
	if existing == nil {
		return apperrors.NewDataError("user", u.ID, "not found", apperrors.ErrDataNotFound)
	}

	rec, err := newUserRecord(u)
	if err != nil {
		return err
	}
	vars := map[string]any{"rid": surrealmodels.NewRecordID(surrealUsers, u.ID), "record": rec}
	_, err = surrealdb.Query[[]userRecord](ctx, s.db, "UPSERT $rid CONTENT $record", vars)
	if isDuplicateError(err) {
		return apperrors.NewDataError("user", u.Email, "email already registered", apperrors.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// ListUsers returns every account, oldest first.
func (s *SurrealStore) ListUsers(ctx context.Context) ([]models.User, error) {
	sql := "SELECT * FROM " + surrealUsers + " ORDER BY created_at, user_id"
	results, err := surrealdb.Query[[]userRecord](ctx, s.db, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	users := []models.User{}
	if results == nil || len(*results) == 0 {
		return users, nil
	}
	for i := range (*results)[0].Result {
		u, err := decodeUser(&(*results)[0].Result[i])
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, nil
}

// ============================================================================
// Sync Methods
// ============================================================================

// GetLastSync returns the last sync time for a job, or zero if it never ran.
func (s *SurrealStore) GetLastSync(ctx context.Context, dataType string) (time.Time, error) {
	rec, err := surrealdb.Select[syncRecord](ctx, s.db, surrealmodels.NewRecordID(surrealSyncStatus, dataType))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last sync: %w", err)
	}
	if rec == nil {
		return time.Time{}, nil
	}
	t, err := time.Parse(sortableTime, rec.LastSync)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last sync: %w", err)
	}
	return t, nil
}

// SetLastSync sets the last sync time for a job.
func (s *SurrealStore) SetLastSync(ctx context.Context, dataType string, t time.Time) error {
	vars := map[string]any{
		"rid":    surrealmodels.NewRecordID(surrealSyncStatus, dataType),
		"record": syncRecord{DataType: dataType, LastSync: formatTime(t)},
	}
	if _, err := surrealdb.Query[[]syncRecord](ctx, s.db, "UPSERT $rid CONTENT $record", vars); err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}
	return nil
}
