package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/stock"
	"shopledger/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Repository = (*Store)(nil)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Migrate creates any missing tables. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return storageErr("migrate", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const itemColumns = `barcode, name, price, quantity, category, brand, size, supplier, restocked_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := row.Scan(&item.Barcode, &item.Name, &item.Price, &item.Quantity, &item.Category,
		&item.Brand, &item.Size, &item.Supplier, &item.RestockedAt)
	return item, err
}

func (s *Store) GetItem(ctx context.Context, barcode string) (*domain.InventoryItem, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM inventory
		WHERE barcode = $1
	`, barcode))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, storageErr("get item", err)
	}
	return &item, nil
}

func (s *Store) ListItems(ctx context.Context, query string) ([]domain.InventoryItem, error) {
	query = strings.TrimSpace(query)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM inventory
		WHERE $1 = ''
			OR barcode ILIKE $2
			OR name ILIKE $2
			OR brand ILIKE $2
			OR category ILIKE $2
		ORDER BY name, barcode
	`, query, likePattern(query))
	if err != nil {
		return nil, storageErr("list items", err)
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0, 64)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, storageErr("list items", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list items", err)
	}
	return items, nil
}

func (s *Store) Quantities(ctx context.Context, barcodes []string) (map[string]int, error) {
	out := make(map[string]int, len(barcodes))
	if len(barcodes) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT barcode, quantity
		FROM inventory
		WHERE barcode = ANY($1)
	`, barcodes)
	if err != nil {
		return nil, storageErr("quantities", err)
	}
	defer rows.Close()

	for rows.Next() {
		var barcode string
		var qty int
		if err := rows.Scan(&barcode, &qty); err != nil {
			return nil, storageErr("quantities", err)
		}
		out[barcode] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("quantities", err)
	}
	return out, nil
}

// Restock upserts the item and appends a stock_history row in one
// transaction. Empty metadata fields keep the stored value.
func (s *Store) Restock(ctx context.Context, req domain.RestockRequest) (*domain.InventoryItem, error) {
	req.Barcode = strings.TrimSpace(req.Barcode)
	if req.Barcode == "" || req.Quantity < 0 {
		return nil, store.ErrInvalidItem
	}
	if req.Price != nil && req.Price.IsNegative() {
		return nil, store.ErrInvalidItem
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, storageErr("begin restock", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM inventory WHERE barcode = $1)`, req.Barcode).Scan(&exists); err != nil {
		return nil, storageErr("restock", err)
	}
	if !exists && req.Price == nil {
		return nil, fmt.Errorf("%w: price is required for a new item", store.ErrInvalidItem)
	}

	name := strings.TrimSpace(req.Name)
	insertName := name
	if insertName == "" {
		insertName = strings.TrimSpace(strings.TrimSpace(req.Brand) + " " + strings.TrimSpace(req.Size))
	}

	item, err := scanItem(tx.QueryRowContext(ctx, `
		INSERT INTO inventory (barcode, name, price, quantity, category, brand, size, supplier, restocked_at)
		VALUES ($1, $2, COALESCE($3::numeric, 0), $4, $5, $6, $7, $8, $9)
		ON CONFLICT (barcode) DO UPDATE SET
			quantity = inventory.quantity + EXCLUDED.quantity,
			price = COALESCE($3::numeric, inventory.price),
			name = COALESCE(NULLIF($10, ''), inventory.name),
			category = COALESCE(NULLIF(EXCLUDED.category, ''), inventory.category),
			brand = COALESCE(NULLIF(EXCLUDED.brand, ''), inventory.brand),
			size = COALESCE(NULLIF(EXCLUDED.size, ''), inventory.size),
			supplier = COALESCE(NULLIF(EXCLUDED.supplier, ''), inventory.supplier),
			restocked_at = EXCLUDED.restocked_at
		RETURNING `+itemColumns,
		req.Barcode, insertName, nullDecimal(req.Price), req.Quantity,
		strings.TrimSpace(req.Category), strings.TrimSpace(req.Brand), strings.TrimSpace(req.Size),
		strings.TrimSpace(req.Supplier), s.now(), name))
	if err != nil {
		return nil, storageErr("restock", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_history (barcode, supplier, brand, size, quantity, restocked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.Barcode, item.Supplier, item.Brand, item.Size, req.Quantity, item.RestockedAt)
	if err != nil {
		return nil, storageErr("restock history", err)
	}
	if err := bumpVersion(ctx, tx); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit restock", err)
	}
	return &item, nil
}

func (s *Store) UpdatePrice(ctx context.Context, barcode string, price decimal.Decimal) (*domain.InventoryItem, error) {
	if price.IsNegative() {
		return nil, store.ErrInvalidItem
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, storageErr("begin update price", err)
	}
	defer func() { _ = tx.Rollback() }()

	item, err := scanItem(tx.QueryRowContext(ctx, `
		UPDATE inventory
		SET price = $2
		WHERE barcode = $1
		RETURNING `+itemColumns, barcode, price))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, storageErr("update price", err)
	}
	if err := bumpVersion(ctx, tx); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit update price", err)
	}
	return &item, nil
}

// DeleteItem removes the catalog row only. Ledger rows keep their barcode and
// brand and are still reported.
func (s *Store) DeleteItem(ctx context.Context, barcode string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return storageErr("begin delete item", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM inventory WHERE barcode = $1`, barcode)
	if err != nil {
		return storageErr("delete item", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr("delete item", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	if err := bumpVersion(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit delete item", err)
	}
	return nil
}

// DecrementIfAvailable is a single conditional UPDATE; the row lock taken by
// Postgres makes concurrent callers queue and re-check the predicate.
func (s *Store) DecrementIfAvailable(ctx context.Context, barcode string, qty int) error {
	if qty <= 0 {
		return store.ErrInvalidItem
	}
	return decrement(ctx, s.db, barcode, qty)
}

type execQueryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func decrement(ctx context.Context, q execQueryer, barcode string, qty int) error {
	res, err := q.ExecContext(ctx, `
		UPDATE inventory
		SET quantity = quantity - $1
		WHERE barcode = $2 AND quantity >= $1
	`, qty, barcode)
	if err != nil {
		return storageErr("decrement", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr("decrement", err)
	}
	if affected == 1 {
		return nil
	}

	available := 0
	err = q.QueryRowContext(ctx, `SELECT quantity FROM inventory WHERE barcode = $1`, barcode).Scan(&available)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return storageErr("decrement", err)
	}
	return &store.InsufficientStockError{Shortfalls: []store.Shortfall{{
		Barcode:   barcode,
		Requested: qty,
		Available: available,
	}}}
}

func (s *Store) LowStock(ctx context.Context, threshold int, limit int) ([]domain.LowStockAlert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT barcode, name, brand, size, quantity
		FROM inventory
		WHERE quantity < $1
		ORDER BY quantity ASC, barcode ASC
		LIMIT NULLIF($2::int, 0)
	`, threshold, limit)
	if err != nil {
		return nil, storageErr("low stock", err)
	}
	defer rows.Close()

	alerts := make([]domain.LowStockAlert, 0, 8)
	for rows.Next() {
		var a domain.LowStockAlert
		if err := rows.Scan(&a.Barcode, &a.Name, &a.Brand, &a.Size, &a.Quantity); err != nil {
			return nil, storageErr("low stock", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("low stock", err)
	}
	return alerts, nil
}

func (s *Store) ListRestocks(ctx context.Context, limit int) ([]domain.RestockEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, barcode, supplier, brand, size, quantity, restocked_at
		FROM stock_history
		ORDER BY id DESC
		LIMIT NULLIF($1::int, 0)
	`, limit)
	if err != nil {
		return nil, storageErr("list restocks", err)
	}
	defer rows.Close()

	entries := make([]domain.RestockEntry, 0, 32)
	for rows.Next() {
		var e domain.RestockEntry
		if err := rows.Scan(&e.ID, &e.Barcode, &e.Supplier, &e.Brand, &e.Size, &e.Quantity, &e.RestockedAt); err != nil {
			return nil, storageErr("list restocks", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list restocks", err)
	}
	return entries, nil
}

// CommitSale writes the whole sale in one READ COMMITTED transaction. The
// inventory rows are locked in barcode order before validation, so the check
// and the conditional decrements see the same quantities and concurrent
// commits cannot deadlock on each other. The context's cancellation is
// dropped: once started, a commit only stops on a storage failure.
func (s *Store) CommitSale(ctx context.Context, sale domain.Sale) (*domain.TransactionSummary, error) {
	if len(sale.Lines) == 0 {
		return nil, store.ErrEmptyCart
	}
	for _, line := range sale.Lines {
		if line.Quantity <= 0 || line.Barcode == "" {
			return nil, store.ErrInvalidItem
		}
	}
	ctx = context.WithoutCancel(ctx)
	committedAt := sale.CommittedAt
	if committedAt.IsZero() {
		committedAt = s.now()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, storageErr("begin commit", err)
	}
	defer func() { _ = tx.Rollback() }()

	barcodes := stock.Barcodes(sale.Lines)
	slices.Sort(barcodes)

	type lockedItem struct {
		quantity int
		brand    string
		supplier string
	}
	locked := make(map[string]lockedItem, len(barcodes))
	rows, err := tx.QueryContext(ctx, `
		SELECT barcode, quantity, brand, supplier
		FROM inventory
		WHERE barcode = ANY($1)
		ORDER BY barcode
		FOR UPDATE
	`, barcodes)
	if err != nil {
		return nil, storageErr("lock inventory", err)
	}
	for rows.Next() {
		var barcode string
		var item lockedItem
		if err := rows.Scan(&barcode, &item.quantity, &item.brand, &item.supplier); err != nil {
			_ = rows.Close()
			return nil, storageErr("lock inventory", err)
		}
		locked[barcode] = item
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, storageErr("lock inventory", err)
	}
	_ = rows.Close()

	onHand := make(map[string]int, len(locked))
	for barcode, item := range locked {
		onHand[barcode] = item.quantity
	}
	if shortfalls := stock.Validate(sale.Lines, onHand); len(shortfalls) > 0 {
		return nil, &store.InsufficientStockError{Shortfalls: shortfalls}
	}

	for _, line := range sale.Lines {
		if err := decrement(ctx, tx, line.Barcode, line.Quantity); err != nil {
			return nil, err
		}
	}

	total := decimal.Zero
	for _, line := range sale.Lines {
		total = total.Add(line.Total)
	}

	summary := domain.TransactionSummary{
		CommitID:    sale.CommitID,
		Description: sale.Description,
		Total:       total,
		LineCount:   len(sale.Lines),
		CommittedAt: committedAt,
		Entries:     make([]domain.SaleLedgerEntry, 0, len(sale.Lines)),
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO sale_transactions (commit_id, description, total, line_count, committed_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, summary.CommitID, summary.Description, summary.Total, summary.LineCount, summary.CommittedAt).Scan(&summary.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: commit %s already recorded", store.ErrInvalidItem, sale.CommitID)
		}
		return nil, storageErr("insert transaction", err)
	}

	for _, line := range sale.Lines {
		item := locked[line.Barcode]
		brand := item.brand
		if brand == "" {
			brand = line.Brand
		}
		entry := domain.SaleLedgerEntry{
			CommitID:      sale.CommitID,
			TransactionID: summary.ID,
			Barcode:       line.Barcode,
			Brand:         brand,
			Supplier:      item.supplier,
			Quantity:      line.Quantity,
			Total:         line.Total,
			CommittedAt:   committedAt,
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO sales_ledger (transaction_id, commit_id, barcode, brand, supplier, quantity, total, committed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`, entry.TransactionID, entry.CommitID, entry.Barcode, entry.Brand, entry.Supplier,
			entry.Quantity, entry.Total, entry.CommittedAt).Scan(&entry.ID)
		if err != nil {
			return nil, storageErr("insert ledger", err)
		}
		summary.Entries = append(summary.Entries, entry)
	}

	// The version row is locked last, after the inventory rows, so every
	// writer takes locks in the same order.
	if err := bumpVersion(ctx, tx); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit sale", err)
	}
	return &summary, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidItem
	}
	if user.Role == "" {
		user.Role = domain.RoleSeller
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username already exists", store.ErrInvalidItem)
		}
		return storageErr("create user", err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, storageErr("list users", err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, storageErr("list users", err)
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list users", err)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidItem
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return storageErr("update password", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr("update password", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// bumpVersion advances the report version inside the caller's transaction.
// The row lock orders concurrent writers, so the value a snapshot reads
// matches exactly the writes that snapshot can see.
func bumpVersion(ctx context.Context, q execQueryer) error {
	if _, err := q.ExecContext(ctx, `UPDATE ledger_version SET value = value + 1 WHERE id = 1`); err != nil {
		return storageErr("ledger version", err)
	}
	return nil
}

// storageErr wraps driver failures as store.StorageError. Cancellation is
// passed through untouched so callers can tell a timeout from an outage.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &store.StorageError{Op: op, Err: err}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func likePattern(query string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(query) + "%"
}

func nullDecimal(val *decimal.Decimal) any {
	if val == nil {
		return nil
	}
	return *val
}
