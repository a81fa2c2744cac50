package memory

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/stock"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/window"
)

type Store struct {
	mu              sync.RWMutex
	items           map[string]domain.InventoryItem
	restocks        []domain.RestockEntry
	transactions    []domain.TransactionSummary
	ledger          []domain.SaleLedgerEntry
	usersByUsername map[string]domain.UserAccount
	categories      map[int64]domain.Category
	brands          map[int64]domain.Brand
	suppliers       map[int64]domain.Supplier
	nextRegistryID  int64
	nextTxID        int64
	nextLedgerID    int64
	nextRestockID   int64
	version         int64
	now             func() time.Time
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		items:           make(map[string]domain.InventoryItem),
		usersByUsername: make(map[string]domain.UserAccount),
		categories:      make(map[int64]domain.Category),
		brands:          make(map[int64]domain.Brand),
		suppliers:       make(map[int64]domain.Supplier),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// NewSeeded returns a store with demo stock, its registries and the two
// default accounts.
// Passwords come from SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()
	now := s.now()
	for _, item := range []domain.InventoryItem{
		{Barcode: "8991001000011", Brand: "Nimbus", Size: "42", Category: "Footwear", Supplier: "PT Sepatu Jaya", Price: decimal.RequireFromString("349.00"), Quantity: 24},
		{Barcode: "8991001000028", Brand: "Nimbus", Size: "43", Category: "Footwear", Supplier: "PT Sepatu Jaya", Price: decimal.RequireFromString("349.00"), Quantity: 18},
		{Barcode: "8991002000017", Brand: "Kaze", Size: "M", Category: "Apparel", Supplier: "CV Benang Emas", Price: decimal.RequireFromString("89.90"), Quantity: 40},
		{Barcode: "8991002000024", Brand: "Kaze", Size: "L", Category: "Apparel", Supplier: "CV Benang Emas", Price: decimal.RequireFromString("89.90"), Quantity: 6},
		{Barcode: "8991003000013", Brand: "Terra", Size: "One Size", Category: "Accessories", Supplier: "UD Kulit Asli", Price: decimal.RequireFromString("129.50"), Quantity: 3},
	} {
		item.Name = defaultName(item.Brand, item.Size)
		item.RestockedAt = now
		s.items[item.Barcode] = item
	}
	for _, seed := range []struct{ brand, category, supplier, contact string }{
		{"Nimbus", "Footwear", "PT Sepatu Jaya", "021-555-0110"},
		{"Kaze", "Apparel", "CV Benang Emas", "022-555-0120"},
		{"Terra", "Accessories", "UD Kulit Asli", "0274-555-0130"},
	} {
		s.nextRegistryID++
		s.categories[s.nextRegistryID] = domain.Category{ID: s.nextRegistryID, Name: seed.category, CreatedAt: now}
		s.nextRegistryID++
		s.brands[s.nextRegistryID] = domain.Brand{ID: s.nextRegistryID, Name: seed.brand, Category: seed.category, CreatedAt: now}
		s.nextRegistryID++
		s.suppliers[s.nextRegistryID] = domain.Supplier{ID: s.nextRegistryID, Name: seed.supplier, Contact: seed.contact, CreatedAt: now}
	}
	s.usersByUsername = seedUsers(logger)
	return s
}

func seedUsers(logger *zap.Logger) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	sellerPwd := envOr("SEED_SELLER_PASSWORD", "seller123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_SELLER_PASSWORD") == "" {
		logger.Warn("memory store is using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"seller", sellerPwd, domain.RoleSeller},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) GetItem(_ context.Context, barcode string) (*domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[barcode]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) ListItems(_ context.Context, query string) ([]domain.InventoryItem, error) {
	query = strings.ToLower(strings.TrimSpace(query))

	s.mu.RLock()
	result := make([]domain.InventoryItem, 0, len(s.items))
	for _, item := range s.items {
		if query != "" && !matchesQuery(item, query) {
			continue
		}
		result = append(result, item)
	}
	s.mu.RUnlock()

	slices.SortFunc(result, func(a, b domain.InventoryItem) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.Barcode, b.Barcode)
	})
	return result, nil
}

func matchesQuery(item domain.InventoryItem, query string) bool {
	for _, field := range []string{item.Barcode, item.Name, item.Brand, item.Category} {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

func (s *Store) Quantities(_ context.Context, barcodes []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(barcodes))
	for _, barcode := range barcodes {
		if item, ok := s.items[barcode]; ok {
			out[barcode] = item.Quantity
		}
	}
	return out, nil
}

func (s *Store) Restock(_ context.Context, req domain.RestockRequest) (*domain.InventoryItem, error) {
	req.Barcode = strings.TrimSpace(req.Barcode)
	if req.Barcode == "" || req.Quantity < 0 {
		return nil, store.ErrInvalidItem
	}
	if req.Price != nil && req.Price.IsNegative() {
		return nil, store.ErrInvalidItem
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	item, exists := s.items[req.Barcode]
	if !exists {
		if req.Price == nil {
			return nil, fmt.Errorf("%w: price is required for a new item", store.ErrInvalidItem)
		}
		item = domain.InventoryItem{Barcode: req.Barcode}
	}
	applyMetadata(&item, req.ItemMetadata)
	if req.Price != nil {
		item.Price = *req.Price
	}
	item.Quantity += req.Quantity
	item.RestockedAt = now
	s.items[item.Barcode] = item

	s.nextRestockID++
	s.restocks = append(s.restocks, domain.RestockEntry{
		ID:          s.nextRestockID,
		Barcode:     item.Barcode,
		Supplier:    item.Supplier,
		Brand:       item.Brand,
		Size:        item.Size,
		Quantity:    req.Quantity,
		RestockedAt: now,
	})
	s.version++

	return &item, nil
}

func applyMetadata(item *domain.InventoryItem, meta domain.ItemMetadata) {
	if v := strings.TrimSpace(meta.Category); v != "" {
		item.Category = v
	}
	if v := strings.TrimSpace(meta.Brand); v != "" {
		item.Brand = v
	}
	if v := strings.TrimSpace(meta.Size); v != "" {
		item.Size = v
	}
	if v := strings.TrimSpace(meta.Supplier); v != "" {
		item.Supplier = v
	}
	if v := strings.TrimSpace(meta.Name); v != "" {
		item.Name = v
	} else if item.Name == "" {
		item.Name = defaultName(item.Brand, item.Size)
	}
}

func defaultName(brand string, size string) string {
	return strings.TrimSpace(brand + " " + size)
}

func (s *Store) UpdatePrice(_ context.Context, barcode string, price decimal.Decimal) (*domain.InventoryItem, error) {
	if price.IsNegative() {
		return nil, store.ErrInvalidItem
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[barcode]
	if !ok {
		return nil, store.ErrNotFound
	}
	item.Price = price
	s.items[barcode] = item
	s.version++
	return &item, nil
}

// DeleteItem removes the catalog record. Ledger rows that reference it are
// kept and fall back to their own brand.
func (s *Store) DeleteItem(_ context.Context, barcode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[barcode]; !ok {
		return store.ErrNotFound
	}
	delete(s.items, barcode)
	s.version++
	return nil
}

func (s *Store) DecrementIfAvailable(_ context.Context, barcode string, qty int) error {
	if qty <= 0 {
		return store.ErrInvalidItem
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[barcode]
	if !ok || item.Quantity < qty {
		return &store.InsufficientStockError{Shortfalls: []store.Shortfall{{
			Barcode:   barcode,
			Requested: qty,
			Available: item.Quantity,
		}}}
	}
	item.Quantity -= qty
	s.items[barcode] = item
	return nil
}

func (s *Store) LowStock(_ context.Context, threshold int, limit int) ([]domain.LowStockAlert, error) {
	s.mu.RLock()
	alerts := make([]domain.LowStockAlert, 0, 8)
	for _, item := range s.items {
		if item.Quantity >= threshold {
			continue
		}
		alerts = append(alerts, domain.LowStockAlert{
			Barcode:  item.Barcode,
			Name:     item.Name,
			Brand:    item.Brand,
			Size:     item.Size,
			Quantity: item.Quantity,
		})
	}
	s.mu.RUnlock()

	slices.SortFunc(alerts, func(a, b domain.LowStockAlert) int {
		if c := cmp.Compare(a.Quantity, b.Quantity); c != 0 {
			return c
		}
		return cmp.Compare(a.Barcode, b.Barcode)
	})
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts, nil
}

func (s *Store) ListRestocks(_ context.Context, limit int) ([]domain.RestockEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.RestockEntry, 0, min(len(s.restocks), max(limit, 0)))
	for i := len(s.restocks) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, s.restocks[i])
	}
	return out, nil
}

// CommitSale validates and applies the whole sale under the write lock, so no
// other commit or reader can interleave with it.
func (s *Store) CommitSale(_ context.Context, sale domain.Sale) (*domain.TransactionSummary, error) {
	if len(sale.Lines) == 0 {
		return nil, store.ErrEmptyCart
	}
	for _, line := range sale.Lines {
		if line.Quantity <= 0 || line.Barcode == "" {
			return nil, store.ErrInvalidItem
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	onHand := make(map[string]int, len(sale.Lines))
	for _, barcode := range stock.Barcodes(sale.Lines) {
		if item, ok := s.items[barcode]; ok {
			onHand[barcode] = item.Quantity
		}
	}
	if shortfalls := stock.Validate(sale.Lines, onHand); len(shortfalls) > 0 {
		return nil, &store.InsufficientStockError{Shortfalls: shortfalls}
	}

	committedAt := sale.CommittedAt
	if committedAt.IsZero() {
		committedAt = s.now()
	}

	s.nextTxID++
	summary := domain.TransactionSummary{
		ID:          s.nextTxID,
		CommitID:    sale.CommitID,
		Description: sale.Description,
		LineCount:   len(sale.Lines),
		CommittedAt: committedAt,
		Total:       decimal.Zero,
		Entries:     make([]domain.SaleLedgerEntry, 0, len(sale.Lines)),
	}

	for _, line := range sale.Lines {
		item := s.items[line.Barcode]
		item.Quantity -= line.Quantity
		s.items[line.Barcode] = item

		brand := item.Brand
		if brand == "" {
			brand = line.Brand
		}
		s.nextLedgerID++
		entry := domain.SaleLedgerEntry{
			ID:            s.nextLedgerID,
			CommitID:      sale.CommitID,
			TransactionID: summary.ID,
			Barcode:       line.Barcode,
			Brand:         brand,
			Supplier:      item.Supplier,
			Quantity:      line.Quantity,
			Total:         line.Total,
			CommittedAt:   committedAt,
		}
		s.ledger = append(s.ledger, entry)
		summary.Entries = append(summary.Entries, entry)
		summary.Total = summary.Total.Add(line.Total)
	}

	stored := summary
	stored.Entries = nil
	s.transactions = append(s.transactions, stored)
	s.version++

	return &summary, nil
}

func (s *Store) RevenueTotal(_ context.Context, r window.Range) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revenueTotalLocked(r), nil
}

func (s *Store) RevenueByBrand(_ context.Context, r window.Range, limit int) ([]domain.BrandRevenue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.brandsLocked(r, limit), nil
}

func (s *Store) TransactionHistory(_ context.Context, r window.Range, limit int) ([]domain.LedgerRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.historyLocked(r, limit), nil
}

// SalesReport reads every metric under one read lock so they describe the
// same set of committed sales.
func (s *Store) SalesReport(_ context.Context, q store.ReportQuery) (domain.SalesReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := domain.SalesReport{
		From:         q.Range.From,
		To:           q.Range.To,
		RevenueTotal: s.revenueTotalLocked(q.Range),
		ByBrand:      s.brandsLocked(q.Range, q.BrandLimit),
		Version:      fmt.Sprintf("mem.%d", s.version),
	}
	if !q.OmitHistory {
		report.History = s.historyLocked(q.Range, q.HistoryLimit)
	}
	for _, tx := range s.transactions {
		if q.Range.Contains(tx.CommittedAt) {
			report.Transactions++
		}
	}
	for _, entry := range s.ledger {
		if q.Range.Contains(entry.CommittedAt) {
			report.ItemsSold += entry.Quantity
		}
	}
	return report, nil
}

func (s *Store) DailyRevenue(_ context.Context, days []window.Range) ([]domain.DayRevenue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DayRevenue, 0, len(days))
	for _, day := range days {
		row := domain.DayRevenue{
			Date:    day.From.Format("2006-01-02"),
			Revenue: s.revenueTotalLocked(day),
		}
		for _, tx := range s.transactions {
			if day.Contains(tx.CommittedAt) {
				row.Transactions++
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *Store) ListTransactions(_ context.Context, r window.Range, limit int) ([]domain.TransactionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.TransactionSummary, 0, 16)
	for _, tx := range s.transactions {
		if r.Contains(tx.CommittedAt) {
			out = append(out, tx)
		}
	}
	slices.SortFunc(out, func(a, b domain.TransactionSummary) int {
		if c := b.CommittedAt.Compare(a.CommittedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SupplierRevenue(_ context.Context, r window.Range) ([]domain.SupplierRevenue, error) {
	s.mu.RLock()
	totals := make(map[string]decimal.Decimal)
	for _, entry := range s.ledger {
		if !r.Contains(entry.CommittedAt) {
			continue
		}
		supplier := entry.Supplier
		if supplier == "" {
			supplier = domain.UnknownBrand
		}
		totals[supplier] = totals[supplier].Add(entry.Total)
	}
	s.mu.RUnlock()

	out := make([]domain.SupplierRevenue, 0, len(totals))
	for supplier, amount := range totals {
		out = append(out, domain.SupplierRevenue{Supplier: supplier, Amount: amount})
	}
	slices.SortFunc(out, func(a, b domain.SupplierRevenue) int {
		if c := b.Amount.Cmp(a.Amount); c != 0 {
			return c
		}
		return cmp.Compare(a.Supplier, b.Supplier)
	})
	return out, nil
}

func (s *Store) SalesChart(_ context.Context, r window.Range) ([]domain.ChartRow, error) {
	type chartKey struct{ category, brand, size string }

	s.mu.RLock()
	rows := make(map[chartKey]*domain.ChartRow)
	for _, entry := range s.ledger {
		if !r.Contains(entry.CommittedAt) {
			continue
		}
		item := s.items[entry.Barcode]
		key := chartKey{item.Category, store.EffectiveBrand(item.Brand, entry.Brand), item.Size}
		row, ok := rows[key]
		if !ok {
			row = &domain.ChartRow{Category: key.category, Brand: key.brand, Size: key.size}
			rows[key] = row
		}
		row.Quantity += entry.Quantity
		if entry.CommittedAt.After(row.LastSoldAt) {
			row.LastSoldAt = entry.CommittedAt
		}
	}
	s.mu.RUnlock()

	out := make([]domain.ChartRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	slices.SortFunc(out, func(a, b domain.ChartRow) int {
		if c := b.LastSoldAt.Compare(a.LastSoldAt); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Quantity, a.Quantity); c != 0 {
			return c
		}
		return cmp.Compare(a.Category+a.Brand+a.Size, b.Category+b.Brand+b.Size)
	})
	return out, nil
}

func (s *Store) ReportVersion(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("mem.%d", s.version), nil
}

func (s *Store) revenueTotalLocked(r window.Range) decimal.Decimal {
	total := decimal.Zero
	for _, entry := range s.ledger {
		if r.Contains(entry.CommittedAt) {
			total = total.Add(entry.Total)
		}
	}
	return total
}

func (s *Store) brandsLocked(r window.Range, limit int) []domain.BrandRevenue {
	totals := make(map[string]decimal.Decimal)
	for _, entry := range s.ledger {
		if !r.Contains(entry.CommittedAt) {
			continue
		}
		brand := store.EffectiveBrand(s.items[entry.Barcode].Brand, entry.Brand)
		totals[brand] = totals[brand].Add(entry.Total)
	}
	rows := make([]domain.BrandRevenue, 0, len(totals))
	for brand, amount := range totals {
		rows = append(rows, domain.BrandRevenue{Brand: brand, Amount: amount})
	}
	return store.SortBrands(rows, limit)
}

func (s *Store) historyLocked(r window.Range, limit int) []domain.LedgerRow {
	rows := make([]domain.LedgerRow, 0, 32)
	for _, entry := range s.ledger {
		if !r.Contains(entry.CommittedAt) {
			continue
		}
		item := s.items[entry.Barcode]
		rows = append(rows, domain.LedgerRow{
			ID:          entry.ID,
			Barcode:     entry.Barcode,
			Category:    item.Category,
			Brand:       store.EffectiveBrand(item.Brand, entry.Brand),
			Size:        item.Size,
			Quantity:    entry.Quantity,
			UnitPrice:   store.UnitPrice(entry.Total, entry.Quantity),
			Total:       entry.Total,
			CommittedAt: entry.CommittedAt,
		})
	}
	slices.SortFunc(rows, func(a, b domain.LedgerRow) int {
		if c := b.CommittedAt.Compare(a.CommittedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("%w: username already exists", store.ErrInvalidItem)
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	s.mu.RUnlock()
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidItem
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
