package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/window"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrShortage           = errors.New("shortage")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrEmptyCart          = errors.New("cart has no items")
	ErrInvalidItem        = errors.New("invalid item")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ShortageError is returned when a cart asks for more than is known to be on
// hand. Nothing has been changed when it is returned.
type ShortageError struct {
	Barcode   string
	Requested int
	Available int
}

func (e *ShortageError) Error() string {
	return fmt.Sprintf("shortage for %s: only %d available", e.Barcode, e.Available)
}

func (e *ShortageError) Is(target error) bool {
	return target == ErrShortage
}

type Shortfall struct {
	Barcode   string `json:"barcode"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// InsufficientStockError aborts a commit. The whole sale was rolled back.
type InsufficientStockError struct {
	Shortfalls []Shortfall
}

func (e *InsufficientStockError) Error() string {
	if len(e.Shortfalls) == 0 {
		return ErrInsufficientStock.Error()
	}
	first := e.Shortfalls[0]
	return fmt.Sprintf("insufficient stock for %s: only %d available", first.Barcode, first.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// StorageError marks a failure of the durability layer itself.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorageUnavailable, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageUnavailable
}

type Catalog interface {
	GetItem(ctx context.Context, barcode string) (*domain.InventoryItem, error)
	ListItems(ctx context.Context, query string) ([]domain.InventoryItem, error)
	Quantities(ctx context.Context, barcodes []string) (map[string]int, error)
	Restock(ctx context.Context, req domain.RestockRequest) (*domain.InventoryItem, error)
	UpdatePrice(ctx context.Context, barcode string, price decimal.Decimal) (*domain.InventoryItem, error)
	DeleteItem(ctx context.Context, barcode string) error
	DecrementIfAvailable(ctx context.Context, barcode string, qty int) error
	LowStock(ctx context.Context, threshold int, limit int) ([]domain.LowStockAlert, error)
	ListRestocks(ctx context.Context, limit int) ([]domain.RestockEntry, error)
}

// ReportQuery describes one snapshot read for SalesReport. BrandLimit and
// HistoryLimit of 0 mean unlimited.
type ReportQuery struct {
	Range        window.Range
	BrandLimit   int
	HistoryLimit int
	// OmitHistory skips the history rows when only totals are wanted.
	OmitHistory bool
}

type Ledger interface {
	CommitSale(ctx context.Context, sale domain.Sale) (*domain.TransactionSummary, error)
	RevenueTotal(ctx context.Context, r window.Range) (decimal.Decimal, error)
	RevenueByBrand(ctx context.Context, r window.Range, limit int) ([]domain.BrandRevenue, error)
	TransactionHistory(ctx context.Context, r window.Range, limit int) ([]domain.LedgerRow, error)
	SalesReport(ctx context.Context, q ReportQuery) (domain.SalesReport, error)
	DailyRevenue(ctx context.Context, days []window.Range) ([]domain.DayRevenue, error)
	ListTransactions(ctx context.Context, r window.Range, limit int) ([]domain.TransactionSummary, error)
	SupplierRevenue(ctx context.Context, r window.Range) ([]domain.SupplierRevenue, error)
	SalesChart(ctx context.Context, r window.Range) ([]domain.ChartRow, error)
	// ReportVersion changes whenever a sale is committed or catalog data
	// that reports join against is modified.
	ReportVersion(ctx context.Context) (string, error)
}

type Users interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// Registries holds the category, brand and supplier master lists. Names are
// unique ignoring case. A brand's category, when set, must name an existing
// category at creation time.
type Registries interface {
	CreateCategory(ctx context.Context, req domain.CategoryCreateRequest) (*domain.Category, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	DeleteCategory(ctx context.Context, id int64) error
	CreateBrand(ctx context.Context, req domain.BrandCreateRequest) (*domain.Brand, error)
	ListBrands(ctx context.Context) ([]domain.Brand, error)
	DeleteBrand(ctx context.Context, id int64) error
	CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	DeleteSupplier(ctx context.Context, id int64) error
}

type Repository interface {
	Catalog
	Ledger
	Users
	Registries
}

// EffectiveBrand applies the attribution rule shared by every store: the
// catalog brand wins, then the brand captured on the ledger row.
func EffectiveBrand(catalogBrand string, ledgerBrand string) string {
	if catalogBrand != "" {
		return catalogBrand
	}
	if ledgerBrand != "" {
		return ledgerBrand
	}
	return domain.UnknownBrand
}

// SortBrands orders by amount descending, ties by brand ascending, then
// applies limit (0 keeps everything).
func SortBrands(rows []domain.BrandRevenue, limit int) []domain.BrandRevenue {
	sortBrandRows(rows)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// UnitPrice derives the rate actually charged on a ledger row.
func UnitPrice(total decimal.Decimal, qty int) decimal.Decimal {
	if qty <= 0 {
		return decimal.Zero
	}
	return total.Div(decimal.NewFromInt(int64(qty))).Round(2)
}

func sortBrandRows(rows []domain.BrandRevenue) {
	slices.SortFunc(rows, func(a, b domain.BrandRevenue) int {
		if c := b.Amount.Cmp(a.Amount); c != 0 {
			return c
		}
		return cmp.Compare(a.Brand, b.Brand)
	})
}
