package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin  = "admin"
	RoleSeller = "seller"
)

// UnknownBrand labels revenue whose brand cannot be resolved from either the
// catalog or the ledger row.
const UnknownBrand = "Unknown"

type InventoryItem struct {
	Barcode     string          `json:"barcode"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Category    string          `json:"category"`
	Brand       string          `json:"brand"`
	Size        string          `json:"size"`
	Supplier    string          `json:"supplier"`
	RestockedAt time.Time       `json:"restocked_at"`
}

type ItemMetadata struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Brand    string `json:"brand"`
	Size     string `json:"size"`
	Supplier string `json:"supplier"`
}

type RestockRequest struct {
	Barcode  string           `json:"barcode"`
	Quantity int              `json:"quantity"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	ItemMetadata
}

type RestockEntry struct {
	ID          int64     `json:"id"`
	Barcode     string    `json:"barcode"`
	Supplier    string    `json:"supplier"`
	Brand       string    `json:"brand"`
	Size        string    `json:"size"`
	Quantity    int       `json:"quantity"`
	RestockedAt time.Time `json:"restocked_at"`
}

type PriceUpdateRequest struct {
	Price decimal.Decimal `json:"price"`
}

type LowStockAlert struct {
	Barcode  string `json:"barcode"`
	Name     string `json:"name"`
	Brand    string `json:"brand"`
	Size     string `json:"size"`
	Quantity int    `json:"quantity"`
}

// Category, Brand and Supplier are the master lists offered when items are
// restocked. Items store the names as plain text, so deleting an entry never
// touches the catalog.
type Category struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Brand struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

type Supplier struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Contact   string    `json:"contact"`
	CreatedAt time.Time `json:"created_at"`
}

type CategoryCreateRequest struct {
	Name string `json:"name"`
}

type BrandCreateRequest struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

type SupplierCreateRequest struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
}

type CartLine struct {
	Barcode  string          `json:"barcode"`
	Name     string          `json:"name"`
	Brand    string          `json:"brand"`
	Category string          `json:"category"`
	Size     string          `json:"size"`
	Quantity int             `json:"quantity"`
	Rate     decimal.Decimal `json:"rate"`
	Total    decimal.Decimal `json:"total"`
}

type CartView struct {
	ID          string          `json:"id"`
	Owner       string          `json:"owner"`
	Lines       []CartLine      `json:"lines"`
	Description string          `json:"description"`
	GrandTotal  decimal.Decimal `json:"grand_total"`
}

type AddLineRequest struct {
	Barcode  string `json:"barcode"`
	Quantity int    `json:"quantity"`
}

// Sale is the committer's input: the cart lines with their snapshotted rates
// plus the identifiers the committed rows will share.
type Sale struct {
	CommitID    string
	Description string
	Lines       []CartLine
	CommittedAt time.Time
}

type SaleLedgerEntry struct {
	ID            int64           `json:"id"`
	CommitID      string          `json:"commit_id"`
	TransactionID int64           `json:"transaction_id"`
	Barcode       string          `json:"barcode"`
	Brand         string          `json:"brand"`
	Supplier      string          `json:"supplier"`
	Quantity      int             `json:"quantity"`
	Total         decimal.Decimal `json:"total"`
	CommittedAt   time.Time       `json:"committed_at"`
}

type TransactionSummary struct {
	ID          int64             `json:"id"`
	CommitID    string            `json:"commit_id"`
	Description string            `json:"description"`
	Total       decimal.Decimal   `json:"total"`
	LineCount   int               `json:"line_count"`
	CommittedAt time.Time         `json:"committed_at"`
	Entries     []SaleLedgerEntry `json:"entries,omitempty"`
}

type BrandRevenue struct {
	Brand  string          `json:"brand"`
	Amount decimal.Decimal `json:"amount"`
}

// LedgerRow is a ledger entry joined with the current catalog record. Brand
// is the effective brand (catalog first, then the row itself).
type LedgerRow struct {
	ID          int64           `json:"id"`
	Barcode     string          `json:"barcode"`
	Category    string          `json:"category"`
	Brand       string          `json:"brand"`
	Size        string          `json:"size"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`
	CommittedAt time.Time       `json:"committed_at"`
}

type SalesReport struct {
	Window       string          `json:"window"`
	From         time.Time       `json:"from"`
	To           time.Time       `json:"to"`
	RevenueTotal decimal.Decimal `json:"revenue_total"`
	Transactions int             `json:"transactions"`
	ItemsSold    int             `json:"items_sold"`
	ByBrand      []BrandRevenue  `json:"by_brand"`
	History      []LedgerRow     `json:"history"`
	GeneratedAt  time.Time       `json:"generated_at"`
	// Version identifies the ledger state the report was computed from.
	Version string `json:"version,omitempty"`
}

type SupplierRevenue struct {
	Supplier string          `json:"supplier"`
	Amount   decimal.Decimal `json:"amount"`
}

type ChartRow struct {
	Category   string    `json:"category"`
	Brand      string    `json:"brand"`
	Size       string    `json:"size"`
	Quantity   int       `json:"quantity"`
	LastSoldAt time.Time `json:"last_sold_at"`
}

type DayRevenue struct {
	Date         string          `json:"date"`
	Revenue      decimal.Decimal `json:"revenue"`
	Transactions int             `json:"transactions"`
}

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type SellerCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
