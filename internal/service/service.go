package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"shopledger/backend/internal/cache"
	"shopledger/backend/internal/cart"
	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/session"
	"shopledger/backend/internal/stock"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/window"
	"shopledger/backend/internal/xid"
)

var ErrForbidden = errors.New("admin role required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Location          *time.Location
	LowStockThreshold int
	ReportCacheTTL    time.Duration
	CartIdle          time.Duration
	Now               func() time.Time
	Logger            *zap.Logger
}

type Service struct {
	repo              store.Repository
	reports           cache.ReportCache
	carts             *session.Registry
	loc               *time.Location
	lowStockThreshold int
	reportTTL         time.Duration
	now               func() time.Time
	logger            *zap.Logger
}

// CartValidation is the answer to a pre-checkout stock check.
type CartValidation struct {
	OK         bool              `json:"ok"`
	Shortfalls []store.Shortfall `json:"shortfalls"`
}

type ReportOptions struct {
	BrandLimit   int
	HistoryLimit int
}

func New(repo store.Repository, reports cache.ReportCache, opts Options) *Service {
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.LowStockThreshold < 1 {
		opts.LowStockThreshold = 10
	}
	if opts.ReportCacheTTL <= 0 {
		opts.ReportCacheTTL = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Service{
		repo:              repo,
		reports:           reports,
		carts:             session.NewRegistry(func() *cart.Cart { return cart.New(repo) }, opts.CartIdle, opts.Logger),
		loc:               opts.Location,
		lowStockThreshold: opts.LowStockThreshold,
		reportTTL:         opts.ReportCacheTTL,
		now:               opts.Now,
		logger:            opts.Logger,
	}
}

// SweepCarts expires idle carts every interval until ctx is done.
func (s *Service) SweepCarts(ctx context.Context, interval time.Duration) {
	s.carts.Run(ctx, interval)
}

func (s *Service) ListItems(ctx context.Context, query string) ([]domain.InventoryItem, error) {
	return s.repo.ListItems(ctx, strings.TrimSpace(query))
}

func (s *Service) GetItem(ctx context.Context, barcode string) (domain.InventoryItem, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return domain.InventoryItem{}, store.ErrNotFound
	}
	item, err := s.repo.GetItem(ctx, barcode)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	return *item, nil
}

func (s *Service) Restock(ctx context.Context, req domain.RestockRequest) (domain.InventoryItem, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.InventoryItem{}, err
	}

	req.Barcode = strings.TrimSpace(req.Barcode)
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Brand = strings.TrimSpace(req.Brand)
	req.Size = strings.TrimSpace(req.Size)
	req.Supplier = strings.TrimSpace(req.Supplier)
	if req.Barcode == "" || req.Quantity < 0 {
		return domain.InventoryItem{}, store.ErrInvalidItem
	}
	if req.Price != nil && req.Price.IsNegative() {
		return domain.InventoryItem{}, store.ErrInvalidItem
	}

	item, err := s.repo.Restock(ctx, req)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	s.logger.Info("restocked item",
		zap.String("barcode", item.Barcode),
		zap.Int("delta", req.Quantity),
		zap.Int("quantity", item.Quantity),
		zap.String("by", actor.Username))
	return *item, nil
}

func (s *Service) UpdatePrice(ctx context.Context, barcode string, price decimal.Decimal) (domain.InventoryItem, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	barcode = strings.TrimSpace(barcode)
	if barcode == "" || price.IsNegative() {
		return domain.InventoryItem{}, store.ErrInvalidItem
	}

	item, err := s.repo.UpdatePrice(ctx, barcode, price)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	s.logger.Info("price updated",
		zap.String("barcode", barcode),
		zap.String("price", price.StringFixed(2)),
		zap.String("by", actor.Username))
	return *item, nil
}

// DeleteItem removes the catalog record. Ledger rows that reference it stay
// and keep reporting under their captured brand.
func (s *Service) DeleteItem(ctx context.Context, barcode string) error {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return err
	}
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return store.ErrNotFound
	}
	if err := s.repo.DeleteItem(ctx, barcode); err != nil {
		return err
	}
	s.logger.Info("item deleted", zap.String("barcode", barcode), zap.String("by", actor.Username))
	return nil
}

func (s *Service) LowStock(ctx context.Context, limit int) ([]domain.LowStockAlert, error) {
	return s.repo.LowStock(ctx, s.lowStockThreshold, limit)
}

func (s *Service) ListRestocks(ctx context.Context, limit int) ([]domain.RestockEntry, error) {
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListRestocks(ctx, limit)
}

func (s *Service) CreateCart(ctx context.Context) domain.CartView {
	owner := ownerFrom(ctx)
	id := s.carts.Create(owner)
	return domain.CartView{ID: id, Owner: owner, Lines: []domain.CartLine{}, GrandTotal: decimal.Zero}
}

func (s *Service) GetCart(ctx context.Context, cartID string) (domain.CartView, error) {
	var view domain.CartView
	err := s.carts.With(cartID, ownerFrom(ctx), func(c *cart.Cart) error {
		view = s.cartView(cartID, c)
		return nil
	})
	return view, err
}

func (s *Service) AddLine(ctx context.Context, cartID string, req domain.AddLineRequest) (domain.CartView, error) {
	var view domain.CartView
	err := s.carts.With(cartID, ownerFrom(ctx), func(c *cart.Cart) error {
		if _, err := c.AddLine(ctx, strings.TrimSpace(req.Barcode), req.Quantity); err != nil {
			return err
		}
		view = s.cartView(cartID, c)
		return nil
	})
	return view, err
}

func (s *Service) RemoveLine(ctx context.Context, cartID string, barcode string) (domain.CartView, error) {
	var view domain.CartView
	err := s.carts.With(cartID, ownerFrom(ctx), func(c *cart.Cart) error {
		if !c.RemoveLine(strings.TrimSpace(barcode)) {
			return store.ErrNotFound
		}
		view = s.cartView(cartID, c)
		return nil
	})
	return view, err
}

func (s *Service) CancelCart(ctx context.Context, cartID string) error {
	return s.carts.Discard(cartID, ownerFrom(ctx))
}

// ValidateCart checks the cart against live quantities without reserving
// anything. A passing result does not guarantee the checkout will succeed.
func (s *Service) ValidateCart(ctx context.Context, cartID string) (CartValidation, error) {
	var lines []domain.CartLine
	err := s.carts.With(cartID, ownerFrom(ctx), func(c *cart.Cart) error {
		lines = c.Lines()
		return nil
	})
	if err != nil {
		return CartValidation{}, err
	}
	if len(lines) == 0 {
		return CartValidation{}, store.ErrEmptyCart
	}

	onHand, err := s.repo.Quantities(ctx, stock.Barcodes(lines))
	if err != nil {
		return CartValidation{}, err
	}
	shortfalls := stock.Validate(lines, onHand)
	if shortfalls == nil {
		shortfalls = []store.Shortfall{}
	}
	return CartValidation{OK: len(shortfalls) == 0, Shortfalls: shortfalls}, nil
}

// Checkout commits the cart as one sale. The cart is cleared only after the
// commit succeeded; on any error it is left as it was so the seller can
// adjust and retry.
func (s *Service) Checkout(ctx context.Context, cartID string) (domain.TransactionSummary, error) {
	var summary domain.TransactionSummary
	err := s.carts.With(cartID, ownerFrom(ctx), func(c *cart.Cart) error {
		if c.Len() == 0 {
			return store.ErrEmptyCart
		}
		lines := c.Lines()
		sale := domain.Sale{
			CommitID:    xid.New("sale"),
			Description: cart.Describe(lines),
			Lines:       lines,
			CommittedAt: s.now().UTC(),
		}

		committed, err := s.repo.CommitSale(context.WithoutCancel(ctx), sale)
		if err != nil {
			s.logger.Warn("checkout rejected",
				zap.String("cart_id", cartID),
				zap.String("commit_id", sale.CommitID),
				zap.Error(err))
			return err
		}

		c.RemoveAll()
		summary = *committed
		s.logger.Info("sale committed",
			zap.String("cart_id", cartID),
			zap.String("commit_id", committed.CommitID),
			zap.Int("lines", committed.LineCount),
			zap.String("total", committed.Total.StringFixed(2)))
		return nil
	})
	return summary, err
}

// Resolve pins a window to the service clock in the configured location.
func (s *Service) Resolve(w window.Window) (window.Range, error) {
	return window.Resolve(w, s.now().In(s.loc))
}

// SalesReport answers total, brand breakdown and history from one snapshot of
// the ledger. Cached copies are stored under the version read inside that
// snapshot, so a report is only ever served for the ledger state it was
// computed from. Rolling windows are never cached: their range moves with
// every request.
func (s *Service) SalesReport(ctx context.Context, w window.Window, opts ReportOptions) (domain.SalesReport, error) {
	r, err := s.Resolve(w)
	if err != nil {
		return domain.SalesReport{}, err
	}

	cacheable := !w.Rolling()
	if cacheable {
		if version, err := s.repo.ReportVersion(ctx); err != nil {
			s.logger.Warn("report version unavailable, skipping cache", zap.Error(err))
		} else {
			cached, ok, err := s.reports.Get(ctx, reportCacheKey(version, r, opts))
			if err != nil {
				s.logger.Warn("report cache read failed", zap.Error(err))
			} else if ok {
				return *cached, nil
			}
		}
	}

	report, err := s.repo.SalesReport(ctx, store.ReportQuery{
		Range:        r,
		BrandLimit:   opts.BrandLimit,
		HistoryLimit: opts.HistoryLimit,
	})
	if err != nil {
		return domain.SalesReport{}, err
	}
	report.Window = windowLabel(w)
	report.From = r.From
	report.To = r.To
	report.GeneratedAt = s.now().UTC()
	if report.ByBrand == nil {
		report.ByBrand = []domain.BrandRevenue{}
	}
	if report.History == nil {
		report.History = []domain.LedgerRow{}
	}

	if cacheable && report.Version != "" {
		if err := s.reports.Set(ctx, reportCacheKey(report.Version, r, opts), &report, s.reportTTL); err != nil {
			s.logger.Warn("report cache write failed", zap.Error(err))
		}
	}
	return report, nil
}

// BrandBreakdown returns the revenue total together with the brand rows, both
// read from the same snapshot so the rows always sum to the total.
func (s *Service) BrandBreakdown(ctx context.Context, r window.Range, limit int) (decimal.Decimal, []domain.BrandRevenue, error) {
	if limit < 0 {
		limit = 0
	}
	report, err := s.repo.SalesReport(ctx, store.ReportQuery{Range: r, BrandLimit: limit, OmitHistory: true})
	if err != nil {
		return decimal.Zero, nil, err
	}
	if report.ByBrand == nil {
		report.ByBrand = []domain.BrandRevenue{}
	}
	return report.RevenueTotal, report.ByBrand, nil
}

func (s *Service) RevenueTotal(ctx context.Context, r window.Range) (decimal.Decimal, error) {
	return s.repo.RevenueTotal(ctx, r)
}

func (s *Service) RevenueByBrand(ctx context.Context, r window.Range, limit int) ([]domain.BrandRevenue, error) {
	if limit < 0 {
		limit = 0
	}
	return s.repo.RevenueByBrand(ctx, r, limit)
}

func (s *Service) TransactionHistory(ctx context.Context, r window.Range, limit int) ([]domain.LedgerRow, error) {
	if limit < 0 {
		limit = 0
	}
	return s.repo.TransactionHistory(ctx, r, limit)
}

// DailyRevenue returns one row per calendar day of the window, including days
// without sales.
func (s *Service) DailyRevenue(ctx context.Context, w window.Window) ([]domain.DayRevenue, error) {
	r, err := s.Resolve(w)
	if err != nil {
		return nil, err
	}
	days, err := r.Days()
	if err != nil {
		return nil, err
	}
	return s.repo.DailyRevenue(ctx, days)
}

func (s *Service) ListTransactions(ctx context.Context, r window.Range, limit int) ([]domain.TransactionSummary, error) {
	if limit < 0 {
		limit = 0
	}
	return s.repo.ListTransactions(ctx, r, limit)
}

func (s *Service) SupplierRevenue(ctx context.Context, r window.Range) ([]domain.SupplierRevenue, error) {
	return s.repo.SupplierRevenue(ctx, r)
}

func (s *Service) SalesChart(ctx context.Context, r window.Range) ([]domain.ChartRow, error) {
	return s.repo.SalesChart(ctx, r)
}

func (s *Service) cartView(id string, c *cart.Cart) domain.CartView {
	owner, _ := s.carts.Owner(id)
	return domain.CartView{
		ID:          id,
		Owner:       owner,
		Lines:       c.Lines(),
		Description: c.Description(),
		GrandTotal:  c.GrandTotal(),
	}
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

func ownerFrom(ctx context.Context) string {
	actor, _ := ActorFromContext(ctx)
	return actor.Username
}

func windowLabel(w window.Window) string {
	if w.Kind == "" {
		return string(window.Today)
	}
	return string(w.Kind)
}

func reportCacheKey(version string, r window.Range, opts ReportOptions) string {
	return fmt.Sprintf("%s|%d|%d|%d|%d", version, r.From.UnixNano(), r.To.UnixNano(), opts.BrandLimit, opts.HistoryLimit)
}
