package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopledger/backend/internal/cache"
	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/session"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/store/memory"
	"shopledger/backend/internal/window"
)

type fixture struct {
	svc     *Service
	repo    *memory.Store
	reports *cache.MemoryReportCache
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:    memory.New(),
		reports: cache.NewMemoryReportCache(),
		now:     time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC),
	}
	f.svc = New(f.repo, f.reports, Options{Now: func() time.Time { return f.now }})
	return f
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func sellerCtx(name string) context.Context {
	return WithActor(context.Background(), domain.Actor{Username: name, Role: domain.RoleSeller})
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (f *fixture) restock(t *testing.T, barcode string, brand string, qty int, price string) {
	t.Helper()
	p := dec(price)
	_, err := f.svc.Restock(adminCtx(), domain.RestockRequest{
		Barcode:      barcode,
		Quantity:     qty,
		Price:        &p,
		ItemMetadata: domain.ItemMetadata{Brand: brand, Size: "M", Category: "Apparel"},
	})
	require.NoError(t, err)
}

func (f *fixture) sell(t *testing.T, ctx context.Context, barcode string, qty int) domain.TransactionSummary {
	t.Helper()
	view := f.svc.CreateCart(ctx)
	_, err := f.svc.AddLine(ctx, view.ID, domain.AddLineRequest{Barcode: barcode, Quantity: qty})
	require.NoError(t, err)
	summary, err := f.svc.Checkout(ctx, view.ID)
	require.NoError(t, err)
	return summary
}

func TestCheckoutCommitsSaleAndClearsCart(t *testing.T) {
	f := newFixture(t)
	f.restock(t, "B1", "Acme", 5, "10.00")
	ctx := sellerCtx("seller")

	view := f.svc.CreateCart(ctx)
	view, err := f.svc.AddLine(ctx, view.ID, domain.AddLineRequest{Barcode: "B1", Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, "30.00", view.GrandTotal.StringFixed(2))

	summary, err := f.svc.Checkout(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, "30.00", summary.Total.StringFixed(2))
	assert.Equal(t, "Acme M x3", summary.Description)
	require.Len(t, summary.Entries, 1)
	assert.Equal(t, "30.00", summary.Entries[0].Total.StringFixed(2))

	item, err := f.svc.GetItem(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, 2, item.Quantity)

	r, err := f.svc.Resolve(window.Window{Kind: window.Today})
	require.NoError(t, err)
	txs, err := f.svc.ListTransactions(ctx, r, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "30.00", txs[0].Total.StringFixed(2))

	cartAfter, err := f.svc.GetCart(ctx, view.ID)
	require.NoError(t, err)
	assert.Empty(t, cartAfter.Lines)
	assert.True(t, cartAfter.GrandTotal.IsZero())
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	f := newFixture(t)
	f.restock(t, "B1", "Acme", 5, "10.00")

	ctxs := []context.Context{sellerCtx("alice"), sellerCtx("bob")}
	ids := make([]string, len(ctxs))
	for i, ctx := range ctxs {
		ids[i] = f.svc.CreateCart(ctx).ID
		_, err := f.svc.AddLine(ctx, ids[i], domain.AddLineRequest{Barcode: "B1", Quantity: 3})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ctxs))
	for i := range ctxs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Checkout(ctxs[i], ids[i])
		}(i)
	}
	wg.Wait()

	succeeded, rejected := 0, -1
	for i, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.True(t, errors.Is(err, store.ErrInsufficientStock), "unexpected error: %v", err)
		rejected = i
	}
	assert.Equal(t, 1, succeeded)
	require.GreaterOrEqual(t, rejected, 0)

	item, err := f.svc.GetItem(context.Background(), "B1")
	require.NoError(t, err)
	assert.Equal(t, 2, item.Quantity)

	kept, err := f.svc.GetCart(ctxs[rejected], ids[rejected])
	require.NoError(t, err)
	require.Len(t, kept.Lines, 1)
	assert.Equal(t, 3, kept.Lines[0].Quantity)
}

func TestEmptyWindowReportsZero(t *testing.T) {
	f := newFixture(t)

	report, err := f.svc.SalesReport(context.Background(), window.Window{Kind: window.Today}, ReportOptions{})
	require.NoError(t, err)
	assert.True(t, report.RevenueTotal.IsZero())
	assert.NotNil(t, report.ByBrand)
	assert.Empty(t, report.ByBrand)
	assert.Empty(t, report.History)
	assert.Equal(t, "today", report.Window)
}

func TestCustomWindowHistorySpansDays(t *testing.T) {
	f := newFixture(t)
	f.restock(t, "B1", "Acme", 50, "10.00")
	f.restock(t, "B2", "Brio", 50, "2.50")
	ctx := sellerCtx("seller")

	first := time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC)
	for day := 0; day < 3; day++ {
		f.now = first.AddDate(0, 0, day)
		f.sell(t, ctx, "B1", day+1)
		f.sell(t, ctx, "B2", 2)
	}
	f.now = time.Date(2024, time.March, 20, 9, 0, 0, 0, time.UTC)

	w, err := window.NewCustom(first, first.AddDate(0, 0, 2))
	require.NoError(t, err)
	r, err := f.svc.Resolve(w)
	require.NoError(t, err)

	history, err := f.svc.TransactionHistory(ctx, r, 0)
	require.NoError(t, err)
	require.Len(t, history, 6)
	sum := decimal.Zero
	for i, row := range history {
		if i > 0 {
			assert.False(t, row.CommittedAt.After(history[i-1].CommittedAt), "history must be newest first")
		}
		sum = sum.Add(row.Total)
	}

	total, err := f.svc.RevenueTotal(ctx, r)
	require.NoError(t, err)
	assert.True(t, total.Equal(sum))
	assert.Equal(t, "75.00", total.StringFixed(2))

	days, err := f.svc.DailyRevenue(ctx, w)
	require.NoError(t, err)
	require.Len(t, days, 3)
	assert.Equal(t, "2024-03-10", days[0].Date)
	assert.Equal(t, "15.00", days[0].Revenue.StringFixed(2))
	assert.Equal(t, 2, days[2].Transactions)
}

func TestBrandBreakdownSumsToTotalAndHistoryIsStable(t *testing.T) {
	f := newFixture(t)
	f.restock(t, "B1", "Acme", 20, "10.00")
	f.restock(t, "B2", "Brio", 20, "4.00")
	f.restock(t, "B3", "", 20, "1.00")
	ctx := sellerCtx("seller")

	f.sell(t, ctx, "B1", 2)
	f.sell(t, ctx, "B2", 6)
	f.sell(t, ctx, "B3", 3)

	r, err := f.svc.Resolve(window.Window{Kind: window.Today})
	require.NoError(t, err)
	total, err := f.svc.RevenueTotal(ctx, r)
	require.NoError(t, err)
	brands, err := f.svc.RevenueByBrand(ctx, r, 0)
	require.NoError(t, err)

	sum := decimal.Zero
	names := make([]string, 0, len(brands))
	for _, b := range brands {
		sum = sum.Add(b.Amount)
		names = append(names, b.Brand)
	}
	assert.True(t, sum.Equal(total))
	assert.Equal(t, []string{"Brio", "Acme", domain.UnknownBrand}, names)

	first, err := f.svc.TransactionHistory(ctx, r, 0)
	require.NoError(t, err)
	second, err := f.svc.TransactionHistory(ctx, r, 0)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCheckoutRejectsEmptyCart(t *testing.T) {
	f := newFixture(t)
	ctx := sellerCtx("seller")
	view := f.svc.CreateCart(ctx)

	_, err := f.svc.Checkout(ctx, view.ID)
	assert.True(t, errors.Is(err, store.ErrEmptyCart))

	_, err = f.svc.ValidateCart(ctx, view.ID)
	assert.True(t, errors.Is(err, store.ErrEmptyCart))
}

type failingCommitRepo struct {
	*memory.Store
}

func (failingCommitRepo) CommitSale(context.Context, domain.Sale) (*domain.TransactionSummary, error) {
	return nil, &store.StorageError{Op: "commit sale", Err: errors.New("connection reset")}
}

func TestCheckoutStorageFailureKeepsCart(t *testing.T) {
	repo := memory.New()
	svc := New(failingCommitRepo{repo}, nil, Options{})
	p := dec("10.00")
	_, err := svc.Restock(adminCtx(), domain.RestockRequest{Barcode: "B1", Quantity: 5, Price: &p})
	require.NoError(t, err)

	ctx := sellerCtx("seller")
	view := svc.CreateCart(ctx)
	_, err = svc.AddLine(ctx, view.ID, domain.AddLineRequest{Barcode: "B1", Quantity: 2})
	require.NoError(t, err)

	_, err = svc.Checkout(ctx, view.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrStorageUnavailable))

	kept, err := svc.GetCart(ctx, view.ID)
	require.NoError(t, err)
	require.Len(t, kept.Lines, 1)
	assert.Equal(t, 2, kept.Lines[0].Quantity)

	item, err := repo.GetItem(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, 5, item.Quantity)
}

func TestCartKeepsRateCapturedOnFirstAdd(t *testing.T) {
	f := newFixture(t)
	f.restock(t, "B1", "Acme", 10, "10.00")
	ctx := sellerCtx("seller")

	view := f.svc.CreateCart(ctx)
	_, err := f.svc.AddLine(ctx, view.ID, domain.AddLineRequest{Barcode: "B1", Quantity: 1})
	require.NoError(t, err)

	_, err = f.svc.UpdatePrice(adminCtx(), "B1", dec("12.00"))
	require.NoError(t, err)

	view, err = f.svc.AddLine(ctx, view.ID, domain.AddLineRequest{Barcode: "B1", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, "10.00", view.Lines[0].Rate.StringFixed(2))

	summary, err := f.svc.Checkout(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, "20.00", summary.Total.StringFixed(2))
}

func TestAddLineRejectsMoreThanOnHand(t *testing.T) {
	f := newFixture(t)
	f.restock(t, "B1", "Acme", 2, "10.00")
	ctx := sellerCtx("seller")
	view := f.svc.CreateCart(ctx)

	_, err := f.svc.AddLine(ctx, view.ID, domain.AddLineRequest{Barcode: "B1", Quantity: 3})
	var shortage *store.ShortageError
	require.True(t, errors.As(err, &shortage))
	assert.Equal(t, 2, shortage.Available)

	_, err = f.svc.AddLine(ctx, view.ID, domain.AddLineRequest{Barcode: "NOPE", Quantity: 1})
	assert.True(t, errors.Is(err, store.ErrNotFound))

	got, err := f.svc.GetCart(ctx, view.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Lines)
}

func TestValidateCartReportsShortfallAfterConcurrentSale(t *testing.T) {
	f := newFixture(t)
	f.restock(t, "B1", "Acme", 5, "10.00")
	alice, bob := sellerCtx("alice"), sellerCtx("bob")

	cartID := f.svc.CreateCart(alice).ID
	_, err := f.svc.AddLine(alice, cartID, domain.AddLineRequest{Barcode: "B1", Quantity: 4})
	require.NoError(t, err)

	result, err := f.svc.ValidateCart(alice, cartID)
	require.NoError(t, err)
	assert.True(t, result.OK)

	f.sell(t, bob, "B1", 3)

	result, err = f.svc.ValidateCart(alice, cartID)
	require.NoError(t, err)
	assert.False(t, result.OK)
	require.Len(t, result.Shortfalls, 1)
	assert.Equal(t, store.Shortfall{Barcode: "B1", Requested: 4, Available: 2}, result.Shortfalls[0])
}

func TestCartsAreBoundToTheirOwner(t *testing.T) {
	f := newFixture(t)
	cartID := f.svc.CreateCart(sellerCtx("alice")).ID

	_, err := f.svc.GetCart(sellerCtx("bob"), cartID)
	assert.True(t, errors.Is(err, session.ErrNotOwner))

	require.NoError(t, f.svc.CancelCart(sellerCtx("alice"), cartID))
	_, err = f.svc.GetCart(sellerCtx("alice"), cartID)
	assert.True(t, errors.Is(err, session.ErrCartNotFound))
}

func TestCatalogChangesRequireAdmin(t *testing.T) {
	f := newFixture(t)
	p := dec("1.00")
	ctx := sellerCtx("seller")

	_, err := f.svc.Restock(ctx, domain.RestockRequest{Barcode: "B1", Quantity: 1, Price: &p})
	assert.True(t, errors.Is(err, ErrForbidden))
	_, err = f.svc.UpdatePrice(ctx, "B1", p)
	assert.True(t, errors.Is(err, ErrForbidden))
	assert.True(t, errors.Is(f.svc.DeleteItem(ctx, "B1"), ErrForbidden))

	_, err = f.svc.Restock(adminCtx(), domain.RestockRequest{Barcode: "B1", Quantity: -1, Price: &p})
	assert.True(t, errors.Is(err, store.ErrInvalidItem))
}

func TestSalesReportCacheFollowsLedgerVersion(t *testing.T) {
	f := newFixture(t)
	f.restock(t, "B1", "Acme", 10, "10.00")
	ctx := adminCtx()
	today := window.Window{Kind: window.Today}

	first, err := f.svc.SalesReport(ctx, today, ReportOptions{})
	require.NoError(t, err)
	assert.True(t, first.RevenueTotal.IsZero())

	f.now = f.now.Add(time.Minute)
	cached, err := f.svc.SalesReport(ctx, today, ReportOptions{})
	require.NoError(t, err)
	assert.True(t, cached.GeneratedAt.Equal(first.GeneratedAt))

	f.sell(t, sellerCtx("seller"), "B1", 2)

	fresh, err := f.svc.SalesReport(ctx, today, ReportOptions{})
	require.NoError(t, err)
	assert.Equal(t, "20.00", fresh.RevenueTotal.StringFixed(2))
	assert.Equal(t, 1, fresh.Transactions)
	assert.Equal(t, 2, f.reports.Len())
}

func TestDeletedItemRevenueStaysUnderLedgerBrand(t *testing.T) {
	f := newFixture(t)
	f.restock(t, "B1", "Acme", 10, "10.00")
	f.sell(t, sellerCtx("seller"), "B1", 1)

	require.NoError(t, f.svc.DeleteItem(adminCtx(), "B1"))

	report, err := f.svc.SalesReport(adminCtx(), window.Window{Kind: window.Today}, ReportOptions{})
	require.NoError(t, err)
	require.Len(t, report.ByBrand, 1)
	assert.Equal(t, "Acme", report.ByBrand[0].Brand)
	require.Len(t, report.History, 1)
	assert.Equal(t, "10.00", report.History[0].UnitPrice.StringFixed(2))
}

// laggingVersionRepo answers ReportVersion with a value read before the last
// commit, the way a version read can race a concurrent sale.
type laggingVersionRepo struct {
	*memory.Store
	version string
}

func (r laggingVersionRepo) ReportVersion(context.Context) (string, error) {
	return r.version, nil
}

func TestSalesReportIsCachedUnderItsSnapshotVersion(t *testing.T) {
	f := newFixture(t)
	f.restock(t, "B1", "Acme", 10, "10.00")
	ctx := adminCtx()

	stale, err := f.repo.ReportVersion(ctx)
	require.NoError(t, err)
	f.sell(t, sellerCtx("seller"), "B1", 3)

	svc := New(laggingVersionRepo{Store: f.repo, version: stale}, f.reports, Options{Now: func() time.Time { return f.now }})
	today := window.Window{Kind: window.Today}
	report, err := svc.SalesReport(ctx, today, ReportOptions{})
	require.NoError(t, err)
	assert.Equal(t, "30.00", report.RevenueTotal.StringFixed(2))
	assert.NotEqual(t, stale, report.Version)

	r, err := svc.Resolve(today)
	require.NoError(t, err)
	_, ok, err := f.reports.Get(ctx, reportCacheKey(stale, r, ReportOptions{}))
	require.NoError(t, err)
	assert.False(t, ok, "a report must not be filed under a version older than its snapshot")
	_, ok, err = f.reports.Get(ctx, reportCacheKey(report.Version, r, ReportOptions{}))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRollingWindowReportsAreNotCached(t *testing.T) {
	f := newFixture(t)
	f.restock(t, "B1", "Acme", 10, "10.00")
	ctx := adminCtx()

	for i := 0; i < 50; i++ {
		f.now = f.now.Add(time.Second)
		_, err := f.svc.SalesReport(ctx, window.Window{Kind: window.Last7Days}, ReportOptions{})
		require.NoError(t, err)
	}
	assert.Equal(t, 0, f.reports.Len())

	f.sell(t, sellerCtx("seller"), "B1", 1)
	report, err := f.svc.SalesReport(ctx, window.Window{Kind: window.Last7Days}, ReportOptions{})
	require.NoError(t, err)
	assert.Equal(t, "10.00", report.RevenueTotal.StringFixed(2))
}

func TestBrandBreakdownComesFromOneSnapshot(t *testing.T) {
	f := newFixture(t)
	f.restock(t, "B1", "Acme", 20, "10.00")
	f.restock(t, "B2", "Brio", 20, "4.00")
	ctx := sellerCtx("seller")
	f.sell(t, ctx, "B1", 1)
	f.sell(t, ctx, "B2", 5)

	r, err := f.svc.Resolve(window.Window{Kind: window.Today})
	require.NoError(t, err)
	total, brands, err := f.svc.BrandBreakdown(ctx, r, 0)
	require.NoError(t, err)
	require.Len(t, brands, 2)
	assert.Equal(t, "Brio", brands[0].Brand)
	assert.True(t, brands[0].Amount.Add(brands[1].Amount).Equal(total))
	assert.Equal(t, "30.00", total.StringFixed(2))

	total, brands, err = f.svc.BrandBreakdown(ctx, r, 1)
	require.NoError(t, err)
	assert.Len(t, brands, 1)
	assert.Equal(t, "30.00", total.StringFixed(2), "the limit trims rows, not the total")
}

func TestDailyRevenueRejectsRangesLongerThanAYear(t *testing.T) {
	f := newFixture(t)
	w, err := window.NewCustom(time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	_, err = f.svc.DailyRevenue(adminCtx(), w)
	assert.True(t, errors.Is(err, window.ErrInvalidRange))
}
