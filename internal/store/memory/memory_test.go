package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/window"
)

func price(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func seedItem(t *testing.T, s *Store, barcode string, brand string, qty int, unit string) {
	t.Helper()
	_, err := s.Restock(context.Background(), domain.RestockRequest{
		Barcode:      barcode,
		Quantity:     qty,
		Price:        price(unit),
		ItemMetadata: domain.ItemMetadata{Brand: brand, Size: "M", Category: "Apparel", Supplier: "Acme Supply"},
	})
	require.NoError(t, err)
}

func line(barcode string, qty int, rate string) domain.CartLine {
	r := decimal.RequireFromString(rate)
	return domain.CartLine{Barcode: barcode, Quantity: qty, Rate: r, Total: r.Mul(decimal.NewFromInt(int64(qty)))}
}

var allTime = window.Range{From: time.Unix(0, 0), To: time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)}

func TestRestockCreatesAndIncrements(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Restock(ctx, domain.RestockRequest{Barcode: "B1", Quantity: 5})
	assert.True(t, errors.Is(err, store.ErrInvalidItem), "new item without price")

	seedItem(t, s, "B1", "Acme", 5, "10.00")
	item, err := s.Restock(ctx, domain.RestockRequest{Barcode: "B1", Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, 8, item.Quantity)
	assert.Equal(t, "Acme M", item.Name)
	assert.True(t, item.Price.Equal(decimal.RequireFromString("10.00")))

	restocks, err := s.ListRestocks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, restocks, 2)
	assert.Equal(t, 3, restocks[0].Quantity)
}

func TestDecrementIfAvailableNeverGoesNegative(t *testing.T) {
	s := New()
	seedItem(t, s, "B1", "Acme", 5, "10.00")

	var (
		wg      sync.WaitGroup
		success atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.DecrementIfAvailable(context.Background(), "B1", 2)
			if err == nil {
				success.Add(1)
				return
			}
			assert.True(t, errors.Is(err, store.ErrInsufficientStock))
		}()
	}
	wg.Wait()

	item, err := s.GetItem(context.Background(), "B1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), success.Load())
	assert.Equal(t, 1, item.Quantity)
}

func TestCommitSaleIsAllOrNothing(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedItem(t, s, "B1", "Acme", 5, "10.00")
	seedItem(t, s, "B2", "Brio", 1, "4.00")

	_, err := s.CommitSale(ctx, domain.Sale{
		CommitID: "c-1",
		Lines:    []domain.CartLine{line("B1", 3, "10.00"), line("B2", 2, "4.00")},
	})
	var insufficient *store.InsufficientStockError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, "B2", insufficient.Shortfalls[0].Barcode)
	assert.Equal(t, 1, insufficient.Shortfalls[0].Available)

	item, _ := s.GetItem(ctx, "B1")
	assert.Equal(t, 5, item.Quantity)
	txs, _ := s.ListTransactions(ctx, allTime, 0)
	assert.Empty(t, txs)
	history, _ := s.TransactionHistory(ctx, allTime, 0)
	assert.Empty(t, history)
}

func TestCommitSaleWritesSummaryAndLedger(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedItem(t, s, "B1", "Acme", 5, "10.00")
	seedItem(t, s, "B2", "Brio", 4, "4.00")
	at := time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)

	summary, err := s.CommitSale(ctx, domain.Sale{
		CommitID:    "c-1",
		Description: "Acme M x3, Brio M x1",
		CommittedAt: at,
		Lines:       []domain.CartLine{line("B1", 3, "10.00"), line("B2", 1, "4.00")},
	})
	require.NoError(t, err)
	assert.True(t, summary.Total.Equal(decimal.RequireFromString("34.00")))
	assert.Equal(t, 2, summary.LineCount)
	require.Len(t, summary.Entries, 2)
	assert.Equal(t, "Acme Supply", summary.Entries[0].Supplier)

	item, _ := s.GetItem(ctx, "B1")
	assert.Equal(t, 2, item.Quantity)

	_, err = s.CommitSale(ctx, domain.Sale{CommitID: "c-2"})
	assert.True(t, errors.Is(err, store.ErrEmptyCart))
}

func TestBrandFallsBackToLedgerAfterDelete(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedItem(t, s, "B1", "Acme", 5, "10.00")
	seedItem(t, s, "B2", "Brio", 5, "5.00")
	at := time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)

	_, err := s.CommitSale(ctx, domain.Sale{CommitID: "c-1", CommittedAt: at, Lines: []domain.CartLine{line("B1", 1, "10.00"), line("B2", 4, "5.00")}})
	require.NoError(t, err)

	_, err = s.Restock(ctx, domain.RestockRequest{Barcode: "B2", ItemMetadata: domain.ItemMetadata{Brand: "Brio Sport"}})
	require.NoError(t, err)
	require.NoError(t, s.DeleteItem(ctx, "B1"))

	brands, err := s.RevenueByBrand(ctx, allTime, 0)
	require.NoError(t, err)
	require.Len(t, brands, 2)
	assert.Equal(t, "Brio Sport", brands[0].Brand)
	assert.Equal(t, "20", brands[0].Amount.String())
	assert.Equal(t, "Acme", brands[1].Brand)
	assert.Equal(t, "10", brands[1].Amount.String())
}

func TestRevenueByBrandBreaksTiesByName(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedItem(t, s, "B1", "Zeta", 5, "10.00")
	seedItem(t, s, "B2", "Alpha", 5, "10.00")
	seedItem(t, s, "B3", "Mid", 5, "1.00")

	_, err := s.CommitSale(ctx, domain.Sale{CommitID: "c-1", Lines: []domain.CartLine{
		line("B1", 1, "10.00"), line("B2", 1, "10.00"), line("B3", 1, "1.00"),
	}})
	require.NoError(t, err)

	brands, err := s.RevenueByBrand(ctx, allTime, 2)
	require.NoError(t, err)
	require.Len(t, brands, 2)
	assert.Equal(t, "Alpha", brands[0].Brand)
	assert.Equal(t, "Zeta", brands[1].Brand)
}

func TestSalesReportIsConsistent(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedItem(t, s, "B1", "Acme", 50, "10.00")
	seedItem(t, s, "B2", "Brio", 50, "2.50")

	day := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := s.CommitSale(ctx, domain.Sale{
			CommitID:    "c",
			CommittedAt: day.Add(time.Duration(i) * time.Hour),
			Lines:       []domain.CartLine{line("B1", 1, "10.00"), line("B2", 2, "2.50")},
		})
		require.NoError(t, err)
	}
	_, err := s.CommitSale(ctx, domain.Sale{CommitID: "late", CommittedAt: day.AddDate(0, 0, 1), Lines: []domain.CartLine{line("B1", 1, "10.00")}})
	require.NoError(t, err)

	r := window.Range{From: day, To: day.AddDate(0, 0, 1)}
	report, err := s.SalesReport(ctx, store.ReportQuery{Range: r, HistoryLimit: 4})
	require.NoError(t, err)

	assert.True(t, report.RevenueTotal.Equal(decimal.RequireFromString("45.00")))
	assert.Equal(t, 3, report.Transactions)
	assert.Equal(t, 9, report.ItemsSold)
	assert.Len(t, report.History, 4)
	assert.True(t, report.History[0].CommittedAt.Equal(day.Add(2*time.Hour)))

	sum := decimal.Zero
	for _, b := range report.ByBrand {
		sum = sum.Add(b.Amount)
	}
	assert.True(t, sum.Equal(report.RevenueTotal))

	split, err := window.Range{From: day, To: day.AddDate(0, 0, 2)}.Days()
	require.NoError(t, err)
	days, err := s.DailyRevenue(ctx, split)
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, "2024-03-16", days[1].Date)
	assert.True(t, days[1].Revenue.Equal(decimal.RequireFromString("10.00")))
}

func TestSupplierRevenueAndChart(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedItem(t, s, "B1", "Acme", 10, "10.00")
	seedItem(t, s, "B2", "Acme", 10, "3.00")

	_, err := s.CommitSale(ctx, domain.Sale{CommitID: "c-1", Lines: []domain.CartLine{line("B1", 2, "10.00"), line("B2", 1, "3.00")}})
	require.NoError(t, err)

	suppliers, err := s.SupplierRevenue(ctx, allTime)
	require.NoError(t, err)
	require.Len(t, suppliers, 1)
	assert.True(t, suppliers[0].Amount.Equal(decimal.RequireFromString("23.00")))

	chart, err := s.SalesChart(ctx, allTime)
	require.NoError(t, err)
	require.Len(t, chart, 1)
	assert.Equal(t, 3, chart[0].Quantity)
}

func TestLowStockOrdersAscending(t *testing.T) {
	s := New()
	seedItem(t, s, "B1", "Acme", 9, "1.00")
	seedItem(t, s, "B2", "Brio", 2, "1.00")
	seedItem(t, s, "B3", "Cobra", 12, "1.00")

	alerts, err := s.LowStock(context.Background(), 10, 5)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "B2", alerts[0].Barcode)
}

func TestReportVersionChangesOnCommit(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedItem(t, s, "B1", "Acme", 10, "1.00")

	before, _ := s.ReportVersion(ctx)
	_, err := s.CommitSale(ctx, domain.Sale{CommitID: "c", Lines: []domain.CartLine{line("B1", 1, "1.00")}})
	require.NoError(t, err)
	after, _ := s.ReportVersion(ctx)
	assert.NotEqual(t, before, after)
}
