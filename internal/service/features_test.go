package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/store/memory"
	"shopledger/backend/internal/window"
)

type ledgerTestContext struct {
	svc      *Service
	now      time.Time
	carts    map[string]string
	sellers  []string
	results  map[string]error
	receipts map[string]domain.TransactionSummary
	report   domain.SalesReport
}

func (c *ledgerTestContext) reset() {
	c.now = time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)
	c.svc = New(memory.New(), nil, Options{Now: func() time.Time { return c.now }})
	c.carts = map[string]string{}
	c.sellers = nil
	c.results = map[string]error{}
	c.receipts = map[string]domain.TransactionSummary{}
	c.report = domain.SalesReport{}
}

func (c *ledgerTestContext) seller(name string) context.Context {
	return WithActor(context.Background(), domain.Actor{Username: name, Role: domain.RoleSeller})
}

func (c *ledgerTestContext) theClockReads(value string) error {
	at, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return err
	}
	c.now = at
	return nil
}

func (c *ledgerTestContext) theCatalogHasItem(barcode string, brand string, qty int, price string) error {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return err
	}
	ctx := WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
	_, err = c.svc.Restock(ctx, domain.RestockRequest{
		Barcode:      barcode,
		Quantity:     qty,
		Price:        &p,
		ItemMetadata: domain.ItemMetadata{Brand: brand, Size: "M"},
	})
	return err
}

func (c *ledgerTestContext) sellerOpensACart(name string) error {
	c.carts[name] = c.svc.CreateCart(c.seller(name)).ID
	c.sellers = append(c.sellers, name)
	return nil
}

func (c *ledgerTestContext) sellerAdds(name string, qty int, barcode string) error {
	id, ok := c.carts[name]
	if !ok {
		return fmt.Errorf("seller %q has no cart", name)
	}
	_, err := c.svc.AddLine(c.seller(name), id, domain.AddLineRequest{Barcode: barcode, Quantity: qty})
	return err
}

func (c *ledgerTestContext) sellerChecksOut(name string) error {
	summary, err := c.svc.Checkout(c.seller(name), c.carts[name])
	c.results[name] = err
	if err == nil {
		c.receipts[name] = summary
	}
	return nil
}

func (c *ledgerTestContext) allSellersCheckOutAtTheSameTime() error {
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, name := range c.sellers {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			summary, err := c.svc.Checkout(c.seller(name), c.carts[name])
			mu.Lock()
			defer mu.Unlock()
			c.results[name] = err
			if err == nil {
				c.receipts[name] = summary
			}
		}(name)
	}
	wg.Wait()
	return nil
}

func (c *ledgerTestContext) sellerSoldAt(name string, qty int, barcode string, at string) error {
	if err := c.theClockReads(at); err != nil {
		return err
	}
	if err := c.sellerOpensACart(name); err != nil {
		return err
	}
	if err := c.sellerAdds(name, qty, barcode); err != nil {
		return err
	}
	_, err := c.svc.Checkout(c.seller(name), c.carts[name])
	return err
}

func (c *ledgerTestContext) theCheckoutSucceedsWithTotal(name string, total string) error {
	if err := c.results[name]; err != nil {
		return fmt.Errorf("checkout of %s failed: %w", name, err)
	}
	if got := c.receipts[name].Total.StringFixed(2); got != total {
		return fmt.Errorf("expected total %s, got %s", total, got)
	}
	return nil
}

func (c *ledgerTestContext) theCheckoutFailsBecauseTheCartIsEmpty(name string) error {
	if !errors.Is(c.results[name], store.ErrEmptyCart) {
		return fmt.Errorf("expected empty cart error, got %v", c.results[name])
	}
	return nil
}

func (c *ledgerTestContext) exactlyCheckoutSucceeds(n int) error {
	if len(c.receipts) != n {
		return fmt.Errorf("expected %d successful checkouts, got %d", n, len(c.receipts))
	}
	return nil
}

func (c *ledgerTestContext) theOtherCheckoutsFailWithInsufficientStock() error {
	for name, err := range c.results {
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrInsufficientStock) {
			return fmt.Errorf("checkout of %s failed with %v", name, err)
		}
	}
	return nil
}

func (c *ledgerTestContext) itemHasQuantity(barcode string, qty int) error {
	item, err := c.svc.GetItem(context.Background(), barcode)
	if err != nil {
		return err
	}
	if item.Quantity != qty {
		return fmt.Errorf("expected quantity %d, got %d", qty, item.Quantity)
	}
	return nil
}

func (c *ledgerTestContext) theLedgerHoldsRowsTotalling(label string, rows int, total string) error {
	w, err := window.Parse(label, "", "")
	if err != nil {
		return err
	}
	r, err := c.svc.Resolve(w)
	if err != nil {
		return err
	}
	history, err := c.svc.TransactionHistory(context.Background(), r, 0)
	if err != nil {
		return err
	}
	if len(history) != rows {
		return fmt.Errorf("expected %d ledger rows, got %d", rows, len(history))
	}
	revenue, err := c.svc.RevenueTotal(context.Background(), r)
	if err != nil {
		return err
	}
	if got := revenue.StringFixed(2); got != total {
		return fmt.Errorf("expected revenue %s, got %s", total, got)
	}
	return nil
}

func (c *ledgerTestContext) iRequestTheSalesReport(label string) error {
	w, err := window.Parse(label, "", "")
	if err != nil {
		return err
	}
	c.report, err = c.svc.SalesReport(context.Background(), w, ReportOptions{})
	return err
}

func (c *ledgerTestContext) iRequestTheCustomSalesReport(start string, end string) error {
	w, err := window.Parse(string(window.Custom), start, end)
	if err != nil {
		return err
	}
	c.report, err = c.svc.SalesReport(context.Background(), w, ReportOptions{})
	return err
}

func (c *ledgerTestContext) theReportRevenueIs(total string) error {
	if got := c.report.RevenueTotal.StringFixed(2); got != total {
		return fmt.Errorf("expected report revenue %s, got %s", total, got)
	}
	return nil
}

func (c *ledgerTestContext) theReportHasNoBrandRows() error {
	if len(c.report.ByBrand) != 0 {
		return fmt.Errorf("expected no brand rows, got %d", len(c.report.ByBrand))
	}
	return nil
}

func (c *ledgerTestContext) theReportHistoryHasRowsNewestFirst(n int) error {
	if len(c.report.History) != n {
		return fmt.Errorf("expected %d history rows, got %d", n, len(c.report.History))
	}
	for i := 1; i < len(c.report.History); i++ {
		if c.report.History[i].CommittedAt.After(c.report.History[i-1].CommittedAt) {
			return fmt.Errorf("history row %d is newer than row %d", i, i-1)
		}
	}
	return nil
}

func (c *ledgerTestContext) theReportRevenueEqualsTheSumOfItsHistory() error {
	sum := decimal.Zero
	for _, row := range c.report.History {
		sum = sum.Add(row.Total)
	}
	if !sum.Equal(c.report.RevenueTotal) {
		return fmt.Errorf("history sums to %s, revenue is %s", sum, c.report.RevenueTotal)
	}
	return nil
}

func (c *ledgerTestContext) theReportBrandRowsSumToTheRevenue() error {
	sum := decimal.Zero
	for _, row := range c.report.ByBrand {
		sum = sum.Add(row.Amount)
	}
	if !sum.Equal(c.report.RevenueTotal) {
		return fmt.Errorf("brands sum to %s, revenue is %s", sum, c.report.RevenueTotal)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &ledgerTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^the clock reads "([^"]*)"$`, tc.theClockReads)
	ctx.Step(`^the catalog has item "([^"]*)" of brand "([^"]*)" with quantity (\d+) at price "([^"]*)"$`, tc.theCatalogHasItem)
	ctx.Step(`^seller "([^"]*)" opens a cart$`, tc.sellerOpensACart)
	ctx.Step(`^seller "([^"]*)" adds (\d+) of "([^"]*)"$`, tc.sellerAdds)
	ctx.Step(`^seller "([^"]*)" sold (\d+) of "([^"]*)" at "([^"]*)"$`, tc.sellerSoldAt)

	// When steps
	ctx.Step(`^seller "([^"]*)" checks out$`, tc.sellerChecksOut)
	ctx.Step(`^all sellers check out at the same time$`, tc.allSellersCheckOutAtTheSameTime)
	ctx.Step(`^I request the "([^"]*)" sales report$`, tc.iRequestTheSalesReport)
	ctx.Step(`^I request the custom sales report from "([^"]*)" to "([^"]*)"$`, tc.iRequestTheCustomSalesReport)

	// Then steps
	ctx.Step(`^the checkout of seller "([^"]*)" succeeds with total "([^"]*)"$`, tc.theCheckoutSucceedsWithTotal)
	ctx.Step(`^the checkout of seller "([^"]*)" fails because the cart is empty$`, tc.theCheckoutFailsBecauseTheCartIsEmpty)
	ctx.Step(`^exactly (\d+) checkouts? succeeds?$`, tc.exactlyCheckoutSucceeds)
	ctx.Step(`^the other checkouts fail with insufficient stock$`, tc.theOtherCheckoutsFailWithInsufficientStock)
	ctx.Step(`^item "([^"]*)" has quantity (\d+)$`, tc.itemHasQuantity)
	ctx.Step(`^the "([^"]*)" ledger holds (\d+) rows? totalling "([^"]*)"$`, tc.theLedgerHoldsRowsTotalling)
	ctx.Step(`^the report revenue is "([^"]*)"$`, tc.theReportRevenueIs)
	ctx.Step(`^the report has no brand rows$`, tc.theReportHasNoBrandRows)
	ctx.Step(`^the report history has (\d+) rows newest first$`, tc.theReportHistoryHasRowsNewestFirst)
	ctx.Step(`^the report revenue equals the sum of its history$`, tc.theReportRevenueEqualsTheSumOfItsHistory)
	ctx.Step(`^the report brand rows sum to the revenue$`, tc.theReportBrandRowsSumToTheRevenue)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"testdata/features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
