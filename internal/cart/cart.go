// Package cart holds the uncommitted lines of one checkout session.
//
// A Cart is not safe for concurrent use; session.Registry serialises access
// to each cart.
package cart

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

var ErrInvalidQuantity = errors.New("quantity must be greater than zero")

type Lookup interface {
	GetItem(ctx context.Context, barcode string) (*domain.InventoryItem, error)
}

type Cart struct {
	catalog Lookup
	order   []string
	lines   map[string]domain.CartLine
	total   decimal.Decimal
}

func New(catalog Lookup) *Cart {
	return &Cart{
		catalog: catalog,
		lines:   make(map[string]domain.CartLine),
	}
}

// AddLine adds qty units of barcode. The check against on-hand stock is
// advisory; the committer re-validates. On any error the cart is unchanged.
func (c *Cart) AddLine(ctx context.Context, barcode string, qty int) (domain.CartLine, error) {
	barcode = strings.TrimSpace(barcode)
	if qty <= 0 {
		return domain.CartLine{}, ErrInvalidQuantity
	}
	if barcode == "" {
		return domain.CartLine{}, store.ErrNotFound
	}

	item, err := c.catalog.GetItem(ctx, barcode)
	if err != nil {
		return domain.CartLine{}, err
	}

	existing, inCart := c.lines[barcode]
	// Compared as a difference so a huge qty cannot wrap the sum negative.
	if qty > item.Quantity-existing.Quantity {
		requested := existing.Quantity + qty
		if requested < existing.Quantity {
			requested = math.MaxInt
		}
		return domain.CartLine{}, &store.ShortageError{
			Barcode:   barcode,
			Requested: requested,
			Available: item.Quantity,
		}
	}
	wanted := existing.Quantity + qty

	line := existing
	if !inCart {
		line = domain.CartLine{
			Barcode:  item.Barcode,
			Name:     item.Name,
			Brand:    item.Brand,
			Category: item.Category,
			Size:     item.Size,
			Rate:     item.Price,
		}
		c.order = append(c.order, barcode)
	}
	line.Quantity = wanted
	line.Total = line.Rate.Mul(decimal.NewFromInt(int64(wanted)))
	c.lines[barcode] = line
	c.recompute()
	return line, nil
}

func (c *Cart) RemoveLine(barcode string) bool {
	if _, ok := c.lines[barcode]; !ok {
		return false
	}
	delete(c.lines, barcode)
	for i, b := range c.order {
		if b == barcode {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.recompute()
	return true
}

func (c *Cart) RemoveAll() {
	c.order = nil
	c.lines = make(map[string]domain.CartLine)
	c.total = decimal.Zero
}

func (c *Cart) GrandTotal() decimal.Decimal {
	return c.total
}

func (c *Cart) Len() int {
	return len(c.order)
}

// Lines returns a copy of the lines in the order they were first scanned.
func (c *Cart) Lines() []domain.CartLine {
	out := make([]domain.CartLine, 0, len(c.order))
	for _, barcode := range c.order {
		out = append(out, c.lines[barcode])
	}
	return out
}

// Description is the human readable bill line stored on the transaction
// summary, e.g. "Acme 500ml x2, Brio L x1".
func (c *Cart) Description() string {
	return Describe(c.Lines())
}

func Describe(lines []domain.CartLine) string {
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		label := strings.TrimSpace(line.Brand + " " + line.Size)
		if label == "" {
			label = line.Name
		}
		if label == "" {
			label = line.Barcode
		}
		parts = append(parts, fmt.Sprintf("%s x%d", label, line.Quantity))
	}
	return strings.Join(parts, ", ")
}

func (c *Cart) recompute() {
	total := decimal.Zero
	for _, line := range c.lines {
		total = total.Add(line.Total)
	}
	c.total = total
}
