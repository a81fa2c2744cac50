// Package session keeps one cart per checkout session in process memory.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"shopledger/backend/internal/cart"
	"shopledger/backend/internal/xid"
)

var (
	ErrCartNotFound = errors.New("cart not found")
	ErrNotOwner     = errors.New("cart belongs to another session")
)

type entry struct {
	mu      sync.Mutex
	cart    *cart.Cart
	owner   string
	touched time.Time
}

type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	newCart func() *cart.Cart
	idle    time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

func NewRegistry(newCart func() *cart.Cart, idle time.Duration, logger *zap.Logger) *Registry {
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]*entry),
		newCart: newCart,
		idle:    idle,
		now:     time.Now,
		logger:  logger,
	}
}

func (r *Registry) Create(owner string) string {
	id := xid.New("cart")
	r.mu.Lock()
	r.entries[id] = &entry{cart: r.newCart(), owner: owner, touched: r.now()}
	r.mu.Unlock()
	return id
}

// With runs fn while holding the cart's lock. An empty owner skips the
// ownership check.
func (r *Registry) With(id string, owner string, fn func(c *cart.Cart) error) error {
	e, err := r.lookup(id, owner)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.touched = r.now()
	return fn(e.cart)
}

func (r *Registry) Owner(id string) (string, error) {
	e, err := r.lookup(id, "")
	if err != nil {
		return "", err
	}
	return e.owner, nil
}

func (r *Registry) Discard(id string, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return ErrCartNotFound
	}
	if owner != "" && e.owner != owner {
		return ErrNotOwner
	}
	delete(r.entries, id)
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep drops carts idle for longer than the configured timeout. Carts that
// are in use are skipped.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idle)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, e := range r.entries {
		if !e.mu.TryLock() {
			continue
		}
		if e.touched.Before(cutoff) {
			delete(r.entries, id)
			removed++
		}
		e.mu.Unlock()
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Info("expired idle carts", zap.Int("count", n))
			}
		}
	}
}

func (r *Registry) lookup(id string, owner string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrCartNotFound
	}
	if owner != "" && e.owner != owner {
		return nil, ErrNotOwner
	}
	return e, nil
}
