package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

func (s *Store) CreateCategory(_ context.Context, req domain.CategoryCreateRequest) (*domain.Category, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: category name is required", store.ErrInvalidItem)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := findByName(s.categories, name, func(c domain.Category) string { return c.Name }); taken {
		return nil, fmt.Errorf("%w: category %q already exists", store.ErrInvalidItem, name)
	}
	s.nextRegistryID++
	category := domain.Category{ID: s.nextRegistryID, Name: name, CreatedAt: s.now()}
	s.categories[category.ID] = category
	return &category, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedByName(s.categories, func(c domain.Category) string { return c.Name }), nil
}

// DeleteCategory leaves items and brands that name the category untouched.
func (s *Store) DeleteCategory(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.categories, id)
	return nil
}

func (s *Store) CreateBrand(_ context.Context, req domain.BrandCreateRequest) (*domain.Brand, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: brand name is required", store.ErrInvalidItem)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := findByName(s.brands, name, func(b domain.Brand) string { return b.Name }); taken {
		return nil, fmt.Errorf("%w: brand %q already exists", store.ErrInvalidItem, name)
	}
	category := strings.TrimSpace(req.Category)
	if category != "" {
		existing, ok := findByName(s.categories, category, func(c domain.Category) string { return c.Name })
		if !ok {
			return nil, fmt.Errorf("%w: unknown category %q", store.ErrInvalidItem, category)
		}
		category = existing.Name
	}
	s.nextRegistryID++
	brand := domain.Brand{ID: s.nextRegistryID, Name: name, Category: category, CreatedAt: s.now()}
	s.brands[brand.ID] = brand
	return &brand, nil
}

func (s *Store) ListBrands(_ context.Context) ([]domain.Brand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedByName(s.brands, func(b domain.Brand) string { return b.Name }), nil
}

func (s *Store) DeleteBrand(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.brands[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.brands, id)
	return nil
}

func (s *Store) CreateSupplier(_ context.Context, req domain.SupplierCreateRequest) (*domain.Supplier, error) {
	name := strings.TrimSpace(req.Name)
	contact := strings.TrimSpace(req.Contact)
	if name == "" || contact == "" {
		return nil, fmt.Errorf("%w: supplier name and contact are required", store.ErrInvalidItem)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := findByName(s.suppliers, name, func(sp domain.Supplier) string { return sp.Name }); taken {
		return nil, fmt.Errorf("%w: supplier %q already exists", store.ErrInvalidItem, name)
	}
	s.nextRegistryID++
	supplier := domain.Supplier{ID: s.nextRegistryID, Name: name, Contact: contact, CreatedAt: s.now()}
	s.suppliers[supplier.ID] = supplier
	return &supplier, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedByName(s.suppliers, func(sp domain.Supplier) string { return sp.Name }), nil
}

func (s *Store) DeleteSupplier(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.suppliers[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.suppliers, id)
	return nil
}

func findByName[T any](entries map[int64]T, name string, nameOf func(T) string) (T, bool) {
	for _, entry := range entries {
		if strings.EqualFold(nameOf(entry), name) {
			return entry, true
		}
	}
	var zero T
	return zero, false
}

func sortedByName[T any](entries map[int64]T, nameOf func(T) string) []T {
	out := make([]T, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry)
	}
	slices.SortFunc(out, func(a, b T) int {
		return cmp.Compare(strings.ToLower(nameOf(a)), strings.ToLower(nameOf(b)))
	})
	return out
}
