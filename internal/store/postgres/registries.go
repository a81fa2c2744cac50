package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

func (s *Store) CreateCategory(ctx context.Context, req domain.CategoryCreateRequest) (*domain.Category, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: category name is required", store.ErrInvalidItem)
	}

	category := domain.Category{Name: name}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO categories (name, created_at) VALUES ($1, $2)
		RETURNING id, created_at
	`, name, s.now()).Scan(&category.ID, &category.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: category %q already exists", store.ErrInvalidItem, name)
		}
		return nil, storageErr("create category", err)
	}
	return &category, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM categories ORDER BY lower(name), id`)
	if err != nil {
		return nil, storageErr("list categories", err)
	}
	defer rows.Close()

	out := make([]domain.Category, 0, 16)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, storageErr("list categories", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list categories", err)
	}
	return out, nil
}

func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "delete category", `DELETE FROM categories WHERE id = $1`, id)
}

// CreateBrand stores the category under its registered spelling. The lookup
// and the insert are one statement, so a category deleted concurrently is
// reported as unknown rather than linked.
func (s *Store) CreateBrand(ctx context.Context, req domain.BrandCreateRequest) (*domain.Brand, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: brand name is required", store.ErrInvalidItem)
	}
	category := strings.TrimSpace(req.Category)

	brand := domain.Brand{Name: name}
	var err error
	if category == "" {
		err = s.db.QueryRowContext(ctx, `
			INSERT INTO brands (name, category, created_at) VALUES ($1, '', $2)
			RETURNING id, category, created_at
		`, name, s.now()).Scan(&brand.ID, &brand.Category, &brand.CreatedAt)
	} else {
		err = s.db.QueryRowContext(ctx, `
			INSERT INTO brands (name, category, created_at)
			SELECT $1, c.name, $3 FROM categories c WHERE lower(c.name) = lower($2)
			RETURNING id, category, created_at
		`, name, category, s.now()).Scan(&brand.ID, &brand.Category, &brand.CreatedAt)
	}
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("%w: unknown category %q", store.ErrInvalidItem, category)
		case isUniqueViolation(err):
			return nil, fmt.Errorf("%w: brand %q already exists", store.ErrInvalidItem, name)
		}
		return nil, storageErr("create brand", err)
	}
	return &brand, nil
}

func (s *Store) ListBrands(ctx context.Context) ([]domain.Brand, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, category, created_at FROM brands ORDER BY lower(name), id`)
	if err != nil {
		return nil, storageErr("list brands", err)
	}
	defer rows.Close()

	out := make([]domain.Brand, 0, 16)
	for rows.Next() {
		var b domain.Brand
		if err := rows.Scan(&b.ID, &b.Name, &b.Category, &b.CreatedAt); err != nil {
			return nil, storageErr("list brands", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list brands", err)
	}
	return out, nil
}

func (s *Store) DeleteBrand(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "delete brand", `DELETE FROM brands WHERE id = $1`, id)
}

func (s *Store) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (*domain.Supplier, error) {
	name := strings.TrimSpace(req.Name)
	contact := strings.TrimSpace(req.Contact)
	if name == "" || contact == "" {
		return nil, fmt.Errorf("%w: supplier name and contact are required", store.ErrInvalidItem)
	}

	supplier := domain.Supplier{Name: name, Contact: contact}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO suppliers (name, contact, created_at) VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, name, contact, s.now()).Scan(&supplier.ID, &supplier.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: supplier %q already exists", store.ErrInvalidItem, name)
		}
		return nil, storageErr("create supplier", err)
	}
	return &supplier, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, contact, created_at FROM suppliers ORDER BY lower(name), id`)
	if err != nil {
		return nil, storageErr("list suppliers", err)
	}
	defer rows.Close()

	out := make([]domain.Supplier, 0, 16)
	for rows.Next() {
		var sp domain.Supplier
		if err := rows.Scan(&sp.ID, &sp.Name, &sp.Contact, &sp.CreatedAt); err != nil {
			return nil, storageErr("list suppliers", err)
		}
		out = append(out, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list suppliers", err)
	}
	return out, nil
}

func (s *Store) DeleteSupplier(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "delete supplier", `DELETE FROM suppliers WHERE id = $1`, id)
}

func (s *Store) deleteByID(ctx context.Context, op string, query string, id int64) error {
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return storageErr(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr(op, err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
