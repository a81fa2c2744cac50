package service

import (
	"context"

	"go.uber.org/zap"

	"shopledger/backend/internal/domain"
)

// Registry entries are reference lists for the catalog forms. Items store the
// names as text, so none of these calls touch inventory or the report version.

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryCreateRequest) (domain.Category, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Category{}, err
	}
	category, err := s.repo.CreateCategory(ctx, req)
	if err != nil {
		return domain.Category{}, err
	}
	s.logger.Info("category created", zap.Int64("id", category.ID), zap.String("name", category.Name), zap.String("by", actor.Username))
	return *category, nil
}

func (s *Service) DeleteCategory(ctx context.Context, id int64) error {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteCategory(ctx, id); err != nil {
		return err
	}
	s.logger.Info("category deleted", zap.Int64("id", id), zap.String("by", actor.Username))
	return nil
}

func (s *Service) ListBrands(ctx context.Context) ([]domain.Brand, error) {
	return s.repo.ListBrands(ctx)
}

func (s *Service) CreateBrand(ctx context.Context, req domain.BrandCreateRequest) (domain.Brand, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Brand{}, err
	}
	brand, err := s.repo.CreateBrand(ctx, req)
	if err != nil {
		return domain.Brand{}, err
	}
	s.logger.Info("brand created",
		zap.Int64("id", brand.ID),
		zap.String("name", brand.Name),
		zap.String("category", brand.Category),
		zap.String("by", actor.Username))
	return *brand, nil
}

func (s *Service) DeleteBrand(ctx context.Context, id int64) error {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteBrand(ctx, id); err != nil {
		return err
	}
	s.logger.Info("brand deleted", zap.Int64("id", id), zap.String("by", actor.Username))
	return nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Supplier{}, err
	}
	supplier, err := s.repo.CreateSupplier(ctx, req)
	if err != nil {
		return domain.Supplier{}, err
	}
	s.logger.Info("supplier created", zap.Int64("id", supplier.ID), zap.String("name", supplier.Name), zap.String("by", actor.Username))
	return *supplier, nil
}

func (s *Service) DeleteSupplier(ctx context.Context, id int64) error {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteSupplier(ctx, id); err != nil {
		return err
	}
	s.logger.Info("supplier deleted", zap.Int64("id", id), zap.String("by", actor.Username))
	return nil
}
