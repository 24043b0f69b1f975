package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// CatalogSeeder inserts built-in permission definitions that are missing by name.
type CatalogSeeder struct {
	repo   Repository
	logger *slog.Logger
}

// NewCatalogSeeder constructs a CatalogSeeder.
func NewCatalogSeeder(repo Repository, logger *slog.Logger) *CatalogSeeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogSeeder{repo: repo, logger: logger}
}

// Seed writes every definition absent from the store and returns the number
// of rows created. Existing permissions keep their stored metadata.
func (s *CatalogSeeder) Seed(ctx context.Context, defs []PermissionDef) (int, error) {
	for _, d := range defs {
		if err := d.validate(); err != nil {
			return 0, err
		}
	}
	created := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created = 0
		for _, d := range defs {
			ok, err := tx.InsertPermission(ctx, Permission{
				Name:         d.Name,
				Description:  d.Description,
				Module:       d.Module,
				Scope:        d.Scope,
				DisplayOrder: d.DisplayOrder,
			})
			if err != nil {
				return err
			}
			if ok {
				created++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if created > 0 {
		s.logger.Info("permission catalog seeded", slog.Int("added", created), slog.Int("total", len(defs)))
	}
	return created, nil
}

func (d PermissionDef) validate() error {
	name := strings.TrimSpace(d.Name)
	if name == "" || name != d.Name {
		return fmt.Errorf("%w: permission name %q", ErrValidation, d.Name)
	}
	if strings.TrimSpace(d.Module) == "" {
		return fmt.Errorf("%w: permission %q has no module", ErrValidation, d.Name)
	}
	if !d.Scope.Valid() {
		return fmt.Errorf("%w: permission %q has scope %q", ErrValidation, d.Name, d.Scope)
	}
	return nil
}
