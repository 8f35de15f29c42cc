package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/lanpos/internal/ids"
	"github.com/roach88/lanpos/internal/pos"
	"github.com/roach88/lanpos/internal/replica"
)

var (
	// ErrUnknownCategory is returned when a product names a missing category.
	ErrUnknownCategory = errors.New("catalog: unknown category")

	// ErrDuplicateSKU is returned when a product reuses an existing SKU.
	ErrDuplicateSKU = errors.New("catalog: duplicate sku")
)

// Document is the replica as seen by catalog operations.
type Document interface {
	Transact(ctx context.Context, fn func(*replica.Txn) error) error
}

// Seeder writes catalogs into a document.
type Seeder struct {
	// Cost is the bcrypt cost for PIN hashes.
	Cost   int
	Logger *slog.Logger
}

// DefaultSeeder hashes with bcrypt.DefaultCost and logs to slog.Default().
func DefaultSeeder() Seeder {
	return Seeder{Cost: bcrypt.DefaultCost, Logger: slog.Default()}
}

// Seed inserts users, categories and products as one group when the users
// collection is empty. It reports whether anything was written.
func (s Seeder) Seed(ctx context.Context, doc Document, cat *Catalog) (bool, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	seeded := false
	err := doc.Transact(ctx, func(tx *replica.Txn) error {
		seeded = false
		users, err := tx.Collection(pos.CollectionUsers).Records(ctx)
		if err != nil {
			return err
		}
		if len(users) > 0 {
			return nil
		}

		for _, u := range cat.Users {
			hash, err := bcrypt.GenerateFromPassword([]byte(u.PIN), s.Cost)
			if err != nil {
				return fmt.Errorf("hash pin for %s: %w", u.ID, err)
			}
			user := pos.User{ID: u.ID, Name: u.Name, Role: u.Role, PinHash: string(hash)}
			if err := tx.Collection(pos.CollectionUsers).Append(ctx, user.Record()); err != nil {
				return err
			}
		}
		for _, c := range cat.Categories {
			if err := tx.Collection(pos.CollectionCategories).Append(ctx, c.Record()); err != nil {
				return err
			}
		}
		for _, p := range cat.Products {
			if err := tx.Collection(pos.CollectionProducts).Append(ctx, p.Record()); err != nil {
				return err
			}
		}
		seeded = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("catalog: seed: %w", err)
	}

	if seeded {
		logger.Info("catalog seeded",
			"users", len(cat.Users),
			"categories", len(cat.Categories),
			"products", len(cat.Products),
		)
	}
	return seeded, nil
}

// ProductInput is the manager's "add product" form.
type ProductInput struct {
	Name       string    `json:"name" validate:"required"`
	Price      pos.Money `json:"price" validate:"gte=0"`
	Stock      int64     `json:"stock" validate:"gte=0"`
	CategoryID string    `json:"categoryId" validate:"required"`
	SKU        string    `json:"sku" validate:"required"`
	ImageURL   string    `json:"imageUrl" validate:"omitempty,url"`
}

var validate = validator.New()

// AddProduct validates in and appends a new product. The category must exist
// and the SKU must be unused. Without an image URL a placeholder derived from
// the SKU is used.
func AddProduct(ctx context.Context, doc Document, gen ids.Generator, in ProductInput) (pos.Product, error) {
	if err := validate.Struct(in); err != nil {
		return pos.Product{}, fmt.Errorf("catalog: add product: %w", err)
	}

	p := pos.Product{
		ID:         gen.NewID("prod"),
		Name:       in.Name,
		Price:      in.Price,
		CategoryID: in.CategoryID,
		SKU:        in.SKU,
		ImageURL:   in.ImageURL,
		Stock:      in.Stock,
	}
	if p.ImageURL == "" {
		p.ImageURL = fmt.Sprintf("https://picsum.photos/seed/%s/400/400", p.SKU)
	}

	err := doc.Transact(ctx, func(tx *replica.Txn) error {
		_, ok, err := tx.Collection(pos.CollectionCategories).Get(ctx, p.CategoryID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownCategory, p.CategoryID)
		}

		products, err := tx.Collection(pos.CollectionProducts).Records(ctx)
		if err != nil {
			return err
		}
		for _, rec := range products {
			if sku, _ := rec.Fields.String(pos.FieldSKU); sku == p.SKU {
				return fmt.Errorf("%w: %s", ErrDuplicateSKU, p.SKU)
			}
		}
		return tx.Collection(pos.CollectionProducts).Append(ctx, p.Record())
	})
	if err != nil {
		return pos.Product{}, fmt.Errorf("catalog: add product: %w", err)
	}
	return p, nil
}
