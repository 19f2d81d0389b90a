package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

// catalogFile: формат YAML-файла каталога. Цены строками, чтобы не терять точность.
type catalogFile struct {
	Products []catalogProduct `yaml:"products"`
}

type catalogProduct struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Category      string   `yaml:"category"`
	Price         string   `yaml:"price"`
	OriginalPrice string   `yaml:"originalPrice"`
	Image         string   `yaml:"image"`
	Images        []string `yaml:"images"`
	Description   string   `yaml:"description"`
	Colors        []string `yaml:"colors"`
	Sizes         []string `yaml:"sizes"`
	Rating        float64  `yaml:"rating"`
	Reviews       int      `yaml:"reviews"`
	IsNew         bool     `yaml:"isNew"`
	IsSale        bool     `yaml:"isSale"`
	IsLimited     bool     `yaml:"isLimited"`
	Hidden        bool     `yaml:"hidden"`
	Stock         int      `yaml:"stock"`
}

type productUpserter interface {
	Upsert(ctx context.Context, products []domain.Product) (int, error)
}

func newSeedCmd(v *viper.Viper) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert catalog products from a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read catalog: %w", err)
			}
			products, err := parseCatalog(raw)
			if err != nil {
				return err
			}
			return withStore(cmd, v, func(ctx context.Context, store *postgres.Store) error {
				return runSeed(ctx, cmd.OutOrStdout(), postgres.NewProductRepository(store), products)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "products.yaml", "catalog YAML file")
	return cmd
}

func parseCatalog(raw []byte) ([]domain.Product, error) {
	var catalog catalogFile
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(catalog.Products) == 0 {
		return nil, errors.New("catalog has no products")
	}

	products := make([]domain.Product, 0, len(catalog.Products))
	seen := make(map[string]struct{}, len(catalog.Products))
	for i, p := range catalog.Products {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, fmt.Errorf("product #%d: id is required", i+1)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("product %s: duplicate id", id)
		}
		seen[id] = struct{}{}

		price, err := decimal.NewFromString(strings.TrimSpace(p.Price))
		if err != nil || price.IsNegative() {
			return nil, fmt.Errorf("product %s: invalid price %q", id, p.Price)
		}
		var original decimal.NullDecimal
		if s := strings.TrimSpace(p.OriginalPrice); s != "" {
			d, err := decimal.NewFromString(s)
			if err != nil {
				return nil, fmt.Errorf("product %s: invalid originalPrice %q", id, p.OriginalPrice)
			}
			original = decimal.NewNullDecimal(d)
		}
		if p.Stock < 0 {
			return nil, fmt.Errorf("product %s: stock must not be negative", id)
		}

		products = append(products, domain.Product{
			ID:            id,
			Name:          p.Name,
			Category:      p.Category,
			Price:         price,
			OriginalPrice: original,
			Image:         p.Image,
			Images:        p.Images,
			Description:   p.Description,
			Colors:        p.Colors,
			Sizes:         p.Sizes,
			Rating:        p.Rating,
			Reviews:       p.Reviews,
			IsNew:         p.IsNew,
			IsSale:        p.IsSale,
			IsLimited:     p.IsLimited,
			Hidden:        p.Hidden,
			Stock:         p.Stock,
		})
	}
	return products, nil
}

func runSeed(ctx context.Context, out io.Writer, repo productUpserter, products []domain.Product) error {
	n, err := repo.Upsert(ctx, products)
	if err != nil {
		return fmt.Errorf("upsert products: %w", err)
	}
	_, _ = fmt.Fprintf(out, "upserted %d product(s)\n", n)
	return nil
}
