package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rpggio/shopbrain/internal/domain/catalog"
	"github.com/rpggio/shopbrain/internal/repository"
	"github.com/rpggio/shopbrain/internal/sqlite"
	"github.com/rpggio/shopbrain/internal/transport"
)

var (
	apiKeyUser        string
	apiKeyDescription string
)

// seedProduct is the YAML form of a catalog entry. Variations are nested
// under their parent.
type seedProduct struct {
	ID           int64             `yaml:"id"`
	Type         string            `yaml:"type"`
	Name         string            `yaml:"name"`
	SKU          string            `yaml:"sku"`
	Status       string            `yaml:"status"`
	RegularPrice string            `yaml:"regular_price"`
	SalePrice    string            `yaml:"sale_price"`
	Stock        *int              `yaml:"stock"`
	StockStatus  string            `yaml:"stock_status"`
	ThumbURL     string            `yaml:"thumb_url"`
	Categories   []string          `yaml:"categories"`
	Attributes   map[string]string `yaml:"attributes"`
	Variations   []seedProduct     `yaml:"variations"`
}

type seedFile struct {
	Products []seedProduct `yaml:"products"`
}

var seedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Load products from a YAML file into the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		products, err := parseSeed(f)
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		created, skipped, err := seedProducts(cmd.Context(), sqlite.NewProductRepository(db), products)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d products created, %d already present\n", created, skipped)
		return nil
	},
}

var apiKeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
}

var apiKeyAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create an API key for a user and print it",
	RunE: func(cmd *cobra.Command, args []string) error {
		if apiKeyUser == "" {
			return errors.New("--user is required")
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		key := "sb_" + uuid.NewString()
		if err := sqlite.NewAPIKeyRepository(db).Create(cmd.Context(), transport.HashToken(key), apiKeyUser, apiKeyDescription); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

func init() {
	apiKeyAddCmd.Flags().StringVar(&apiKeyUser, "user", "", "user id owning the key")
	apiKeyAddCmd.Flags().StringVar(&apiKeyDescription, "description", "brainctl", "key description")
	apiKeyCmd.AddCommand(apiKeyAddCmd)

	rootCmd.AddCommand(seedCmd, apiKeyCmd)
}

func openDB() (*sqlite.DB, error) {
	db, err := sqlite.New(dbPath)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// parseSeed flattens the YAML tree into parents followed by their variations.
func parseSeed(r io.Reader) ([]*catalog.Product, error) {
	var file seedFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	var out []*catalog.Product
	for _, sp := range file.Products {
		parent := sp.product(0)
		if len(sp.Variations) > 0 {
			parent.Type = catalog.TypeVariable
		}
		out = append(out, parent)
		for _, sv := range sp.Variations {
			v := sv.product(parent.ID)
			v.Type = catalog.TypeVariation
			if v.Name == "" {
				v.Name = parent.Name
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func (sp seedProduct) product(parentID int64) *catalog.Product {
	typ := catalog.ProductType(sp.Type)
	if typ == "" {
		typ = catalog.TypeSimple
	}
	return &catalog.Product{
		ID:            sp.ID,
		ParentID:      parentID,
		Type:          typ,
		Name:          sp.Name,
		SKU:           sp.SKU,
		Status:        sp.Status,
		RegularPrice:  sp.RegularPrice,
		SalePrice:     sp.SalePrice,
		StockQuantity: sp.Stock,
		StockStatus:   sp.StockStatus,
		ManageStock:   sp.Stock != nil,
		ThumbURL:      sp.ThumbURL,
		Categories:    sp.Categories,
		Attributes:    sp.Attributes,
	}
}

type productCreator interface {
	Create(ctx context.Context, p *catalog.Product) error
}

// seedProducts inserts products, skipping ids that already exist.
func seedProducts(ctx context.Context, repo productCreator, products []*catalog.Product) (created, skipped int, err error) {
	for _, p := range products {
		if err := repo.Create(ctx, p); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				skipped++
				continue
			}
			return created, skipped, fmt.Errorf("product %d: %w", p.ID, err)
		}
		created++
	}
	return created, skipped, nil
}
