package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/beslagsboden/dialog-engine/internal/catalog"
)

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <products.json>",
		Short: "Load a product file into the catalog",
		Long:  "Reads a JSON array of products (id, name, summary, aliases, article_numbers, eans, specs, compatibility) and upserts them into the catalog store.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read product file: %w", err)
			}

			var products []catalog.Product
			if err := json.Unmarshal(data, &products); err != nil {
				return fmt.Errorf("parse product file: %w", err)
			}

			store, err := catalog.Open(cfg.Catalog.Path, logger)
			if err != nil {
				return fmt.Errorf("open catalog: %w", err)
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			for _, p := range products {
				if err := store.AddProduct(ctx, p); err != nil {
					return fmt.Errorf("add product %s: %w", p.ID, err)
				}
			}

			color.New(color.FgGreen).Printf("Laddade %d produkter till %s\n", len(products), cfg.Catalog.Path)
			return nil
		},
	}
}
