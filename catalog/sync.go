package catalog

import (
	"context"

	"github.com/emberclan/points-engine/engine"
)

// SyncShopItems pushes the catalog's item definitions into the store.
// Existing rows keep their stock; new rows get the catalog's seed value.
func SyncShopItems(ctx context.Context, s engine.Store, c *Catalog) error {
	for _, it := range c.Items {
		item := engine.ShopItem{
			ID:     it.ID,
			Name:   it.Name,
			Cost:   it.Cost,
			Stock:  it.Stock,
			Active: it.Active,
		}
		if err := s.UpsertItem(ctx, item); err != nil {
			return err
		}
	}
	return nil
}
