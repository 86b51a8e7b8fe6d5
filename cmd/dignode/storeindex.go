package main

import (
	"context"

	"github.com/dignetwork/dignode/pkg/digcore"
)

// emptyStoreIndex is the StoreIndex used when no external store
// metadata service is configured. Store content itself is out of
// scope for this engine; it only consults the index.
type emptyStoreIndex struct{}

func (emptyStoreIndex) Get(ctx context.Context, storeID string) (*digcore.StoreEntry, bool, error) {
	return nil, false, nil
}
