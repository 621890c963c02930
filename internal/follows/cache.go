package follows

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
	"github.com/eko/gocache/lib/v4/store"
	ristretto_store "github.com/eko/gocache/store/ristretto/v4"
)

// NewRistrettoStore builds the in-process store backing the profile cache.
func NewRistrettoStore(maxProfiles int64) (store.StoreInterface, error) {
	client, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxProfiles * 10,
		MaxCost:     maxProfiles,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create profile cache: %w", err)
	}
	return ristretto_store.NewRistretto(client), nil
}
