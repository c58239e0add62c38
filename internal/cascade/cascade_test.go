package cascade

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakekausler/campaign-manager/internal/cachestore"
)

func newHarness(t *testing.T) (*Invalidator, *cachestore.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := cachestore.New(cachestore.Config{Client: client, KeyPrefix: "cache", DefaultTTL: time.Minute, StatsEnabled: true})
	t.Cleanup(store.Close)
	return New(store), store
}

func seed(t *testing.T, store *cachestore.Store, keys ...string) {
	t.Helper()
	ctx := context.Background()
	for _, k := range keys {
		store.Set(ctx, k, 1, 0)
	}
}

func TestSettlementChangedOverInvalidatesAllStructuresInBranch(t *testing.T) {
	inv, store := newHarness(t)
	ctx := context.Background()
	seed(t, store,
		"computed-fields:settlement:S1:B1",
		"structures:settlement:S1:B1",
		"computed-fields:structure:X1:B1",
		"computed-fields:structure:X2:B1", // belongs to a *different* settlement
		"spatial:settlements-in-region:R1:B1",
		"computed-fields:structure:X1:B2", // different branch, must survive
	)

	r := inv.SettlementChanged(ctx, "S1", "B1")
	assert.True(t, r.OK)
	assert.Equal(t, 5, r.KeysDeleted)

	var out int
	assert.False(t, store.Get(ctx, "computed-fields:structure:X2:B1", &out), "over-invalidation is intentional per spec open question 1")
	assert.True(t, store.Get(ctx, "computed-fields:structure:X1:B2", &out))
}

func TestStructureChangedDoesNotTouchSpatial(t *testing.T) {
	inv, store := newHarness(t)
	ctx := context.Background()
	seed(t, store,
		"computed-fields:structure:X1:B1",
		"computed-fields:settlement:S1:B1",
		"structures:settlement:S1:B1",
		"spatial:settlements-in-region:R1:B1",
	)

	r := inv.StructureChanged(ctx, "X1", "S1", "B1")
	assert.True(t, r.OK)
	assert.Equal(t, 3, r.KeysDeleted)

	var out int
	assert.True(t, store.Get(ctx, "spatial:settlements-in-region:R1:B1", &out))
}

func TestComputedFieldDefinitionsChangedClearsWholeBranch(t *testing.T) {
	inv, store := newHarness(t)
	ctx := context.Background()
	seed(t, store,
		"computed-fields:settlement:S1:B1",
		"computed-fields:settlement:S2:B1",
		"computed-fields:structure:X1:B1",
	)

	r := inv.ComputedFieldDefinitionsChanged(ctx, "B1")
	assert.True(t, r.OK)
	assert.Equal(t, 3, r.KeysDeleted)
}

func TestBranchDeletedClearsEverythingForThatBranch(t *testing.T) {
	inv, store := newHarness(t)
	ctx := context.Background()
	seed(t, store,
		"computed-fields:settlement:S1:B1",
		"structures:settlement:S1:B1",
		"spatial:settlements-in-region:R1:B1",
		"computed-fields:settlement:S1:B2",
	)

	r := inv.BranchDeleted(ctx, "B1")
	assert.True(t, r.OK)
	assert.Equal(t, 3, r.KeysDeleted)

	var out int
	assert.True(t, store.Get(ctx, "computed-fields:settlement:S1:B2", &out))
}
