package cascade

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakekausler/campaign-manager/internal/domain"
)

type fakeShellLookup struct {
	settlementID string
	err          error
}

func (f fakeShellLookup) SettlementForStructure(_ context.Context, _ string) (string, error) {
	return f.settlementID, f.err
}

func TestDispatcherRoutesSettlementChange(t *testing.T) {
	inv, store := newHarness(t)
	ctx := context.Background()
	seed(t, store, "computed-fields:settlement:S1:B1", "structures:settlement:S1:B1")

	d := NewDispatcher(inv, fakeShellLookup{settlementID: "S1"})
	r := d.Invalidate(ctx, domain.EntitySettlement, "S1", "B1")
	assert.True(t, r.OK)
	assert.Equal(t, 2, r.KeysDeleted)
}

func TestDispatcherRoutesStructureChangeViaShellLookup(t *testing.T) {
	inv, store := newHarness(t)
	ctx := context.Background()
	seed(t, store, "computed-fields:structure:X1:B1", "computed-fields:settlement:S1:B1", "structures:settlement:S1:B1")

	d := NewDispatcher(inv, fakeShellLookup{settlementID: "S1"})
	r := d.Invalidate(ctx, domain.EntityStructure, "X1", "B1")
	assert.True(t, r.OK)
	assert.Equal(t, 3, r.KeysDeleted)
}

func TestDispatcherFallsBackOnShellLookupError(t *testing.T) {
	inv, store := newHarness(t)
	ctx := context.Background()
	seed(t, store, "computed-fields:structure:X1:B1")

	d := NewDispatcher(inv, fakeShellLookup{err: errors.New("db down")})
	r := d.Invalidate(ctx, domain.EntityStructure, "X1", "B1")
	assert.True(t, r.OK)
	assert.Equal(t, 1, r.KeysDeleted)
}

func TestDispatcherGenericForOtherEntityTypes(t *testing.T) {
	inv, store := newHarness(t)
	ctx := context.Background()
	seed(t, store, "computed-fields:KINGDOM:K1:B1")

	d := NewDispatcher(inv, fakeShellLookup{})
	r := d.Invalidate(ctx, domain.EntityKingdom, "K1", "B1")
	assert.True(t, r.OK)
	assert.Equal(t, 1, r.KeysDeleted)

	var out int
	require.False(t, store.Get(ctx, "computed-fields:KINGDOM:K1:B1", &out))
}
