package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entitystore/internal/ir"
	"github.com/roach88/entitystore/internal/layout"
	"github.com/roach88/entitystore/internal/queryir"
)

// TestTokenLifecycle walks one token through ownership changes, a revert
// and a removal, checking every window along the way.
func TestTokenLifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := createTestDeployment(t, s)

	apply(t, s, id, 10, setOwner("A1", "x"))
	apply(t, s, id, 20, setOwner("A1", "y"))

	e, ok := get(t, s, id, "Token", "A1", at(15))
	require.True(t, ok)
	assert.Equal(t, ir.String("x"), e["owner"])

	e, ok = get(t, s, id, "Token", "A1", nil)
	require.True(t, ok)
	assert.Equal(t, ir.String("y"), e["owner"])
	assert.Equal(t, ir.String("A1"), e["id"])
	assert.True(t, ir.IsNull(e["amount"]), "unset fields read as null")

	_, ok = get(t, s, id, "Token", "A1", at(9))
	assert.False(t, ok, "no version before block 10")

	require.NoError(t, s.RevertTo(ctx, id, 12))

	e, ok = get(t, s, id, "Token", "A1", nil)
	require.True(t, ok)
	assert.Equal(t, ir.String("x"), e["owner"])

	history, err := s.History(ctx, id, "Token", "A1")
	require.NoError(t, err)
	require.Len(t, history, 1, "the block 20 version is gone")
	assert.Equal(t, int64(10), history[0].ValidFrom)
	assert.Nil(t, history[0].ValidTo)

	apply(t, s, id, 20, setOwner("A1", "y"))
	apply(t, s, id, 25, ir.Remove("Token", "A1"))

	_, ok = get(t, s, id, "Token", "A1", nil)
	assert.False(t, ok, "removed at head")

	for _, block := range []int64{20, 24} {
		e, ok = get(t, s, id, "Token", "A1", at(block))
		require.True(t, ok, "visible at %d", block)
		assert.Equal(t, ir.String("y"), e["owner"])
	}
	_, ok = get(t, s, id, "Token", "A1", at(25))
	assert.False(t, ok)

	history, err = s.History(ctx, id, "Token", "A1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(10), history[0].ValidFrom)
	assert.Equal(t, at(19), history[0].ValidTo)
	assert.Equal(t, int64(20), history[1].ValidFrom)
	assert.Equal(t, at(24), history[1].ValidTo)

	violations, err := s.Check(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestApply_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := createTestDeployment(t, s)

	apply(t, s, id, 10, setOwner("A1", "x"), setOwner("A1", "x"))
	apply(t, s, id, 10, setOwner("A1", "x"))
	apply(t, s, id, 11, setOwner("A1", "x"))

	history, err := s.History(ctx, id, "Token", "A1")
	require.NoError(t, err)
	require.Len(t, history, 1, "identical values never create a version")
	assert.Equal(t, int64(10), history[0].ValidFrom)

	st, err := s.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(11), st.HeadBlock.Number)
	assert.Equal(t, int64(2), st.BlockCount)
	assert.Equal(t, int64(1), st.EntityCounts["Token"])
}

func TestApply_Merge(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := createTestDeployment(t, s)

	apply(t, s, id, 10, ir.Set("Token", "A1", ir.Entity{"owner": ir.String("x"), "amount": ir.NewBigInt(5)}))
	apply(t, s, id, 11, ir.Set("Token", "A1", ir.Entity{"tags": ir.List{ir.String("a"), ir.String("b")}}))

	e, ok := get(t, s, id, "Token", "A1", nil)
	require.True(t, ok)
	assert.Equal(t, ir.String("x"), e["owner"], "kept from the previous version")
	assert.True(t, ir.Equal(ir.NewBigInt(5), e["amount"]))
	assert.True(t, ir.Equal(ir.List{ir.String("a"), ir.String("b")}, e["tags"]))

	// Explicit null clears a field.
	apply(t, s, id, 12, ir.Set("Token", "A1", ir.Entity{"amount": ir.Null{}}))
	e, ok = get(t, s, id, "Token", "A1", nil)
	require.True(t, ok)
	assert.True(t, ir.IsNull(e["amount"]))
	assert.True(t, ir.Equal(ir.List{ir.String("a"), ir.String("b")}, e["tags"]))

	history, err := s.History(ctx, id, "Token", "A1")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestApply_CoalescesOperations(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := createTestDeployment(t, s)

	apply(t, s, id, 10, ir.Set("Token", "A1", ir.Entity{"owner": ir.String("x"), "amount": ir.NewBigInt(1)}))

	// Later Sets win per field; a Remove discards everything before it.
	apply(t, s, id, 11,
		ir.Set("Token", "A1", ir.Entity{"owner": ir.String("y")}),
		ir.Set("Token", "A1", ir.Entity{"owner": ir.String("z")}),
		ir.Set("Token", "B1", ir.Entity{"owner": ir.String("x")}),
		ir.Remove("Token", "B1"),
	)

	history, err := s.History(ctx, id, "Token", "A1")
	require.NoError(t, err)
	require.Len(t, history, 2, "one version per entity per block")
	assert.Equal(t, ir.String("z"), history[1].Entity["owner"])
	assert.True(t, ir.Equal(ir.NewBigInt(1), history[1].Entity["amount"]))

	_, ok := get(t, s, id, "Token", "B1", nil)
	assert.False(t, ok, "set then removed in one block is never written")
	history, err = s.History(ctx, id, "Token", "B1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestApply_RemoveThenSetReplaces(t *testing.T) {
	s := createTestStore(t)
	id := createTestDeployment(t, s)

	apply(t, s, id, 10, ir.Set("Token", "A1", ir.Entity{"owner": ir.String("x"), "amount": ir.NewBigInt(9)}))
	apply(t, s, id, 11, ir.Remove("Token", "A1"), setOwner("A1", "y"))

	e, ok := get(t, s, id, "Token", "A1", nil)
	require.True(t, ok)
	assert.Equal(t, ir.String("y"), e["owner"])
	assert.True(t, ir.IsNull(e["amount"]), "remove discards the stored version")
}

func TestApply_RemoveMissingIsNoop(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := createTestDeployment(t, s)

	apply(t, s, id, 10, ir.Remove("Token", "ghost"))
	apply(t, s, id, 11, setOwner("A1", "x"))
	apply(t, s, id, 12, ir.Remove("Token", "A1"))
	apply(t, s, id, 13, ir.Remove("Token", "A1"))

	history, err := s.History(ctx, id, "Token", "A1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, at(11), history[0].ValidTo)

	st, err := s.Status(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, st.EntityCounts["Token"])
}

func TestApply_ReopenAfterRemove(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := createTestDeployment(t, s)

	apply(t, s, id, 10, setOwner("A1", "x"))
	apply(t, s, id, 20, ir.Remove("Token", "A1"))
	apply(t, s, id, 30, ir.Set("Token", "A1", ir.Entity{"owner": ir.String("w")}))

	for block, want := range map[int64]string{15: "x", 35: "w"} {
		e, ok := get(t, s, id, "Token", "A1", at(block))
		require.True(t, ok, "visible at %d", block)
		assert.Equal(t, ir.String(want), e["owner"])
	}
	_, ok := get(t, s, id, "Token", "A1", at(25))
	assert.False(t, ok, "gap between removal and re-creation")

	st, err := s.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.EntityCounts["Token"])
}

func TestApply_Coercion(t *testing.T) {
	s := createTestStore(t)
	id := createTestDeployment(t, s)

	apply(t, s, id, 10, ir.Set("Token", "A1", ir.Entity{
		"owner":  ir.String("x"),
		"amount": ir.String("123456789012345678901234567890"),
	}))

	e, ok := get(t, s, id, "Token", "A1", nil)
	require.True(t, ok)
	want, err := ir.ParseBigInt("123456789012345678901234567890")
	require.NoError(t, err)
	assert.True(t, ir.Equal(want, e["amount"]), "got %s", ir.Describe(e["amount"]))
}

func TestApply_OutOfOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := createTestDeployment(t, s)

	apply(t, s, id, 20, setOwner("A1", "x"))

	tests := []struct {
		name  string
		block int64
		ops   []ir.EntityOperation
	}{
		{"same block as open version", 20, []ir.EntityOperation{setOwner("A1", "y")}},
		{"remove at open version start", 20, []ir.EntityOperation{ir.Remove("Token", "A1")}},
		{"below head", 15, []ir.EntityOperation{setOwner("B1", "y")}},
		{"below head without ops", 19, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Apply(ctx, id, testBlock(tt.block), tt.ops)
			require.Error(t, err)
			assert.True(t, IsOutOfOrderBlockError(err), "got %v", err)

			var ooo *OutOfOrderBlockError
			require.True(t, errors.As(err, &ooo))
			assert.Equal(t, ErrCodeOutOfOrderBlock, ooo.Code())
			assert.Equal(t, tt.block, ooo.Block)
		})
	}

	// Monotonicity violations leave the store unchanged.
	history, err := s.History(ctx, id, "Token", "A1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ir.String("x"), history[0].Entity["owner"])

	st, err := s.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(20), st.HeadBlock.Number)
	assert.Equal(t, int64(1), st.BlockCount)
}

func TestApply_BelowStartBlock(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	m := tokenManifest()
	m.StartBlock = 100
	d, err := s.CreateDeployment(ctx, "", m)
	require.NoError(t, err)

	err = s.Apply(ctx, d.ID, testBlock(99), []ir.EntityOperation{setOwner("A1", "x")})
	assert.True(t, IsOutOfOrderBlockError(err), "got %v", err)

	apply(t, s, d.ID, 100, setOwner("A1", "x"))
}

func TestApply_BlockIsAtomic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := createTestDeployment(t, s)

	apply(t, s, id, 40, setOwner("Z9", "w"))

	// B1 is written first, then Z9 fails: nothing of block 40 may remain.
	err := s.Apply(ctx, id, testBlock(40), []ir.EntityOperation{
		setOwner("B1", "q"),
		setOwner("Z9", "v"),
	})
	require.True(t, IsOutOfOrderBlockError(err), "got %v", err)

	_, ok := get(t, s, id, "Token", "B1", nil)
	assert.False(t, ok, "partial block must be rolled back")

	st, err := s.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.EntityCounts["Token"])
	assert.Equal(t, int64(1), st.EntityCount)
}

func TestApply_ValidationErrors(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := createTestDeployment(t, s)

	tests := []struct {
		name  string
		op    ir.EntityOperation
		check func(error) bool
	}{
		{
			name:  "unknown type",
			op:    ir.Set("Missing", "m1", ir.Entity{"name": ir.String("n")}),
			check: layout.IsUnknownTypeError,
		},
		{
			name:  "unknown field",
			op:    ir.Set("Token", "A1", ir.Entity{"owner": ir.String("x"), "color": ir.String("red")}),
			check: layout.IsUnknownFieldError,
		},
		{
			name:  "wrong value kind",
			op:    ir.Set("Token", "A1", ir.Entity{"owner": ir.String("x"), "amount": ir.String("lots")}),
			check: layout.IsInvalidValueError,
		},
		{
			name:  "required field missing",
			op:    ir.Set("Token", "A1", ir.Entity{"amount": ir.NewBigInt(1)}),
			check: layout.IsInvalidValueError,
		},
		{
			name:  "required field cleared",
			op:    ir.Set("Token", "A1", ir.Entity{"owner": ir.Null{}}),
			check: layout.IsInvalidValueError,
		},
		{
			name:  "derived field set",
			op:    ir.Set("Owner", "x", ir.Entity{"tokens": ir.List{ir.String("A1")}}),
			check: layout.IsInvalidValueError,
		},
		{
			name:  "id mismatch",
			op:    ir.Set("Token", "A1", ir.Entity{"id": ir.String("A2"), "owner": ir.String("x")}),
			check: layout.IsInvalidValueError,
		},
		{
			name:  "empty id",
			op:    ir.Set("Token", "", ir.Entity{"owner": ir.String("x")}),
			check: layout.IsInvalidValueError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Apply(ctx, id, testBlock(10), []ir.EntityOperation{tt.op})
			require.Error(t, err)
			assert.True(t, tt.check(err), "got %v", err)
		})
	}

	st, err := s.Status(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, st.HeadBlock, "failed applies must not advance the head")
	assert.Zero(t, st.BlockCount)
}

func TestApply_ConcurrentDeployments(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var ids []string
	for _, network := range []string{"mainnet", "goerli", "sepolia"} {
		m := tokenManifest()
		m.Network = network
		d, err := s.CreateDeployment(ctx, "", m)
		require.NoError(t, err)
		ids = append(ids, d.ID)
	}

	const blocks = 25
	var wg sync.WaitGroup
	errs := make(chan error, len(ids)*2)
	for _, id := range ids {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			for n := int64(1); n <= blocks; n++ {
				op := setOwner("A1", fmt.Sprintf("owner-%d", n))
				if err := s.Apply(ctx, id, testBlock(n), []ir.EntityOperation{op}); err != nil {
					errs <- err
					return
				}
			}
		}(id)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < blocks; i++ {
				if _, err := s.Query(ctx, id, queryir.EntityQuery{EntityType: "Token"}); err != nil {
					errs <- err
					return
				}
			}
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent access failed: %v", err)
	}

	for _, id := range ids {
		history, err := s.History(ctx, id, "Token", "A1")
		require.NoError(t, err)
		assert.Len(t, history, blocks)

		violations, err := s.Check(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, violations)
	}
}
