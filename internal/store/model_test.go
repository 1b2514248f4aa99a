package store

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entitystore/internal/ir"
	"github.com/roach88/entitystore/internal/queryir"
)

// tokenState is what the model expects a live Token to hold.
type tokenState struct {
	owner  string
	amount *big.Int
}

// historyModel tracks the expected entity state after every applied block.
type historyModel struct {
	blocks    []int64
	snapshots map[int64]map[string]tokenState
}

func newHistoryModel() *historyModel {
	return &historyModel{snapshots: map[int64]map[string]tokenState{}}
}

func (m *historyModel) head() (int64, bool) {
	if len(m.blocks) == 0 {
		return 0, false
	}
	return m.blocks[len(m.blocks)-1], true
}

// at returns the state visible at block, the snapshot of the latest
// applied block not after it.
func (m *historyModel) at(block int64) map[string]tokenState {
	for i := len(m.blocks) - 1; i >= 0; i-- {
		if m.blocks[i] <= block {
			return m.snapshots[m.blocks[i]]
		}
	}
	return map[string]tokenState{}
}

func (m *historyModel) apply(block int64, sets map[string]tokenState, removes []string) {
	next := map[string]tokenState{}
	if head, ok := m.head(); ok {
		for id, st := range m.snapshots[head] {
			next[id] = st
		}
	}
	for id, st := range sets {
		next[id] = st
	}
	for _, id := range removes {
		delete(next, id)
	}
	m.blocks = append(m.blocks, block)
	m.snapshots[block] = next
}

func (m *historyModel) revert(block int64) {
	for len(m.blocks) > 0 && m.blocks[len(m.blocks)-1] > block {
		delete(m.snapshots, m.blocks[len(m.blocks)-1])
		m.blocks = m.blocks[:len(m.blocks)-1]
	}
}

var (
	modelIDs    = []string{"A1", "A2", "A3", "A4", "A5"}
	modelOwners = []string{"x", "y", "z"}
	wideBase, _ = new(big.Int).SetString("100000000000000000000", 10)
)

func randomAmount(r *rand.Rand) *big.Int {
	n := big.NewInt(r.Int63n(1000))
	if r.Intn(3) == 0 {
		return n.Add(n, wideBase)
	}
	return n
}

func TestApply_RandomHistoriesMatchModel(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			r := rand.New(rand.NewSource(seed))
			s := createTestStore(t)
			id := createTestDeployment(t, s)
			model := newHistoryModel()

			var block int64
			for step := 0; step < 40; step++ {
				head, hasHead := model.head()
				if hasHead && r.Intn(5) == 0 {
					target := r.Int63n(head + 1)
					require.NoError(t, s.RevertTo(context.Background(), id, target))
					model.revert(target)
					block = target
				} else {
					block += 1 + r.Int63n(3)
					var ops []ir.EntityOperation
					sets := map[string]tokenState{}
					var removes []string
					for _, tokenID := range modelIDs {
						switch r.Intn(4) {
						case 0:
							st := tokenState{owner: modelOwners[r.Intn(len(modelOwners))], amount: randomAmount(r)}
							sets[tokenID] = st
							ops = append(ops, ir.Set("Token", tokenID, ir.Entity{
								"owner":  ir.String(st.owner),
								"amount": ir.NewBigIntFromBig(st.amount),
							}))
						case 1:
							removes = append(removes, tokenID)
							ops = append(ops, ir.Remove("Token", tokenID))
						}
					}
					apply(t, s, id, block, ops...)
					model.apply(block, sets, removes)
				}
				assertMatchesModel(t, s, id, model)
			}
		})
	}
}

func assertMatchesModel(t *testing.T, s *Store, id string, model *historyModel) {
	t.Helper()
	ctx := context.Background()

	violations, err := s.Check(ctx, id)
	require.NoError(t, err)
	require.Empty(t, violations)

	head, ok := model.head()
	if !ok {
		return
	}
	for block := int64(0); block <= head; block++ {
		want := model.at(block)
		for _, tokenID := range modelIDs {
			e, found := get(t, s, id, "Token", tokenID, at(block))
			st, exists := want[tokenID]
			require.Equal(t, exists, found, "%s at block %d", tokenID, block)
			if !exists {
				continue
			}
			assert.Equal(t, ir.String(st.owner), e["owner"], "%s at block %d", tokenID, block)
			assert.True(t, ir.Equal(ir.NewBigIntFromBig(st.amount), e["amount"]),
				"%s at block %d: amount %v, want %s", tokenID, block, e["amount"], st.amount)
		}
	}

	for _, tokenID := range modelIDs {
		history, err := s.History(ctx, id, "Token", tokenID)
		require.NoError(t, err)
		open := 0
		for _, v := range history {
			if v.ValidTo == nil {
				open++
			}
		}
		assert.LessOrEqual(t, open, 1, "%s has at most one open version", tokenID)
	}

	live := model.at(head)
	wantOrder := make([]string, 0, len(live))
	for tokenID := range live {
		wantOrder = append(wantOrder, tokenID)
	}
	slices.SortFunc(wantOrder, func(a, b string) int {
		if c := live[b].amount.Cmp(live[a].amount); c != 0 {
			return c
		}
		if a < b {
			return -1
		}
		return 1
	})
	entities, err := s.Query(ctx, id, queryir.EntityQuery{
		EntityType: "Token",
		OrderBy:    []queryir.Order{{Field: "amount", Descending: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, wantOrder, ids(entities), "head ordered by amount")
}
