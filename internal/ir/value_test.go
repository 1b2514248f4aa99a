package ir

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqual(t *testing.T) {
	d1, err := ParseBigDecimal("1.50")
	require.NoError(t, err)
	d2, err := ParseBigDecimal("1.5")
	require.NoError(t, err)

	assert.True(t, Equal(nil, Null{}))
	assert.True(t, Equal(String("a"), String("a")))
	assert.False(t, Equal(String("1"), Int(1)))
	assert.True(t, Equal(NewBigInt(7), NewBigIntFromBig(big.NewInt(7))))
	assert.True(t, Equal(d1, d2), "decimals compare numerically")
	assert.True(t, Equal(Bytes{1, 2}, Bytes{1, 2}))
	assert.False(t, Equal(List{Int(1)}, List{Int(1), Int(2)}))
	assert.False(t, Equal(Bool(true), Null{}))
}

func TestFromAny(t *testing.T) {
	huge, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.True(t, ok)

	tests := []struct {
		name     string
		input    any
		expected Value
	}{
		{"nil", nil, Null{}},
		{"string", "x", String("x")},
		{"small int", 5, Int(5)},
		{"int64 beyond int32", int64(1) << 40, NewBigInt(1 << 40)},
		{"whole float", float64(3), Int(3)},
		{"json bigint", json.Number("123456789012345678901234567890"), NewBigIntFromBig(huge)},
		{"list", []any{"a", true}, List{String("a"), Bool(true)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromAny(tt.input)
			require.NoError(t, err)
			assert.True(t, Equal(tt.expected, got), "got %s", Describe(got))
		})
	}

	got, err := FromAny(2.25)
	require.NoError(t, err)
	assert.Equal(t, "2.25", got.(BigDecimal).String())

	_, err = FromAny(struct{}{})
	assert.Error(t, err)
}

func TestParseBytes(t *testing.T) {
	b, err := ParseBytes("0xabc")
	require.NoError(t, err)
	assert.Equal(t, "0x0abc", b.String())

	_, err = ParseBytes("0xzz")
	assert.Error(t, err)
}

func TestEntityMergeAndEqual(t *testing.T) {
	current := Entity{"id": String("A1"), "owner": String("x"), "amount": Int(3)}

	merged := current.Merge(Entity{"owner": String("y"), "amount": Null{}})
	assert.Equal(t, String("y"), merged["owner"])
	assert.True(t, IsNull(merged["amount"]))
	assert.Equal(t, String("x"), current["owner"], "merge must not modify the receiver")

	assert.True(t, Entity{"id": String("A1")}.Equal(Entity{"id": String("A1"), "note": Null{}}))
	assert.False(t, current.Equal(merged))
	assert.Equal(t, "A1", merged.ID())
}

func TestEntityMarshalJSON(t *testing.T) {
	e := Entity{
		"owner":  String("x"),
		"id":     String("A1"),
		"amount": NewBigInt(10),
		"gone":   Null{},
	}

	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Equal(t, `{"amount":"10","gone":null,"id":"A1","owner":"x"}`, string(data))
}

func TestOperations(t *testing.T) {
	set := Set("Token", "A1", Entity{"owner": String("x")})
	assert.Equal(t, OpSet, set.Kind)
	assert.Equal(t, "Token[A1]", set.Key().String())

	rm := Remove("Token", "A1")
	assert.Equal(t, OpRemove, rm.Kind)
	assert.Equal(t, set.Key(), rm.Key())
	assert.Equal(t, "remove", rm.Kind.String())
}
