package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"negative int64", int64(-100), "-100"},
		{"bool", true, "true"},
		{"null", nil, "null"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"value string", String("x"), `"x"`},
		{"value bigint", NewBigInt(1 << 40), `"1099511627776"`},
		{"value bytes", Bytes{0xde, 0xad}, `"0xdead"`},
		{"value list", List{Int(1), Int(2)}, "[1,2]"},
		{"no html escape", "<a&b>", `"<a&b>"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := map[string]any{
		"zebra": 1,
		"alpha": 2,
		"beta":  map[string]any{"b": 1, "a": 2},
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":{"a":2,"b":1},"zebra":1}`, string(result))
}

func TestMarshalCanonicalRejectsFloats(t *testing.T) {
	_, err := MarshalCanonical(1.5)
	assert.Error(t, err)

	_, err = MarshalCanonical(json.Number("1.5"))
	assert.Error(t, err)

	_, err = CanonicalizeJSON([]byte(`{"a": 1e3}`))
	assert.Error(t, err)
}

func TestMarshalCanonicalNFC(t *testing.T) {
	// "e" + combining acute accent normalizes to the precomposed form.
	decomposed, err := MarshalCanonical("e\u0301")
	require.NoError(t, err)
	composed, err := MarshalCanonical("\u00e9")
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	result, err := MarshalCanonical("a\u2028b\u2029c")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(result))

	// A literal backslash followed by the text u2028 stays escaped.
	result, err = MarshalCanonical(`a\u2028`)
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028"`, string(result))
}

func TestCanonicalizeJSONStable(t *testing.T) {
	a, err := CanonicalizeJSON([]byte(`{"b": [1, 2], "a": "x"}`))
	require.NoError(t, err)
	b, err := CanonicalizeJSON([]byte(`{"a":"x","b":[1,2]}`))
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, `{"a":"x","b":[1,2]}`, string(a))
}
