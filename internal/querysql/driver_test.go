package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareNumeric(t *testing.T) {
	testCases := []struct {
		a, b string
		want int
	}{
		{"100000000000000000001", "100000000000000000000", 1},
		{"100000000000000000000", "100000000000000000001", -1},
		{"9", "10", -1},
		{"-5", "3", -1},
		{"1.50", "1.5", 0},
		{"0.1", "0.10000000000000000001", -1},
		{"12", "abc", -1},
		{"abc", "12", 1},
		{"abc", "abd", -1},
	}

	for _, tc := range testCases {
		t.Run(tc.a+"_"+tc.b, func(t *testing.T) {
			assert.Equal(t, tc.want, CompareNumeric(tc.a, tc.b))
		})
	}
}
