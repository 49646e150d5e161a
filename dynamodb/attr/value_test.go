package attr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNumbers(t *testing.T) {
	tests := []struct {
		name  string
		in    any
		float float64
		text  string
	}{
		{"int", -42, -42, "-42"},
		{"int8", int8(-8), -8, "-8"},
		{"int16", int16(300), 300, "300"},
		{"int32", int32(math.MaxInt32), math.MaxInt32, "2147483647"},
		{"int64 beyond float precision", int64(1<<53 + 1), 1 << 53, "9007199254740993"},
		{"uint beyond float precision", uint(1<<53 + 1), 1 << 53, "9007199254740993"},
		{"uint8", uint8(255), 255, "255"},
		{"uint16", uint16(7), 7, "7"},
		{"uint32", uint32(math.MaxUint32), math.MaxUint32, "4294967295"},
		{"uint64 max", uint64(math.MaxUint64), math.MaxUint64, "18446744073709551615"},
		{"float32 shortest form", float32(0.1), float64(float32(0.1)), "0.1"},
		{"float64", 1500.25, 1500.25, "1500.25"},
		{"float64 integral", 2e21, 2e21, "2000000000000000000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := Float(tt.in)
			assert.True(t, ok)
			assert.Equal(t, tt.float, f)

			s, ok := FormatNumber(tt.in)
			assert.True(t, ok)
			assert.Equal(t, tt.text, s)
		})
	}

	for _, v := range []any{"1", true, nil, []int{1}} {
		_, ok := Float(v)
		assert.False(t, ok, "%v", v)
		_, ok = FormatNumber(v)
		assert.False(t, ok, "%v", v)
	}
}
