package jsonutil

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"nil", nil, ""},
		{"string", "123456", "123456"},
		{"integral float keeps id form", float64(312345678901234), "312345678901234"},
		{"fractional float", 0.45, "0.45"},
		{"int", 7, "7"},
		{"json number", json.Number("42"), "42"},
		{"bool", true, "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, String(tt.input))
		})
	}
}

func TestFloat(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   float64
		wantOK bool
	}{
		{"float", 1.25, 1.25, true},
		{"int", 3, 3, true},
		{"numeric string", "0.75", 0.75, true},
		{"currency string", "$0.50", 0.5, true},
		{"empty string", "", 0, false},
		{"garbage string", "n/a", 0, false},
		{"nil", nil, 0, false},
		{"object", map[string]any{"value": 1.0}, 0, false},
		{"NaN float", math.NaN(), 0, false},
		{"infinite float", math.Inf(1), 0, false},
		{"NaN string", "NaN", 0, false},
		{"infinite string", "-Inf", 0, false},
		{"overflowing string", "1e999", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Float(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestIntAndBoolHelpers(t *testing.T) {
	assert.Equal(t, 20, IntOr(20.0, 0))
	assert.Equal(t, 5, IntOr("x", 5))
	assert.InDelta(t, 1.5, FloatOr(nil, 1.5), 1e-9)

	b, ok := Bool("true")
	assert.True(t, ok)
	assert.True(t, b)
	_, ok = Bool(1.0)
	assert.False(t, ok)
}
