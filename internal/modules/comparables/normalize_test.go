package comparables

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"iPad Pro 11-inch (2021)!!", "ipad pro 11 inch 2021"},
		{"ipad pro 11 inch 2021", "ipad pro 11 inch 2021"},
		{"  Nikon   D750 -- Body only ", "nikon d750 body only"},
		{"", ""},
		{"!!!", ""},
		{"Sony α7 III", "sony α7 iii"},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.expected, NormalizeTitle(tc.input))
		})
	}
}

func TestNormalizeTitle_SameBucket(t *testing.T) {
	a := NewKey("tablets", "iPad Pro 11-inch (2021)!!")
	b := NewKey("tablets", "ipad pro 11 inch 2021")
	assert.Equal(t, a, b)
}

func TestNormalizeTitle_Idempotent(t *testing.T) {
	for _, in := range []string{"iPad Pro 11-inch (2021)!!", "A--B__C", "MiXeD CaSe"} {
		once := NormalizeTitle(in)
		assert.Equal(t, once, NormalizeTitle(once))
	}
}
