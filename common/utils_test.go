package common

import "testing"

func TestCoalesce(t *testing.T) {
	if got := Coalesce(0, 0, 3, 4); got != 3 {
		t.Errorf("Coalesce(0, 0, 3, 4) = %d, want 3", got)
	}
	if got := Coalesce("", ""); got != "" {
		t.Errorf("Coalesce of empty strings = %q, want empty", got)
	}
}

func TestDivCeil(t *testing.T) {
	tests := []struct {
		n, d, want uint32
	}{
		{0, 32, 0},
		{1, 32, 1},
		{32, 32, 1},
		{33, 32, 2},
		{100, 32, 4},
	}
	for _, tt := range tests {
		if got := DivCeil(tt.n, tt.d); got != tt.want {
			t.Errorf("DivCeil(%d, %d) = %d, want %d", tt.n, tt.d, got, tt.want)
		}
	}
}

func TestPowerOfTwoHelpers(t *testing.T) {
	tests := []struct {
		v                      uint32
		prev, log2Floor, log2C uint32
	}{
		{0, 0, 0, 0},
		{1, 1, 0, 0},
		{2, 2, 1, 1},
		{3, 2, 1, 2},
		{1080, 1024, 10, 11},
		{1920, 1024, 10, 11},
		{2048, 2048, 11, 11},
	}
	for _, tt := range tests {
		if got := PrevPowerOfTwo(tt.v); got != tt.prev {
			t.Errorf("PrevPowerOfTwo(%d) = %d, want %d", tt.v, got, tt.prev)
		}
		if got := Log2Floor(tt.v); got != tt.log2Floor {
			t.Errorf("Log2Floor(%d) = %d, want %d", tt.v, got, tt.log2Floor)
		}
		if got := Log2Ceil(tt.v); got != tt.log2C {
			t.Errorf("Log2Ceil(%d) = %d, want %d", tt.v, got, tt.log2C)
		}
	}
}
