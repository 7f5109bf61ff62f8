package types

import (
	"math/big"
	"testing"
)

func TestParseTokenAmount(t *testing.T) {
	tests := []struct {
		in       string
		decimals int
		want     string
		wantErr  bool
	}{
		{"100", 9, "100000000000", false},
		{"1.5", 9, "1500000000", false},
		{"0.000000001", 9, "1", false},
		{".25", 2, "25", false},
		{"7", 0, "7", false},
		{"0.0000000001", 9, "", true},
		{"-1", 9, "", true},
		{"abc", 9, "", true},
		{"", 9, "", true},
	}

	for _, tt := range tests {
		got, err := ParseTokenAmount(tt.in, tt.decimals)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseTokenAmount(%q) expected error, got %s", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTokenAmount(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ParseTokenAmount(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestFormatTokenAmount(t *testing.T) {
	tests := []struct {
		in       *big.Int
		decimals int
		want     string
	}{
		{big.NewInt(100000000000), 9, "100"},
		{big.NewInt(1500000000), 9, "1.5"},
		{big.NewInt(1), 9, "0.000000001"},
		{big.NewInt(4999968000), 9, "4.999968"},
		{big.NewInt(-2500), 3, "-2.5"},
		{big.NewInt(42), 0, "42"},
		{nil, 9, "0"},
	}

	for _, tt := range tests {
		if got := FormatTokenAmount(tt.in, tt.decimals); got != tt.want {
			t.Errorf("FormatTokenAmount(%v, %d) = %s, want %s", tt.in, tt.decimals, got, tt.want)
		}
	}
}

func TestTokenUnit(t *testing.T) {
	if TokenUnit(9).String() != "1000000000" {
		t.Errorf("unexpected unit: %s", TokenUnit(9))
	}
}
