package payment

import (
	"math/big"
	"testing"
)

func TestFormatTokenAmount(t *testing.T) {
	tests := []struct {
		in   *big.Int
		want string
	}{
		{nil, "0.0000"},
		{big.NewInt(0), "0.0000"},
		{tokens(1000), "1000.0000"},
		{new(big.Int).Add(tokens(1), new(big.Int).Div(decimalsFactor, big.NewInt(2))), "1.5000"},
		{big.NewInt(1), "0.0000"},
		{new(big.Int).Neg(tokens(2)), "-2.0000"},
	}
	for _, tt := range tests {
		if got := FormatTokenAmount(tt.in); got != tt.want {
			t.Errorf("FormatTokenAmount(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseTokenAmount(t *testing.T) {
	half := new(big.Int).Div(decimalsFactor, big.NewInt(2))
	tests := []struct {
		in      string
		want    *big.Int
		wantErr bool
	}{
		{"100", tokens(100), false},
		{"1.5", new(big.Int).Add(tokens(1), half), false},
		{".5", half, false},
		{"0.000000000000000001", big.NewInt(1), false},
		{" 7 ", tokens(7), false},
		{"", nil, true},
		{"-1", nil, true},
		{"1.0000000000000000001", nil, true},
		{"abc", nil, true},
		{"1.x", nil, true},
		{"1.+5", nil, true},
		{"+1", nil, true},
		{"1.-5", nil, true},
		{".", nil, true},
		{"1 .5", nil, true},
		{"1.", tokens(1), false},
	}
	for _, tt := range tests {
		got, err := ParseTokenAmount(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseTokenAmount(%q) expected error, got %s", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTokenAmount(%q): %v", tt.in, err)
			continue
		}
		if got.Cmp(tt.want) != 0 {
			t.Errorf("ParseTokenAmount(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
