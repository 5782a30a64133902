// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package relay

import "testing"

func TestParseIntOrDefault(t *testing.T) {
	tests := []struct {
		in   string
		def  int
		want int
	}{
		{"0", 9, 0},
		{"1", 9, 1},
		{"  1", 9, 1},
		{"\n-1", 9, -1},
		{"+1", 9, 1},
		{"1abc", 9, 1},
		{"1.9", 9, 1},
		{"007", 9, 7},
		{"", 9, 9},
		{"NaN", 9, 9},
		{"-", 9, 9},
		{"abc1", 9, 9},
		{"99999999999", 9, 9},
	}
	for _, tt := range tests {
		if got := ParseIntOrDefault(tt.in, tt.def); got != tt.want {
			t.Errorf("ParseIntOrDefault(%q, %d) = %d, want %d", tt.in, tt.def, got, tt.want)
		}
	}
}

func TestDecodeSettings(t *testing.T) {
	s, err := DecodeSettings(` {"invert":"1","extra":true} `)
	if err != nil {
		t.Fatalf("DecodeSettings: %v", err)
	}
	if s.Invert != 1 {
		t.Errorf("Invert = %d, want 1", s.Invert)
	}

	s, err = DecodeSettings(`{"invert":-0.5}`)
	if err != nil {
		t.Fatalf("DecodeSettings: %v", err)
	}
	if s.Invert != 0 {
		t.Errorf("Invert = %d, want 0", s.Invert)
	}

	s, err = DecodeSettings(`{"invert":1e12}`)
	if err != nil {
		t.Fatalf("DecodeSettings: %v", err)
	}
	if s.Invert != 0 {
		t.Errorf("Invert = %d, want 0 for out-of-range number", s.Invert)
	}
}
