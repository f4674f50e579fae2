package extract

import "testing"

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"$49.99", 49.99, true},
		{"  $1,299.00 ", 1299, true},
		{"€56.00", 56, true},
		{"49,99 €", 4999, true}, // comma is a thousands separator, not a decimal
		{"70", 70, true},
		{"Was $70.00", 70, true},
		{"", 0, false},
		{"Sold Out", 0, false},
	}
	for _, tc := range cases {
		got := ParsePrice(tc.in)
		if !tc.ok {
			if got != nil {
				t.Errorf("ParsePrice(%q) = %v, want nil", tc.in, *got)
			}
			continue
		}
		if got == nil {
			t.Errorf("ParsePrice(%q) = nil, want %v", tc.in, tc.want)
			continue
		}
		if *got != tc.want {
			t.Errorf("ParsePrice(%q) = %v, want %v", tc.in, *got, tc.want)
		}
	}
}
