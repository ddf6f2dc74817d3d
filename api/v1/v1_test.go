// Copyright (c) 2023-2024 The FoodPrint developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package v1

import (
	"testing"
)

var logIDTests = []struct {
	in       string
	expected bool
}{
	{"abc123", true},
	{"7b0707fd-5051-4fd0-82f6-1a5fb1234567", true},
	{"A", true},
	// Empty
	{"", false},
	// Spaces
	{" abc123", false},
	{"abc123 ", false},
	{"abc 123", false},
	// Invalid chars
	{"abc_123", false},
	{"abc/123", false},
	{"abc123é", false},
	// Too long (65)
	{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", false},
}

var txIDTests = []struct {
	in       string
	expected bool
}{
	{"H2KKVITXKWL2VH3S4KSQGYSK3WLDBSKRNA77CHCGN7WSC2VJNDVQ", true},
	// Lowercase
	{"h2kkvitxkwl2vh3s4ksqgysk3wldbskrna77chcgn7wsc2vjndvq", false},
	// Too short
	{"H2KKVITXKWL2VH3S4KSQGYSK3WLDBSKRNA77CHCGN7WSC2VJNDV", false},
	// Too long
	{"H2KKVITXKWL2VH3S4KSQGYSK3WLDBSKRNA77CHCGN7WSC2VJNDVQQ", false},
	// Invalid base32 chars (0, 1, 8, 9)
	{"00KKVITXKWL2VH3S4KSQGYSK3WLDBSKRNA77CHCGN7WSC2VJNDVQ", false},
	{"18KKVITXKWL2VH3S4KSQGYSK3WLDBSKRNA77CHCGN7WSC2VJNDVQ", false},
}

func TestLogIDRegex(t *testing.T) {
	for _, v := range logIDTests {
		if RegexpLogID.MatchString(v.in) != v.expected {
			t.Errorf("testing %q got %v want %v",
				v.in, !v.expected, v.expected)
		}
	}
}

func TestTxIDRegex(t *testing.T) {
	for _, v := range txIDTests {
		if RegexpTxID.MatchString(v.in) != v.expected {
			t.Errorf("testing %q got %v want %v",
				v.in, !v.expected, v.expected)
		}
	}
}
