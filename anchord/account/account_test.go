// Copyright (c) 2023-2024 The FoodPrint developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package account

import (
	"errors"
	"strings"
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/mnemonic"
)

// newPhrase generates a fresh account and returns its recovery phrase and
// expected address.
func newPhrase(t *testing.T) (string, string) {
	t.Helper()

	acct := crypto.GenerateAccount()
	phrase, err := mnemonic.FromPrivateKey(acct.PrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	return phrase, acct.Address.String()
}

func TestRecover(t *testing.T) {
	phrase, addr := newPhrase(t)

	a, err := Recover(phrase, addr)
	if err != nil {
		t.Fatal(err)
	}
	if a.Address.String() != addr {
		t.Fatalf("address got %v want %v", a.Address, addr)
	}
}

func TestRecoverNormalization(t *testing.T) {
	phrase, addr := newPhrase(t)

	// Extra interior and surrounding whitespace must not matter.
	mangled := "  " + strings.Join(strings.Fields(phrase), "  ") + "\n"
	a, err := Recover(mangled, addr)
	if err != nil {
		t.Fatal(err)
	}
	if a.Address.String() != addr {
		t.Fatalf("address got %v want %v", a.Address, addr)
	}
}

func TestRecoverPhraseLength(t *testing.T) {
	phrase, addr := newPhrase(t)
	words := strings.Fields(phrase)

	tests := []string{
		"",
		strings.Join(words[:24], " "),
		phrase + " " + words[0],
		"abandon",
	}
	for _, in := range tests {
		_, err := Recover(in, addr)
		if !errors.Is(err, ErrInvalidPhraseLength) {
			t.Errorf("phrase %q: got %v want ErrInvalidPhraseLength",
				in, err)
		}
	}
}

func TestRecoverPhraseEncoding(t *testing.T) {
	// 25 valid wordlist words with an almost certainly wrong checksum.
	in := strings.TrimSpace(strings.Repeat("abandon ", 25))
	if _, err := Recover(in, ""); !errors.Is(err, ErrInvalidPhraseEncoding) {
		t.Fatalf("got %v want ErrInvalidPhraseEncoding", err)
	}

	// A word that is not on the wordlist at all.
	phrase, addr := newPhrase(t)
	words := strings.Fields(phrase)
	words[3] = "notaword"
	in = strings.Join(words, " ")
	if _, err := Recover(in, addr); !errors.Is(err, ErrInvalidPhraseEncoding) {
		t.Fatalf("got %v want ErrInvalidPhraseEncoding", err)
	}
}

func TestRecoverAddressMismatch(t *testing.T) {
	phrase, addr := newPhrase(t)
	_, other := newPhrase(t)

	if _, err := Recover(phrase, other); !errors.Is(err, ErrAddressMismatch) {
		t.Fatalf("got %v want ErrAddressMismatch", err)
	}

	// Case differences are mismatches too; addresses compare exactly.
	if _, err := Recover(phrase, strings.ToLower(addr)); !errors.Is(err, ErrAddressMismatch) {
		t.Fatalf("got %v want ErrAddressMismatch", err)
	}
}
