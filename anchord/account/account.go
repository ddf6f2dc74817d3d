// Copyright (c) 2023-2024 The FoodPrint developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package account recovers ledger signing accounts from 25 word recovery
// phrases and verifies them against independently configured addresses
// before the daemon is allowed to sign anything.
package account

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/mnemonic"
	"github.com/algorand/go-algorand-sdk/v2/types"
	"golang.org/x/text/unicode/norm"
)

// phraseWords is the exact number of words a recovery phrase carries: 24
// words of key material plus one checksum word.
const phraseWords = 25

var (
	// ErrInvalidPhraseLength is returned when a recovery phrase does not
	// contain exactly 25 words.
	ErrInvalidPhraseLength = errors.New("recovery phrase must contain " +
		"exactly 25 words")

	// ErrInvalidPhraseEncoding is returned when a recovery phrase fails
	// cryptographic derivation, e.g. an unknown word or a bad checksum.
	ErrInvalidPhraseEncoding = errors.New("recovery phrase encoding invalid")

	// ErrAddressMismatch is returned when the derived address does not
	// equal the externally configured address.  A daemon signing with the
	// wrong key would silently corrupt the audit trail, so callers must
	// treat this as fatal.
	ErrAddressMismatch = errors.New("derived address does not match " +
		"expected address")
)

// Account is a recovered signing account.  It is read only after recovery
// and safe for concurrent use.
type Account struct {
	PrivateKey ed25519.PrivateKey
	Address    types.Address
}

// normalizePhrase canonicalizes a recovery phrase: NFKC unicode form,
// trimmed, single spaces between words.
func normalizePhrase(phrase string) []string {
	return strings.Fields(norm.NFKC.String(phrase))
}

// Recover derives the signing account encoded by the provided recovery
// phrase and verifies the derived address equals expectedAddress using exact
// string comparison.  It is meant to run once at startup for every
// configured account; any error means the daemon must not serve requests.
func Recover(phrase, expectedAddress string) (*Account, error) {
	if phrase == "" {
		return nil, fmt.Errorf("%w: empty phrase", ErrInvalidPhraseLength)
	}

	words := normalizePhrase(phrase)
	if len(words) != phraseWords {
		return nil, fmt.Errorf("%w: got %v words",
			ErrInvalidPhraseLength, len(words))
	}

	sk, err := mnemonic.ToPrivateKey(strings.Join(words, " "))
	if err != nil {
		// Checksum and wordlist failures all surface here.  The
		// underlying error is deliberately not propagated verbatim to
		// avoid leaking phrase material into logs.
		return nil, ErrInvalidPhraseEncoding
	}

	acct, err := crypto.AccountFromPrivateKey(sk)
	if err != nil {
		return nil, ErrInvalidPhraseEncoding
	}

	if acct.Address.String() != expectedAddress {
		return nil, fmt.Errorf("%w: derived %v",
			ErrAddressMismatch, acct.Address)
	}

	return &Account{
		PrivateKey: acct.PrivateKey,
		Address:    acct.Address,
	}, nil
}
