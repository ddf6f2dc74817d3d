// Copyright (c) 2023-2024 The FoodPrint developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package util

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// indexerTx is the subset of the indexer transaction-by-id answer we care
// about.  The note field is base64 encoded by the indexer.
type indexerTx struct {
	Transaction struct {
		ID             string `json:"id"`
		Note           string `json:"note"`
		ConfirmedRound uint64 `json:"confirmed-round"`
	} `json:"transaction"`
}

// VerifyAnchor verifies proof of existence of the supplied payload digest on
// the ledger by fetching the transaction from an indexer and comparing the
// digest of its note field.  The digest is base64 encoded SHA256, the same
// encoding the daemon persists.
func VerifyAnchor(url, tx, digest string) error {
	u := url + "v2/transactions/" + tx
	r, err := http.Get(u)
	if err != nil {
		return fmt.Errorf("HTTP Get: %v", err)
	}
	defer r.Body.Close()

	if r.StatusCode != http.StatusOK {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return fmt.Errorf("invalid body: %v", r.StatusCode)
		}
		return fmt.Errorf("invalid indexer answer: %v %s",
			r.StatusCode, body)
	}

	var itx indexerTx
	d := json.NewDecoder(r.Body)
	if err := d.Decode(&itx); err != nil {
		return err
	}

	if itx.Transaction.ConfirmedRound == 0 {
		return fmt.Errorf("transaction not confirmed: %v", tx)
	}

	note, err := base64.StdEncoding.DecodeString(itx.Transaction.Note)
	if err != nil {
		return fmt.Errorf("invalid indexer note: %v", err)
	}

	h := sha256.Sum256(note)
	if got := base64.StdEncoding.EncodeToString(h[:]); got != digest {
		return fmt.Errorf("digest not anchored: tx %v digest %v got %v",
			tx, digest, got)
	}

	return nil
}
