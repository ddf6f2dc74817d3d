// Copyright (c) 2023-2024 The FoodPrint developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/foodprint/anchor/anchord/backend"
)

func testEntry(txID string, submitted int64) Entry {
	return Entry{
		TxID:    txID,
		LogType: backend.LogTypeHarvest,
		LogID:   "d39b9b09-7b47-4bb6-a384-1316a4a2e6c6",
		Update: backend.AnchorUpdate{
			HashID:      "47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=",
			HashData:    "{}",
			Date:        time.Unix(1700000000, 0).UTC(),
			By:          "anchord",
			TxID:        txID,
			ExplorerURL: "https://testnet.explorer.perawallet.app/tx/" + txID,
		},
		Submitted: submitted,
	}
}

func TestAddRemove(t *testing.T) {
	j, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	e := testEntry("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", 10)
	if err := j.Add(e); err != nil {
		t.Fatal(err)
	}

	entries, err := j.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %v entries, want 1", len(entries))
	}
	if entries[0] != e {
		t.Fatalf("got %v, want %v", entries[0], e)
	}

	if err := j.Remove(e.TxID); err != nil {
		t.Fatal(err)
	}
	entries, err = j.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("got %v entries, want 0", len(entries))
	}
}

func TestRemoveNotFound(t *testing.T) {
	j, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	err = j.Remove("BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB")
	if err != ErrNotFound {
		t.Fatalf("got %v, want %v", err, ErrNotFound)
	}
}

func TestAllOrdered(t *testing.T) {
	j, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	// Keys sort one way in leveldb, submission times the other.
	e1 := testEntry("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", 30)
	e2 := testEntry("CCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC", 10)
	e3 := testEntry("EEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEE", 20)
	for _, e := range []Entry{e1, e2, e3} {
		if err := j.Add(e); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := j.All()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{e2.TxID, e3.TxID, e1.TxID}
	if len(entries) != len(want) {
		t.Fatalf("got %v entries, want %v", len(entries), len(want))
	}
	for i, txID := range want {
		if entries[i].TxID != txID {
			t.Errorf("entry %v: got %v, want %v", i, entries[i].TxID,
				txID)
		}
	}
}

func TestDumpRestore(t *testing.T) {
	j, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	e1 := testEntry("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", 10)
	e2 := testEntry("CCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC", 20)
	for _, e := range []Entry{e1, e2} {
		if err := j.Add(e); err != nil {
			t.Fatal(err)
		}
	}

	dumpFile := filepath.Join(t.TempDir(), "dump.json")
	f, err := os.Create(dumpFile)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Dump(f, false); err != nil {
		t.Fatal(err)
	}
	f.Close()
	j.Close()

	j2, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer j2.Close()

	f, err = os.Open(dumpFile)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	n, err := j2.Restore(f)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("restored %v entries, want 2", n)
	}

	entries, err := j2.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %v entries, want 2", len(entries))
	}
	if entries[0] != e1 || entries[1] != e2 {
		t.Fatalf("restored entries do not match originals")
	}
}
