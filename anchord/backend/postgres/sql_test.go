// Copyright (c) 2023-2024 The FoodPrint developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package postgres

import (
	"strings"
	"testing"

	"github.com/foodprint/anchor/anchord/backend"
)

func TestUpdateQuery(t *testing.T) {
	for logType, spec := range backend.Tables {
		q := updateQuery(spec)

		if !strings.Contains(q, "UPDATE "+spec.Table) {
			t.Errorf("%v: missing table: %v", logType, q)
		}
		if !strings.Contains(q, spec.IDColumn+" = $7") {
			t.Errorf("%v: key column must be the final parameter: %v",
				logType, q)
		}
		for _, col := range []string{spec.HashID, spec.HashData,
			spec.Date, spec.Flag, spec.By, spec.TxID,
			spec.ExplorerURL} {
			if !strings.Contains(q, col) {
				t.Errorf("%v: missing column %v", logType, col)
			}
		}
		// Single statement, no batching.
		if strings.Count(q, "UPDATE") != 1 || strings.Contains(q, ";") {
			t.Errorf("%v: not a single statement: %v", logType, q)
		}
	}
}

func TestLastAnchorQuery(t *testing.T) {
	for logType, spec := range backend.Tables {
		q := lastAnchorQuery(spec)
		for _, want := range []string{spec.Table, spec.Flag,
			spec.TxID, "LIMIT 1"} {
			if !strings.Contains(q, want) {
				t.Errorf("%v: missing %v in %v", logType, want, q)
			}
		}
	}
}

func TestTableSpecsDistinct(t *testing.T) {
	// Harvest and storage must never share a table or key column, or one
	// anchoring call could touch the other's rows.
	h := backend.Tables[backend.LogTypeHarvest]
	s := backend.Tables[backend.LogTypeStorage]
	if h.Table == s.Table {
		t.Fatalf("log types share table %v", h.Table)
	}
	if h.IDColumn == s.IDColumn {
		t.Fatalf("log types share id column %v", h.IDColumn)
	}
}
