// Copyright (c) 2023-2024 The FoodPrint developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package postgres

import (
	"fmt"

	"github.com/foodprint/anchor/anchord/backend"
)

// updateQuery renders the single anchoring UPDATE for a table spec.  Column
// names come from the compile time spec table, never from request data.
func updateQuery(spec backend.TableSpec) string {
	return fmt.Sprintf(`UPDATE %v
				SET %v = $1, %v = $2, %v = $3, %v = true,
				    %v = $4, %v = $5, %v = $6
				WHERE %v = $7`,
		spec.Table,
		spec.HashID, spec.HashData, spec.Date, spec.Flag,
		spec.By, spec.TxID, spec.ExplorerURL,
		spec.IDColumn)
}

// lastAnchorQuery renders the latest-anchor lookup for a table spec.
func lastAnchorQuery(spec backend.TableSpec) string {
	return fmt.Sprintf(`SELECT %v, %v, %v
				FROM %v
				WHERE %v = true
				ORDER BY %v DESC
				LIMIT 1`,
		spec.IDColumn, spec.TxID, spec.Date,
		spec.Table,
		spec.Flag,
		spec.Date)
}
