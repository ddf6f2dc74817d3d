// Copyright (c) 2023-2024 The FoodPrint developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package backend defines the relational store consumed by the anchoring
// workflow.  The harvest and storage tables are owned by the FoodPrint web
// application; this daemon only reconciles anchoring outcomes into them.
package backend

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRecordNotFound is returned when the anchoring update matched
	// zero rows.  The ledger transaction already exists at that point, so
	// this is a data consistency problem that needs manual
	// reconciliation, not a transaction failure.
	ErrRecordNotFound = errors.New("log record not found")

	// ErrNoAnchors is returned by LastAnchor when no record of the
	// requested type has been anchored yet.
	ErrNoAnchors = errors.New("no anchored records")
)

// LogType identifies which supply chain table an anchoring call targets.
type LogType int

const (
	LogTypeHarvest LogType = iota
	LogTypeStorage
)

// String returns the wire name of the log type.
func (t LogType) String() string {
	switch t {
	case LogTypeHarvest:
		return "harvest"
	case LogTypeStorage:
		return "storage"
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// TableSpec maps a log type to its concrete table and column names.  The
// web application's schema prefixes every column with the log type, so the
// specs are spelled out per type at compile time rather than assembled from
// strings at runtime.
type TableSpec struct {
	Table       string // Table name
	IDColumn    string // Unique log id column, UPDATE key
	HashID      string // Content hash column
	HashData    string // Raw serialized payload column
	Date        string // Anchoring timestamp column
	Flag        string // Boolean anchored column
	By          string // Actor identity column
	TxID        string // Ledger transaction id column
	ExplorerURL string // Explorer link column, unprefixed in the schema
}

// Tables holds the per log type table specs.  Adding a log type means
// adding a spec here and nowhere else.
var Tables = map[LogType]TableSpec{
	LogTypeHarvest: {
		Table:       "foodprint_harvest",
		IDColumn:    "harvest_logid",
		HashID:      "harvest_blockchainhashid",
		HashData:    "harvest_blockchainhashdata",
		Date:        "harvest_added_to_blockchain_date",
		Flag:        "harvest_bool_added_to_blockchain",
		By:          "harvest_added_to_blockchain_by",
		TxID:        "harvest_blockchain_uuid",
		ExplorerURL: "blockchain_explorer_url",
	},
	LogTypeStorage: {
		Table:       "foodprint_storage",
		IDColumn:    "storage_logid",
		HashID:      "storage_blockchainhashid",
		HashData:    "storage_blockchainhashdata",
		Date:        "storage_added_to_blockchain_date",
		Flag:        "storage_bool_added_to_blockchain",
		By:          "storage_added_to_blockchain_by",
		TxID:        "storage_blockchain_uuid",
		ExplorerURL: "blockchain_explorer_url",
	},
}

// AnchorUpdate carries the outcome of a successful anchoring call into the
// relational record identified by a log id.
type AnchorUpdate struct {
	HashID      string    // base64 SHA256 of the serialized payload
	HashData    string    // Serialized payload
	Date        time.Time // When the anchor completed
	By          string    // Actor identity (email) or "System"
	TxID        string    // Ledger transaction id
	ExplorerURL string    // Derived explorer link
}

// LastAnchorResult describes the most recently anchored record of a log
// type.
type LastAnchorResult struct {
	LogID string
	TxID  string
	Date  time.Time
}

// Store is the relational persistence consumed by the anchoring workflow.
type Store interface {
	// Update applies the anchoring outcome to the single record
	// identified by logID using one atomic statement.  It returns
	// ErrRecordNotFound when no row matched.
	Update(logType LogType, logID string, u AnchorUpdate) error

	// LastAnchor returns the most recently anchored record of the
	// provided type, or ErrNoAnchors.
	LastAnchor(logType LogType) (*LastAnchorResult, error)

	// Close performs cleanup of the store.
	Close()
}
