// Copyright (c) 2023-2024 The FoodPrint developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package v1

import (
	"fmt"
	"regexp"
)

const (
	// APIVersion defines the version number for this code.
	APIVersion = 1

	// LogTypeHarvest and LogTypeStorage are the supply chain log types
	// that can be anchored.
	LogTypeHarvest = "harvest"
	LogTypeStorage = "storage"

	// DefaultMainnetPort is the port the daemon listens on by default
	// when anchoring against mainnet.
	DefaultMainnetPort = "49374"

	// DefaultTestnetPort is the port the daemon listens on by default
	// when anchoring against testnet.
	DefaultTestnetPort = "59374"

	// DefaultMainnetAlgodHost indicates the default mainnet ledger node.
	DefaultMainnetAlgodHost = "https://mainnet-api.algonode.cloud"

	// DefaultTestnetAlgodHost indicates the default testnet ledger node.
	DefaultTestnetAlgodHost = "https://testnet-api.algonode.cloud"

	// DefaultMainnetExplorer is the transaction URL template used to
	// derive explorer links on mainnet.
	DefaultMainnetExplorer = "https://explorer.perawallet.app/tx/%v"

	// DefaultTestnetExplorer is the transaction URL template used to
	// derive explorer links on testnet.
	DefaultTestnetExplorer = "https://testnet.explorer.perawallet.app/tx/%v"

	// NoteSizeLimit is the ledger maximum for the transaction note
	// field.  Serialized payloads may never exceed it.
	NoteSizeLimit = 1024

	// ActorHeader carries the identity recorded alongside an anchor.
	// The web application forwards the session user's email; absent the
	// header the anchor is attributed to "System".
	ActorHeader = "X-FoodPrint-Actor"
)

var (
	// RoutePrefix is the route url prefix for this version.
	RoutePrefix = fmt.Sprintf("/v%v", APIVersion)

	// StatusRoute defines the API route for retrieving the ledger
	// connection status.
	StatusRoute = RoutePrefix + "/status/"

	// AnchorHarvestRoute defines the API route for anchoring a harvest
	// log on the ledger.
	AnchorHarvestRoute = RoutePrefix + "/anchor/harvest/"

	// AnchorStorageRoute defines the API route for anchoring a storage
	// log on the ledger.
	AnchorStorageRoute = RoutePrefix + "/anchor/storage/"

	// LastAnchorRoute defines the API route for retrieving info about
	// the last successful anchor of a log type.
	LastAnchorRoute = RoutePrefix + "/last/"

	// RegexpLogID is the valid text representation of a log record id.
	// The web application issues lowercase hex UUIDs but older rows
	// carry free-form ids, so anything short and url safe is accepted.
	RegexpLogID = regexp.MustCompile(`^[0-9a-zA-Z-]{1,64}$`)

	// RegexpTxID is the valid text representation of a ledger
	// transaction id (52 character base32, no padding).
	RegexpTxID = regexp.MustCompile(`^[A-Z2-7]{52}$`)
)

// Anchor is the request body for the anchor routes.  LogID references the
// relational record to reconcile after the ledger accepts the payload.  All
// remaining fields of the JSON object are the business payload and are
// carried to the ledger verbatim; the server does not interpret them.
//
// Inbound bodies are decoded as a generic object because suppliers attach
// arbitrary produce fields; only LogID is mandatory.
type Anchor struct {
	LogID string `json:"logID"`
}

// AnchorReply is returned after an anchoring call completes.
type AnchorReply struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	TransactionID string `json:"transactionId"`
	ExplorerURL   string `json:"explorerUrl"`
}

// StatusReply describes the daemon's view of the ledger node.
type StatusReply struct {
	Connected   bool   `json:"connected"`
	Network     string `json:"network"`
	LastRound   uint64 `json:"lastRound"`
	NodeVersion string `json:"nodeVersion"`
}

// LastAnchorReply is returned by the last anchor route.  ChainDate is the
// wall clock time the update was persisted, not the ledger round time.
type LastAnchorReply struct {
	LogType       string `json:"logType"`
	LogID         string `json:"logID"`
	TransactionID string `json:"transactionId"`
	ChainDate     string `json:"chainDate"`
	ExplorerURL   string `json:"explorerUrl"`
}
