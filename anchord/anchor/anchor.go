// Copyright (c) 2023-2024 The FoodPrint developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package anchor implements the anchoring workflow: serialize a supply
// chain record, commit its digest to the Algorand ledger inside a zero
// amount payment note, wait for confirmation and reconcile the outcome
// into the relational record.
package anchor

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/transaction"
	"github.com/algorand/go-algorand-sdk/v2/types"

	v1 "github.com/foodprint/anchor/api/v1"
	"github.com/foodprint/anchor/anchord/account"
	"github.com/foodprint/anchor/anchord/backend"
	"github.com/foodprint/anchor/anchord/journal"
	"github.com/foodprint/anchor/anchord/ledger"
)

var (
	// ErrEmptyPayload is returned when the caller provided no record
	// fields to anchor.
	ErrEmptyPayload = errors.New("empty payload")

	// ErrMissingLogID is returned when the payload carries no usable
	// logID key.
	ErrMissingLogID = errors.New("missing or invalid logID")

	// ErrPayloadTooLarge is returned when the serialized payload does
	// not fit in a ledger transaction note.
	ErrPayloadTooLarge = errors.New("payload exceeds note size limit")

	// ErrConfirmationTimeout is returned when the transaction was not
	// confirmed within the round wait budget.  The transaction may still
	// confirm later; the caller decides whether to look it up again.
	ErrConfirmationTimeout = errors.New("transaction not confirmed within wait budget")
)

// pollRetryWait is how long polling backs off after a transport error
// before burning another round of the wait budget.  Tests shorten it.
var pollRetryWait = 2 * time.Second

// RejectedError is returned when the node pool permanently rejected the
// transaction.  There is no point waiting further rounds.
type RejectedError struct {
	TxID   string
	Reason string
}

func (e RejectedError) Error() string {
	return fmt.Sprintf("transaction %v rejected: %v", e.TxID, e.Reason)
}

// Config sets up an Anchorer.
type Config struct {
	Ledger      ledger.Caller
	Store       backend.Store
	Journal     *journal.Journal // optional, orphan persistence
	Sender      *account.Account
	Receiver    types.Address
	WaitRounds  uint64 // confirmation budget in rounds
	NoteLimit   int    // serialized payload byte limit
	ExplorerURL string // printf template, %v is the txid

	// BaseCtx outlives individual requests.  Once a transaction has been
	// broadcast the workflow switches to it so an aborted request does
	// not abandon the confirmation wait.
	BaseCtx context.Context
}

// Anchorer runs the anchoring workflow.  Safe for concurrent use; each call
// is independent and no state is shared across calls.
type Anchorer struct {
	ledger      ledger.Caller
	store       backend.Store
	journal     *journal.Journal
	sender      *account.Account
	receiver    types.Address
	waitRounds  uint64
	noteLimit   int
	explorerURL string
	baseCtx     context.Context
}

// Result is the outcome of a successful anchoring call.
type Result struct {
	TxID           string
	ExplorerURL    string
	ConfirmedRound uint64
	Digest         string // base64 SHA256 of the serialized payload
}

// New returns an Anchorer for the provided configuration.
func New(cfg Config) (*Anchorer, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("anchor: nil ledger")
	}
	if cfg.Store == nil {
		return nil, errors.New("anchor: nil store")
	}
	if cfg.Sender == nil {
		return nil, errors.New("anchor: nil sender account")
	}
	if cfg.WaitRounds == 0 {
		return nil, errors.New("anchor: wait budget must be positive")
	}
	if cfg.NoteLimit <= 0 || cfg.NoteLimit > v1.NoteSizeLimit {
		return nil, fmt.Errorf("anchor: note limit out of range: %v",
			cfg.NoteLimit)
	}
	if cfg.ExplorerURL == "" {
		return nil, errors.New("anchor: empty explorer url template")
	}
	baseCtx := cfg.BaseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Anchorer{
		ledger:      cfg.Ledger,
		store:       cfg.Store,
		journal:     cfg.Journal,
		sender:      cfg.Sender,
		receiver:    cfg.Receiver,
		waitRounds:  cfg.WaitRounds,
		noteLimit:   cfg.NoteLimit,
		explorerURL: cfg.ExplorerURL,
		baseCtx:     baseCtx,
	}, nil
}

// serialize renders the payload as canonical JSON.  encoding/json writes map
// keys in sorted order, so the same record always produces the same bytes
// and therefore the same digest.
func serialize(payload map[string]interface{}) ([]byte, error) {
	return json.Marshal(payload)
}

// digest returns the base64 SHA256 of the note, matching how the web
// application stores content hashes.
func digest(note []byte) string {
	d := sha256.Sum256(note)
	return base64.StdEncoding.EncodeToString(d[:])
}

// buildAnchorTx constructs and signs the zero amount payment carrying the
// note.  The validity window is narrowed to the confirmation wait budget so
// an unconfirmed transaction dies with the poller instead of lingering in
// the pool.
func (a *Anchorer) buildAnchorTx(ctx context.Context, note []byte) (string, []byte, uint64, error) {
	sp, err := a.ledger.TransactionParams(ctx)
	if err != nil {
		return "", nil, 0, err
	}
	firstRound := uint64(sp.FirstRoundValid)
	sp.LastRoundValid = sp.FirstRoundValid + types.Round(a.waitRounds)

	tx, err := transaction.MakePaymentTxn(a.sender.Address.String(),
		a.receiver.String(), 0, note, "", sp)
	if err != nil {
		return "", nil, 0, fmt.Errorf("make payment txn: %w", err)
	}

	txID, stx, err := crypto.SignTransaction(a.sender.PrivateKey, tx)
	if err != nil {
		return "", nil, 0, fmt.Errorf("sign transaction: %w", err)
	}

	return txID, stx, firstRound, nil
}

// waitForConfirmation polls the node until the transaction confirms, is
// rejected, or the round budget runs out.  Transport errors are retried
// after a short backoff but still consume a round; they are never terminal
// by themselves.
func (a *Anchorer) waitForConfirmation(ctx context.Context, txID string, startRound uint64) (uint64, error) {
	currentRound := startRound
	endRound := startRound + a.waitRounds

	for currentRound < endRound {
		res, err := a.ledger.PendingTransaction(ctx, txID)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			log.Warnf("Pending transaction lookup failed, "+
				"retrying: %v", err)
			select {
			case <-time.After(pollRetryWait):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
			currentRound++
			continue
		}
		if res.ConfirmedRound > 0 {
			return res.ConfirmedRound, nil
		}
		if res.PoolError != "" {
			return 0, RejectedError{TxID: txID, Reason: res.PoolError}
		}

		err = a.ledger.WaitForBlockAfter(ctx, currentRound)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			log.Warnf("Round wait failed, retrying: %v", err)
			select {
			case <-time.After(pollRetryWait):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		currentRound++
	}

	return 0, fmt.Errorf("%w: tx %v after %v rounds",
		ErrConfirmationTimeout, txID, a.waitRounds)
}

// Anchor runs the full workflow for one record.  There are no whole-call
// retries; every stage fails the call with a typed error.
func (a *Anchorer) Anchor(ctx context.Context, logType backend.LogType, payload map[string]interface{}, actor string) (*Result, error) {
	// Validation happens before any network call.
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	logID, ok := payload["logID"].(string)
	if !ok || !v1.RegexpLogID.MatchString(logID) {
		return nil, ErrMissingLogID
	}

	note, err := serialize(payload)
	if err != nil {
		return nil, fmt.Errorf("serialize payload: %v", err)
	}
	if len(note) > a.noteLimit {
		return nil, fmt.Errorf("%w: %v bytes, limit %v",
			ErrPayloadTooLarge, len(note), a.noteLimit)
	}
	hash := digest(note)

	log.Debugf("Anchor %v %v: %v byte note, digest %v", logType, logID,
		len(note), hash)

	txID, stx, firstRound, err := a.buildAnchorTx(ctx, note)
	if err != nil {
		return nil, err
	}

	nodeTxID, err := a.ledger.SubmitRawTransaction(ctx, stx)
	if err != nil {
		return nil, err
	}
	if nodeTxID != txID {
		return nil, fmt.Errorf("node txid %v does not match computed "+
			"txid %v", nodeTxID, txID)
	}
	log.Infof("Anchor %v %v: submitted tx %v", logType, logID, txID)

	// The transaction exists on the network now.  Abandoning it because
	// the caller went away would orphan it, so the remainder of the call
	// runs on the daemon context.
	ctx = a.baseCtx

	confirmedRound, err := a.waitForConfirmation(ctx, txID, firstRound)
	if err != nil {
		return nil, err
	}
	log.Infof("Anchor %v %v: tx %v confirmed in round %v", logType,
		logID, txID, confirmedRound)

	u := backend.AnchorUpdate{
		HashID:      hash,
		HashData:    string(note),
		Date:        time.Now().UTC(),
		By:          actor,
		TxID:        txID,
		ExplorerURL: fmt.Sprintf(a.explorerURL, txID),
	}
	err = a.store.Update(logType, logID, u)
	if err != nil {
		a.journalOrphan(logType, logID, u)
		if errors.Is(err, backend.ErrRecordNotFound) {
			log.Criticalf("Anchor %v %v: tx %v confirmed but no "+
				"record matched the update", logType, logID,
				txID)
			return nil, fmt.Errorf("%w: %v %v tx %v", err, logType,
				logID, txID)
		}
		log.Criticalf("Anchor %v %v: tx %v confirmed but update "+
			"failed: %v", logType, logID, txID, err)
		return nil, fmt.Errorf("record update: %w", err)
	}

	return &Result{
		TxID:           txID,
		ExplorerURL:    u.ExplorerURL,
		ConfirmedRound: confirmedRound,
		Digest:         hash,
	}, nil
}

// journalOrphan persists an anchoring outcome whose relational update did
// not land so a later sweep can retry it.
func (a *Anchorer) journalOrphan(logType backend.LogType, logID string, u backend.AnchorUpdate) {
	if a.journal == nil {
		return
	}
	err := a.journal.Add(journal.Entry{
		TxID:    u.TxID,
		LogType: logType,
		LogID:   logID,
		Update:  u,
	})
	if err != nil {
		log.Criticalf("Cannot journal orphaned anchor tx %v: %v",
			u.TxID, err)
	}
}

// ReconcileOrphans retries the relational update for every journaled
// anchor.  Reconciled entries are removed; entries whose records are still
// missing stay journaled.  Returns the number of entries reconciled.
func (a *Anchorer) ReconcileOrphans() (int, error) {
	if a.journal == nil {
		return 0, nil
	}
	entries, err := a.journal.All()
	if err != nil {
		return 0, err
	}

	var reconciled int
	for _, e := range entries {
		err := a.store.Update(e.LogType, e.LogID, e.Update)
		if err != nil {
			if errors.Is(err, backend.ErrRecordNotFound) {
				log.Criticalf("Orphaned anchor tx %v: record "+
					"%v %v still missing", e.TxID,
					e.LogType, e.LogID)
			} else {
				log.Warnf("Orphaned anchor tx %v: update "+
					"failed: %v", e.TxID, err)
			}
			continue
		}
		if err := a.journal.Remove(e.TxID); err != nil {
			log.Warnf("Cannot remove reconciled anchor tx %v: %v",
				e.TxID, err)
			continue
		}
		log.Infof("Reconciled orphaned anchor: tx %v %v %v", e.TxID,
			e.LogType, e.LogID)
		reconciled++
	}
	return reconciled, nil
}
