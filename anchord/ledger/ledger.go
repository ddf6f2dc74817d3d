// Copyright (c) 2023-2024 The FoodPrint developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package ledger is a thin session to an Algorand node.  It exposes the
// handful of remote calls the anchoring workflow needs behind a narrow
// interface so the daemon can be tested against a fake node.
//
// Round and parameter values are time sensitive; nothing in this package is
// cached.
package ledger

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/algorand/go-algorand-sdk/v2/types"
)

// NodeStatus is a cooked subset of the node status answer.
type NodeStatus struct {
	LastRound   uint64 // Latest round seen by the node
	NodeVersion string // Node software version
}

// PendingResult describes the node's view of a submitted transaction.
// Exactly one of the fields is meaningful at a time: a non zero
// ConfirmedRound means the transaction is final, a non empty PoolError means
// the pool rejected it permanently, and neither means it is not yet visible.
type PendingResult struct {
	ConfirmedRound uint64
	PoolError      string
}

// Caller is the set of ledger node RPCs the anchoring workflow uses.  All
// calls may fail with transport errors; callers must not assume any call
// succeeds.
type Caller interface {
	// Status returns the node's current round and version.
	Status(ctx context.Context) (*NodeStatus, error)

	// TransactionParams returns suggested transaction parameters,
	// including the fee basis, genesis identifiers and validity window.
	TransactionParams(ctx context.Context) (types.SuggestedParams, error)

	// SubmitRawTransaction broadcasts signed transaction bytes and
	// returns the transaction id reported by the node.
	SubmitRawTransaction(ctx context.Context, stx []byte) (string, error)

	// PendingTransaction queries the confirmation state of a submitted
	// transaction.
	PendingTransaction(ctx context.Context, txID string) (*PendingResult, error)

	// WaitForBlockAfter blocks until the node has advanced past the
	// provided round.
	WaitForBlockAfter(ctx context.Context, round uint64) error
}

var _ Caller = (*Algod)(nil)

// Algod implements Caller against a real node using the official algod REST
// client.
type Algod struct {
	host   string
	client *algod.Client
}

// Status satisfies the Caller interface.
func (a *Algod) Status(ctx context.Context) (*NodeStatus, error) {
	s, err := a.client.Status().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("node status: %w", err)
	}
	return &NodeStatus{
		LastRound:   s.LastRound,
		NodeVersion: s.LastVersion,
	}, nil
}

// TransactionParams satisfies the Caller interface.
func (a *Algod) TransactionParams(ctx context.Context) (types.SuggestedParams, error) {
	sp, err := a.client.SuggestedParams().Do(ctx)
	if err != nil {
		return types.SuggestedParams{}, fmt.Errorf("suggested params: %w", err)
	}
	return sp, nil
}

// SubmitRawTransaction satisfies the Caller interface.
func (a *Algod) SubmitRawTransaction(ctx context.Context, stx []byte) (string, error) {
	txID, err := a.client.SendRawTransaction(stx).Do(ctx)
	if err != nil {
		return "", fmt.Errorf("send raw transaction: %w", err)
	}
	return txID, nil
}

// PendingTransaction satisfies the Caller interface.
func (a *Algod) PendingTransaction(ctx context.Context, txID string) (*PendingResult, error) {
	info, _, err := a.client.PendingTransactionInformation(txID).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("pending transaction %v: %w", txID, err)
	}
	return &PendingResult{
		ConfirmedRound: info.ConfirmedRound,
		PoolError:      info.PoolError,
	}, nil
}

// WaitForBlockAfter satisfies the Caller interface.  The node holds the
// request until the round has been committed, so this is a round progression
// wait rather than a timed sleep.
func (a *Algod) WaitForBlockAfter(ctx context.Context, round uint64) error {
	_, err := a.client.StatusAfterBlock(round).Do(ctx)
	if err != nil {
		return fmt.Errorf("status after block %v: %w", round, err)
	}
	return nil
}

// Connect verifies node connectivity with bounded retries.  The original
// deployment fronts the node with a load balancer that drops the first
// request after idle periods, hence the retry loop.
func (a *Algod) Connect(ctx context.Context, retries int, wait time.Duration) (*NodeStatus, error) {
	var lastErr error
	for i := 0; i < retries; i++ {
		if i > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		st, err := a.Status(ctx)
		if err == nil {
			return st, nil
		}
		lastErr = err
		log.Warnf("Cannot reach ledger node %v: %v", a.host, err)
		log.Warnf("Retrying... attempt: %v", i+1)
	}
	return nil, lastErr
}

// New returns an Algod ledger session.  The host must be a http or https
// URL; the token may be empty for public nodes.
func New(host, token string) (*Algod, error) {
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse node url %v: %v", host, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("node url %v: scheme must be http or https",
			host)
	}

	c, err := algod.MakeClient(host, token)
	if err != nil {
		return nil, fmt.Errorf("make algod client: %v", err)
	}

	log.Infof("Ledger node: %v", host)

	return &Algod{
		host:   host,
		client: c,
	}, nil
}
