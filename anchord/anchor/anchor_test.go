// Copyright (c) 2023-2024 The FoodPrint developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package anchor

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/foodprint/anchor/anchord/account"
	"github.com/foodprint/anchor/anchord/backend"
	"github.com/foodprint/anchor/anchord/journal"
	"github.com/foodprint/anchor/anchord/ledger"
)

// pendingAnswer scripts one PendingTransaction call: either a cooked result
// or a transport error.
type pendingAnswer struct {
	res ledger.PendingResult
	err error
}

// fakeLedger scripts node answers.  PendingTransaction consumes answers
// from the pending slice; once empty it answers "not yet visible".
// WaitForBlockAfter consumes waitErrs the same way and succeeds once they
// run out.
type fakeLedger struct {
	pending  []pendingAnswer
	waitErrs []error

	statusCalls  int
	paramsCalls  int
	submitCalls  int
	pendingCalls int
	waitCalls    int

	lastNote []byte
}

func (f *fakeLedger) Status(ctx context.Context) (*ledger.NodeStatus, error) {
	f.statusCalls++
	return &ledger.NodeStatus{LastRound: 1000, NodeVersion: "3.25.0"}, nil
}

func (f *fakeLedger) TransactionParams(ctx context.Context) (types.SuggestedParams, error) {
	f.paramsCalls++
	gh := make([]byte, 32)
	gh[0] = 0x4f
	return types.SuggestedParams{
		Fee:             0,
		GenesisID:       "testnet-v1.0",
		GenesisHash:     gh,
		FirstRoundValid: 1000,
		LastRoundValid:  2000,
		FlatFee:         false,
		MinFee:          1000,
	}, nil
}

func (f *fakeLedger) SubmitRawTransaction(ctx context.Context, stx []byte) (string, error) {
	f.submitCalls++
	var st types.SignedTxn
	if err := msgpack.Decode(stx, &st); err != nil {
		return "", err
	}
	f.lastNote = st.Txn.Note
	return crypto.TransactionIDString(st.Txn), nil
}

func (f *fakeLedger) PendingTransaction(ctx context.Context, txID string) (*ledger.PendingResult, error) {
	f.pendingCalls++
	if len(f.pending) == 0 {
		return &ledger.PendingResult{}, nil
	}
	a := f.pending[0]
	f.pending = f.pending[1:]
	if a.err != nil {
		return nil, a.err
	}
	r := a.res
	return &r, nil
}

func (f *fakeLedger) WaitForBlockAfter(ctx context.Context, round uint64) error {
	f.waitCalls++
	if len(f.waitErrs) == 0 {
		return nil
	}
	err := f.waitErrs[0]
	f.waitErrs = f.waitErrs[1:]
	return err
}

func (f *fakeLedger) calls() int {
	return f.statusCalls + f.paramsCalls + f.submitCalls +
		f.pendingCalls + f.waitCalls
}

// fakeStore keeps updates in memory.  Updates against log ids in the
// missing set answer ErrRecordNotFound.
type fakeStore struct {
	records map[string]backend.AnchorUpdate
	missing map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[string]backend.AnchorUpdate),
		missing: make(map[string]bool),
	}
}

func (s *fakeStore) key(logType backend.LogType, logID string) string {
	return logType.String() + "/" + logID
}

func (s *fakeStore) Update(logType backend.LogType, logID string, u backend.AnchorUpdate) error {
	if s.missing[s.key(logType, logID)] {
		return backend.ErrRecordNotFound
	}
	s.records[s.key(logType, logID)] = u
	return nil
}

func (s *fakeStore) LastAnchor(logType backend.LogType) (*backend.LastAnchorResult, error) {
	return nil, backend.ErrNoAnchors
}

func (s *fakeStore) Close() {}

func testAccount(t *testing.T) *account.Account {
	t.Helper()
	acct := crypto.GenerateAccount()
	return &account.Account{
		PrivateKey: acct.PrivateKey,
		Address:    acct.Address,
	}
}

func testAnchorer(t *testing.T, fl *fakeLedger, fs *fakeStore, j *journal.Journal) *Anchorer {
	t.Helper()
	a, err := New(Config{
		Ledger:      fl,
		Store:       fs,
		Journal:     j,
		Sender:      testAccount(t),
		Receiver:    crypto.GenerateAccount().Address,
		WaitRounds:  4,
		NoteLimit:   1024,
		ExplorerURL: "https://testnet.explorer.perawallet.app/tx/%v",
	})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func testPayload() map[string]interface{} {
	return map[string]interface{}{
		"logID":        "d39b9b09-7b47-4bb6-a384-1316a4a2e6c6",
		"supplierName": "Ozblu Berries",
		"produce":      "Blueberry",
		"weight":       12.5,
	}
}

func TestAnchorSuccess(t *testing.T) {
	fl := &fakeLedger{
		pending: []pendingAnswer{
			{res: ledger.PendingResult{ConfirmedRound: 1002}},
		},
	}
	fs := newFakeStore()
	a := testAnchorer(t, fl, fs, nil)

	payload := testPayload()
	res, err := a.Anchor(context.Background(), backend.LogTypeHarvest,
		payload, "tester@foodprint.example")
	if err != nil {
		t.Fatal(err)
	}

	if res.TxID == "" {
		t.Fatal("empty txid")
	}
	if res.ConfirmedRound != 1002 {
		t.Fatalf("confirmed round %v, want 1002", res.ConfirmedRound)
	}
	if !strings.HasSuffix(res.ExplorerURL, res.TxID) {
		t.Fatalf("explorer url %v does not name tx %v",
			res.ExplorerURL, res.TxID)
	}
	if fl.submitCalls != 1 {
		t.Fatalf("submitted %v times, want 1", fl.submitCalls)
	}

	// The note carried over the wire must be the canonical rendering of
	// the payload and must hash to the stored digest.
	wantNote, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	if string(fl.lastNote) != string(wantNote) {
		t.Fatalf("note %s, want %s", fl.lastNote, wantNote)
	}
	d := sha256.Sum256(wantNote)
	wantDigest := base64.StdEncoding.EncodeToString(d[:])
	if res.Digest != wantDigest {
		t.Fatalf("digest %v, want %v", res.Digest, wantDigest)
	}

	u, ok := fs.records[fs.key(backend.LogTypeHarvest, payload["logID"].(string))]
	if !ok {
		t.Fatal("record not updated")
	}
	if u.HashID != wantDigest || u.HashData != string(wantNote) {
		t.Fatalf("stored update %+v does not match note", u)
	}
	if u.TxID != res.TxID || u.ExplorerURL != res.ExplorerURL {
		t.Fatalf("stored update %+v does not match result %+v", u, res)
	}
	if u.By != "tester@foodprint.example" {
		t.Fatalf("stored actor %v", u.By)
	}
}

func TestAnchorEmptyPayload(t *testing.T) {
	fl := &fakeLedger{}
	a := testAnchorer(t, fl, newFakeStore(), nil)

	for _, payload := range []map[string]interface{}{nil, {}} {
		_, err := a.Anchor(context.Background(),
			backend.LogTypeHarvest, payload, "System")
		if !errors.Is(err, ErrEmptyPayload) {
			t.Fatalf("got %v, want %v", err, ErrEmptyPayload)
		}
	}
	if fl.calls() != 0 {
		t.Fatalf("ledger called %v times before validation failure",
			fl.calls())
	}
}

func TestAnchorMissingLogID(t *testing.T) {
	fl := &fakeLedger{}
	a := testAnchorer(t, fl, newFakeStore(), nil)

	payloads := []map[string]interface{}{
		{"produce": "Blueberry"},             // absent
		{"logID": 42, "produce": "Blueberry"}, // wrong type
		{"logID": "", "produce": "Blueberry"}, // empty
		{"logID": "bad id!", "produce": "Blueberry"}, // bad characters
	}
	for _, payload := range payloads {
		_, err := a.Anchor(context.Background(),
			backend.LogTypeStorage, payload, "System")
		if !errors.Is(err, ErrMissingLogID) {
			t.Fatalf("payload %v: got %v, want %v", payload, err,
				ErrMissingLogID)
		}
	}
	if fl.calls() != 0 {
		t.Fatalf("ledger called %v times before validation failure",
			fl.calls())
	}
}

func TestAnchorPayloadTooLarge(t *testing.T) {
	fl := &fakeLedger{}
	fs := newFakeStore()
	a, err := New(Config{
		Ledger:      fl,
		Store:       fs,
		Sender:      testAccount(t),
		Receiver:    crypto.GenerateAccount().Address,
		WaitRounds:  4,
		NoteLimit:   64,
		ExplorerURL: "https://testnet.explorer.perawallet.app/tx/%v",
	})
	if err != nil {
		t.Fatal(err)
	}

	payload := testPayload()
	payload["notes"] = strings.Repeat("x", 128)
	_, err = a.Anchor(context.Background(), backend.LogTypeHarvest,
		payload, "System")
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("got %v, want %v", err, ErrPayloadTooLarge)
	}
	if fl.calls() != 0 {
		t.Fatalf("ledger called %v times before validation failure",
			fl.calls())
	}
}

func TestAnchorRejected(t *testing.T) {
	fl := &fakeLedger{
		pending: []pendingAnswer{
			{res: ledger.PendingResult{PoolError: "overspend account"}},
		},
	}
	fs := newFakeStore()
	a := testAnchorer(t, fl, fs, nil)

	_, err := a.Anchor(context.Background(), backend.LogTypeHarvest,
		testPayload(), "System")
	var re RejectedError
	if !errors.As(err, &re) {
		t.Fatalf("got %v, want RejectedError", err)
	}
	if re.Reason != "overspend account" {
		t.Fatalf("reason %v", re.Reason)
	}
	// Rejection is terminal; no waiting for further rounds.
	if fl.waitCalls != 0 {
		t.Fatalf("waited %v rounds after rejection", fl.waitCalls)
	}
	if len(fs.records) != 0 {
		t.Fatal("record updated after rejection")
	}
}

func TestAnchorTimeout(t *testing.T) {
	fl := &fakeLedger{} // never confirms
	fs := newFakeStore()
	a := testAnchorer(t, fl, fs, nil)

	_, err := a.Anchor(context.Background(), backend.LogTypeHarvest,
		testPayload(), "System")
	if !errors.Is(err, ErrConfirmationTimeout) {
		t.Fatalf("got %v, want %v", err, ErrConfirmationTimeout)
	}
	// The budget is exactly four rounds.
	if fl.pendingCalls != 4 {
		t.Fatalf("polled %v times, want 4", fl.pendingCalls)
	}
	if fl.waitCalls != 4 {
		t.Fatalf("waited %v rounds, want 4", fl.waitCalls)
	}
	if fl.submitCalls != 1 {
		t.Fatalf("submitted %v times, want 1", fl.submitCalls)
	}
	if len(fs.records) != 0 {
		t.Fatal("record updated after timeout")
	}
}

func TestAnchorConfirmedMidBudget(t *testing.T) {
	fl := &fakeLedger{
		pending: []pendingAnswer{
			{}, {},
			{res: ledger.PendingResult{ConfirmedRound: 1003}},
		},
	}
	fs := newFakeStore()
	a := testAnchorer(t, fl, fs, nil)

	res, err := a.Anchor(context.Background(), backend.LogTypeStorage,
		testPayload(), "System")
	if err != nil {
		t.Fatal(err)
	}
	if res.ConfirmedRound != 1003 {
		t.Fatalf("confirmed round %v, want 1003", res.ConfirmedRound)
	}
	if fl.pendingCalls != 3 {
		t.Fatalf("polled %v times, want 3", fl.pendingCalls)
	}
	if fl.waitCalls != 2 {
		t.Fatalf("waited %v rounds, want 2", fl.waitCalls)
	}
}

func TestAnchorPollTransportErrors(t *testing.T) {
	defer func(d time.Duration) { pollRetryWait = d }(pollRetryWait)
	pollRetryWait = time.Millisecond

	netErr := errors.New("connection reset")
	tests := []struct {
		name        string
		pending     []pendingAnswer
		waitErrs    []error
		wantErr     error
		wantPending int
		wantWait    int
	}{{
		// Each failed lookup burns a round with no round wait.
		name: "errors consume the whole budget",
		pending: []pendingAnswer{
			{err: netErr}, {err: netErr}, {err: netErr}, {err: netErr},
		},
		wantErr:     ErrConfirmationTimeout,
		wantPending: 4,
		wantWait:    0,
	}, {
		name: "mixed errors and quiet rounds time out",
		pending: []pendingAnswer{
			{err: netErr}, {}, {err: netErr}, {},
		},
		wantErr:     ErrConfirmationTimeout,
		wantPending: 4,
		wantWait:    2,
	}, {
		name: "confirmation after an error succeeds",
		pending: []pendingAnswer{
			{err: netErr}, {},
			{res: ledger.PendingResult{ConfirmedRound: 1003}},
		},
		wantPending: 3,
		wantWait:    1,
	}, {
		name: "round wait errors are not terminal",
		pending: []pendingAnswer{
			{},
			{res: ledger.PendingResult{ConfirmedRound: 1002}},
		},
		waitErrs:    []error{netErr},
		wantPending: 2,
		wantWait:    1,
	}}

	for _, test := range tests {
		fl := &fakeLedger{
			pending:  test.pending,
			waitErrs: test.waitErrs,
		}
		fs := newFakeStore()
		a := testAnchorer(t, fl, fs, nil)

		_, err := a.Anchor(context.Background(),
			backend.LogTypeHarvest, testPayload(), "System")
		if test.wantErr != nil {
			if !errors.Is(err, test.wantErr) {
				t.Errorf("%v: got %v, want %v", test.name, err,
					test.wantErr)
			}
		} else if err != nil {
			t.Errorf("%v: %v", test.name, err)
		}
		if fl.pendingCalls != test.wantPending {
			t.Errorf("%v: polled %v times, want %v", test.name,
				fl.pendingCalls, test.wantPending)
		}
		if fl.waitCalls != test.wantWait {
			t.Errorf("%v: waited %v rounds, want %v", test.name,
				fl.waitCalls, test.wantWait)
		}
		if fl.submitCalls != 1 {
			t.Errorf("%v: submitted %v times, want 1", test.name,
				fl.submitCalls)
		}
	}
}

func TestAnchorAbortedRequestContext(t *testing.T) {
	defer func(d time.Duration) { pollRetryWait = d }(pollRetryWait)
	pollRetryWait = time.Millisecond

	// The transport error forces the poller through its context check; a
	// poller still bound to the aborted request context would bail out
	// with context.Canceled instead of confirming.
	fl := &fakeLedger{
		pending: []pendingAnswer{
			{err: errors.New("connection reset")},
			{res: ledger.PendingResult{ConfirmedRound: 1002}},
		},
	}
	fs := newFakeStore()
	a := testAnchorer(t, fl, fs, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// An aborted request must not abandon the broadcast transaction:
	// confirmation and persistence still complete.
	payload := testPayload()
	res, err := a.Anchor(ctx, backend.LogTypeHarvest, payload, "System")
	if err != nil {
		t.Fatal(err)
	}
	if res.ConfirmedRound != 1002 {
		t.Fatalf("confirmed round %v, want 1002", res.ConfirmedRound)
	}
	if _, ok := fs.records[fs.key(backend.LogTypeHarvest,
		payload["logID"].(string))]; !ok {
		t.Fatal("record not updated after request abort")
	}
}

func TestAnchorRecordNotFound(t *testing.T) {
	fl := &fakeLedger{
		pending: []pendingAnswer{
			{res: ledger.PendingResult{ConfirmedRound: 1001}},
		},
	}
	fs := newFakeStore()
	payload := testPayload()
	logID := payload["logID"].(string)
	fs.missing[fs.key(backend.LogTypeHarvest, logID)] = true

	j, err := journal.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	a := testAnchorer(t, fl, fs, j)

	_, err = a.Anchor(context.Background(), backend.LogTypeHarvest,
		payload, "System")
	if !errors.Is(err, backend.ErrRecordNotFound) {
		t.Fatalf("got %v, want %v", err, backend.ErrRecordNotFound)
	}

	// The confirmed transaction must be journaled for reconciliation.
	entries, err := j.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("journaled %v entries, want 1", len(entries))
	}
	if entries[0].LogID != logID {
		t.Fatalf("journaled log id %v, want %v", entries[0].LogID,
			logID)
	}
}

func TestAnchorDeterministicTxID(t *testing.T) {
	// Identical payload and identical parameters must produce the same
	// transaction, so the txid is known before submission.
	confirmed := func() []pendingAnswer {
		return []pendingAnswer{
			{res: ledger.PendingResult{ConfirmedRound: 1001}},
		}
	}
	fl1 := &fakeLedger{pending: confirmed()}
	fl2 := &fakeLedger{pending: confirmed()}
	fs := newFakeStore()

	sender := testAccount(t)
	receiver := crypto.GenerateAccount().Address
	newA := func(fl *fakeLedger) *Anchorer {
		a, err := New(Config{
			Ledger:      fl,
			Store:       fs,
			Sender:      sender,
			Receiver:    receiver,
			WaitRounds:  4,
			NoteLimit:   1024,
			ExplorerURL: "https://testnet.explorer.perawallet.app/tx/%v",
		})
		if err != nil {
			t.Fatal(err)
		}
		return a
	}

	res1, err := newA(fl1).Anchor(context.Background(),
		backend.LogTypeHarvest, testPayload(), "System")
	if err != nil {
		t.Fatal(err)
	}
	res2, err := newA(fl2).Anchor(context.Background(),
		backend.LogTypeHarvest, testPayload(), "System")
	if err != nil {
		t.Fatal(err)
	}
	if res1.TxID != res2.TxID {
		t.Fatalf("txids differ: %v %v", res1.TxID, res2.TxID)
	}
}

func TestReconcileOrphans(t *testing.T) {
	fs := newFakeStore()
	fs.missing[fs.key(backend.LogTypeStorage, "gone")] = true

	j, err := journal.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	a := testAnchorer(t, &fakeLedger{}, fs, j)

	entries := []journal.Entry{
		{
			TxID:    "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
			LogType: backend.LogTypeHarvest,
			LogID:   "present",
			Update:  backend.AnchorUpdate{TxID: "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"},
		},
		{
			TxID:    "CCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC",
			LogType: backend.LogTypeStorage,
			LogID:   "gone",
			Update:  backend.AnchorUpdate{TxID: "CCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC"},
		},
	}
	for _, e := range entries {
		if err := j.Add(e); err != nil {
			t.Fatal(err)
		}
	}

	n, err := a.ReconcileOrphans()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("reconciled %v entries, want 1", n)
	}

	left, err := j.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 || left[0].LogID != "gone" {
		t.Fatalf("journal left with %+v", left)
	}
	if _, ok := fs.records[fs.key(backend.LogTypeHarvest, "present")]; !ok {
		t.Fatal("present record not reconciled")
	}
}
