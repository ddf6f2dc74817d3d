// Copyright (c) 2023-2024 The FoodPrint developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package journal persists anchoring outcomes whose relational update did
// not land: the record was missing, the database was unreachable, or the
// daemon was interrupted after broadcast.  Ledger transactions cannot be
// retracted, so the transaction id and its pending update are kept on disk
// until a sweep or an operator reconciles them.
package journal

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/foodprint/anchor/anchord/backend"
)

var (
	// ErrNotFound is returned when the requested transaction id is not
	// journaled.
	ErrNotFound = errors.New("journal entry not found")
)

// Entry is one orphaned anchor.  The key is the ledger transaction id,
// which is unique by construction.
type Entry struct {
	TxID      string               `json:"txid"`
	LogType   backend.LogType      `json:"logtype"`
	LogID     string               `json:"logid"`
	Update    backend.AnchorUpdate `json:"update"`
	Submitted int64                `json:"submitted"` // Unix time of broadcast
}

// Journal is a leveldb backed set of orphaned anchors.
type Journal struct {
	sync.Mutex

	db *leveldb.DB
}

// encodeEntry encodes the given Entry to a []byte.
func encodeEntry(e Entry) ([]byte, error) {
	return json.Marshal(e)
}

// decodeEntry decodes the given []byte payload to an Entry.
func decodeEntry(payload []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Add journals an orphaned anchor.  Re-adding the same transaction id
// overwrites the previous entry; the payload is identical by construction.
func (j *Journal) Add(e Entry) error {
	j.Lock()
	defer j.Unlock()

	if e.Submitted == 0 {
		e.Submitted = time.Now().Unix()
	}
	payload, err := encodeEntry(e)
	if err != nil {
		return err
	}
	err = j.db.Put([]byte(e.TxID), payload, nil)
	if err != nil {
		return err
	}

	log.Infof("Journaled orphaned anchor: tx %v %v %v", e.TxID, e.LogType,
		e.LogID)

	return nil
}

// Remove drops a reconciled anchor from the journal.
func (j *Journal) Remove(txID string) error {
	j.Lock()
	defer j.Unlock()

	found, err := j.db.Has([]byte(txID), nil)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return j.db.Delete([]byte(txID), nil)
}

// All returns every journaled anchor, oldest submission first.
func (j *Journal) All() ([]Entry, error) {
	j.Lock()
	defer j.Unlock()

	var entries []Entry
	iter := j.db.NewIterator(nil, nil)
	for iter.Next() {
		e, err := decodeEntry(iter.Value())
		if err != nil {
			iter.Release()
			return nil, err
		}
		entries = append(entries, *e)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, err
	}

	for i := 1; i < len(entries); i++ {
		for k := i; k > 0 && entries[k].Submitted < entries[k-1].Submitted; k-- {
			entries[k], entries[k-1] = entries[k-1], entries[k]
		}
	}

	return entries, nil
}

// Close releases the underlying database.
func (j *Journal) Close() {
	j.Lock()
	defer j.Unlock()
	j.db.Close()
}

// New opens, creating if necessary, the journal database at the provided
// directory.  The caller should issue a Close once the journal is no longer
// needed.
func New(root string) (*Journal, error) {
	db, err := leveldb.OpenFile(root, nil)
	if err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

// NewRO opens an existing journal read only, for the dump tool.
func NewRO(root string) (*Journal, error) {
	db, err := leveldb.OpenFile(root, &opt.Options{
		ErrorIfMissing: true,
		ReadOnly:       true,
	})
	if err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}
