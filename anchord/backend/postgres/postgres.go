// Copyright (c) 2023-2024 The FoodPrint developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package postgres implements the backend.Store interface against the
// FoodPrint postgres database.  Schema and migrations are owned by the web
// application; this package only issues the per record anchoring UPDATE and
// read only lookups.
package postgres

import (
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"

	_ "github.com/lib/pq"

	"github.com/foodprint/anchor/anchord/backend"
)

var _ backend.Store = (*Postgres)(nil)

// Postgres is the postgres implementation of a store.
type Postgres struct {
	db *sql.DB
}

// Update satisfies the store interface.  The statement is a single
// parameterized UPDATE keyed by the unique log id; concurrent anchors for
// different records proceed independently on the database's row locks.
func (pg *Postgres) Update(logType backend.LogType, logID string, u backend.AnchorUpdate) error {
	spec, ok := backend.Tables[logType]
	if !ok {
		return fmt.Errorf("unknown log type %v", logType)
	}

	res, err := pg.db.Exec(updateQuery(spec), u.HashID, u.HashData,
		u.Date, u.By, u.TxID, u.ExplorerURL, logID)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return backend.ErrRecordNotFound
	}

	log.Debugf("Update %v %v: %v row(s)", logType, logID, n)

	return nil
}

// LastAnchor satisfies the store interface.
func (pg *Postgres) LastAnchor(logType backend.LogType) (*backend.LastAnchorResult, error) {
	spec, ok := backend.Tables[logType]
	if !ok {
		return nil, fmt.Errorf("unknown log type %v", logType)
	}

	var la backend.LastAnchorResult
	err := pg.db.QueryRow(lastAnchorQuery(spec)).Scan(&la.LogID, &la.TxID,
		&la.Date)
	if err == sql.ErrNoRows {
		return nil, backend.ErrNoAnchors
	}
	if err != nil {
		return nil, err
	}

	return &la, nil
}

// Close satisfies the store interface.
func (pg *Postgres) Close() {
	pg.db.Close()
}

func buildQueryString(rootCert, cert, key string) string {
	v := url.Values{}
	if rootCert == "" {
		v.Set("sslmode", "disable")
		return v.Encode()
	}
	v.Set("sslmode", "require")
	v.Set("sslrootcert", filepath.Clean(rootCert))
	v.Set("sslcert", filepath.Clean(cert))
	v.Set("sslkey", filepath.Clean(key))
	return v.Encode()
}

// New creates a new store instance.  The caller should issue a Close once
// the store is no longer needed.
func New(user, host, dbName, rootCert, cert, key string) (*Postgres, error) {
	log.Tracef("New: %v %v %v", user, host, dbName)

	h := "postgresql://" + user + "@" + host + "/" + dbName
	u, err := url.Parse(h)
	if err != nil {
		return nil, fmt.Errorf("parse url '%v': %v", h, err)
	}

	qs := buildQueryString(rootCert, cert, key)
	addr := u.String() + "?" + qs

	db, err := sql.Open("postgres", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to database '%v': %v", addr, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database '%v': %v", host, err)
	}

	log.Infof("Database: %v/%v", host, dbName)

	return &Postgres{db: db}, nil
}
