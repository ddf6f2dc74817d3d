// Copyright (c) 2023-2024 The FoodPrint developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/robfig/cron"

	v1 "github.com/foodprint/anchor/api/v1"
	"github.com/foodprint/anchor/anchord/account"
	"github.com/foodprint/anchor/anchord/anchor"
	"github.com/foodprint/anchor/anchord/backend"
	"github.com/foodprint/anchor/anchord/backend/postgres"
	"github.com/foodprint/anchor/anchord/journal"
	"github.com/foodprint/anchor/anchord/ledger"
	"github.com/foodprint/anchor/util"
)

const (
	forward = "X-Forwarded-For"

	// connectRetries and connectWait bound the startup ledger probe.
	connectRetries = 5
	connectWait    = 5 * time.Second
)

// Anchord application context.
type Anchord struct {
	cfg      *config
	router   *mux.Router
	ctx      context.Context
	ledger   ledger.Caller
	store    backend.Store
	journal  *journal.Journal
	anchorer *anchor.Anchorer
	cron     *cron.Cron
	network  string
}

// via returns the client identity for the audit trail, honoring the
// forwarding header set by the web application's proxy.
func via(r *http.Request) string {
	xff := r.Header.Get(forward)
	if xff != "" {
		return fmt.Sprintf("%v via %v", xff, r.RemoteAddr)
	}
	return r.RemoteAddr
}

// anchorRecord runs the anchoring workflow for one inbound request and
// translates workflow errors to HTTP status codes.
func (a *Anchord) anchorRecord(w http.ResponseWriter, r *http.Request, logType backend.LogType) {
	var payload map[string]interface{}
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&payload); err != nil {
		util.RespondWithError(w, http.StatusBadRequest,
			"Invalid request payload")
		return
	}
	defer r.Body.Close()

	actor := r.Header.Get(v1.ActorHeader)
	if actor == "" {
		actor = "System"
	}

	res, err := a.anchorer.Anchor(r.Context(), logType, payload, actor)
	if err != nil {
		switch {
		case errors.Is(err, anchor.ErrEmptyPayload):
			util.RespondWithError(w, http.StatusBadRequest,
				"Anchoring payload must not be empty")
		case errors.Is(err, anchor.ErrMissingLogID):
			util.RespondWithError(w, http.StatusBadRequest,
				"Anchoring payload must carry a valid logID")
		case errors.Is(err, anchor.ErrPayloadTooLarge):
			util.RespondWithError(w, http.StatusBadRequest,
				fmt.Sprintf("Anchoring payload exceeds the %v "+
					"byte note limit", a.cfg.NoteLimit))
		case errors.Is(err, backend.ErrRecordNotFound):
			// The transaction is on the ledger but the record is
			// gone.  Journaled for reconciliation; tell the
			// caller something distinct from a generic failure.
			errorCode := time.Now().Unix()
			log.Criticalf("%v anchor %v error code %v: %v", via(r),
				logType, errorCode, err)
			util.RespondWithError(w, http.StatusInternalServerError,
				fmt.Sprintf("Log was anchored but no matching "+
					"record was found, contact administrator"+
					" and provide the following error code: "+
					"%v", errorCode))
		default:
			errorCode := time.Now().Unix()
			log.Errorf("%v anchor %v error code %v: %v", via(r),
				logType, errorCode, err)
			util.RespondWithError(w, http.StatusInternalServerError,
				fmt.Sprintf("Could not anchor log, contact "+
					"administrator and provide the following "+
					"error code: %v", errorCode))
		}
		return
	}

	log.Infof("Anchor %v: %v %v confirmed round %v tx %v", via(r), logType,
		res.Digest, res.ConfirmedRound, res.TxID)

	util.RespondWithJSON(w, http.StatusCreated, v1.AnchorReply{
		Success:       true,
		Message:       "Log successfully added to blockchain",
		TransactionID: res.TxID,
		ExplorerURL:   res.ExplorerURL,
	})
}

func (a *Anchord) anchorHarvest(w http.ResponseWriter, r *http.Request) {
	a.anchorRecord(w, r, backend.LogTypeHarvest)
}

func (a *Anchord) anchorStorage(w http.ResponseWriter, r *http.Request) {
	a.anchorRecord(w, r, backend.LogTypeStorage)
}

// status reports the daemon's view of the ledger node.
func (a *Anchord) status(w http.ResponseWriter, r *http.Request) {
	st, err := a.ledger.Status(r.Context())
	if err != nil {
		log.Errorf("%v status: %v", via(r), err)
		util.RespondWithJSON(w, http.StatusInternalServerError,
			v1.StatusReply{
				Connected: false,
				Network:   a.network,
			})
		return
	}
	util.RespondWithJSON(w, http.StatusOK, v1.StatusReply{
		Connected:   true,
		Network:     a.network,
		LastRound:   st.LastRound,
		NodeVersion: st.NodeVersion,
	})
}

// lastAnchor reports the most recently anchored record of the requested log
// type.
func (a *Anchord) lastAnchor(w http.ResponseWriter, r *http.Request) {
	logTypeParam := mux.Vars(r)["logtype"]
	var logType backend.LogType
	switch logTypeParam {
	case v1.LogTypeHarvest:
		logType = backend.LogTypeHarvest
	case v1.LogTypeStorage:
		logType = backend.LogTypeStorage
	default:
		util.RespondWithError(w, http.StatusBadRequest,
			fmt.Sprintf("Invalid log type: %v", logTypeParam))
		return
	}

	last, err := a.store.LastAnchor(logType)
	if err != nil {
		if errors.Is(err, backend.ErrNoAnchors) {
			util.RespondWithError(w, http.StatusNotFound,
				fmt.Sprintf("No anchored %v logs", logTypeParam))
			return
		}
		errorCode := time.Now().Unix()
		log.Errorf("%v last anchor error code %v: %v", via(r),
			errorCode, err)
		util.RespondWithError(w, http.StatusInternalServerError,
			fmt.Sprintf("Could not retrieve last anchor, contact "+
				"administrator and provide the following error "+
				"code: %v", errorCode))
		return
	}

	util.RespondWithJSON(w, http.StatusOK, v1.LastAnchorReply{
		LogType:       logTypeParam,
		LogID:         last.LogID,
		TransactionID: last.TxID,
		ChainDate:     last.Date.UTC().Format(time.RFC3339),
		ExplorerURL:   fmt.Sprintf(a.cfg.ExplorerURL, last.TxID),
	})
}

func _main() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	loadedCfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("Could not load configuration file: %v", err)
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	network := "mainnet"
	if loadedCfg.TestNet {
		network = "testnet"
	}
	log.Infof("Version : %v", version())
	log.Infof("Network : %v", network)
	log.Infof("Home dir: %v", loadedCfg.HomeDir)

	// Create the data directory in case it does not exist.
	err = os.MkdirAll(loadedCfg.DataDir, 0700)
	if err != nil {
		return err
	}

	// Generate the TLS cert and key file if both don't already
	// exist.
	if !util.FileExists(loadedCfg.HTTPSKey) &&
		!util.FileExists(loadedCfg.HTTPSCert) {
		log.Infof("Generating HTTPS keypair...")

		err := util.GenCertPair("anchord", loadedCfg.HTTPSCert,
			loadedCfg.HTTPSKey)
		if err != nil {
			return fmt.Errorf("unable to create https keypair: %v",
				err)
		}

		log.Infof("HTTPS keypair created...")
	}

	// Recover both configured accounts before touching the network.  A
	// bad phrase or address mismatch aborts startup.
	sender, err := account.Recover(loadedCfg.Account1Mnemonic,
		loadedCfg.Account1Address)
	if err != nil {
		return fmt.Errorf("recover account 1: %w", err)
	}
	receiver, err := account.Recover(loadedCfg.Account2Mnemonic,
		loadedCfg.Account2Address)
	if err != nil {
		return fmt.Errorf("recover account 2: %w", err)
	}
	log.Infof("Anchoring account: %v", sender.Address)
	log.Infof("Receiving account: %v", receiver.Address)

	// Setup application context.
	a := &Anchord{
		cfg:     loadedCfg,
		ctx:     context.Background(),
		network: network,
	}

	// Ledger session with a bounded connectivity probe.
	algodLedger, err := ledger.New(loadedCfg.AlgodHost, loadedCfg.AlgodToken)
	if err != nil {
		return err
	}
	st, err := algodLedger.Connect(a.ctx, connectRetries, connectWait)
	if err != nil {
		return fmt.Errorf("cannot reach ledger node %v: %v",
			loadedCfg.AlgodHost, err)
	}
	a.ledger = algodLedger
	log.Infof("Ledger round %v, node version %v", st.LastRound,
		st.NodeVersion)

	// Relational store owned by the web application.
	a.store, err = postgres.New(loadedCfg.PostgresUser,
		loadedCfg.PostgresHost, loadedCfg.PostgresDB,
		loadedCfg.PostgresRootCert, loadedCfg.PostgresCert,
		loadedCfg.PostgresKey)
	if err != nil {
		return err
	}
	defer a.store.Close()

	// Orphan journal.
	a.journal, err = journal.New(filepath.Join(loadedCfg.DataDir,
		"journal"))
	if err != nil {
		return err
	}
	defer a.journal.Close()

	a.anchorer, err = anchor.New(anchor.Config{
		Ledger:      a.ledger,
		Store:       a.store,
		Journal:     a.journal,
		Sender:      sender,
		Receiver:    receiver.Address,
		WaitRounds:  loadedCfg.AnchorWait,
		NoteLimit:   loadedCfg.NoteLimit,
		ExplorerURL: loadedCfg.ExplorerURL,
		BaseCtx:     a.ctx,
	})
	if err != nil {
		return err
	}

	// Sweep the orphan journal once a minute.
	a.cron = cron.New()
	err = a.cron.AddFunc("10 * * * * *", func() {
		n, err := a.anchorer.ReconcileOrphans()
		if err != nil {
			log.Errorf("Journal sweep: %v", err)
			return
		}
		if n != 0 {
			log.Infof("Journal sweep: reconciled %v anchors", n)
		}
	})
	if err != nil {
		return err
	}
	a.cron.Start()
	defer a.cron.Stop()

	// Setup mux.
	a.router = mux.NewRouter()
	a.router.HandleFunc(v1.AnchorHarvestRoute,
		a.anchorHarvest).Methods("POST")
	a.router.HandleFunc(v1.AnchorStorageRoute,
		a.anchorStorage).Methods("POST")
	a.router.HandleFunc(v1.StatusRoute, a.status).Methods("GET")
	a.router.HandleFunc(v1.LastAnchorRoute+"{logtype:[a-z]+}",
		a.lastAnchor).Methods("GET")

	h := handlers.RecoveryHandler()(
		handlers.CombinedLoggingHandler(logWriter{}, a.router))

	// Bind to a port and pass our router in.
	listenC := make(chan error)
	for _, listener := range loadedCfg.Listeners {
		listen := listener
		go func() {
			log.Infof("Listen: %v", listen)
			listenC <- http.ListenAndServeTLS(listen,
				loadedCfg.HTTPSCert, loadedCfg.HTTPSKey, h)
		}()
	}

	// Tell user we are ready to go.
	log.Infof("Start of day")

	// Setup OS signals
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case sig := <-sigs:
			log.Infof("Terminating with %v", sig)
			goto done
		case err := <-listenC:
			log.Errorf("%v", err)
			goto done
		}
	}
done:

	log.Infof("Exiting")

	return nil
}

func main() {
	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
