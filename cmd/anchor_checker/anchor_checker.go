// Copyright (c) 2023-2024 The FoodPrint developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// anchor_checker verifies, without involving the daemon, that an anchored
// payload really exists on the ledger.  It recomputes the payload digest and
// compares it against the note of the transaction as reported by a public
// indexer.
package main

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	v1 "github.com/foodprint/anchor/api/v1"
	"github.com/foodprint/anchor/util"
)

const (
	mainnetIndexer = "https://mainnet-idx.algonode.cloud/"
	testnetIndexer = "https://testnet-idx.algonode.cloud/"
)

var (
	file        = flag.String("f", "", "Payload file")
	tx          = flag.String("tx", "", "Anchoring transaction id")
	indexerHost = flag.String("h", "", "Indexer host")
	raw         = flag.Bool("raw", false, "Digest the file bytes as stored "+
		"instead of re-serializing the JSON payload")
	testnet = flag.Bool("testnet", false, "Use testnet indexer")
	verbose = flag.Bool("v", false, "Verbose")
)

// payloadDigest parses the payload file and digests its canonical JSON
// rendering, the same bytes the daemon put in the transaction note.
func payloadDigest(filename string) (string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var payload map[string]interface{}
	decoder := json.NewDecoder(f)
	if err := decoder.Decode(&payload); err != nil {
		return "", fmt.Errorf("invalid payload JSON: %v", err)
	}

	note, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	d := sha256.Sum256(note)
	return base64.StdEncoding.EncodeToString(d[:]), nil
}

func _main() error {
	flag.Parse()

	if *file == "" {
		return fmt.Errorf("-f must be set")
	}
	if !v1.RegexpTxID.MatchString(*tx) {
		return fmt.Errorf("-tx must be a valid transaction id")
	}

	host := *indexerHost
	if host == "" {
		host = mainnetIndexer
		if *testnet {
			host = testnetIndexer
		}
	}
	if !strings.HasSuffix(host, "/") {
		host += "/"
	}

	var (
		digest string
		err    error
	)
	if *raw {
		digest, err = util.DigestFile(*file)
	} else {
		digest, err = payloadDigest(*file)
	}
	if err != nil {
		return err
	}
	if *verbose {
		fmt.Printf("%v  Digest\n", digest)
	}

	err = util.VerifyAnchor(host, *tx, digest)
	if err != nil {
		return err
	}
	if *verbose {
		fmt.Printf("%v  Anchor OK\n", *tx)
	}

	return nil
}

func main() {
	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
