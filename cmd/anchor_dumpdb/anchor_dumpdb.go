// Copyright (c) 2023-2024 The FoodPrint developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// anchor_dumpdb dumps and restores the daemon's orphan journal, the on disk
// set of confirmed anchoring transactions whose relational update has not
// landed yet.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/davecgh/go-spew/spew"
	"github.com/decred/dcrd/dcrutil/v2"

	"github.com/foodprint/anchor/anchord/journal"
)

var (
	defaultHomeDir = dcrutil.AppDataDir("anchord", false)

	destination = flag.String("destination", "", "Restore destination")
	dumpJSON    = flag.Bool("json", false, "Dump JSON")
	dumpSpew    = flag.Bool("spew", false, "Dump raw entries with spew")
	restore     = flag.Bool("restore", false, "Restore journal from stdin, "+
		"-destination is required")
	source  = flag.String("source", "", "Source directory")
	testnet = flag.Bool("testnet", false, "Use testnet home directory")
)

func _main() error {
	flag.Parse()

	if *restore {
		if *destination == "" {
			return fmt.Errorf("-destination must be set")
		}
		j, err := journal.New(*destination)
		if err != nil {
			return err
		}
		defer j.Close()

		n, err := j.Restore(os.Stdin)
		if err != nil {
			return err
		}
		fmt.Printf("Restored %v entries\n", n)
		return nil
	}

	root := *source
	if root == "" {
		net := "mainnet"
		if *testnet {
			net = "testnet"
		}
		root = filepath.Join(defaultHomeDir, "data", net, "journal")
	}

	j, err := journal.NewRO(root)
	if err != nil {
		return err
	}
	defer j.Close()

	if *dumpSpew {
		entries, err := j.All()
		if err != nil {
			return err
		}
		spew.Fdump(os.Stdout, entries)
		return nil
	}

	if !*dumpJSON {
		fmt.Printf("=== Root: %v\n", root)
	}
	return j.Dump(os.Stdout, !*dumpJSON)
}

func main() {
	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
