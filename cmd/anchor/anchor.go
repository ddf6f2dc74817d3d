// Copyright (c) 2023-2024 The FoodPrint developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"

	v1 "github.com/foodprint/anchor/api/v1"
)

var (
	testnet   = flag.Bool("testnet", false, "Use testnet port")
	debug     = flag.Bool("debug", false, "Print JSON that is sent to server")
	printJson = flag.Bool("json", false, "Print JSON response from server")
	host      = flag.String("h", "", "Anchoring host")
	logType   = flag.String("t", v1.LogTypeHarvest, "Log type {harvest, storage}")
	actor     = flag.String("by", "", "Actor recorded alongside the anchor")
	fileIn    = flag.String("f", "", "JSON payload file, - for stdin")
	verbose   = flag.Bool("v", false, "Verbose")
	last      = flag.Bool("last", false, "Show last anchored log of the type")
	status    = flag.Bool("status", false, "Show ledger connection status")
)

// normalizeAddress returns addr with the passed default port appended if
// there is not already a port specified.
func normalizeAddress(addr, defaultPort string) string {
	_, _, err := net.SplitHostPort(addr)
	if err != nil {
		return net.JoinHostPort(addr, defaultPort)
	}
	return addr
}

// getError returns the error that is embedded in a JSON reply.
func getError(r io.Reader) (string, error) {
	var e interface{}
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&e); err != nil {
		return "", err
	}
	m, ok := e.(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("could not decode response")
	}
	rError, ok := m["error"]
	if !ok {
		return "", fmt.Errorf("no error response")
	}
	return fmt.Sprintf("%v", rError), nil
}

func newClient(skipVerify bool) *http.Client {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: skipVerify,
	}
	tr := &http.Transport{
		TLSClientConfig: tlsConfig,
	}
	return &http.Client{Transport: tr}
}

// loadPayload reads the anchoring payload from the provided file, stdin when
// the name is "-", or from key=value command line arguments.
func loadPayload(args []string) (map[string]interface{}, error) {
	if *fileIn != "" {
		var r io.Reader
		if *fileIn == "-" {
			r = os.Stdin
		} else {
			f, err := os.Open(*fileIn)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			r = f
		}
		var payload map[string]interface{}
		decoder := json.NewDecoder(r)
		if err := decoder.Decode(&payload); err != nil {
			return nil, fmt.Errorf("invalid payload JSON: %v", err)
		}
		return payload, nil
	}

	payload := make(map[string]interface{})
	for _, arg := range args {
		k, v, found := strings.Cut(arg, "=")
		if !found || k == "" {
			return nil, fmt.Errorf("invalid field %q, want key=value",
				arg)
		}
		payload[k] = v
	}
	return payload, nil
}

func anchorRoute() (string, error) {
	switch *logType {
	case v1.LogTypeHarvest:
		return v1.AnchorHarvestRoute, nil
	case v1.LogTypeStorage:
		return v1.AnchorStorageRoute, nil
	}
	return "", fmt.Errorf("invalid log type %q", *logType)
}

func handleReply(r *http.Response, reply interface{}) error {
	if r.StatusCode != http.StatusOK && r.StatusCode != http.StatusCreated {
		e, err := getError(r.Body)
		if err != nil {
			return fmt.Errorf("%v", r.Status)
		}
		return fmt.Errorf("%v: %v", r.Status, e)
	}

	if *printJson {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		fmt.Println(string(body))
		return json.Unmarshal(body, reply)
	}
	decoder := json.NewDecoder(r.Body)
	return decoder.Decode(reply)
}

func showStatus(c *http.Client, u string) error {
	r, err := c.Get(u + v1.StatusRoute)
	if err != nil {
		return err
	}
	defer r.Body.Close()

	var sr v1.StatusReply
	if err := handleReply(r, &sr); err != nil {
		return err
	}
	if *printJson {
		return nil
	}
	fmt.Printf("Connected   : %v\n", sr.Connected)
	fmt.Printf("Network     : %v\n", sr.Network)
	fmt.Printf("Last round  : %v\n", sr.LastRound)
	fmt.Printf("Node version: %v\n", sr.NodeVersion)
	return nil
}

func showLast(c *http.Client, u string) error {
	r, err := c.Get(u + v1.LastAnchorRoute + *logType)
	if err != nil {
		return err
	}
	defer r.Body.Close()

	var lr v1.LastAnchorReply
	if err := handleReply(r, &lr); err != nil {
		return err
	}
	if *printJson {
		return nil
	}
	fmt.Printf("Log type   : %v\n", lr.LogType)
	fmt.Printf("Log id     : %v\n", lr.LogID)
	fmt.Printf("Tx         : %v\n", lr.TransactionID)
	fmt.Printf("Chain date : %v\n", lr.ChainDate)
	fmt.Printf("Explorer   : %v\n", lr.ExplorerURL)
	return nil
}

func anchor(c *http.Client, u string, payload map[string]interface{}) error {
	route, err := anchorRoute()
	if err != nil {
		return err
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	// Catch a missing or malformed logID before contacting the server.
	var an v1.Anchor
	if err := json.Unmarshal(b, &an); err != nil {
		return err
	}
	if !v1.RegexpLogID.MatchString(an.LogID) {
		return fmt.Errorf("payload must carry a valid logID field")
	}
	if *debug {
		fmt.Println(string(b))
	}

	req, err := http.NewRequest("POST", u+route, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if *actor != "" {
		req.Header.Set(v1.ActorHeader, *actor)
	}

	r, err := c.Do(req)
	if err != nil {
		return err
	}
	defer r.Body.Close()

	var ar v1.AnchorReply
	if err := handleReply(r, &ar); err != nil {
		return err
	}
	if *printJson {
		return nil
	}

	if *verbose {
		fmt.Printf("Message : %v\n", ar.Message)
	}
	fmt.Printf("Tx      : %v\n", ar.TransactionID)
	fmt.Printf("Explorer: %v\n", ar.ExplorerURL)
	return nil
}

func _main() error {
	flag.Parse()

	// Determine server.
	var anchorHost string
	port := v1.DefaultMainnetPort
	if *testnet {
		port = v1.DefaultTestnetPort
	}
	switch {
	case *host != "":
		anchorHost = *host
	default:
		anchorHost = "127.0.0.1"
	}
	anchorHost = normalizeAddress(anchorHost, port)

	u, err := url.Parse("https://" + anchorHost)
	if err != nil {
		return err
	}

	// The daemon serves a self signed certificate on private deployments.
	c := newClient(true)

	switch {
	case *status:
		return showStatus(c, u.String())
	case *last:
		return showLast(c, u.String())
	}

	payload, err := loadPayload(flag.Args())
	if err != nil {
		return err
	}
	return anchor(c, u.String(), payload)
}

func main() {
	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
