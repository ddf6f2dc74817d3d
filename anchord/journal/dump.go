// Copyright (c) 2023-2024 The FoodPrint developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package journal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

func dumpEntry(f *os.File, human bool, e Entry) error {
	if human {
		fmt.Fprintf(f, "Tx             : %v\n", e.TxID)
		fmt.Fprintf(f, "Log type       : %v\n", e.LogType)
		fmt.Fprintf(f, "Log id         : %v\n", e.LogID)
		fmt.Fprintf(f, "Digest         : %v\n", e.Update.HashID)
		fmt.Fprintf(f, "Chain timestamp: %v\n", e.Update.Date.Unix())
		fmt.Fprintf(f, "Submitted      : %v -> %v\n", e.Submitted,
			time.Unix(e.Submitted, 0).UTC())
		return nil
	}
	return json.NewEncoder(f).Encode(e)
}

// Dump writes every journaled anchor to f in either human readable or JSON
// format.  The JSON form is one entry per line and is accepted by Restore.
func (j *Journal) Dump(f *os.File, human bool) error {
	entries, err := j.All()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := dumpEntry(f, human, e); err != nil {
			return err
		}
	}
	return nil
}

// Restore reads JSON encoded entries from r, as produced by Dump, and adds
// them to the journal.  It returns the number of entries restored.
func (j *Journal) Restore(r io.Reader) (int, error) {
	d := json.NewDecoder(r)
	var count int
	for {
		var e Entry
		err := d.Decode(&e)
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, err
		}
		if e.TxID == "" {
			return count, fmt.Errorf("entry %v: empty transaction id",
				count)
		}
		if err := j.Add(e); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
