package main

import (
	"context"
	"encoding/json"
	"log"
	"os"

	"github.com/pkg/errors"
)

// BackfillFromFile bulk-loads a JSON export of readings. The file holds an
// array of objects in the ingestion wire format. Rows are validated exactly
// like live ingest; duplicates of already-stored readings are skipped, so
// re-running an import is safe. Returns the number of rows inserted.
func BackfillFromFile(ctx context.Context, store ReadingStore, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "failed to open backfill file")
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()

	var rows []map[string]interface{}
	if err := dec.Decode(&rows); err != nil {
		return 0, errors.Wrap(err, "failed to decode backfill file")
	}

	log.Printf("Backfill: %d rows in %s", len(rows), path)

	inserted := 0
	skipped := 0
	for i, raw := range rows {
		reading, err := buildReading(raw)
		if err != nil {
			return inserted, errors.Wrapf(err, "row %d", i)
		}
		ok, err := store.InsertReading(ctx, reading)
		if err != nil {
			return inserted, errors.Wrapf(err, "row %d", i)
		}
		if ok {
			inserted++
		} else {
			skipped++
		}
		if (i+1)%1000 == 0 {
			log.Printf("Backfill: processed %d/%d rows", i+1, len(rows))
		}
	}

	if skipped > 0 {
		log.Printf("Backfill: skipped %d duplicate rows", skipped)
	}
	return inserted, nil
}
