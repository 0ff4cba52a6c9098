// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dataset

import (
	"fmt"
	"io"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/pdiddy/trip-trainer/pkg/types"
)

const csvTimeLayout = "2006-01-02 15:04:05"

// Synthetic generates n records with durations uniform in whole seconds over
// [types.MinDuration, types.MaxDuration] minutes. Distance grows with duration
// so the target is learnable. The same seed yields the same records.
func Synthetic(n int, seed uint64, month time.Time) []types.Record {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	records := make([]types.Record, n)
	for i := range records {
		secs := 60 + rng.IntN(int((types.MaxDuration-types.MinDuration)*60)+1)
		pickup := month.Add(time.Duration(rng.IntN(28*24*3600)) * time.Second)
		dropoff := pickup.Add(time.Duration(secs) * time.Second)
		minutes := float64(secs) / 60
		speed := 8 + 12*rng.Float64() // mph
		records[i] = types.Record{
			PickupTime:   pickup,
			DropoffTime:  dropoff,
			PULocationID: strconv.Itoa(1 + rng.IntN(12)),
			DOLocationID: strconv.Itoa(1 + rng.IntN(12)),
			TripDistance: float64(int(minutes/60*speed*100)) / 100,
			Duration:     minutes,
		}
	}
	return records
}

// WriteCSV writes records in the trip file format read by CSVSource.
func WriteCSV(w io.Writer, records []types.Record) error {
	rows := make([]*tripRow, len(records))
	for i, r := range records {
		rows[i] = &tripRow{
			Pickup:       r.PickupTime.UTC().Format(csvTimeLayout),
			Dropoff:      r.DropoffTime.UTC().Format(csvTimeLayout),
			PULocationID: r.PULocationID,
			DOLocationID: r.DOLocationID,
			TripDistance: r.TripDistance,
		}
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("writing CSV: %w", err)
	}
	return nil
}
