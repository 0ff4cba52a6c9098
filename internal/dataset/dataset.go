// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package dataset reads monthly trip files into records, derives the
// duration target and drops trips outside the accepted duration range.
package dataset

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"go.uber.org/zap"

	"github.com/pdiddy/trip-trainer/pkg/types"
)

// timeLayouts are the timestamp formats accepted in trip files.
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// Source reads trip records from a path. Implementations must be
// deterministic for a given path so that callers can retry them.
type Source interface {
	Read(ctx context.Context, path string) ([]types.Record, error)
}

// Split holds the training and validation records of one pipeline run.
type Split struct {
	Train      []types.Record
	Validation []types.Record
}

// Path resolves the trip file of one month, e.g. data/green_tripdata_2024-01.csv.
func Path(dir, color, year, month string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_tripdata_%s-%s.csv", color, year, month))
}

// tripRow mirrors the columns of a trip file.
type tripRow struct {
	Pickup       string  `csv:"lpep_pickup_datetime"`
	Dropoff      string  `csv:"lpep_dropoff_datetime"`
	PULocationID string  `csv:"PULocationID"`
	DOLocationID string  `csv:"DOLocationID"`
	TripDistance float64 `csv:"trip_distance"`
}

// CSVSource reads trip files in CSV format.
type CSVSource struct {
	Log *zap.Logger
}

// NewCSVSource returns a CSVSource logging to log.
func NewCSVSource(log *zap.Logger) *CSVSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &CSVSource{Log: log}
}

// Read opens path and returns the records whose duration lies in
// [types.MinDuration, types.MaxDuration].
func (s *CSVSource) Read(ctx context.Context, path string) ([]types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trip file: %w", err)
	}
	defer f.Close()

	records, dropped, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	s.Log.Info("read trip file",
		zap.String("path", path),
		zap.Int("kept", len(records)),
		zap.Int("dropped", dropped))
	return records, nil
}

// Decode parses CSV trip rows from r. It returns the kept records and the
// number of rows dropped by the duration filter.
func Decode(r io.Reader) ([]types.Record, int, error) {
	var rows []*tripRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, 0, fmt.Errorf("parsing CSV: %w", err)
	}

	records := make([]types.Record, 0, len(rows))
	dropped := 0
	for i, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, 0, fmt.Errorf("row %d: %w", i+1, err)
		}
		if !types.ValidDuration(rec.Duration) {
			dropped++
			continue
		}
		records = append(records, rec)
	}
	return records, dropped, nil
}

func (row *tripRow) record() (types.Record, error) {
	pickup, err := parseTime(row.Pickup)
	if err != nil {
		return types.Record{}, fmt.Errorf("pickup time: %w", err)
	}
	dropoff, err := parseTime(row.Dropoff)
	if err != nil {
		return types.Record{}, fmt.Errorf("dropoff time: %w", err)
	}
	return types.Record{
		PickupTime:   pickup,
		DropoffTime:  dropoff,
		PULocationID: categorical(row.PULocationID),
		DOLocationID: categorical(row.DOLocationID),
		TripDistance: row.TripDistance,
		Duration:     dropoff.Sub(pickup).Minutes(),
	}, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// categorical normalizes a location ID; "7.0" and "7" name the same zone.
func categorical(s string) string {
	s = strings.TrimSpace(s)
	return strings.TrimSuffix(s, ".0")
}

// ReadSplit reads the training and validation files from src.
func ReadSplit(ctx context.Context, src Source, trainPath, valPath string) (Split, error) {
	train, err := src.Read(ctx, trainPath)
	if err != nil {
		return Split{}, fmt.Errorf("training data: %w", err)
	}
	val, err := src.Read(ctx, valPath)
	if err != nil {
		return Split{}, fmt.Errorf("validation data: %w", err)
	}
	if len(train) == 0 {
		return Split{}, fmt.Errorf("training data %s: no records within duration bounds", trainPath)
	}
	if len(val) == 0 {
		return Split{}, fmt.Errorf("validation data %s: no records within duration bounds", valPath)
	}
	return Split{Train: train, Validation: val}, nil
}
