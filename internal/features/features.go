// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package features turns trip records into sparse feature matrices. A
// Vectorizer is fit on the training split only and reused, transform-only, on
// the validation split; categories unseen during fitting map to zero.
package features

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pdiddy/trip-trainer/pkg/types"
)

const (
	// CategoricalFeature combines the pickup and dropoff zones.
	CategoricalFeature = "PU_DO"
	// NumericFeature is the trip distance in miles.
	NumericFeature = "trip_distance"
)

// ErrNotFitted is returned when Transform is called before Fit.
var ErrNotFitted = errors.New("vectorizer is not fitted")

// Row is one sparse feature vector. Indices are strictly increasing.
type Row struct {
	Indices []int     `msgpack:"i"`
	Values  []float64 `msgpack:"v"`
}

// Value returns the value of feature j, zero when absent.
func (r Row) Value(j int) float64 {
	k := sort.SearchInts(r.Indices, j)
	if k < len(r.Indices) && r.Indices[k] == j {
		return r.Values[k]
	}
	return 0
}

// Matrix is a row-major sparse matrix.
type Matrix struct {
	Rows        []Row
	NumFeatures int
}

// NumRows returns the number of rows.
func (m *Matrix) NumRows() int {
	return len(m.Rows)
}

// NonZero returns the number of stored entries.
func (m *Matrix) NonZero() int {
	n := 0
	for _, r := range m.Rows {
		n += len(r.Indices)
	}
	return n
}

// Vectorizer maps feature dicts to sparse rows. String values become one-hot
// "name=value" columns; numeric values keep their own column.
type Vectorizer struct {
	FeatureNames []string       `msgpack:"feature_names"`
	Vocabulary   map[string]int `msgpack:"vocabulary"`
}

// dict is the feature mapping of one record.
type dict struct {
	categorical map[string]string
	numeric     map[string]float64
}

func recordDict(r types.Record) dict {
	return dict{
		categorical: map[string]string{
			CategoricalFeature: r.PULocationID + "_" + r.DOLocationID,
		},
		numeric: map[string]float64{
			NumericFeature: r.TripDistance,
		},
	}
}

// Fit learns the vocabulary from records. Feature names are sorted so the
// column order does not depend on record order.
func (v *Vectorizer) Fit(records []types.Record) {
	seen := make(map[string]struct{})
	for _, r := range records {
		d := recordDict(r)
		for name, val := range d.categorical {
			seen[name+"="+val] = struct{}{}
		}
		for name := range d.numeric {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	v.FeatureNames = names
	v.Vocabulary = make(map[string]int, len(names))
	for i, name := range names {
		v.Vocabulary[name] = i
	}
}

// Fitted reports whether Fit has been called.
func (v *Vectorizer) Fitted() bool {
	return v.Vocabulary != nil
}

// Transform maps records to a matrix using the fitted vocabulary.
func (v *Vectorizer) Transform(records []types.Record) (*Matrix, error) {
	if !v.Fitted() {
		return nil, ErrNotFitted
	}
	m := &Matrix{Rows: make([]Row, len(records)), NumFeatures: len(v.FeatureNames)}
	for i, r := range records {
		m.Rows[i] = v.row(recordDict(r))
	}
	return m, nil
}

// FitTransform fits on records and transforms them.
func (v *Vectorizer) FitTransform(records []types.Record) (*Matrix, error) {
	v.Fit(records)
	return v.Transform(records)
}

func (v *Vectorizer) row(d dict) Row {
	type entry struct {
		idx int
		val float64
	}
	entries := make([]entry, 0, len(d.categorical)+len(d.numeric))
	for name, val := range d.categorical {
		if j, ok := v.Vocabulary[name+"="+val]; ok {
			entries = append(entries, entry{j, 1})
		}
	}
	for name, val := range d.numeric {
		if j, ok := v.Vocabulary[name]; ok && val != 0 {
			entries = append(entries, entry{j, val})
		}
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].idx < entries[b].idx })

	row := Row{Indices: make([]int, len(entries)), Values: make([]float64, len(entries))}
	for k, e := range entries {
		row.Indices[k] = e.idx
		row.Values[k] = e.val
	}
	return row
}

// Save writes the vectorizer to path in msgpack format, creating parent
// directories. Map keys are sorted so the bytes are stable.
func (v *Vectorizer) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	enc := msgpack.NewEncoder(f)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		f.Close()
		return fmt.Errorf("encoding vectorizer: %w", err)
	}
	return f.Close()
}

// LoadVectorizer reads a vectorizer written by Save.
func LoadVectorizer(path string) (*Vectorizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var v Vectorizer
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decoding vectorizer: %w", err)
	}
	return &v, nil
}

// Dataset is the immutable output of the add-features stage.
type Dataset struct {
	Train      *Matrix
	Validation *Matrix
	TrainY     []float64
	ValY       []float64
	Vectorizer *Vectorizer
}

// Build fits a vectorizer on train and transforms both splits.
func Build(train, validation []types.Record) (Dataset, error) {
	if len(train) == 0 {
		return Dataset{}, errors.New("no training records")
	}
	v := &Vectorizer{}
	xTrain, err := v.FitTransform(train)
	if err != nil {
		return Dataset{}, err
	}
	xVal, err := v.Transform(validation)
	if err != nil {
		return Dataset{}, err
	}
	return Dataset{
		Train:      xTrain,
		Validation: xVal,
		TrainY:     targets(train),
		ValY:       targets(validation),
		Vectorizer: v,
	}, nil
}

func targets(records []types.Record) []float64 {
	y := make([]float64, len(records))
	for i, r := range records {
		y[i] = r.Duration
	}
	return y
}
