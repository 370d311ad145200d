package causalmatch

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kshedden/datareader"
)

// A Schema declares the columns of a study dataset: the binary
// treatment indicator, the outcome, and an ordered list of covariates.
// The covariate order is significant; it fixes the column order of
// every design matrix built from the dataset.
type Schema struct {
	Treatment  string   `yaml:"treatment"`
	Outcome    string   `yaml:"outcome"`
	Covariates []string `yaml:"covariates"`

	// Optional data source identifier column, for call-outs that
	// pool treated units from one sample with controls from
	// another.  Validated like the other columns when declared.
	Group string `yaml:"group,omitempty"`
}

// columns returns all declared column names, treatment and outcome
// first, then the covariates in declared order, then the group
// identifier if one is declared.
func (sc Schema) columns() []string {
	cols := make([]string, 0, 3+len(sc.Covariates))
	cols = append(cols, sc.Treatment, sc.Outcome)
	cols = append(cols, sc.Covariates...)
	if sc.Group != "" {
		cols = append(cols, sc.Group)
	}
	return cols
}

// Validate checks the schema against a set of available column names,
// returning a SchemaError naming any declared column that is absent.
func (sc Schema) Validate(names []string) error {
	have := make(map[string]bool, len(names))
	for _, na := range names {
		have[na] = true
	}

	var missing []string
	for _, col := range sc.columns() {
		if !have[col] {
			missing = append(missing, col)
		}
	}

	if len(missing) > 0 {
		return &SchemaError{Missing: missing}
	}
	return nil
}

// A Unit is one observation of a study dataset.
type Unit struct {

	// The position of the unit's row in the source table.  Units
	// are compared by index, so indices must be unique within a
	// dataset.
	Index int

	// Treatment status.
	Treated bool

	// The observed outcome.
	Outcome float64

	// Covariate values, in the schema's declared order.
	Covariates []float64

	// The data source identifier, when the schema declares one.
	Group float64

	// The fitted propensity score, set by Dataset.WithScores.
	Score float64

	// The analysis weight.  Load and NewDataset set it to 1; the
	// matched-sample and IPTW constructions replace it.
	Weight float64
}

// A Dataset is an ordered collection of units sharing a covariate
// schema.  Datasets are treated as immutable; derived quantities such
// as propensity scores produce a new Dataset.
type Dataset struct {
	schema  Schema
	units   []Unit
	dropped int
}

// NewDataset wraps a slice of units in a Dataset.  Units with a zero
// weight are given the default weight of 1.  The unit slice is not
// copied.
func NewDataset(schema Schema, units []Unit) *Dataset {
	for i := range units {
		if units[i].Weight == 0 {
			units[i].Weight = 1
		}
	}
	return &Dataset{schema: schema, units: units}
}

// Schema returns the dataset's column schema.
func (ds *Dataset) Schema() Schema {
	return ds.schema
}

// Units returns the dataset's units.  The returned slice is shared
// with the dataset and must not be modified.
func (ds *Dataset) Units() []Unit {
	return ds.units
}

// Len returns the number of units in the dataset.
func (ds *Dataset) Len() int {
	return len(ds.units)
}

// Dropped returns the number of source rows excluded from the dataset
// because a declared column could not be coerced to a numeric value.
func (ds *Dataset) Dropped() int {
	return ds.dropped
}

// Split partitions the units into the treated and control groups,
// preserving dataset order within each group.
func (ds *Dataset) Split() (treated, control []Unit) {
	for _, u := range ds.units {
		if u.Treated {
			treated = append(treated, u)
		} else {
			control = append(control, u)
		}
	}
	return treated, control
}

// Filter returns a new Dataset holding the units for which keep
// returns true, in dataset order.  It is used to restrict a pooled
// dataset to one data source by its group identifier.
func (ds *Dataset) Filter(keep func(Unit) bool) *Dataset {
	var units []Unit
	for _, u := range ds.units {
		if keep(u) {
			units = append(units, u)
		}
	}
	return &Dataset{schema: ds.schema, units: units, dropped: ds.dropped}
}

// TreatmentVector returns the treatment indicator as a float64 slice.
func (ds *Dataset) TreatmentVector() []float64 {
	y := make([]float64, len(ds.units))
	for i, u := range ds.units {
		if u.Treated {
			y[i] = 1
		}
	}
	return y
}

// Outcomes returns the outcome column.
func (ds *Dataset) Outcomes() []float64 {
	y := make([]float64, len(ds.units))
	for i, u := range ds.units {
		y[i] = u.Outcome
	}
	return y
}

// WithScores returns a copy of the dataset with the given propensity
// scores attached to the units, in dataset order.
func (ds *Dataset) WithScores(scores []float64) (*Dataset, error) {

	if len(scores) != len(ds.units) {
		return nil, fmt.Errorf("causalmatch: %d scores for %d units", len(scores), len(ds.units))
	}

	units := make([]Unit, len(ds.units))
	copy(units, ds.units)
	for i := range units {
		units[i].Score = scores[i]
	}

	return &Dataset{schema: ds.schema, units: units, dropped: ds.dropped}, nil
}

// Load reads a tabular file and returns it as a Dataset with the given
// schema.  The file format is determined from the file name: files
// ending in .csv are read as delimited text with a header row, .dta as
// Stata, and .sas7bdat as SAS.  Rows in which any declared column is
// missing or cannot be coerced to a numeric value are excluded; the
// count of such rows is available through Dropped.
func Load(fname string, schema Schema) (*Dataset, error) {

	f, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cols, err := readTable(f, fname)
	if err != nil {
		return nil, fmt.Errorf("causalmatch: reading %s: %w", fname, err)
	}

	return FromSeries(cols, schema)
}

// readTable selects a reader for the file based on its extension and
// reads the whole table.
func readTable(f io.ReadSeeker, fname string) ([]*datareader.Series, error) {

	switch {
	case strings.HasSuffix(strings.ToLower(fname), ".csv"):
		rdr := datareader.NewCSVReader(f)
		rdr.HasHeader = true
		return rdr.Read(-1)
	case strings.HasSuffix(strings.ToLower(fname), ".dta"):
		stata, err := datareader.NewStataReader(f)
		if err != nil {
			return nil, err
		}
		stata.ConvertDates = false
		stata.InsertCategoryLabels = false
		return stata.Read(-1)
	case strings.HasSuffix(strings.ToLower(fname), ".sas7bdat"):
		sas, err := datareader.NewSAS7BDATReader(f)
		if err != nil {
			return nil, err
		}
		sas.TrimStrings = true
		return sas.Read(-1)
	}

	return nil, fmt.Errorf("unsupported file type: %s", fname)
}

// FromSeries builds a Dataset from an array of Series objects, as
// returned by the datareader CSV, Stata, and SAS readers.  The series
// are validated against the schema, coerced to numeric values, and
// assembled into units row by row.
func FromSeries(cols []*datareader.Series, schema Schema) (*Dataset, error) {

	names := make([]string, len(cols))
	byname := make(map[string]*datareader.Series, len(cols))
	for i, ser := range cols {
		names[i] = ser.Name
		byname[ser.Name] = ser
	}

	if err := schema.Validate(names); err != nil {
		return nil, err
	}

	// Coerce each declared column to float64 with a missingness mask.
	want := schema.columns()
	data := make([][]float64, len(want))
	miss := make([][]bool, len(want))
	nrow := 0
	for j, col := range want {
		ser := byname[col].UpcastNumeric().ForceNumeric()
		x, m, err := ser.AsFloat64Slice()
		if err != nil {
			return nil, fmt.Errorf("causalmatch: column %s: %w", col, err)
		}
		data[j] = x
		miss[j] = m
		nrow = ser.Length()
	}

	ncov := len(schema.Covariates)
	units := make([]Unit, 0, nrow)
	dropped := 0

rows:
	for i := 0; i < nrow; i++ {
		for j := range want {
			if miss[j] != nil && miss[j][i] {
				dropped++
				continue rows
			}
		}
		u := Unit{
			Index:      i,
			Treated:    data[0][i] != 0,
			Outcome:    data[1][i],
			Covariates: make([]float64, ncov),
			Weight:     1,
		}
		for j := 0; j < ncov; j++ {
			u.Covariates[j] = data[2+j][i]
		}
		if schema.Group != "" {
			u.Group = data[2+ncov][i]
		}
		units = append(units, u)
	}

	return &Dataset{schema: schema, units: units, dropped: dropped}, nil
}
