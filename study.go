package causalmatch

import (
	"fmt"
	"log/slog"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Method names used to key the results table.
const (
	MethodUnmatched  = "unmatched"
	MethodRegression = "regression"
	MethodIPTW       = "iptw"
)

// nearestVariants enumerates the nearest-neighbor matching variants
// run by RunStudy: each treated ordering, with and without
// replacement.
var nearestVariants = []struct {
	name  string
	order Order
	repl  bool
}{
	{"nearest-asc", OrderAscending, false},
	{"nearest-desc", OrderDescending, false},
	{"nearest-random", OrderRandom, false},
	{"nearest-asc-repl", OrderAscending, true},
	{"nearest-desc-repl", OrderDescending, true},
	{"nearest-random-repl", OrderRandom, true},
}

// A StudyConfig declares one call-out: the dataset file, its column
// schema, and the matching parameters.
type StudyConfig struct {
	Name    string  `yaml:"name"`
	Path    string  `yaml:"path"`
	Schema  Schema  `yaml:"schema"`
	Caliper float64 `yaml:"caliper"`
	Seed    int64   `yaml:"seed"`
}

// LoadStudyConfig reads a StudyConfig from a YAML file and checks that
// the schema declares at least a treatment and an outcome column.
func LoadStudyConfig(fname string) (*StudyConfig, error) {

	buf, err := os.ReadFile(fname)
	if err != nil {
		return nil, err
	}

	var cfg StudyConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("causalmatch: parsing %s: %w", fname, err)
	}

	if cfg.Schema.Treatment == "" || cfg.Schema.Outcome == "" {
		return nil, fmt.Errorf("causalmatch: %s must declare treatment and outcome columns", fname)
	}

	return &cfg, nil
}

// A MethodResult is one row of the results table.
type MethodResult struct {

	// The method name.
	Method string

	// The ATT estimate; NaN when the method failed or is undefined.
	ATT float64

	// The number of matched pairs, for matching methods.
	Pairs int

	// The (weighted) covariate means of the comparison group the
	// method effectively uses, keyed by covariate name.
	ControlMeans map[string]float64

	// The failure that disabled this method, if any.
	Err error
}

// A BalanceRow reports one covariate's balance before and after
// matching.
type BalanceRow struct {
	Name   string
	Before Balance
	After  Balance
}

// A StudyResult collects everything one RunStudy call produced.
type StudyResult struct {

	// One row per method, in a fixed order.
	Methods []MethodResult

	// Fitted propensity scores in dataset order; nil if the fit
	// failed.
	Scores []float64

	// Balance before and after matching, from the ascending
	// no-replacement variant; nil if that variant produced no pairs.
	Balance []BalanceRow
}

// Method returns the result row with the given method name, or nil.
func (sr *StudyResult) Method(name string) *MethodResult {
	for i := range sr.Methods {
		if sr.Methods[i].Method == name {
			return &sr.Methods[i]
		}
	}
	return nil
}

// RunStudy evaluates the full battery of estimators on one dataset:
// the unmatched difference in means, regression adjustment, inverse
// propensity weighting, and the six nearest-neighbor matching
// variants.  Failures are isolated per method; a failed method is
// reported with a NaN estimate and its error, and the remaining
// methods still run.  If the propensity fit itself fails, every
// score-dependent method reports that failure.
func RunStudy(ds *Dataset, cfg *StudyConfig, logger *slog.Logger) *StudyResult {

	if logger == nil {
		logger = slog.Default()
	}

	res := &StudyResult{}
	covnames := ds.Schema().Covariates
	_, control := ds.Split()

	res.Methods = append(res.Methods, MethodResult{
		Method:       MethodUnmatched,
		ATT:          UnmatchedATT(ds),
		ControlMeans: unitMeans(control, covnames),
	})

	ratt, err := RegressionATT(ds)
	if err != nil {
		logger.Warn("regression adjustment failed", "study", cfg.Name, "error", err)
		ratt = math.NaN()
	}
	res.Methods = append(res.Methods, MethodResult{
		Method:       MethodRegression,
		ATT:          ratt,
		ControlMeans: unitMeans(ds.Units(), covnames),
		Err:          err,
	})

	scored, fitErr := scoreDataset(ds)
	if fitErr != nil {
		logger.Warn("propensity fit failed, skipping score-based methods",
			"study", cfg.Name, "error", fitErr)
		res.Methods = append(res.Methods, MethodResult{Method: MethodIPTW, ATT: math.NaN(), Err: fitErr})
		for _, v := range nearestVariants {
			res.Methods = append(res.Methods, MethodResult{Method: v.name, ATT: math.NaN(), Err: fitErr})
		}
		return res
	}

	scores := make([]float64, scored.Len())
	for i, u := range scored.Units() {
		scores[i] = u.Score
	}
	res.Scores = scores

	watt, err := IPTWATT(scored, scores)
	if err != nil {
		logger.Warn("IPTW estimation failed", "study", cfg.Name, "error", err)
		watt = math.NaN()
	}
	res.Methods = append(res.Methods, MethodResult{
		Method:       MethodIPTW,
		ATT:          watt,
		ControlMeans: iptwMeans(scored, covnames),
		Err:          err,
	})

	treated, control := scored.Split()
	for _, v := range nearestVariants {
		ms := Match(treated, control, MatchSpec{
			Order:           v.order,
			Seed:            cfg.Seed,
			Caliper:         cfg.Caliper,
			WithReplacement: v.repl,
		})
		res.Methods = append(res.Methods, MethodResult{
			Method:       v.name,
			ATT:          MatchedATT(ms),
			Pairs:        ms.Len(),
			ControlMeans: unitMeans(ms.MatchedControls(), covnames),
		})

		if v.order == OrderAscending && !v.repl && ms.Len() > 0 {
			res.Balance = balanceRows(treated, control, ms, covnames)
		}
	}

	return res
}

// scoreDataset fits the propensity model on the dataset and returns a
// copy with the fitted scores attached.
func scoreDataset(ds *Dataset) (*Dataset, error) {

	model, err := FitPropensity(ds.DesignMatrix(), ds.TreatmentVector())
	if err != nil {
		return nil, err
	}

	scores, err := model.Predict(ds.DesignMatrix())
	if err != nil {
		return nil, err
	}

	return ds.WithScores(scores)
}

// balanceRows pairs the pre-matching balance of the full groups with
// the post-matching balance of the matched sample.
func balanceRows(treated, control []Unit, ms *MatchSet, names []string) []BalanceRow {

	before := CovariateBalance(treated, control, names)
	after := CovariateBalance(ms.MatchedTreated(), ms.MatchedControls(), names)

	rows := make([]BalanceRow, len(names))
	for j := range names {
		rows[j] = BalanceRow{Name: names[j], Before: before[j], After: after[j]}
	}
	return rows
}

// unitMeans returns the weighted covariate means of a group of units.
func unitMeans(units []Unit, names []string) map[string]float64 {

	if len(units) == 0 {
		return nil
	}

	out := make(map[string]float64, len(names))
	for j, name := range names {
		var sw, sx float64
		for _, u := range units {
			sw += u.Weight
			sx += u.Weight * u.Covariates[j]
		}
		if sw == 0 {
			out[name] = math.NaN()
			continue
		}
		out[name] = sx / sw
	}
	return out
}

// iptwMeans returns the covariate means of the control group under the
// inverse propensity weights.
func iptwMeans(scored *Dataset, names []string) map[string]float64 {

	var controls []Unit
	for _, u := range scored.Units() {
		if !u.Treated {
			u.Weight = IPTWWeight(false, u.Score)
			controls = append(controls, u)
		}
	}
	return unitMeans(controls, names)
}
