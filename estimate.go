package causalmatch

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Propensity scores are clipped to [scoreClip, 1-scoreClip] before
// forming inverse propensity weights.
const scoreClip = 1e-5

// UnmatchedATT returns the difference of mean outcomes between the
// treated and control groups, with no adjustment.  It is NaN if either
// group is empty.
func UnmatchedATT(ds *Dataset) float64 {

	treated, control := ds.Split()
	if len(treated) == 0 || len(control) == 0 {
		return math.NaN()
	}

	return stat.Mean(outcomes(treated), nil) - stat.Mean(outcomes(control), nil)
}

// MatchedATT returns the mean over matched pairs of the difference
// between the treated and control outcomes.  It is NaN if the match
// set is empty.
func MatchedATT(ms *MatchSet) float64 {

	if len(ms.Pairs) == 0 {
		return math.NaN()
	}

	s := 0.0
	for _, p := range ms.Pairs {
		s += p.Treated.Outcome - p.Control.Outcome
	}

	return s / float64(len(ms.Pairs))
}

// A Balance summarizes one covariate's distribution across two groups:
// the (weighted) group means and the standardized mean difference.
type Balance struct {
	Name    string
	MeanA   float64
	MeanB   float64
	StdDiff float64
}

// CovariateBalance computes per-covariate balance statistics between
// two groups of units.  Units are weighted by their Weight field, so
// the same function serves raw groups (weight 1) and matched samples
// with replacement (controls weighted by selection count).  The
// standardized difference is (meanA - meanB) / sqrt((varA + varB)/2),
// and is NaN when the pooled variance is zero or a group is empty.
func CovariateBalance(a, b []Unit, names []string) []Balance {

	out := make([]Balance, len(names))
	for j, name := range names {

		xa, wa := covariateColumn(a, j)
		xb, wb := covariateColumn(b, j)

		ma, va := stat.MeanVariance(xa, wa)
		mb, vb := stat.MeanVariance(xb, wb)

		sd := math.NaN()
		if pooled := (va + vb) / 2; pooled > 0 {
			sd = (ma - mb) / math.Sqrt(pooled)
		}

		out[j] = Balance{Name: name, MeanA: ma, MeanB: mb, StdDiff: sd}
	}

	return out
}

// RegressionATT estimates the treatment effect by least squares of the
// outcome on an intercept, the treatment indicator, and the
// covariates; the treatment coefficient is the estimate.  It returns a
// SingularDesignError if the augmented design is rank deficient.
func RegressionATT(ds *Dataset) (float64, error) {

	n := len(ds.units)
	p := len(ds.schema.Covariates)
	if n == 0 {
		return 0, fmt.Errorf("causalmatch: empty dataset")
	}

	x := mat.NewDense(n, p+2, nil)
	for i, u := range ds.units {
		x.Set(i, 0, 1)
		if u.Treated {
			x.Set(i, 1, 1)
		}
		for j, v := range u.Covariates {
			x.Set(i, 2+j, v)
		}
	}
	y := mat.NewVecDense(n, ds.Outcomes())

	var beta mat.VecDense
	if err := beta.SolveVec(x, y); err != nil {
		return 0, &SingularDesignError{Err: err}
	}

	return beta.AtVec(1), nil
}

// IPTWATT estimates the treatment effect by inverse propensity of
// treatment weighting.  Each treated unit receives weight 1 and each
// control receives s/(1-s), where s is its propensity score clipped
// away from 0 and 1; the estimate is the treatment coefficient of a
// weighted least squares regression of the outcome on the treatment
// indicator.  Units with non-finite weights are excluded; if no usable
// weight remains, a DegenerateWeightError is returned.
func IPTWATT(ds *Dataset, scores []float64) (float64, error) {

	if len(scores) != len(ds.units) {
		return 0, fmt.Errorf("causalmatch: %d scores for %d units", len(scores), len(ds.units))
	}

	// Accumulate the 2x2 normal equations of the WLS fit of the
	// outcome on [1, treat].
	var sw, swt, swtt, swy, swty float64
	usable := 0
	for i, u := range ds.units {
		w := 1.0
		if !u.Treated {
			s := clip(scores[i], scoreClip, 1-scoreClip)
			w = s / (1 - s)
		}
		if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			continue
		}
		usable++

		t := 0.0
		if u.Treated {
			t = 1
		}
		sw += w
		swt += w * t
		swtt += w * t * t
		swy += w * u.Outcome
		swty += w * t * u.Outcome
	}

	if usable == 0 {
		return 0, &DegenerateWeightError{Reason: "no unit has a positive finite weight"}
	}

	det := sw*swtt - swt*swt
	if det == 0 {
		return 0, &SingularDesignError{}
	}

	return (sw*swty - swt*swy) / det, nil
}

// IPTWWeight returns the inverse propensity weight for a unit with the
// given treatment status and (unclipped) propensity score.
func IPTWWeight(treated bool, score float64) float64 {
	if treated {
		return 1
	}
	s := clip(score, scoreClip, 1-scoreClip)
	return s / (1 - s)
}

func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func outcomes(units []Unit) []float64 {
	y := make([]float64, len(units))
	for i, u := range units {
		y[i] = u.Outcome
	}
	return y
}

// covariateColumn extracts one covariate and the unit weights from a
// group.  A nil weight slice is returned when every weight is 1, so
// the stat routines take their unweighted path.
func covariateColumn(units []Unit, j int) ([]float64, []float64) {

	x := make([]float64, len(units))
	w := make([]float64, len(units))
	weighted := false
	for i, u := range units {
		x[i] = u.Covariates[j]
		w[i] = u.Weight
		if u.Weight != 1 {
			weighted = true
		}
	}

	if !weighted {
		return x, nil
	}
	return x, w
}
