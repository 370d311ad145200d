package causalmatch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmatchedATTIsMeanDifference(t *testing.T) {

	units := []Unit{
		{Index: 0, Treated: true, Outcome: 10, Weight: 1},
		{Index: 1, Treated: true, Outcome: 14, Weight: 1},
		{Index: 2, Treated: false, Outcome: 3, Weight: 1},
		{Index: 3, Treated: false, Outcome: 5, Weight: 1},
		{Index: 4, Treated: false, Outcome: 7, Weight: 1},
	}
	ds := NewDataset(Schema{Treatment: "t", Outcome: "y"}, units)

	assert.InDelta(t, 12-5, UnmatchedATT(ds), 1e-12)
}

func TestUnmatchedATTEmptyGroup(t *testing.T) {

	units := []Unit{
		{Index: 0, Treated: true, Outcome: 10},
		{Index: 1, Treated: true, Outcome: 14},
	}
	ds := NewDataset(Schema{Treatment: "t", Outcome: "y"}, units)

	assert.True(t, math.IsNaN(UnmatchedATT(ds)))
}

func covUnits(treated bool, base int, vals ...float64) []Unit {
	units := make([]Unit, len(vals))
	for i, v := range vals {
		units[i] = Unit{Index: base + i, Treated: treated, Covariates: []float64{v}, Weight: 1}
	}
	return units
}

func TestCovariateBalanceIdenticalGroups(t *testing.T) {

	a := covUnits(true, 0, 1, 2, 3, 4)
	b := covUnits(false, 100, 1, 2, 3, 4)

	bal := CovariateBalance(a, b, []string{"x"})
	require.Len(t, bal, 1)
	assert.InDelta(t, 0, bal[0].StdDiff, 1e-12)
	assert.Equal(t, bal[0].MeanA, bal[0].MeanB)
}

func TestCovariateBalanceSignSymmetry(t *testing.T) {

	a := covUnits(true, 0, 1, 2, 3, 4)
	b := covUnits(false, 100, 2, 4, 6, 8)

	ab := CovariateBalance(a, b, []string{"x"})
	ba := CovariateBalance(b, a, []string{"x"})
	assert.InDelta(t, -ab[0].StdDiff, ba[0].StdDiff, 1e-12)
}

func TestCovariateBalanceZeroVariance(t *testing.T) {

	a := covUnits(true, 0, 2, 2, 2)
	b := covUnits(false, 100, 2, 2, 2)

	bal := CovariateBalance(a, b, []string{"x"})
	assert.True(t, math.IsNaN(bal[0].StdDiff))
}

func TestCovariateBalanceWeighted(t *testing.T) {

	// A control selected twice must count twice in the mean.
	a := covUnits(true, 0, 4, 4)
	b := covUnits(false, 100, 2, 8)
	b[0].Weight = 3

	bal := CovariateBalance(a, b, []string{"x"})
	assert.InDelta(t, (3*2.0+8.0)/4, bal[0].MeanB, 1e-12)
}

func TestRegressionATTExact(t *testing.T) {

	// Outcome is exactly 5 + 2*treat + 3*x, so the treatment
	// coefficient must be recovered to numerical precision.
	var units []Unit
	xs := []float64{0, 1, 2, 3, 4, 5, 6, 7}
	for i, x := range xs {
		treated := i%2 == 0
		y := 5 + 3*x
		if treated {
			y += 2
		}
		units = append(units, Unit{Index: i, Treated: treated, Outcome: y, Covariates: []float64{x}, Weight: 1})
	}
	ds := NewDataset(Schema{Treatment: "t", Outcome: "y", Covariates: []string{"x"}}, units)

	att, err := RegressionATT(ds)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, att, 1e-8)
}

func TestRegressionATTSingular(t *testing.T) {

	// Duplicated covariate makes the design rank deficient.
	var units []Unit
	for i := 0; i < 8; i++ {
		x := float64(i)
		units = append(units, Unit{
			Index: i, Treated: i%2 == 0, Outcome: x,
			Covariates: []float64{x, x}, Weight: 1,
		})
	}
	ds := NewDataset(Schema{Treatment: "t", Outcome: "y", Covariates: []string{"x1", "x2"}}, units)

	_, err := RegressionATT(ds)
	var sde *SingularDesignError
	assert.ErrorAs(t, err, &sde)
}

func TestIPTWATTBalancedScores(t *testing.T) {

	// With all scores at 0.5 every weight is 1 and the estimate
	// reduces to the difference in means.
	units := []Unit{
		{Index: 0, Treated: true, Outcome: 10, Weight: 1},
		{Index: 1, Treated: true, Outcome: 12, Weight: 1},
		{Index: 2, Treated: false, Outcome: 1, Weight: 1},
		{Index: 3, Treated: false, Outcome: 3, Weight: 1},
	}
	ds := NewDataset(Schema{Treatment: "t", Outcome: "y"}, units)

	att, err := IPTWATT(ds, []float64{0.5, 0.5, 0.5, 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 9.0, att, 1e-12)
}

func TestIPTWATTDegenerateWeights(t *testing.T) {

	nan := math.NaN()
	units := []Unit{
		{Index: 0, Treated: false, Outcome: 1, Weight: 1},
		{Index: 1, Treated: false, Outcome: 2, Weight: 1},
	}
	ds := NewDataset(Schema{Treatment: "t", Outcome: "y"}, units)

	_, err := IPTWATT(ds, []float64{nan, nan})
	var dwe *DegenerateWeightError
	assert.ErrorAs(t, err, &dwe)
}

func TestIPTWATTSingleGroup(t *testing.T) {

	units := []Unit{
		{Index: 0, Treated: true, Outcome: 1, Weight: 1},
		{Index: 1, Treated: true, Outcome: 2, Weight: 1},
	}
	ds := NewDataset(Schema{Treatment: "t", Outcome: "y"}, units)

	_, err := IPTWATT(ds, []float64{0.5, 0.5})
	var sde *SingularDesignError
	assert.ErrorAs(t, err, &sde)
}

func TestIPTWWeightBounds(t *testing.T) {

	assert.Equal(t, 1.0, IPTWWeight(true, 0.99))

	for _, s := range []float64{0, 1e-9, 0.3, 0.5, 0.97, 1} {
		w := IPTWWeight(false, s)
		assert.False(t, math.IsNaN(w) || math.IsInf(w, 0), "score %v", s)
		assert.Greater(t, w, 0.0, "score %v", s)
	}

	// Clipping bounds the extremes.
	assert.InDelta(t, scoreClip/(1-scoreClip), IPTWWeight(false, 0), 1e-16)
	assert.InDelta(t, (1-scoreClip)/scoreClip, IPTWWeight(false, 1), 1e-6)
}
