package causalmatch

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// Iteration bound for the Newton solver.  There is no timeout;
	// hitting this bound is reported as a ConvergenceError.
	maxFitIter = 100

	// Convergence threshold on the largest coefficient update.
	fitTol = 1e-10
)

// A PropensityModel holds the fitted coefficients of a binary logistic
// regression of treatment status on covariates.  A model is immutable
// once fitted.
type PropensityModel struct {
	// Covariate coefficients in design order, intercept last.
	coef []float64
}

// DesignMatrix returns the covariate matrix of the dataset, one row
// per unit with columns in the schema's declared order and an
// intercept column appended.
func (ds *Dataset) DesignMatrix() *mat.Dense {

	n := len(ds.units)
	p := len(ds.schema.Covariates)

	x := mat.NewDense(n, p+1, nil)
	for i, u := range ds.units {
		for j, v := range u.Covariates {
			x.Set(i, j, v)
		}
		x.Set(i, p, 1)
	}

	return x
}

// FitPropensity fits a logistic regression of the binary treatment
// vector on the given design matrix by Newton's method.  It returns a
// SingularDesignError if the design is rank deficient, and a
// ConvergenceError if the solver does not converge within its
// iteration bound or the reweighted problem degenerates mid-iteration,
// as happens when the groups are perfectly separated.
func FitPropensity(x mat.Matrix, treat []float64) (*PropensityModel, error) {

	n, p := x.Dims()
	if n != len(treat) {
		return nil, fmt.Errorf("causalmatch: design has %d rows but treatment has %d values", n, len(treat))
	}
	if n == 0 {
		return nil, fmt.Errorf("causalmatch: empty design matrix")
	}

	beta := mat.NewVecDense(p, nil)
	resid := mat.NewVecDense(n, nil)
	w := make([]float64, n)

	var eta, score, step mat.VecDense
	wx := mat.NewDense(n, p, nil)
	var hess mat.Dense

	for iter := 0; iter < maxFitIter; iter++ {

		eta.MulVec(x, beta)
		for i := 0; i < n; i++ {
			mu := sigmoid(eta.AtVec(i))
			w[i] = mu * (1 - mu)
			resid.SetVec(i, treat[i]-mu)
		}

		// Score vector X'(y - mu) and Hessian X'WX.
		score.MulVec(x.T(), resid)
		for i := 0; i < n; i++ {
			for j := 0; j < p; j++ {
				wx.Set(i, j, w[i]*x.At(i, j))
			}
		}
		hess.Mul(x.T(), wx)

		if err := step.SolveVec(&hess, &score); err != nil {
			// At the first iteration the weights are constant, so
			// X'WX is singular exactly when X is rank deficient.
			// Later failures mean the weights have collapsed (as
			// under separation) and are an optimization problem,
			// not a design defect.
			if iter == 0 {
				return nil, &SingularDesignError{Err: err}
			}
			var cond mat.Condition
			if !errors.As(err, &cond) {
				return nil, &ConvergenceError{Iters: iter}
			}
			// Ill-conditioned but solvable; keep iterating with
			// the computed step.
		}
		for j := 0; j < p; j++ {
			if v := step.AtVec(j); math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, &ConvergenceError{Iters: iter}
			}
		}
		beta.AddVec(beta, &step)

		if mat.Norm(&step, math.Inf(1)) < fitTol {
			coef := make([]float64, p)
			for j := 0; j < p; j++ {
				coef[j] = beta.AtVec(j)
			}
			return &PropensityModel{coef: coef}, nil
		}
	}

	return nil, &ConvergenceError{Iters: maxFitIter}
}

// Predict returns the propensity score for each row of the given
// design matrix, which must have the same column order used in
// fitting (covariates in schema order, intercept last).  The rows may
// be the fitting sample or a held-out sample.
func (pm *PropensityModel) Predict(x mat.Matrix) ([]float64, error) {

	n, p := x.Dims()
	if p != len(pm.coef) {
		return nil, fmt.Errorf("causalmatch: design has %d columns, model has %d coefficients", p, len(pm.coef))
	}

	beta := mat.NewVecDense(p, pm.coef)
	var eta mat.VecDense
	eta.MulVec(x, beta)

	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		scores[i] = sigmoid(eta.AtVec(i))
	}

	return scores, nil
}

// Coef returns the fitted covariate coefficients in schema order,
// excluding the intercept.
func (pm *PropensityModel) Coef() []float64 {
	return append([]float64(nil), pm.coef[:len(pm.coef)-1]...)
}

// Intercept returns the fitted intercept.
func (pm *PropensityModel) Intercept() float64 {
	return pm.coef[len(pm.coef)-1]
}

// sigmoid is the logistic function, computed without overflow for
// large negative arguments.
func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
