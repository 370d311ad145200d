package causalmatch

import (
	"fmt"
	"strings"
)

// A SchemaError indicates that a loaded table does not provide all of
// the columns that a Schema declares.
type SchemaError struct {

	// The declared column names that the table lacks.
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("dataset is missing declared columns: %s", strings.Join(e.Missing, ", "))
}

// A ConvergenceError indicates that the logistic regression solver did
// not converge within its iteration bound.
type ConvergenceError struct {

	// The number of iterations that were performed.
	Iters int
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("propensity model did not converge in %d iterations", e.Iters)
}

// A SingularDesignError indicates that a design matrix is rank
// deficient, so the requested coefficients are not identified.
type SingularDesignError struct {
	Err error
}

func (e *SingularDesignError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("design matrix is singular: %v", e.Err)
	}
	return "design matrix is singular"
}

func (e *SingularDesignError) Unwrap() error {
	return e.Err
}

// A DegenerateWeightError indicates that an inverse propensity weight
// vector has no usable mass (all weights are zero or non-finite).
type DegenerateWeightError struct {
	Reason string
}

func (e *DegenerateWeightError) Error() string {
	return fmt.Sprintf("degenerate IPTW weights: %s", e.Reason)
}
