// Copyright 2026 Kerby Shedden

/*

Package causalmatch estimates average treatment effects on the treated
(ATT) from observational tabular data, using propensity score methods.

The package fits a logistic regression of a binary treatment indicator
on a declared list of covariates, matches treated units to control
units by greedy nearest-neighbor search on the fitted propensity score
(with optional caliper restriction and optional replacement), and
aggregates treatment-effect and covariate-balance statistics over the
matched sample.  Inverse propensity weighting and regression
adjustment are provided as alternative estimators.

Datasets are loaded from CSV, Stata dta, or SAS7BDAT files using the
datareader package, then validated against a declared column schema.
Rows whose declared columns cannot be coerced to numeric values are
excluded from the analysis sample.

RunStudy runs a fixed battery of estimators over one dataset and
collects the results into a table keyed by method name.  A failure in
one estimator does not abort the others; failed methods report NaN.

*/
package causalmatch
