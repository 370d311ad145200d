package causalmatch

import (
	"math"
	"math/rand"
	"sort"
)

// An Order determines the sequence in which treated units claim
// controls during matching.  Without replacement the order decides
// which treated unit gets first claim on a scarce control, so each
// order can produce a different (but internally deterministic)
// matching.
type Order int

const (
	// Treated units are visited in ascending propensity score order.
	OrderAscending Order = iota

	// Treated units are visited in descending propensity score order.
	OrderDescending

	// Treated units are visited in a seeded random permutation.
	OrderRandom
)

func (o Order) String() string {
	switch o {
	case OrderAscending:
		return "ascending"
	case OrderDescending:
		return "descending"
	case OrderRandom:
		return "random"
	}
	return "unknown"
}

// A MatchSpec configures one matching run.
type MatchSpec struct {

	// The order in which treated units are visited.
	Order Order

	// Seed for the random permutation; only used with OrderRandom.
	Seed int64

	// Maximum allowed propensity score distance for a valid match.
	// A value <= 0 disables the caliper.
	Caliper float64

	// If true, a control may be matched to more than one treated
	// unit; otherwise each control is used at most once.
	WithReplacement bool
}

// A MatchedPair associates one treated unit with one control unit,
// together with the absolute propensity score distance between them.
type MatchedPair struct {
	Treated  Unit
	Control  Unit
	Distance float64
}

// A MatchSet is the result of one matching run: the matched pairs in
// the order they were formed, and the number of times each control was
// selected.
type MatchSet struct {
	Pairs []MatchedPair

	// Selection count per control unit index.
	uses map[int]int
}

// Match performs greedy nearest-neighbor matching of treated units to
// control units on the propensity score.  Treated units are visited in
// the order given by the spec; for each one, the nearest admissible
// control is selected, with ties broken by first occurrence in the
// control slice.  A treated unit with no admissible control is skipped
// silently.  The input slices are not modified, and each call uses
// private usage bookkeeping, so concurrent or repeated runs over the
// same units do not interfere.
func Match(treated, control []Unit, spec MatchSpec) *MatchSet {

	ms := &MatchSet{uses: make(map[int]int)}

	used := make(map[int]bool)

	for _, t := range orderUnits(treated, spec.Order, spec.Seed) {

		best := -1
		bestDist := math.Inf(1)
		for j, c := range control {
			if !spec.WithReplacement && used[c.Index] {
				continue
			}
			d := math.Abs(t.Score - c.Score)
			if spec.Caliper > 0 && d > spec.Caliper {
				continue
			}
			// Strict inequality keeps the first of any tied pool.
			if d < bestDist {
				best = j
				bestDist = d
			}
		}

		if best < 0 {
			// Empty candidate pool; no pair for this unit.
			continue
		}

		c := control[best]
		ms.Pairs = append(ms.Pairs, MatchedPair{Treated: t, Control: c, Distance: bestDist})
		ms.uses[c.Index]++
		if !spec.WithReplacement {
			used[c.Index] = true
		}
	}

	return ms
}

// orderUnits returns a copy of the units arranged per the requested
// order.  Sorting is stable so that units with equal scores keep their
// input order.
func orderUnits(units []Unit, ord Order, seed int64) []Unit {

	out := make([]Unit, len(units))
	copy(out, units)

	switch ord {
	case OrderAscending:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	case OrderDescending:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	case OrderRandom:
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}

	return out
}

// Len returns the number of matched pairs.
func (ms *MatchSet) Len() int {
	return len(ms.Pairs)
}

// SelectionCount returns the number of times the control unit with the
// given index was selected.  It is zero for unselected controls and,
// without replacement, at most one for any control.
func (ms *MatchSet) SelectionCount(index int) int {
	return ms.uses[index]
}

// Weight returns the analysis weight the matching assigns to a unit: 1
// for a treated unit (matched or not), and the selection count for a
// control.  The unit's role and its selection count are kept as
// separate notions; only the derived weight combines them.
func (ms *MatchSet) Weight(u Unit) float64 {
	if u.Treated {
		return 1
	}
	return float64(ms.uses[u.Index])
}

// MatchedTreated returns the treated units of the matched pairs, each
// with weight 1, in pair order.
func (ms *MatchSet) MatchedTreated() []Unit {
	out := make([]Unit, len(ms.Pairs))
	for i, p := range ms.Pairs {
		out[i] = p.Treated
		out[i].Weight = 1
	}
	return out
}

// MatchedControls returns the distinct control units selected by the
// matching, each weighted by its selection count, in order of first
// selection.
func (ms *MatchSet) MatchedControls() []Unit {
	var out []Unit
	seen := make(map[int]bool)
	for _, p := range ms.Pairs {
		if seen[p.Control.Index] {
			continue
		}
		seen[p.Control.Index] = true
		c := p.Control
		c.Weight = float64(ms.uses[c.Index])
		out = append(out, c)
	}
	return out
}

// Sample returns the matched analysis sample as a new Dataset holding
// the matched treated units (weight 1) followed by the distinct
// selected controls (weighted by selection count).
func (ms *MatchSet) Sample(schema Schema) *Dataset {
	units := append(ms.MatchedTreated(), ms.MatchedControls()...)
	return &Dataset{schema: schema, units: units}
}
