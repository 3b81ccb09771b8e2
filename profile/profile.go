/*package profile accumulates distance-binned concentration and bond
orientation histograms relative to an instantaneous interface, across frames.
*/
package profile

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/intsurf/intsurf/surface"
)

// Variant selects which histograms a profile keeps. It is resolved once at
// configuration time, not re-branched per atom.
type Variant int

const (
	// ConcentrationOnly keeps a count histogram.
	ConcentrationOnly Variant = iota
	// ConcentrationAndOrientation additionally keeps cosine-sum and
	// cosine-count histograms so a mean cosine per bin can be formed.
	ConcentrationAndOrientation
)

// Spec defines one profile: which species it monitors, against which side of
// the slab, and how the signed distances are binned.
type Spec struct {
	Name    string
	Species string
	Side    surface.Side
	// Edges holds the ascending signed-distance bin edges. Bin i covers
	// [Edges[i], Edges[i+1]).
	Edges   []float64
	Variant Variant
}

// Check reports whether the spec is usable.
func (s *Spec) Check() error {
	if s.Name == "" {
		return fmt.Errorf("profile has no name")
	}
	if len(s.Edges) < 2 {
		return fmt.Errorf("profile '%s' needs at least two bin edges", s.Name)
	}
	for i := 1; i < len(s.Edges); i++ {
		if s.Edges[i] <= s.Edges[i-1] {
			return fmt.Errorf(
				"profile '%s' bin edges must be strictly ascending, got %g after %g",
				s.Name, s.Edges[i], s.Edges[i-1],
			)
		}
	}
	return nil
}

// UniformEdges returns n+1 ascending edges spanning [min, max].
func UniformEdges(min, max float64, n int) []float64 {
	return floats.Span(make([]float64, n+1), min, max)
}

// Accumulator collects one profile's histograms. It is owned by the frame
// driver, written once per frame, and merged additively; the merge order
// never matters.
type Accumulator struct {
	Spec Spec

	// Counts holds the per-bin atom counts.
	Counts []float64
	// CosSum and CosCount hold the per-bin bond cosine sums and counts.
	// They are nil for ConcentrationOnly profiles.
	CosSum   []float64
	CosCount []float64

	// Frames counts processed frames, including frames that deposited
	// nothing. Normalization divides by it so sparse frames dilute rather
	// than bias the statistics.
	Frames int
	// Skipped counts atoms whose distance fell outside all bins.
	Skipped int64
}

// NewAccumulator returns a zeroed Accumulator for the given spec.
func NewAccumulator(spec Spec) (*Accumulator, error) {
	if err := spec.Check(); err != nil {
		return nil, err
	}
	a := &Accumulator{
		Spec:   spec,
		Counts: make([]float64, len(spec.Edges)-1),
	}
	if spec.Variant == ConcentrationAndOrientation {
		a.CosSum = make([]float64, len(spec.Edges)-1)
		a.CosCount = make([]float64, len(spec.Edges)-1)
	}
	return a, nil
}

// bin returns the closed-open bin containing d, or -1 when d is outside the
// configured range. A distance exactly on an edge lands in the bin whose
// lower edge it is.
func (a *Accumulator) bin(d float64) int {
	e := a.Spec.Edges
	if d < e[0] || d >= e[len(e)-1] {
		return -1
	}
	// SearchFloat64s returns the first i with e[i] >= d; the containing bin
	// starts at the last edge <= d.
	i := sort.SearchFloat64s(e, d)
	if i < len(e) && e[i] == d {
		return i
	}
	return i - 1
}

// AddDistance deposits one atom at signed distance d. Distances outside the
// configured bins are counted as skipped, never an error; slab interfaces
// fluctuate frame to frame.
func (a *Accumulator) AddDistance(d float64) {
	i := a.bin(d)
	if i < 0 {
		a.Skipped++
		return
	}
	a.Counts[i]++
}

// AddOrientation deposits one atom at signed distance d with the given bond
// cosine against the local surface normal.
func (a *Accumulator) AddOrientation(d, cos float64) {
	i := a.bin(d)
	if i < 0 {
		a.Skipped++
		return
	}
	a.Counts[i]++
	a.CosSum[i] += cos
	a.CosCount[i]++
}

// AddFrame marks one processed frame.
func (a *Accumulator) AddFrame() { a.Frames++ }

// Merge folds b into a. It is associative and commutative, so partial
// accumulators from parallel frame workers can be reduced in any order.
func (a *Accumulator) Merge(b *Accumulator) error {
	if len(a.Counts) != len(b.Counts) {
		return fmt.Errorf(
			"profile '%s': merging %d bins into %d",
			a.Spec.Name, len(b.Counts), len(a.Counts),
		)
	}
	floats.Add(a.Counts, b.Counts)
	if a.CosSum != nil && b.CosSum != nil {
		floats.Add(a.CosSum, b.CosSum)
		floats.Add(a.CosCount, b.CosCount)
	}
	a.Frames += b.Frames
	a.Skipped += b.Skipped
	return nil
}

// BinCenters returns the midpoint of every bin.
func (a *Accumulator) BinCenters() []float64 {
	e := a.Spec.Edges
	centers := make([]float64, len(e)-1)
	for i := range centers {
		centers[i] = 0.5 * (e[i] + e[i+1])
	}
	return centers
}

// molarPerPerCubicAngstrom converts a number density in atoms/Angstrom^3 to
// a molar concentration in mol/L.
const molarPerPerCubicAngstrom = 1e27 / 6.02214076e23

// Concentration returns (bin center, molar concentration) pairs, dividing
// the raw counts by processed frames, bin volume (bin width times the box
// cross-sectional area) and Avogadro's number.
func (a *Accumulator) Concentration(area float64) (centers, conc []float64) {
	centers = a.BinCenters()
	conc = make([]float64, len(a.Counts))
	if a.Frames == 0 || area <= 0 {
		return centers, conc
	}

	copy(conc, a.Counts)
	for i := range conc {
		width := a.Spec.Edges[i+1] - a.Spec.Edges[i]
		conc[i] /= float64(a.Frames) * width * area
	}
	floats.Scale(molarPerPerCubicAngstrom, conc)
	return centers, conc
}

// MeanCosine returns (bin center, mean bond cosine) pairs. Bins that
// received no orientation samples hold NaN.
func (a *Accumulator) MeanCosine() (centers, mean []float64) {
	centers = a.BinCenters()
	mean = make([]float64, len(a.CosSum))
	for i := range mean {
		if a.CosCount[i] == 0 {
			mean[i] = math.NaN()
			continue
		}
		mean[i] = a.CosSum[i] / a.CosCount[i]
	}
	return centers, mean
}
