package causalmatch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportParquet(t *testing.T) {

	ds := constantEffectDataset()
	scored, err := scoreDataset(ds)
	require.NoError(t, err)

	treated, control := scored.Split()
	ms := Match(treated, control, MatchSpec{Order: OrderAscending})
	require.Greater(t, ms.Len(), 0)

	fname := filepath.Join(t.TempDir(), "sample.parquet")
	err = ExportParquet(ms.Sample(ds.Schema()), fname)
	require.NoError(t, err)

	fi, err := os.Stat(fname)
	require.NoError(t, err)
	assert.Greater(t, fi.Size(), int64(0))
}

func TestMatchSampleWeights(t *testing.T) {

	treated := scoredUnits(true, 0, []float64{0.3, 0.5}, []float64{1, 2})
	control := scoredUnits(false, 100, []float64{0.4, 0.9}, []float64{3, 4})

	ms := Match(treated, control, MatchSpec{Order: OrderAscending, WithReplacement: true})
	sample := ms.Sample(Schema{Treatment: "t", Outcome: "y"})

	// Two treated units plus one distinct control, which carries its
	// selection count as weight.
	require.Equal(t, 3, sample.Len())
	var wsum float64
	for _, u := range sample.Units() {
		wsum += u.Weight
	}
	assert.Equal(t, 4.0, wsum)
}
