package causalmatch

import (
	"fmt"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// ExportParquet writes a dataset to a parquet file so that downstream
// reporting and plotting tools can consume it.  The column layout is
// the treatment indicator, the outcome, the covariates in schema
// order, and the derived pscore and weight columns, all as DOUBLE.
func ExportParquet(ds *Dataset, fname string) error {

	schema := ds.Schema()
	md := make([]string, 0, len(schema.Covariates)+4)
	md = append(md, fmt.Sprintf("name=%s, type=DOUBLE", schema.Treatment))
	md = append(md, fmt.Sprintf("name=%s, type=DOUBLE", schema.Outcome))
	for _, col := range schema.Covariates {
		md = append(md, fmt.Sprintf("name=%s, type=DOUBLE", col))
	}
	md = append(md, "name=pscore, type=DOUBLE")
	md = append(md, "name=weight, type=DOUBLE")

	fw, err := local.NewLocalFileWriter(fname)
	if err != nil {
		return fmt.Errorf("causalmatch: creating %s: %w", fname, err)
	}
	defer fw.Close()

	pw, err := writer.NewCSVWriter(md, fw, 4)
	if err != nil {
		return fmt.Errorf("causalmatch: creating parquet writer: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, u := range ds.Units() {
		// The writer buffers records until a row group fills, so
		// each row needs its own slice.
		rec := make([]interface{}, len(md))
		k := 0
		if u.Treated {
			rec[k] = float64(1)
		} else {
			rec[k] = float64(0)
		}
		k++
		rec[k] = u.Outcome
		k++
		for _, v := range u.Covariates {
			rec[k] = v
			k++
		}
		rec[k] = u.Score
		k++
		rec[k] = u.Weight

		if err := pw.Write(rec); err != nil {
			return fmt.Errorf("causalmatch: writing %s: %w", fname, err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("causalmatch: finalizing %s: %w", fname, err)
	}

	return nil
}
