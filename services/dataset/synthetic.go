package dataset

const (
	SyntheticRows  = 100
	syntheticFraud = 5
)

// Synthetic builds the demonstration table used when no real dataset can be
// loaded. Values come from fixed formulas, so every call returns identical data.
func Synthetic() *Table {
	cols := make([][]float64, len(Schema))
	for c := range cols {
		cols[c] = make([]float64, SyntheticRows)
	}

	last := len(Schema) - 1
	for i := 0; i < SyntheticRows; i++ {
		cols[0][i] = float64(i)
		for k := 1; k <= FeatureColumns; k++ {
			cols[k][i] = float64(i) * 0.1
		}
		cols[last-1][i] = float64(10 + i%100)
		if i >= SyntheticRows-syntheticFraud {
			cols[last][i] = 1
		}
	}

	return newTable(Schema, cols, nil).withSource(SourceSynthetic, "demo")
}
