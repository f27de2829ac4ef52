package model

// #region argmax
// Argmax returns the index of the largest score in row.
// Ties resolve to the first occurrence. Returns -1 for an empty row.
func Argmax(row []float64) int {
	if len(row) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(row); i++ {
		if row[i] > row[best] {
			best = i
		}
	}
	return best
}

// #endregion argmax

// #region predictions
// Predictions maps an N×C score matrix to predicted labels per row.
func Predictions(scores [][]float64) []int {
	preds := make([]int, len(scores))
	for i, row := range scores {
		preds[i] = Argmax(row)
	}
	return preds
}

// #endregion predictions
