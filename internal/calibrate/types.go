package calibrate

import "fmt"

// #region threshold-vector
// ThresholdVector holds one confidence threshold per class, indexed by
// class id. Immutable once computed for the evaluation session.
type ThresholdVector []float64

// #endregion threshold-vector

// #region config
// Config holds the percentile choices for threshold extraction.
type Config struct {
	Percentiles []float64 // ascending, each in (0, 1)
}

// DefaultConfig returns the 1st/2nd percentile pair used by the original
// rejection-policy experiments.
func DefaultConfig() Config {
	return Config{Percentiles: []float64{0.01, 0.02}}
}

// #endregion config

// #region calibration-error
// CalibrationError reports an empty in-distribution score pool for a class:
// no correctly classified calibration samples, so percentile extraction is
// undefined. Fatal; evaluation must not start.
type CalibrationError struct {
	Class int
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("calibration: empty score pool for class %d (no correctly classified in-distribution samples)", e.Class)
}

// #endregion calibration-error

// #region set-name
// SetName renders a percentile as a human-readable threshold set name,
// matching the report wording ("1st percentile", "2nd percentile").
func SetName(p float64) string {
	switch p {
	case 0.01:
		return "1st percentile"
	case 0.02:
		return "2nd percentile"
	default:
		return fmt.Sprintf("%gth percentile", p*100)
	}
}

// #endregion set-name
