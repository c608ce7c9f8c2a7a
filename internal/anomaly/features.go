package anomaly

import "github.com/pipewatch/pipewatch/internal/domain"

// Extract converts an engineered FeatureVector into the flat numeric map
// the forest trains and scores on. Null windowed statistics (fewer than 3
// samples retained) are reported as 0, matching the "absent feature ->
// imputed 0" rule of spec.md §4.3 for the case where a window simply
// hasn't filled yet.
func Extract(fv domain.FeatureVector) map[string]float64 {
	m := map[string]float64{
		"pressure":          fv.Sample.Pressure,
		"flow":              fv.Sample.Flow,
		"pressureRoc":       fv.Pressure.RateOfChange,
		"flowRoc":           fv.Flow.RateOfChange,
		"pressureFlowRatio": fv.PressureFlowRatio,
	}
	if fv.Pressure.MovingAvg30s != nil {
		m["pressureMA30"] = *fv.Pressure.MovingAvg30s
	}
	if fv.Flow.MovingAvg30s != nil {
		m["flowMA30"] = *fv.Flow.MovingAvg30s
	}
	if fv.Pressure.StdDev60s != nil {
		m["pressureStd60"] = *fv.Pressure.StdDev60s
	}
	if fv.Flow.StdDev60s != nil {
		m["flowStd60"] = *fv.Flow.StdDev60s
	}
	return m
}
