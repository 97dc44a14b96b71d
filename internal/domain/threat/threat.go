// Package threat aggregates member danger ratios into a fleet-level value.
package threat

// FleetRatio computes a fleet's danger ratio as the mean of its members'
// ratios, counting only members with a ratio above zero. Members whose
// stats have not been fetched yet (ratio zero) would otherwise drag a
// dangerous fleet's aggregate toward harmless.
//
// A fleet with no rated members yields 0.
func FleetRatio(memberRatios []float64) float64 {
	var sum float64
	var rated int
	for _, ratio := range memberRatios {
		if ratio > 0 {
			sum += ratio
			rated++
		}
	}
	if rated == 0 {
		return 0
	}
	return sum / float64(rated)
}
