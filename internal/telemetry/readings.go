package telemetry

import "math"

const (
	minFillFraction   = 0.1
	maxFillFraction   = 0.9
	minFillRate       = 0.5
	maxFillRate       = 2.5
	discrepancyChance = 0.2
	collectingChance  = 0.3
)

// SynthesizeReadings draws one independent reading per descriptor, in order.
func SynthesizeReadings(src Source, descriptors []Descriptor) []Reading {
	out := make([]Reading, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, synthesizeReading(src, d))
	}
	return out
}

func synthesizeReading(src Source, d Descriptor) Reading {
	lo, hi := minFillFraction*d.MaxVolume, maxFillFraction*d.MaxVolume
	current := math.Round(uniform(src, lo, hi))
	if current < lo {
		current = lo
	}
	if current > hi {
		current = hi
	}

	fillRate := round2(uniform(src, minFillRate, maxFillRate))
	timeToFull := int(math.Round((d.MaxVolume - current) / fillRate))

	hasDiscrepancy := bernoulli(src, discrepancyChance)
	collecting := bernoulli(src, collectingChance)

	return Reading{
		Descriptor:        d,
		CurrentVolume:     current,
		FillRate:          fillRate,
		TimeToFullMinutes: timeToFull,
		Status:            StatusFor(current, d.MaxVolume, hasDiscrepancy, collecting),
		HasDiscrepancy:    hasDiscrepancy,
	}
}

// StatusFor applies the status priority: critical overflow, then a flagged
// discrepancy, then an active collection.
func StatusFor(current, maxVolume float64, hasDiscrepancy, collecting bool) Status {
	switch {
	case current > maxFillFraction*maxVolume:
		return StatusCritical
	case hasDiscrepancy:
		return StatusWarning
	case collecting:
		return StatusCollecting
	default:
		return StatusNormal
	}
}

// NetworkSummary aggregates a snapshot for the dashboard metric cards.
type NetworkSummary struct {
	TotalVolume       float64 `json:"totalVolume"`
	TotalCapacity     float64 `json:"totalCapacity"`
	ActiveCollections int     `json:"activeCollections"`
	Discrepancies     int     `json:"discrepancies"`
	EfficiencyPercent int     `json:"efficiencyPercent"`
}

func Summarize(readings []Reading) NetworkSummary {
	var s NetworkSummary
	for _, r := range readings {
		s.TotalVolume += r.CurrentVolume
		s.TotalCapacity += r.MaxVolume
		if r.Status == StatusCollecting {
			s.ActiveCollections++
		}
		if r.HasDiscrepancy {
			s.Discrepancies++
		}
	}
	s.TotalVolume = math.Round(s.TotalVolume)
	if s.TotalCapacity > 0 {
		s.EfficiencyPercent = int(math.Round(s.TotalVolume / s.TotalCapacity * 100))
	}
	return s
}
