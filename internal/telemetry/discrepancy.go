package telemetry

import (
	"fmt"
	"math"
	"strconv"
)

const (
	maxTicketsConsidered = 15
	selectChance         = 0.4
	maxVariance          = 10.0
	resolvedChance       = 0.3

	mediumVariance = 5.0
	highVariance   = 10.0

	unknownCauldronName = "Unknown Cauldron"
)

// SynthesizeDiscrepancies manufactures discrepancy events from at most the
// first 15 tickets, keeping each one with probability 0.4.
func SynthesizeDiscrepancies(src Source, tickets []Ticket, descriptors []Descriptor) []Discrepancy {
	names := make(map[string]string, len(descriptors))
	for _, d := range descriptors {
		names[d.ID] = d.Name
	}

	considered := tickets
	if len(considered) > maxTicketsConsidered {
		considered = considered[:maxTicketsConsidered]
	}

	out := make([]Discrepancy, 0, len(considered))
	for i, t := range considered {
		if !bernoulli(src, selectChance) {
			continue
		}
		variance := round2(uniform(src, -maxVariance, maxVariance))
		resolved := bernoulli(src, resolvedChance)

		name, ok := names[t.CauldronID]
		if !ok {
			name = unknownCauldronName
		}
		out = append(out, NewDiscrepancy(i, t, name, variance, resolved))
	}
	return out
}

// NewDiscrepancy builds the event for the ticket at index with the given variance.
func NewDiscrepancy(index int, t Ticket, cauldronName string, variance float64, resolved bool) Discrepancy {
	return Discrepancy{
		ID:             fmt.Sprintf("disc_%d", index),
		CauldronID:     t.CauldronID,
		CauldronName:   cauldronName,
		Date:           t.Date,
		Courier:        t.Courier,
		ExpectedVolume: t.Volume,
		ActualVolume:   t.Volume + variance,
		Variance:       variance,
		Severity:       Classify(variance),
		Resolved:       resolved,
		Description:    describeVariance(variance),
	}
}

// Classify grades |variance|: above 10 is high, above 5 is medium.
func Classify(variance float64) Severity {
	abs := math.Abs(variance)
	switch {
	case abs > highVariance:
		return SeverityHigh
	case abs > mediumVariance:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func describeVariance(variance float64) string {
	amount := strconv.FormatFloat(math.Abs(variance), 'f', -1, 64)
	if variance > 0 {
		return "Transport ticket shows " + amount + "L more than actual drain volume"
	}
	return "Transport ticket shows " + amount + "L less than actual drain volume"
}

// ApplyResolutions returns a copy of ds with the events named by ids resolved.
func ApplyResolutions(ds []Discrepancy, ids []string) []Discrepancy {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make([]Discrepancy, len(ds))
	for i, d := range ds {
		if _, ok := want[d.ID]; ok {
			d.Resolved = true
		}
		out[i] = d
	}
	return out
}
