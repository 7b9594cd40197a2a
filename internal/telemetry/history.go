package telemetry

import (
	"math"
	"time"
)

const (
	historyFloor     = 100.0
	historyAmplitude = 100.0
	historyNoise     = 25.0
	historyPeriod    = 6.0
	historyLabel     = "Jan 2, 15h"
)

// GenerateHistory returns days*24 hourly points starting at start. Each value
// follows base + 100·sin(i/6) plus uniform noise, floored at 100.
func GenerateHistory(src Source, descriptors []Descriptor, days int, start time.Time) []HistoryPoint {
	if days <= 0 {
		return []HistoryPoint{}
	}
	n := days * 24
	points := make([]HistoryPoint, 0, n)
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * time.Hour)
		p := HistoryPoint{
			Timestamp: ts,
			Label:     ts.Format(historyLabel),
			Values:    make(map[string]int, len(descriptors)),
		}
		wave := math.Sin(float64(i)/historyPeriod) * historyAmplitude
		for _, d := range descriptors {
			base := d.BaseVolume
			if base <= 0 {
				base = d.MaxVolume / 2
			}
			v := base + wave + uniform(src, -historyNoise, historyNoise)
			p.Values[d.ID] = int(math.Round(math.Max(historyFloor, v)))
		}
		points = append(points, p)
	}
	return points
}
