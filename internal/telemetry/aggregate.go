package telemetry

import (
	"math"
	"sort"
)

// SeverityCount tallies discrepancies by severity.
type SeverityCount struct {
	Total      int `json:"total"`
	High       int `json:"high"`
	Medium     int `json:"medium"`
	Low        int `json:"low"`
	Unresolved int `json:"unresolved"`
}

// SeverityCounts counts ds per severity plus the unresolved ones.
func SeverityCounts(ds []Discrepancy) SeverityCount {
	c := SeverityCount{Total: len(ds)}
	for _, d := range ds {
		switch d.Severity {
		case SeverityHigh:
			c.High++
		case SeverityMedium:
			c.Medium++
		default:
			c.Low++
		}
		if !d.Resolved {
			c.Unresolved++
		}
	}
	return c
}

// DailyStat summarizes one ticket date.
type DailyStat struct {
	Date             string  `json:"date"`
	TotalTickets     int     `json:"totalTickets"`
	TotalCollected   float64 `json:"totalCollected"`
	DiscrepancyCount int     `json:"discrepancyCount"`
	CauldronsActive  int     `json:"cauldronsActive"`
}

// DailyStats groups tickets and discrepancies by date, oldest first.
func DailyStats(tickets []Ticket, ds []Discrepancy) []DailyStat {
	type acc struct {
		stat      DailyStat
		cauldrons map[string]struct{}
	}
	byDate := make(map[string]*acc)
	get := func(date string) *acc {
		a, ok := byDate[date]
		if !ok {
			a = &acc{stat: DailyStat{Date: date}, cauldrons: make(map[string]struct{})}
			byDate[date] = a
		}
		return a
	}

	for _, t := range tickets {
		a := get(t.Date)
		a.stat.TotalTickets++
		a.stat.TotalCollected += t.Volume
		a.cauldrons[t.CauldronID] = struct{}{}
	}
	for _, d := range ds {
		get(d.Date).stat.DiscrepancyCount++
	}

	out := make([]DailyStat, 0, len(byDate))
	for _, a := range byDate {
		a.stat.TotalCollected = round2(a.stat.TotalCollected)
		a.stat.CauldronsActive = len(a.cauldrons)
		out = append(out, a.stat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// CourierFlag marks a courier involved in repeated unresolved discrepancies.
type CourierFlag struct {
	Courier          string  `json:"courier"`
	DiscrepancyCount int     `json:"discrepancyCount"`
	NetVariance      float64 `json:"netVariance"`
	Status           string  `json:"status"`
}

// FlagCouriers returns couriers with at least threshold unresolved
// discrepancies, most involved first.
func FlagCouriers(ds []Discrepancy, threshold int) []CourierFlag {
	counts := make(map[string]*CourierFlag)
	for _, d := range ds {
		if d.Resolved || d.Courier == "" {
			continue
		}
		f, ok := counts[d.Courier]
		if !ok {
			f = &CourierFlag{Courier: d.Courier, Status: "under_review"}
			counts[d.Courier] = f
		}
		f.DiscrepancyCount++
		f.NetVariance += d.Variance
	}

	out := make([]CourierFlag, 0, len(counts))
	for _, f := range counts {
		if f.DiscrepancyCount < threshold {
			continue
		}
		f.NetVariance = math.Round(f.NetVariance*100) / 100
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DiscrepancyCount != out[j].DiscrepancyCount {
			return out[i].DiscrepancyCount > out[j].DiscrepancyCount
		}
		return out[i].Courier < out[j].Courier
	})
	return out
}
